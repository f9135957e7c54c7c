// Package audit records one hash-chained entry per terminal HTTP response.
// The chain is journal-backed when AUDIT_JOURNAL is set; otherwise it keeps
// a bounded in-memory ring. Optional sinks mirror entries to Postgres and
// Kafka and feed the live event stream.
package audit

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/chain"
	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/stream"
)

// Event is the audit record content. It names the provider identity, never
// credential material.
type Event struct {
	RequestID  string `json:"request_id"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	Status     int    `json:"status"`
	Subject    string `json:"subject,omitempty"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type Log struct {
	chain    *chain.Chain
	hub      *stream.Hub
	mirror   *Mirror
	exporter *Exporter
}

type Option func(*Log)

func WithHub(h *stream.Hub) Option {
	return func(l *Log) { l.hub = h }
}

func WithMirror(m *Mirror) Option {
	return func(l *Log) { l.mirror = m }
}

func WithExporter(e *Exporter) Option {
	return func(l *Log) { l.exporter = e }
}

func NewLog(c *chain.Chain, opts ...Option) *Log {
	l := &Log{chain: c}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append writes the event to the chain and fans out to the optional sinks.
// Sink failures are logged and never fail the request path.
func (l *Log) Append(ctx context.Context, ev Event) (chain.Record, error) {
	content, err := json.Marshal(ev)
	if err != nil {
		return chain.Record{}, err
	}
	rec, err := l.chain.Append(content)
	if err != nil {
		return chain.Record{}, err
	}
	if l.hub != nil {
		l.hub.Publish(stream.NewEvent("audit", ev))
	}
	if l.mirror != nil {
		if err := l.mirror.Insert(ctx, rec, ev); err != nil {
			log.Printf("audit mirror insert: %v", err)
		}
	}
	if l.exporter != nil {
		if err := l.exporter.Publish(ctx, ev.RequestID, rec); err != nil {
			log.Printf("audit export publish: %v", err)
		}
	}
	return rec, nil
}

func (l *Log) List(filter chain.Filter, limit, offset int) ([]chain.Record, int) {
	return l.chain.List(filter, limit, offset)
}

func (l *Log) Verify() chain.VerifyResult {
	return l.chain.Verify()
}

// Note carries per-request annotations from inner handlers out to the
// audit middleware, which runs outermost.
type Note struct {
	mu       sync.Mutex
	subject  string
	provider string
	model    string
	errTag   string
}

func (n *Note) SetSubject(s string) {
	if n == nil {
		return
	}
	n.mu.Lock()
	n.subject = s
	n.mu.Unlock()
}

func (n *Note) SetProvider(provider, model string) {
	if n == nil {
		return
	}
	n.mu.Lock()
	n.provider = provider
	n.model = model
	n.mu.Unlock()
}

func (n *Note) SetError(tag string) {
	if n == nil {
		return
	}
	n.mu.Lock()
	n.errTag = tag
	n.mu.Unlock()
}

func (n *Note) snapshot() (subject, provider, model, errTag string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.subject, n.provider, n.model, n.errTag
}

type noteKey struct{}

func NoteFromContext(ctx context.Context) *Note {
	n, _ := ctx.Value(noteKey{}).(*Note)
	return n
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware emits exactly one audit record per terminal response.
func Middleware(l *Log) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			note := &Note{}
			ctx := context.WithValue(r.Context(), noteKey{}, note)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))
			subject, provider, model, errTag := note.snapshot()
			_, err := l.Append(r.Context(), Event{
				RequestID:  uuid.NewString(),
				Method:     r.Method,
				Path:       r.URL.Path,
				Status:     rec.status,
				Subject:    subject,
				Provider:   provider,
				Model:      model,
				Error:      errTag,
				DurationMS: time.Since(start).Milliseconds(),
			})
			if err != nil {
				log.Printf("audit append: %v", err)
			}
		})
	}
}
