package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/audit"
	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/auth"
	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/chain"
	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/config"
	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/httpx"
	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/memory"
	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/metrics"
	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/providers"
	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/ratelimit"
	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/store"
	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/stream"
	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/tasks"
	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/telemetry"
)

// Server holds every collaborator a request handler needs. All fields are
// wired once at startup and read-only afterwards.
type Server struct {
	Providers           *providers.Registry
	Ollama              *providers.OllamaAdapter
	Tasks               *tasks.Store
	Memory              *memory.Store
	Audit               *audit.Log
	Events              *stream.Hub
	Metrics             *metrics.Registry
	Limiter             ratelimit.Limiter
	Classes             ratelimit.Classes
	Cache               store.Cache
	AuthSecret          string
	ChatTimeout         time.Duration
	HealthTimeout       time.Duration
	MaxRequestBodyBytes int64
	StartedAt           time.Time
}

type gatewayInitTelemetryFunc func(ctx context.Context, service string) (func(context.Context) error, error)
type gatewayOpenRedisFunc func(ctx context.Context) (*redis.Client, error)
type gatewayListenFunc func(ctx context.Context, server *http.Server) error

// Testable variables for main()
var (
	logFatalf      = log.Fatalf
	initTelemetryG = telemetry.Init
	openRedisFnG   = store.NewRedis
	listenFnG      = listenAndServe
)

func main() {
	if err := runGateway(initTelemetryG, openRedisFnG, listenFnG); err != nil {
		logFatalf("gateway: %v", err)
	}
}

// listenAndServe serves until SIGINT/SIGTERM, then drains in-flight
// requests. A clean drain returns nil so the process exits 0.
func listenAndServe(ctx context.Context, server *http.Server) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func runGateway(initTelemetry gatewayInitTelemetryFunc, openRedis gatewayOpenRedisFunc, listen gatewayListenFunc) error {
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "blackroad-gateway")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	s, err := buildServer(ctx, openRedis)
	if err != nil {
		return err
	}

	go s.metricsLoop(ctx)

	addr := config.Addr()
	log.Printf("gateway listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: config.EnvDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		IdleTimeout:       config.EnvDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(ctx, server)
}

func buildServer(ctx context.Context, openRedis gatewayOpenRedisFunc) (*Server, error) {
	authSecret := config.Env("GATEWAY_AUTH_SECRET", "")
	if authSecret == "" {
		log.Printf("GATEWAY_AUTH_SECRET not set: development mode, requests run as anonymous admin")
	}

	// Without a journal the audit chain keeps a bounded ring of the most
	// recent records; with one, history lives on disk.
	var auditChain *chain.Chain
	if path := config.Env("AUDIT_JOURNAL", ""); path == "" {
		auditChain = chain.New(chain.WithMaxKept(1000))
	} else {
		c, err := openChain(path)
		if err != nil {
			return nil, fmt.Errorf("audit chain: %w", err)
		}
		auditChain = c
	}
	memoryChain, err := openChain(config.Env("MEMORY_JOURNAL", ""))
	if err != nil {
		return nil, fmt.Errorf("memory chain: %w", err)
	}
	taskChain, err := openChain(config.Env("TASK_JOURNAL", ""))
	if err != nil {
		return nil, fmt.Errorf("task chain: %w", err)
	}

	var redisClient *redis.Client
	if openRedis != nil {
		redisClient, err = openRedis(ctx)
		if err != nil {
			log.Printf("redis unavailable, falling back to in-memory cache/limits: %v", err)
			redisClient = nil
		}
	}

	window := config.EnvDurationSec("RATE_LIMIT_WINDOW_SEC", 60)
	if window <= 0 {
		window = time.Minute
	}
	var limiter ratelimit.Limiter
	if redisClient != nil {
		limiter = ratelimit.NewRedis(redisClient, window)
	} else {
		limiter = ratelimit.NewInMemory(window)
	}

	events := stream.NewHub()
	auditOpts := []audit.Option{audit.WithHub(events)}
	if dsn := config.Env("DATABASE_URL", ""); dsn != "" {
		pool, err := store.NewPostgresPool(ctx)
		if err != nil {
			log.Printf("postgres unavailable, audit mirror disabled: %v", err)
		} else {
			auditOpts = append(auditOpts, audit.WithMirror(audit.NewMirror(pool)))
		}
	}
	if brokers := config.Env("KAFKA_BROKERS", ""); brokers != "" {
		exporter, err := audit.NewExporter(audit.ExportConfig{
			Brokers: strings.Split(brokers, ","),
			Topic:   config.Env("KAFKA_AUDIT_TOPIC", "gateway.audit"),
		})
		if err != nil {
			log.Printf("kafka unavailable, audit export disabled: %v", err)
		} else {
			auditOpts = append(auditOpts, audit.WithExporter(exporter))
		}
	}

	registry := providers.NewRegistry()
	if key := config.Env("OPENAI_API_KEY", ""); key != "" {
		registry.Register("openai", providers.NewOpenAI(key))
	}
	if key := config.Env("ANTHROPIC_API_KEY", ""); key != "" {
		registry.Register("anthropic", providers.NewAnthropic(key))
	}
	if key := config.Env("GEMINI_API_KEY", ""); key != "" {
		registry.Register("gemini", providers.NewGemini(key))
	}
	if key := config.Env("TOGETHER_API_KEY", ""); key != "" {
		registry.Register("together", providers.NewTogether(key))
	}
	ollama := providers.NewOllama(config.Env("OLLAMA_URL", ""))
	registry.Register("ollama", ollama)

	return &Server{
		Providers:           registry,
		Ollama:              ollama,
		Tasks:               tasks.NewStore(taskChain),
		Memory:              memory.NewStore(memoryChain),
		Audit:               audit.NewLog(auditChain, auditOpts...),
		Events:              events,
		Metrics:             metrics.NewRegistry(),
		Limiter:             limiter,
		Classes:             classesFromEnv(),
		Cache:               store.NewCache(ctx, redisClient),
		AuthSecret:          authSecret,
		ChatTimeout:         config.EnvDurationSec("CHAT_TIMEOUT_SEC", 120),
		HealthTimeout:       config.EnvDurationSec("HEALTH_TIMEOUT_SEC", 3),
		MaxRequestBodyBytes: int64(config.EnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		StartedAt:           time.Now().UTC(),
	}, nil
}

func classesFromEnv() ratelimit.Classes {
	defaults := ratelimit.DefaultClasses()
	return ratelimit.Classes{
		Chat:   config.EnvInt("RATE_LIMIT_CHAT", defaults.Chat),
		Memory: config.EnvInt("RATE_LIMIT_MEMORY", defaults.Memory),
		Agents: config.EnvInt("RATE_LIMIT_AGENTS", defaults.Agents),
		Global: config.EnvInt("RATE_LIMIT_GLOBAL", defaults.Global),
	}
}

// openChain opens a journal-backed chain when a path is configured, else an
// in-memory chain. Replay tolerates trailing partial lines.
func openChain(path string, opts ...chain.Option) (*chain.Chain, error) {
	if path == "" {
		return chain.New(opts...), nil
	}
	journal, err := chain.OpenJournal(path)
	if err != nil {
		return nil, err
	}
	return chain.Replay(path, append(opts, chain.WithJournal(journal))...)
}

// Router assembles the middleware stack. The rate limiter runs before auth
// so a 429 reveals nothing about token validity; the audit middleware wraps
// both so every terminal response, denials included, lands on the chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware)
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("blackroad-gateway"))
	r.Use(s.limitRequestBodyMiddleware)
	r.Use(audit.Middleware(s.Audit))
	r.Use(s.recoverMiddleware)
	r.Use(ratelimit.Middleware(s.Limiter, s.Classes, clientIdentity))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/openapi.json", s.handleOpenAPI)

	authRouter := chi.NewRouter()
	authRouter.Use(auth.Middleware(s.AuthSecret))
	authRouter.Use(s.annotateSubjectMiddleware)
	authRouter.Get("/metrics", s.Metrics.Handler())
	authRouter.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())
	authRouter.Post("/v1/chat", s.handleChat)
	authRouter.Post("/v1/generate", s.handleGenerate)
	authRouter.Get("/v1/models", s.handleModels)
	authRouter.Get("/v1/events", s.handleEvents)
	authRouter.Get("/agents", s.handleAgents)
	authRouter.Get("/tasks", s.handleListTasks)
	authRouter.Post("/tasks", s.handleCreateTask)
	authRouter.Get("/tasks/{id}", s.handleGetTask)
	authRouter.Post("/tasks/{id}/claim", s.handleClaimTask)
	authRouter.Post("/tasks/{id}/complete", s.handleCompleteTask)
	authRouter.Post("/tasks/{id}/cancel", s.handleCancelTask)
	authRouter.Get("/memory", s.handleListMemory)
	authRouter.Post("/memory", s.handleAppendMemory)
	authRouter.Get("/memory/verify", s.handleVerifyMemory)
	authRouter.Get("/memory/{key}", s.handleGetMemory)
	authRouter.Delete("/memory/{key}", s.handleEraseMemory)
	r.Mount("/", authRouter)

	return r
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		path := r.Method + " " + r.URL.Path
		s.Metrics.Observe(path, rec.code, elapsed)
		s.Metrics.ObserveLatency(path, elapsed)
		if rec.code == http.StatusTooManyRequests {
			s.Metrics.IncRateLimitDenial()
		}
		if kind := errorKindForStatus(rec.code); kind != "" {
			s.Metrics.IncErrorKind(kind)
		}
	})
}

func errorKindForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return httpx.KindValidation
	case http.StatusUnauthorized:
		return httpx.KindUnauthorized
	case http.StatusForbidden:
		return httpx.KindForbidden
	case http.StatusNotFound:
		return httpx.KindNotFound
	case http.StatusConflict:
		return httpx.KindConflict
	case http.StatusTooManyRequests:
		return httpx.KindRateLimited
	case http.StatusBadGateway:
		return httpx.KindProviderError
	case http.StatusGatewayTimeout:
		return httpx.KindTimeout
	case http.StatusInternalServerError:
		return httpx.KindInternal
	default:
		return ""
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the hijacker underneath, which
// the websocket upgrade needs.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// recoverMiddleware catches handler panics so the dispatcher never drops a
// connection without a terminal response. It sits inside the audit
// middleware, which therefore still records the resulting 500.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cw := &commitRecorder{ResponseWriter: w}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			log.Printf("panic serving %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
			audit.NoteFromContext(r.Context()).SetError(httpx.KindInternal)
			if !cw.committed {
				httpx.Error(cw, http.StatusInternalServerError, httpx.KindInternal, "internal error")
			}
		}()
		next.ServeHTTP(cw, r)
	})
}

// commitRecorder tracks whether any part of the response reached the wire,
// so the recovery path only writes a 500 when nothing is committed yet.
type commitRecorder struct {
	http.ResponseWriter
	committed bool
}

func (c *commitRecorder) WriteHeader(code int) {
	c.committed = true
	c.ResponseWriter.WriteHeader(code)
}

func (c *commitRecorder) Write(b []byte) (int, error) {
	c.committed = true
	return c.ResponseWriter.Write(b)
}

func (c *commitRecorder) Flush() {
	if f, ok := c.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (c *commitRecorder) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) annotateSubjectMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := auth.PrincipalFromContext(r.Context()); ok {
			audit.NoteFromContext(r.Context()).SetSubject(p.Subject)
		}
		next.ServeHTTP(w, r)
	})
}

// clientIdentity keys the rate limiter. It hashes the raw bearer token when
// one is presented, valid or not, and falls back to the source address. The
// token is extracted the same way the auth middleware does it, so one
// client never holds two limiter identities.
func clientIdentity(r *http.Request) string {
	if token, ok := auth.BearerToken(r.Header.Get("Authorization")); ok {
		sum := sha256.Sum256([]byte(token))
		return fmt.Sprintf("%x", sum[:8])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	s.updateOperationalMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.updateOperationalMetrics()
		}
	}
}

func (s *Server) updateOperationalMetrics() {
	if s.Metrics == nil {
		return
	}
	s.Metrics.SetGauge("memory_chain_len", float64(s.Memory.Chain().Len()))
	s.Metrics.SetGauge("task_lineage_len", float64(s.Tasks.Lineage().Len()))
	s.Metrics.SetGauge("uptime_sec", time.Since(s.StartedAt).Seconds())
}
