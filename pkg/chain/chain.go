package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Genesis is the prev_hash of the first record in every chain.
const Genesis = "GENESIS"

// Record is one link of an append-only hash chain. Content is kind-specific
// (audit event, memory entry, task lifecycle event); the chain layer treats
// it as opaque JSON.
type Record struct {
	Hash        string          `json:"hash"`
	PrevHash    string          `json:"prev_hash"`
	TimestampNS int64           `json:"timestamp_ns"`
	Content     json.RawMessage `json:"content"`
	Erased      bool            `json:"erased,omitempty"`
}

// Digest computes the record hash: sha256 hex over
// prev_hash ":" canonical(content) ":" timestamp_ns.
func Digest(prevHash string, content json.RawMessage, timestampNS int64) (string, error) {
	canonical, err := CanonicalJSON(content)
	if err != nil {
		return "", fmt.Errorf("canonicalize content: %w", err)
	}
	payload := prevHash + ":" + string(canonical) + ":" + strconv.FormatInt(timestampNS, 10)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:]), nil
}

// ErasedMarker builds the replacement content for a redacted record:
// the first 16 hex characters of sha256 over the original canonical content.
func ErasedMarker(content json.RawMessage) (string, error) {
	canonical, err := CanonicalJSON(content)
	if err != nil {
		return "", fmt.Errorf("canonicalize content: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "[ERASED:" + hex.EncodeToString(sum[:])[:16] + "]", nil
}

// VerifyResult reports the outcome of a full chain walk.
type VerifyResult struct {
	Valid        bool   `json:"valid"`
	Total        int    `json:"total"`
	Checked      int    `json:"checked"`
	FirstInvalid string `json:"first_invalid,omitempty"`
}

// Filter narrows List results. Content matches apply equality against
// top-level fields of the record content object.
type Filter struct {
	Content       map[string]string
	IncludeErased bool
}

// Chain is an in-memory append-only log with optional JSONL journaling.
// Appends are serialized; readers see a consistent snapshot.
type Chain struct {
	mu       sync.Mutex
	records  []Record
	lastHash string
	lastNS   int64
	journal  *Journal
	maxKept  int
	// linkage anchor for the oldest retained record after trimming
	basePrevHash string
	trimmed      int
	now          func() time.Time
}

// Option configures a Chain.
type Option func(*Chain)

// WithJournal attaches a line-per-record journal. Appends inside the chain
// critical section so on-disk order equals in-memory order.
func WithJournal(j *Journal) Option {
	return func(c *Chain) { c.journal = j }
}

// WithMaxKept bounds the in-memory buffer to the n most recent records.
// Linkage across the trim boundary is preserved for verification.
func WithMaxKept(n int) Option {
	return func(c *Chain) { c.maxKept = n }
}

func withClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

// New creates an empty chain with prev_hash anchored at Genesis.
func New(opts ...Option) *Chain {
	c := &Chain{lastHash: Genesis, basePrevHash: Genesis, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append assigns a monotone timestamp, links the record to its predecessor,
// stores it, and journals it when a journal is attached. A regressing clock
// is clamped to last timestamp + 1.
func (c *Chain) Append(content json.RawMessage) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now().UnixNano()
	if ts <= c.lastNS {
		ts = c.lastNS + 1
	}
	hash, err := Digest(c.lastHash, content, ts)
	if err != nil {
		return Record{}, err
	}
	rec := Record{
		Hash:        hash,
		PrevHash:    c.lastHash,
		TimestampNS: ts,
		Content:     append(json.RawMessage(nil), content...),
	}
	if c.journal != nil {
		if err := c.journal.Write(rec); err != nil {
			return Record{}, fmt.Errorf("journal append: %w", err)
		}
	}
	c.records = append(c.records, rec)
	c.lastHash = hash
	c.lastNS = ts
	c.trimLocked()
	return rec, nil
}

func (c *Chain) trimLocked() {
	if c.maxKept <= 0 || len(c.records) <= c.maxKept {
		return
	}
	drop := len(c.records) - c.maxKept
	c.basePrevHash = c.records[drop].PrevHash
	c.trimmed += drop
	c.records = append([]Record(nil), c.records[drop:]...)
}

// List returns matching records newest-last with pagination, plus the total
// match count before pagination. Erased records are excluded unless the
// filter asks for them.
func (c *Chain) List(filter Filter, limit, offset int) ([]Record, int) {
	c.mu.Lock()
	snapshot := append([]Record(nil), c.records...)
	c.mu.Unlock()

	matched := make([]Record, 0, len(snapshot))
	for _, rec := range snapshot {
		if rec.Erased && !filter.IncludeErased {
			continue
		}
		if !contentMatches(rec, filter.Content) {
			continue
		}
		matched = append(matched, rec)
	}
	total := len(matched)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []Record{}, total
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, total
}

func contentMatches(rec Record, want map[string]string) bool {
	if len(want) == 0 {
		return true
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(rec.Content, &fields); err != nil {
		return false
	}
	for k, v := range want {
		got, ok := fields[k]
		if !ok {
			return false
		}
		s, ok := got.(string)
		if !ok || s != v {
			return false
		}
	}
	return true
}

// Get returns the record with the given hash.
func (c *Chain) Get(hash string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range c.records {
		if rec.Hash == hash {
			return rec, true
		}
	}
	return Record{}, false
}

// Len returns the number of retained records.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// LastHash returns the hash the next append will link against.
func (c *Chain) LastHash() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHash
}

// Erase redacts the record with the given hash: content is replaced with
// [ERASED:<16-hex>] and the erased flag set. Hash and prev_hash are never
// rewritten, so subsequent linkage stays intact. The redaction is journaled
// as a superseding line for the same hash.
func (c *Chain) Erase(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.records {
		if c.records[i].Hash != hash {
			continue
		}
		if c.records[i].Erased {
			return true
		}
		marker, err := ErasedMarker(c.records[i].Content)
		if err != nil {
			return false
		}
		content, _ := json.Marshal(marker)
		c.records[i].Content = content
		c.records[i].Erased = true
		if c.journal != nil {
			_ = c.journal.Write(c.records[i])
		}
		return true
	}
	return false
}

// Verify walks the retained chain, checking prev_hash linkage on every
// record and recomputing the hash of every non-erased record. The walk stops
// at the first deviation.
func (c *Chain) Verify() VerifyResult {
	c.mu.Lock()
	snapshot := append([]Record(nil), c.records...)
	prev := c.basePrevHash
	c.mu.Unlock()

	res := VerifyResult{Valid: true, Total: len(snapshot)}
	for _, rec := range snapshot {
		if rec.PrevHash != prev {
			res.Valid = false
			res.FirstInvalid = rec.Hash
			return res
		}
		if !rec.Erased {
			computed, err := Digest(rec.PrevHash, rec.Content, rec.TimestampNS)
			if err != nil || computed != rec.Hash {
				res.Valid = false
				res.FirstInvalid = rec.Hash
				return res
			}
		}
		res.Checked++
		prev = rec.Hash
	}
	return res
}

// restore installs a replayed record without recomputing its hash. A line
// whose hash matches an already-restored record supersedes it in place
// (journaled erasure).
func (c *Chain) restore(rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.records {
		if c.records[i].Hash == rec.Hash {
			c.records[i] = rec
			return
		}
	}
	c.records = append(c.records, rec)
	c.lastHash = rec.Hash
	if rec.TimestampNS > c.lastNS {
		c.lastNS = rec.TimestampNS
	}
	c.trimLocked()
}

// IsErasedContent reports whether a content payload is a redaction marker.
func IsErasedContent(content json.RawMessage) bool {
	var s string
	if err := json.Unmarshal(content, &s); err != nil {
		return false
	}
	return strings.HasPrefix(s, "[ERASED:") && strings.HasSuffix(s, "]")
}
