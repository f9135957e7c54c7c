// Package memory is the shared agent memory: a hash-chained store of typed
// entries keyed by name. Erasure redacts content but keeps the chain intact.
package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/chain"
)

// Entry types accepted on write.
var validTypes = map[string]struct{}{
	"fact":        {},
	"observation": {},
	"inference":   {},
	"commitment":  {},
}

// Entry is a typed memory write. TruthState is a pointer so an explicit 0
// (unknown) is distinguishable from an omitted field, which defaults to +1.
type Entry struct {
	Key        string   `json:"key"`
	Value      string   `json:"value"`
	Type       string   `json:"type"`
	Agent      string   `json:"agent,omitempty"`
	TruthState *float64 `json:"truth_state"`
}

// Record pairs an entry with its chain envelope as returned to clients.
type Record struct {
	Entry
	Hash        string `json:"hash"`
	PrevHash    string `json:"prev_hash"`
	TimestampNS int64  `json:"timestamp_ns"`
	Erased      bool   `json:"erased,omitempty"`
}

var ErrNotFound = errors.New("memory key not found")

// Store keeps the entry chain plus a key index pointing at the latest
// record for each key. Writes for an existing key supersede the previous
// record in the index; the chain keeps the full history.
type Store struct {
	mu    sync.RWMutex
	chain *chain.Chain
	index map[string]string
}

func NewStore(c *chain.Chain) *Store {
	s := &Store{chain: c, index: make(map[string]string)}
	records, _ := c.List(chain.Filter{IncludeErased: true}, 0, 0)
	for _, rec := range records {
		if rec.Erased {
			continue
		}
		var e Entry
		if err := json.Unmarshal(rec.Content, &e); err != nil || e.Key == "" {
			continue
		}
		s.index[e.Key] = rec.Hash
	}
	return s
}

// Validate reports all violations for a prospective entry.
func Validate(e Entry) []string {
	var errs []string
	if strings.TrimSpace(e.Key) == "" {
		errs = append(errs, "key is required")
	}
	if e.Value == "" {
		errs = append(errs, "value is required")
	}
	if e.Type != "" {
		if _, ok := validTypes[e.Type]; !ok {
			errs = append(errs, fmt.Sprintf("type must be one of fact, observation, inference, commitment; got %q", e.Type))
		}
	}
	if e.TruthState != nil && (*e.TruthState < -1 || *e.TruthState > 1) {
		errs = append(errs, "truth_state must be in [-1, 1]")
	}
	return errs
}

func (s *Store) Append(e Entry) (Record, error) {
	if e.Type == "" {
		e.Type = "fact"
	}
	if e.TruthState == nil {
		e.TruthState = truthState(1)
	}
	content, err := json.Marshal(e)
	if err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.chain.Append(content)
	if err != nil {
		return Record{}, err
	}
	s.index[e.Key] = rec.Hash
	return wrap(rec, e), nil
}

func (s *Store) Get(key string) (Record, error) {
	s.mu.RLock()
	hash, ok := s.index[key]
	s.mu.RUnlock()
	if !ok {
		return Record{}, ErrNotFound
	}
	rec, ok := s.chain.Get(hash)
	if !ok {
		return Record{}, ErrNotFound
	}
	return decode(rec, key), nil
}

// Erase redacts the latest record for key and marks its truth state
// retracted. The key stays resolvable so callers can observe the erasure.
func (s *Store) Erase(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.index[key]
	if !ok {
		return ErrNotFound
	}
	if !s.chain.Erase(hash) {
		return ErrNotFound
	}
	return nil
}

// List returns entries, newest last, optionally filtered by type or agent.
func (s *Store) List(entryType, agent string, limit, offset int) ([]Record, int) {
	filter := chain.Filter{Content: map[string]string{}}
	if entryType != "" {
		filter.Content["type"] = entryType
	}
	if agent != "" {
		filter.Content["agent"] = agent
	}
	records, total := s.chain.List(filter, limit, offset)
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		out = append(out, decode(rec, ""))
	}
	return out, total
}

func (s *Store) Verify() chain.VerifyResult {
	return s.chain.Verify()
}

func (s *Store) Chain() *chain.Chain {
	return s.chain
}

func truthState(v float64) *float64 {
	return &v
}

func wrap(rec chain.Record, e Entry) Record {
	return Record{
		Entry:       e,
		Hash:        rec.Hash,
		PrevHash:    rec.PrevHash,
		TimestampNS: rec.TimestampNS,
		Erased:      rec.Erased,
	}
}

func decode(rec chain.Record, key string) Record {
	var e Entry
	if rec.Erased {
		var marker string
		_ = json.Unmarshal(rec.Content, &marker)
		e = Entry{Key: key, Value: marker, TruthState: truthState(-1)}
	} else if err := json.Unmarshal(rec.Content, &e); err != nil {
		e = Entry{Key: key}
	}
	return wrap(rec, e)
}
