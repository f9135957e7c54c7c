package chain

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Journal persists chain records as one JSON line per record, append-only.
// Writes happen inside the owning chain's append critical section, so the
// on-disk order equals the in-memory order. No fsync per line; durability is
// best-effort by design.
type Journal struct {
	mu   sync.Mutex
	file *os.File
}

// OpenJournal opens (or creates) the journal file for appending.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{file: f}, nil
}

func (j *Journal) Write(rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// Replay rebuilds a chain from a journal file. Trailing partial or invalid
// lines are tolerated: replay stops consuming a line that does not parse as
// a record and continues with the next one, and the chain's prev_hash is set
// from the last valid line. A line repeating an earlier hash supersedes that
// record in place (this is how erasures persist in an append-only file).
func Replay(path string, opts ...Option) (*Chain, error) {
	c := New(opts...)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("open journal for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Hash == "" || rec.PrevHash == "" {
			continue
		}
		c.restore(rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return c, nil
}
