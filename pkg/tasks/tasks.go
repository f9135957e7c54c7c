// Package tasks is the agent task marketplace. Task state lives in memory;
// every transition is appended to a hash-chained lineage log so the full
// history of who claimed and completed what is verifiable.
package tasks

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/chain"
)

const (
	StatusAvailable  = "available"
	StatusClaimed    = "claimed"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

var priorityRank = map[string]int{
	"critical": 3,
	"high":     2,
	"medium":   1,
	"low":      0,
}

type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	Agent       string    `json:"agent,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var (
	ErrNotFound     = errors.New("task not found")
	ErrNotAvailable = errors.New("not_available")
	ErrBadState     = errors.New("invalid state for transition")
)

// lineageEvent is the chain record content for one transition.
type lineageEvent struct {
	TaskID      string `json:"task_id"`
	Event       string `json:"event"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Agent       string `json:"agent,omitempty"`
	Summary     string `json:"summary,omitempty"`
	Status      string `json:"status"`
	CreatedNS   int64  `json:"created_ns,omitempty"`
}

type Store struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	lineage *chain.Chain
	now     func() time.Time
	newID   func() string
}

// NewStore rebuilds task state by replaying the lineage chain, so a
// journal-backed chain restores the marketplace across restarts.
func NewStore(lineage *chain.Chain) *Store {
	s := &Store{
		tasks:   make(map[string]*Task),
		lineage: lineage,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	records, _ := lineage.List(chain.Filter{IncludeErased: true}, 0, 0)
	for _, rec := range records {
		if rec.Erased {
			continue
		}
		var ev lineageEvent
		if err := json.Unmarshal(rec.Content, &ev); err != nil || ev.TaskID == "" {
			continue
		}
		s.applyEvent(ev, rec.TimestampNS)
	}
	return s
}

func (s *Store) applyEvent(ev lineageEvent, tsNS int64) {
	ts := time.Unix(0, tsNS).UTC()
	switch ev.Event {
	case "create":
		created := ts
		if ev.CreatedNS > 0 {
			created = time.Unix(0, ev.CreatedNS).UTC()
		}
		s.tasks[ev.TaskID] = &Task{
			ID:          ev.TaskID,
			Title:       ev.Title,
			Description: ev.Description,
			Priority:    ev.Priority,
			Status:      StatusAvailable,
			CreatedAt:   created,
			UpdatedAt:   created,
		}
	default:
		task, ok := s.tasks[ev.TaskID]
		if !ok {
			return
		}
		task.Status = ev.Status
		task.UpdatedAt = ts
		if ev.Agent != "" {
			task.Agent = ev.Agent
		}
		if ev.Summary != "" {
			task.Summary = ev.Summary
		}
	}
}

func (s *Store) record(ev lineageEvent) error {
	content, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.lineage.Append(content)
	return err
}

// ValidateNew reports violations for a prospective task.
func ValidateNew(title, priority string) []string {
	var errs []string
	if strings.TrimSpace(title) == "" {
		errs = append(errs, "title is required")
	}
	if priority != "" {
		if _, ok := priorityRank[priority]; !ok {
			errs = append(errs, "priority must be one of critical, high, medium, low")
		}
	}
	return errs
}

func (s *Store) Create(title, description, priority string) (Task, error) {
	if priority == "" {
		priority = "medium"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	task := &Task{
		ID:          s.newID(),
		Title:       title,
		Description: description,
		Priority:    priority,
		Status:      StatusAvailable,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.record(lineageEvent{
		TaskID:      task.ID,
		Event:       "create",
		Title:       title,
		Description: description,
		Priority:    priority,
		Status:      StatusAvailable,
		CreatedNS:   now.UnixNano(),
	}); err != nil {
		return Task{}, err
	}
	s.tasks[task.ID] = task
	return *task, nil
}

func (s *Store) Get(id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return *task, nil
}

// Claim moves an available task to claimed for the given agent. Claiming
// anything else fails with ErrNotAvailable.
func (s *Store) Claim(id, agent string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	if task.Status != StatusAvailable {
		return Task{}, ErrNotAvailable
	}
	if err := s.record(lineageEvent{TaskID: id, Event: "claim", Agent: agent, Status: StatusClaimed}); err != nil {
		return Task{}, err
	}
	task.Status = StatusClaimed
	task.Agent = agent
	task.UpdatedAt = s.now().UTC()
	return *task, nil
}

// Complete is permitted from claimed or in_progress.
func (s *Store) Complete(id, agent, summary string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	if task.Status != StatusClaimed && task.Status != StatusInProgress {
		return Task{}, ErrBadState
	}
	if err := s.record(lineageEvent{TaskID: id, Event: "complete", Agent: agent, Summary: summary, Status: StatusCompleted}); err != nil {
		return Task{}, err
	}
	task.Status = StatusCompleted
	task.Agent = agent
	task.Summary = summary
	task.UpdatedAt = s.now().UTC()
	return *task, nil
}

// Cancel is only valid while the task is still available.
func (s *Store) Cancel(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	if task.Status != StatusAvailable {
		return Task{}, ErrBadState
	}
	if err := s.record(lineageEvent{TaskID: id, Event: "cancel", Status: StatusCancelled}); err != nil {
		return Task{}, err
	}
	task.Status = StatusCancelled
	task.UpdatedAt = s.now().UTC()
	return *task, nil
}

type Filter struct {
	Status   string
	Priority string
	Agent    string
}

// List sorts by priority descending, then creation time ascending.
func (s *Store) List(f Filter, limit, offset int) ([]Task, int) {
	s.mu.RLock()
	matched := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if f.Status != "" && task.Status != f.Status {
			continue
		}
		if f.Priority != "" && task.Priority != f.Priority {
			continue
		}
		if f.Agent != "" && task.Agent != f.Agent {
			continue
		}
		matched = append(matched, *task)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		pi, pj := priorityRank[matched[i].Priority], priorityRank[matched[j].Priority]
		if pi != pj {
			return pi > pj
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := len(matched)
	if offset >= total {
		return []Task{}, total
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, total
}

// Lineage exposes the transition chain for verification endpoints.
func (s *Store) Lineage() *chain.Chain {
	return s.lineage
}
