package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/chain"
)

type fakeMirrorDB struct {
	execErr   error
	rowErr    error
	rowValues []any
	execArgs  []any
}

func (f *fakeMirrorDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execArgs = append([]any(nil), args...)
	return pgconn.NewCommandTag("INSERT 0 1"), f.execErr
}

func (f *fakeMirrorDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return &fakeMirrorRow{values: f.rowValues, err: f.rowErr}
}

type fakeMirrorRow struct {
	values []any
	err    error
}

func (r *fakeMirrorRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan arity mismatch: got=%d want=%d", len(dest), len(r.values))
	}
	for i := range dest {
		switch d := dest[i].(type) {
		case *string:
			*d = r.values[i].(string)
		case *int:
			*d = r.values[i].(int)
		case *int64:
			*d = r.values[i].(int64)
		default:
			return fmt.Errorf("unsupported scan dest %T", dest[i])
		}
	}
	return nil
}

func TestMirrorInsert(t *testing.T) {
	db := &fakeMirrorDB{}
	m := NewMirror(db)
	rec := chain.Record{Hash: "abc", PrevHash: chain.Genesis, TimestampNS: 42}
	ev := Event{RequestID: "r1", Method: "POST", Path: "/v1/chat", Status: 200, Provider: "openai", Model: "gpt-4o", DurationMS: 7}
	if err := m.Insert(context.Background(), rec, ev); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(db.execArgs) != 12 {
		t.Fatalf("expected 12 insert args, got %d", len(db.execArgs))
	}
	if db.execArgs[9] != "abc" || db.execArgs[10] != chain.Genesis {
		t.Fatalf("chain linkage not persisted: %v", db.execArgs[9:11])
	}
}

func TestMirrorInsertError(t *testing.T) {
	db := &fakeMirrorDB{execErr: errors.New("down")}
	m := NewMirror(db)
	if err := m.Insert(context.Background(), chain.Record{}, Event{}); err == nil {
		t.Fatal("expected insert error")
	}
}

func TestMirrorGet(t *testing.T) {
	db := &fakeMirrorDB{
		rowValues: []any{"r1", "POST", "/v1/chat", 200, "agent-7", "openai", "gpt-4o", "", int64(7), "abc"},
	}
	m := NewMirror(db)
	ev, hash, err := m.Get(context.Background(), "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ev.RequestID != "r1" || ev.Provider != "openai" || hash != "abc" {
		t.Fatalf("unexpected row: %+v hash=%s", ev, hash)
	}

	db.rowErr = errors.New("not found")
	if _, _, err := m.Get(context.Background(), "r1"); err == nil {
		t.Fatal("expected get error")
	}
}
