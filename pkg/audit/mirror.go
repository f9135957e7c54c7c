package audit

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/chain"
)

type mirrorDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Mirror copies audit records into Postgres for retention beyond the
// in-memory ring. The chain remains the source of truth for verification.
type Mirror struct {
	DB mirrorDB
}

func NewMirror(db mirrorDB) *Mirror {
	return &Mirror{DB: db}
}

func (m *Mirror) Insert(ctx context.Context, rec chain.Record, ev Event) error {
	_, err := m.DB.Exec(ctx, `
		INSERT INTO audit_records
		(request_id, method, path, status, subject, provider, model, error, duration_ms, hash, prev_hash, timestamp_ns)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, ev.RequestID, ev.Method, ev.Path, ev.Status, ev.Subject, ev.Provider, ev.Model, ev.Error, ev.DurationMS, rec.Hash, rec.PrevHash, rec.TimestampNS)
	return err
}

func (m *Mirror) Get(ctx context.Context, requestID string) (Event, string, error) {
	var ev Event
	var hash string
	row := m.DB.QueryRow(ctx, `
		SELECT request_id, method, path, status, subject, provider, model, error, duration_ms, hash
		FROM audit_records WHERE request_id=$1
	`, requestID)
	if err := row.Scan(&ev.RequestID, &ev.Method, &ev.Path, &ev.Status, &ev.Subject, &ev.Provider, &ev.Model, &ev.Error, &ev.DurationMS, &hash); err != nil {
		return Event{}, "", err
	}
	return ev, hash, nil
}
