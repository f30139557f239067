// Package history keeps terminal operation results in PostgreSQL.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rawdiag/engine"
)

type Store struct{ Pool *pgxpool.Pool }

func Open(ctx context.Context, dsn string) (*Store, error) {
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return &Store{Pool: p}, nil
}

func (s *Store) Close() { s.Pool.Close() }

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}

// Entry is one recorded run.
type Entry struct {
	ID         string
	Mode       string
	State      string
	Message    string
	DevicePath string
	DeviceID   string
	Capacity   int64
	Sectors    int64
	Faults     int
	ReadMBps   float64
	WriteMBps  float64
	Pattern    *string
	StartedAt  time.Time
	EndedAt    time.Time
	Detail     []byte
}

// EntryFor maps a terminal result to its row.
func EntryFor(r engine.Result) (Entry, error) {
	detail, err := json.Marshal(r)
	if err != nil {
		return Entry{}, fmt.Errorf("encode result: %w", err)
	}
	e := Entry{
		ID:         r.ID,
		Mode:       r.Mode.String(),
		State:      r.State.String(),
		Message:    r.Message,
		DevicePath: r.Device.Path,
		DeviceID:   r.Device.ID,
		Capacity:   r.Device.Capacity,
		Sectors:    r.Sectors,
		Faults:     len(r.Faults),
		ReadMBps:   r.ReadMBps,
		WriteMBps:  r.WriteMBps,
		StartedAt:  r.StartedAt,
		EndedAt:    r.EndedAt,
		Detail:     detail,
	}
	if r.Pattern != "" {
		p := r.Pattern
		e.Pattern = &p
	}
	return e, nil
}

// Record stores r. It implements engine.Recorder.
func (s *Store) Record(ctx context.Context, r engine.Result) error {
	e, err := EntryFor(r)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO rawdiag_runs (id, mode, state, message, device_path, device_id, capacity,
		                          sectors, faults, read_mbps, write_mbps, pattern, started_at, ended_at, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.Mode, e.State, e.Message, e.DevicePath, e.DeviceID, e.Capacity,
		e.Sectors, e.Faults, e.ReadMBps, e.WriteMBps, e.Pattern, e.StartedAt, e.EndedAt, e.Detail)
	return err
}

// Recent returns the latest runs, newest first. A non-empty device limits
// the list to that device path.
func (s *Store) Recent(ctx context.Context, device string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id::text, mode, state, message, device_path, device_id, capacity,
		       sectors, faults, read_mbps, write_mbps, pattern, started_at, ended_at, detail
		FROM rawdiag_runs
		WHERE $1 = '' OR device_path = $1
		ORDER BY ended_at DESC
		LIMIT $2
	`, device, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(&e.ID, &e.Mode, &e.State, &e.Message, &e.DevicePath, &e.DeviceID, &e.Capacity,
			&e.Sectors, &e.Faults, &e.ReadMBps, &e.WriteMBps, &e.Pattern, &e.StartedAt, &e.EndedAt, &e.Detail)
		return e, err
	})
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS rawdiag_runs (
  id UUID PRIMARY KEY,
  mode TEXT NOT NULL,
  state TEXT NOT NULL CHECK (state IN ('cancelled','succeeded','failed')),
  message TEXT NOT NULL,
  device_path TEXT NOT NULL,
  device_id TEXT NOT NULL DEFAULT '',
  capacity BIGINT NOT NULL DEFAULT 0,
  sectors BIGINT NOT NULL DEFAULT 0,
  faults INTEGER NOT NULL DEFAULT 0,
  read_mbps DOUBLE PRECISION NOT NULL DEFAULT 0,
  write_mbps DOUBLE PRECISION NOT NULL DEFAULT 0,
  pattern TEXT,
  started_at TIMESTAMPTZ NOT NULL,
  ended_at TIMESTAMPTZ NOT NULL,
  detail JSONB
);

CREATE INDEX IF NOT EXISTS rawdiag_runs_device_idx ON rawdiag_runs (device_path, ended_at DESC);
`)
	return err
}
