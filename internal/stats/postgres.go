package stats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS usage_stats (
	hour            timestamptz PRIMARY KEY,
	room_peaks      jsonb NOT NULL,
	connection_time jsonb NOT NULL,
	exported_at     timestamptz NOT NULL DEFAULT now()
)`

const upsertSQL = `
INSERT INTO usage_stats (hour, room_peaks, connection_time)
VALUES ($1, $2, $3)
ON CONFLICT (hour) DO UPDATE
SET room_peaks = EXCLUDED.room_peaks,
    connection_time = EXCLUDED.connection_time,
    exported_at = now()`

// PostgresSink stores exported snapshots in a usage_stats table, one row per
// hour. Re-exporting an hour overwrites the row.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(ctx context.Context, url string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

// EnsureSchema creates the usage_stats table when missing.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresSink) Store(ctx context.Context, snap Snapshot) error {
	roomPeaks, err := json.Marshal(snap.RoomPeaks)
	if err != nil {
		return fmt.Errorf("encode room peaks: %w", err)
	}
	connectionTime, err := json.Marshal(snap.ConnectionTime)
	if err != nil {
		return fmt.Errorf("encode connection time: %w", err)
	}
	if _, err := s.pool.Exec(ctx, upsertSQL, snap.Hour, roomPeaks, connectionTime); err != nil {
		return fmt.Errorf("store hour %s: %w", snap.Hour, err)
	}
	return nil
}

func (s *PostgresSink) Close() {
	s.pool.Close()
}
