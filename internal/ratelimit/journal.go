package ratelimit

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Journal persists rate-limit events in a local sqlite database so the day
// window survives process restarts.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens (and initializes) the sqlite journal at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ratelimit journal: %w", err)
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS rate_events (
			conversation_id TEXT NOT NULL,
			ts              INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rate_events_ts ON rate_events (ts);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init ratelimit journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record appends one event and opportunistically trims expired rows.
func (j *Journal) Record(conversationID string, ts time.Time) error {
	if _, err := j.db.Exec(
		`INSERT INTO rate_events (conversation_id, ts) VALUES (?, ?)`,
		conversationID, ts.UnixMilli(),
	); err != nil {
		return err
	}
	cutoff := ts.Add(-24 * time.Hour).UnixMilli()
	_, err := j.db.Exec(`DELETE FROM rate_events WHERE ts < ?`, cutoff)
	return err
}

// LoadRecent returns all events within the horizon grouped by conversation.
func (j *Journal) LoadRecent(horizon time.Duration) (map[string][]time.Time, error) {
	cutoff := time.Now().Add(-horizon).UnixMilli()
	rows, err := j.db.Query(
		`SELECT conversation_id, ts FROM rate_events WHERE ts >= ? ORDER BY ts`,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]time.Time)
	for rows.Next() {
		var id string
		var ms int64
		if err := rows.Scan(&id, &ms); err != nil {
			return nil, err
		}
		out[id] = append(out[id], time.UnixMilli(ms))
	}
	return out, rows.Err()
}

func (j *Journal) Close() error { return j.db.Close() }
