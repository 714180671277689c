// Package store persists the signal history to sqlite. The controller's
// in-memory history is authoritative within one run; the store is the
// durable recorder behind it and the source for statistics that survive
// restarts.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crossflow-data/crossflow/internal/traffic"
)

// Store wraps the sqlite handle for signal history persistence.
type Store struct {
	*sql.DB
}

// Open opens (or creates) the database at path and brings the schema up
// to date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// RecordSignal appends one committed signal record. Implements
// traffic.Recorder.
func (s *Store) RecordSignal(rec traffic.SignalRecord) error {
	phases, err := json.Marshal(rec.Phases)
	if err != nil {
		return fmt.Errorf("failed to encode phases: %w", err)
	}

	_, err = s.Exec(`
		INSERT INTO signal_records
			(id, recorded_at, cycle, lane_id, lane_name, green_duration, priority_score, congestion, phases, emergency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.Cycle, int(rec.Lane), rec.LaneName,
		rec.GreenDuration, rec.PriorityScore, rec.Level.String(), string(phases), boolToInt(rec.Emergency),
	)
	if err != nil {
		return fmt.Errorf("failed to insert signal record: %w", err)
	}
	return nil
}

// RecentSignals returns the most recent limit records in chronological
// order. A non-positive limit returns everything.
func (s *Store) RecentSignals(limit int) ([]traffic.SignalRecord, error) {
	// Cycle numbers restart at 1 on every controller reset while the rows
	// persist, so order by insert order rather than cycle.
	query := `
		SELECT id, recorded_at, cycle, lane_id, lane_name, green_duration, priority_score, congestion, phases, emergency
		FROM signal_records ORDER BY rowid DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query signal records: %w", err)
	}
	defer rows.Close()

	var recs []traffic.SignalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read signal records: %w", err)
	}

	// Rows arrive newest-first; flip to chronological append order.
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// LaneGreenCounts returns how many green grants each lane has received.
func (s *Store) LaneGreenCounts() (map[string]int, error) {
	rows, err := s.Query(`SELECT lane_name, COUNT(*) FROM signal_records GROUP BY lane_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query lane counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("failed to scan lane count: %w", err)
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

// CongestionSeries returns, per lane, the priority scores of its grants in
// cycle order. Used by the dashboard chart.
func (s *Store) CongestionSeries(limit int) (map[string][]float64, error) {
	recs, err := s.RecentSignals(limit)
	if err != nil {
		return nil, err
	}
	series := make(map[string][]float64)
	for _, rec := range recs {
		series[rec.LaneName] = append(series[rec.LaneName], rec.PriorityScore)
	}
	return series, nil
}

// Wipe removes all persisted history. Used by the system-wide reset.
func (s *Store) Wipe() error {
	if _, err := s.Exec(`DELETE FROM signal_records`); err != nil {
		return fmt.Errorf("failed to wipe signal records: %w", err)
	}
	return nil
}

func scanRecord(rows *sql.Rows) (traffic.SignalRecord, error) {
	var rec traffic.SignalRecord
	var recordedAt, congestion, phases string
	var laneID, emergency int

	if err := rows.Scan(&rec.ID, &recordedAt, &rec.Cycle, &laneID, &rec.LaneName,
		&rec.GreenDuration, &rec.PriorityScore, &congestion, &phases, &emergency); err != nil {
		return rec, fmt.Errorf("failed to scan signal record: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, recordedAt)
	if err != nil {
		return rec, fmt.Errorf("failed to parse record timestamp: %w", err)
	}
	rec.Timestamp = ts
	rec.Lane = traffic.LaneID(laneID)
	rec.Emergency = emergency != 0

	rec.Level = traffic.ParseLevel(congestion)

	if err := json.Unmarshal([]byte(phases), &rec.Phases); err != nil {
		return rec, fmt.Errorf("failed to decode phases: %w", err)
	}
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
