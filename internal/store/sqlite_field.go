// ABOUTME: Field-state log persistence for SQLiteStore
// ABOUTME: Append-only snapshot rows with their JSON event audit blob

package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// AppendFieldSnapshot appends a row to the field-state log and sets snap.ID.
func (s *SQLiteStore) AppendFieldSnapshot(ctx context.Context, snap *FieldSnapshot) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	events, err := json.Marshal(nonNilEvents(snap.Events))
	if err != nil {
		return fmt.Errorf("marshaling field events: %w", err)
	}

	query := `
		INSERT INTO field_log (timestamp, active_agents, average_coherence, love_field_strength,
			collective_coherence, dominant_harmony, pattern, events)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		toMillis(snap.Timestamp),
		snap.ActiveAgents,
		snap.AverageCoherence,
		snap.LoveFieldStrength,
		snap.CollectiveCoherence,
		snap.DominantHarmony,
		snap.Pattern,
		string(events),
	)
	if err != nil {
		return wrapErr("inserting field snapshot", err)
	}
	if snap.ID, err = result.LastInsertId(); err != nil {
		return wrapErr("reading field snapshot id", err)
	}
	return nil
}

// ListFieldSnapshots returns the most recent snapshots, newest first.
func (s *SQLiteStore) ListFieldSnapshots(ctx context.Context, limit int) ([]*FieldSnapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, timestamp, active_agents, average_coherence, love_field_strength,
			collective_coherence, dominant_harmony, pattern, events
		FROM field_log
		ORDER BY timestamp DESC, id DESC` + limitClause(limit)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapErr("querying field log", err)
	}
	defer rows.Close()

	var snaps []*FieldSnapshot
	for rows.Next() {
		var snap FieldSnapshot
		var ts int64
		var events string
		if err := rows.Scan(
			&snap.ID,
			&ts,
			&snap.ActiveAgents,
			&snap.AverageCoherence,
			&snap.LoveFieldStrength,
			&snap.CollectiveCoherence,
			&snap.DominantHarmony,
			&snap.Pattern,
			&events,
		); err != nil {
			return nil, wrapErr("scanning field snapshot", err)
		}
		snap.Timestamp = fromMillis(ts)
		if err := json.Unmarshal([]byte(events), &snap.Events); err != nil {
			return nil, fmt.Errorf("parsing field events: %w", err)
		}
		snaps = append(snaps, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterating field log", err)
	}
	return snaps, nil
}

func nonNilEvents(e []FieldEvent) []FieldEvent {
	if e == nil {
		return []FieldEvent{}
	}
	return e
}
