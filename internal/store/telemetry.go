package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// TelemetryEvent is one recorded frontend event.
type TelemetryEvent struct {
	ID         int64
	Event      string
	Payload    map[string]any
	RecordedAt string
}

// Record appends a telemetry event. Satisfies backend.TelemetrySink.
func (s *Store) Record(event string, payload map[string]any) error {
	var payloadJSON any
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("record telemetry: %w", err)
		}
		payloadJSON = string(data)
	}
	_, err := s.db.Exec(`INSERT INTO telemetry (event, payload) VALUES (?, ?)`, event, payloadJSON)
	if err != nil {
		return fmt.Errorf("record telemetry: %w", err)
	}
	return nil
}

// RecentTelemetry returns the newest events, most recent first.
func (s *Store) RecentTelemetry(ctx context.Context, limit int) ([]TelemetryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event, payload, recorded_at
		FROM telemetry
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent telemetry: %w", err)
	}
	defer rows.Close()

	var out []TelemetryEvent
	for rows.Next() {
		var (
			ev      TelemetryEvent
			payload *string
		)
		if err := rows.Scan(&ev.ID, &ev.Event, &payload, &ev.RecordedAt); err != nil {
			return nil, fmt.Errorf("recent telemetry: scan: %w", err)
		}
		if payload != nil {
			if err := json.Unmarshal([]byte(*payload), &ev.Payload); err != nil {
				return nil, fmt.Errorf("recent telemetry: decode payload: %w", err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent telemetry: %w", err)
	}
	return out, nil
}
