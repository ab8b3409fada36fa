package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/quietgrid/sheetsync/internal/steps"
)

// ErrNotFound is returned when a saved analysis does not exist.
var ErrNotFound = errors.New("analysis not found")

// AnalysisInfo summarizes one saved analysis.
type AnalysisInfo struct {
	ID        string
	Name      string
	StepCount int
	UpdatedAt string
}

// SaveAnalysis persists the step log under the given id, replacing any
// previous version atomically. Params are serialized to canonical JSON and
// stored with their content hash so a later load can verify integrity.
func (s *Store) SaveAnalysis(ctx context.Context, id, name string, log []steps.Step) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save analysis: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO analyses (id, name)
		VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	`, id, name)
	if err != nil {
		return fmt.Errorf("save analysis: upsert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM analysis_steps WHERE analysis_id = ?`, id); err != nil {
		return fmt.Errorf("save analysis: clear steps: %w", err)
	}

	for _, st := range log {
		params, err := steps.CanonicalParams(st.Params)
		if err != nil {
			return fmt.Errorf("save analysis: step %s: %w", st.ID, err)
		}
		hash, err := steps.ParamsHash(st.Params)
		if err != nil {
			return fmt.Errorf("save analysis: step %s: %w", st.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO analysis_steps (analysis_id, idx, step_id, step_type, params, params_hash)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, st.Index, st.ID, string(st.Type), params, hash)
		if err != nil {
			return fmt.Errorf("save analysis: insert step %s: %w", st.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save analysis: commit: %w", err)
	}
	return nil
}

// LoadAnalysis reads a saved analysis back as a step log in index order.
// Each step's params hash is re-verified; a mismatch means the stored row
// was corrupted or tampered with.
func (s *Store) LoadAnalysis(ctx context.Context, id string) (string, []steps.Step, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM analyses WHERE id = ?`, id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, ErrNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("load analysis: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, step_id, step_type, params, params_hash
		FROM analysis_steps
		WHERE analysis_id = ?
		ORDER BY idx
	`, id)
	if err != nil {
		return "", nil, fmt.Errorf("load analysis: %w", err)
	}
	defer rows.Close()

	var log []steps.Step
	for rows.Next() {
		var (
			idx      int
			stepID   string
			stepType string
			params   string
			hash     string
		)
		if err := rows.Scan(&idx, &stepID, &stepType, &params, &hash); err != nil {
			return "", nil, fmt.Errorf("load analysis: scan: %w", err)
		}
		p, err := steps.DecodeParams(steps.StepType(stepType), []byte(params))
		if err != nil {
			return "", nil, fmt.Errorf("load analysis: step %s: %w", stepID, err)
		}
		got, err := steps.ParamsHash(p)
		if err != nil {
			return "", nil, fmt.Errorf("load analysis: step %s: %w", stepID, err)
		}
		if got != hash {
			return "", nil, fmt.Errorf("load analysis: step %s: params hash mismatch", stepID)
		}
		log = append(log, steps.Step{
			ID:     stepID,
			Index:  idx,
			Type:   steps.StepType(stepType),
			Params: p,
		})
	}
	if err := rows.Err(); err != nil {
		return "", nil, fmt.Errorf("load analysis: %w", err)
	}
	return name, log, nil
}

// ListAnalyses returns saved analyses, most recently updated first.
func (s *Store) ListAnalyses(ctx context.Context) ([]AnalysisInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.name, a.updated_at, COUNT(st.step_id)
		FROM analyses a
		LEFT JOIN analysis_steps st ON st.analysis_id = a.id
		GROUP BY a.id
		ORDER BY a.updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var out []AnalysisInfo
	for rows.Next() {
		var info AnalysisInfo
		if err := rows.Scan(&info.ID, &info.Name, &info.UpdatedAt, &info.StepCount); err != nil {
			return nil, fmt.Errorf("list analyses: scan: %w", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	return out, nil
}

// DeleteAnalysis removes a saved analysis and its steps.
func (s *Store) DeleteAnalysis(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analyses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete analysis: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete analysis: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
