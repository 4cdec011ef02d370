package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/subscription-tracker/internal/models"
)

// CreateRun сохраняет новый запуск воркфлоу в статусе pending.
func (s *Storage) CreateRun(ctx context.Context, url string, payload []byte) (*models.WorkflowRun, error) {
	const op = "storage.CreateRun"
	run := &models.WorkflowRun{}
	query := `INSERT INTO workflow_runs (id, url, payload, status)
			  VALUES ($1, $2, $3, $4)
			  RETURNING id, url, payload, status, created_at, updated_at`
	err := s.conn(ctx).QueryRow(ctx, query, uuid.NewString(), url, payload, models.RunPending).
		Scan(&run.ID, &run.URL, &run.Payload, &run.Status, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return run, nil
}

// GetRun возвращает запуск по идентификатору.
func (s *Storage) GetRun(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	const op = "storage.GetRun"
	run := &models.WorkflowRun{}
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT id, url, payload, status, created_at, updated_at FROM workflow_runs WHERE id = $1`, runID).
		Scan(&run.ID, &run.URL, &run.Payload, &run.Status, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return run, nil
}

// SetRunStatus меняет статус запуска.
func (s *Storage) SetRunStatus(ctx context.Context, runID, status string) error {
	const op = "storage.SetRunStatus"
	tag, err := s.conn(ctx).Exec(ctx,
		`UPDATE workflow_runs SET status = $2, updated_at = now() WHERE id = $1`, runID, status)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// ListSteps возвращает сохраненные шаги запуска.
func (s *Storage) ListSteps(ctx context.Context, runID string) ([]models.WorkflowStep, error) {
	const op = "storage.ListSteps"
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT run_id, name, output, wake_at, completed_at FROM workflow_steps WHERE run_id = $1 ORDER BY completed_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	defer rows.Close()

	steps := make([]models.WorkflowStep, 0)
	for rows.Next() {
		var st models.WorkflowStep
		if err := rows.Scan(&st.RunID, &st.Name, &st.Output, &st.WakeAt, &st.CompletedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return steps, nil
}

// SaveStep сохраняет результат шага. Шаг с тем же именем перезаписывается.
func (s *Storage) SaveStep(ctx context.Context, step models.WorkflowStep) error {
	const op = "storage.SaveStep"
	query := `INSERT INTO workflow_steps (run_id, name, output, wake_at, completed_at)
			  VALUES ($1, $2, $3, $4, $5)
			  ON CONFLICT (run_id, name) DO UPDATE
			  SET output = EXCLUDED.output, wake_at = EXCLUDED.wake_at, completed_at = EXCLUDED.completed_at`
	_, err := s.conn(ctx).Exec(ctx, query, step.RunID, step.Name, []byte(step.Output), step.WakeAt, step.CompletedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}
	return nil
}

// ListSuspendedRuns возвращает приостановленные запуски с временем пробуждения из последнего шага ожидания.
// По этим данным раннер восстанавливает очередь отложенных после потери Redis.
func (s *Storage) ListSuspendedRuns(ctx context.Context) ([]models.SuspendedRun, error) {
	const op = "storage.ListSuspendedRuns"
	query := `SELECT DISTINCT ON (r.id) r.id, st.wake_at
			  FROM workflow_runs r
			  JOIN workflow_steps st ON st.run_id = r.id
			  WHERE r.status = $1 AND st.wake_at IS NOT NULL
			  ORDER BY r.id, st.completed_at DESC`
	rows, err := s.conn(ctx).Query(ctx, query, models.RunSuspended)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	defer rows.Close()

	runs := make([]models.SuspendedRun, 0)
	for rows.Next() {
		var run models.SuspendedRun
		if err := rows.Scan(&run.RunID, &run.WakeAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return runs, nil
}
