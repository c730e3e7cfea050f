package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

const scheduleColumns = `id, workflow_id, cron_expr, enabled, last_run_at, next_run_at, trigger_data, created_at, updated_at`

func scanSchedule(row pgx.Row) (*WorkflowSchedule, error) {
	sc := &WorkflowSchedule{}
	err := row.Scan(&sc.ID, &sc.WorkflowID, &sc.CronExpr, &sc.Enabled, &sc.LastRunAt, &sc.NextRunAt,
		&sc.TriggerData, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NewError(KindNotFound, err, "workflow schedule not found")
		}
		return nil, err
	}
	return sc, nil
}

func (s *PostgresStore) CreateSchedule(ctx context.Context, sc *WorkflowSchedule) (*WorkflowSchedule, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO workflow_schedules (workflow_id, cron_expr, enabled, next_run_at, trigger_data)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		sc.WorkflowID, sc.CronExpr, sc.Enabled, sc.NextRunAt, sc.TriggerData,
	)
	if err := row.Scan(&sc.ID, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		return nil, NewError(KindInvalidArgument, err, "create schedule: %v", err)
	}
	return sc, nil
}

func (s *PostgresStore) GetSchedule(ctx context.Context, id int64) (*WorkflowSchedule, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM workflow_schedules WHERE id = $1`, id)
	return scanSchedule(row)
}

func (s *PostgresStore) GetScheduleByWorkflow(ctx context.Context, workflowID int64) (*WorkflowSchedule, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM workflow_schedules WHERE workflow_id = $1`, workflowID)
	return scanSchedule(row)
}

func (s *PostgresStore) ListSchedules(ctx context.Context, enabledOnly bool) ([]*WorkflowSchedule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+scheduleColumns+` FROM workflow_schedules WHERE ($1 = false OR enabled = true) ORDER BY id`,
		enabledOnly,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*WorkflowSchedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateSchedule(ctx context.Context, sc *WorkflowSchedule) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE workflow_schedules SET cron_expr=$1, enabled=$2, last_run_at=$3, next_run_at=$4,
			trigger_data=$5, updated_at=now()
		 WHERE id=$6`,
		sc.CronExpr, sc.Enabled, sc.LastRunAt, sc.NextRunAt, sc.TriggerData, sc.ID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NewError(KindNotFound, nil, "workflow schedule %d not found", sc.ID)
	}
	return nil
}

// ClaimDue selects every enabled schedule whose next_run_at has arrived,
// locking the rows FOR UPDATE SKIP LOCKED so two scheduler ticks racing
// against the same table never fire the same schedule twice, then stamps
// last_run_at within the same transaction before returning them to the
// caller. next_run_at is left untouched: the caller computes each schedule's
// new next_run_at via the cron parser and calls UpdateSchedule.
func (s *PostgresStore) ClaimDue(ctx context.Context, now time.Time) ([]*WorkflowSchedule, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT `+scheduleColumns+` FROM workflow_schedules
		 WHERE enabled = true AND next_run_at <= $1
		 ORDER BY next_run_at
		 FOR UPDATE SKIP LOCKED`, now,
	)
	if err != nil {
		return nil, err
	}
	var due []*WorkflowSchedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		due = append(due, sc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, sc := range due {
		if _, err := tx.Exec(ctx, `UPDATE workflow_schedules SET last_run_at = $1, updated_at = now() WHERE id = $2`, now, sc.ID); err != nil {
			return nil, err
		}
		sc.LastRunAt = &now
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return due, nil
}
