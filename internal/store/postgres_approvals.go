package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

const approvalColumns = `id, workflow_exec_id, workflow_step_id, status, required_role, approver,
	decided_at, comments, timeout_at, created_at, updated_at`

func scanApproval(row pgx.Row) (*ApprovalRequest, error) {
	r := &ApprovalRequest{}
	err := row.Scan(&r.ID, &r.WorkflowExecID, &r.WorkflowStepID, &r.Status, &r.RequiredRole, &r.Approver,
		&r.DecidedAt, &r.Comments, &r.TimeoutAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NewError(KindNotFound, err, "approval request not found")
		}
		return nil, err
	}
	return r, nil
}

// CreateApproval fails with KindInvalidArgument if a pending approval
// already exists for this execution, enforcing the "at most one pending
// approval per execution" invariant at the only point rows are born.
func (s *PostgresStore) CreateApproval(ctx context.Context, r *ApprovalRequest) (*ApprovalRequest, error) {
	existing, err := s.GetPendingByExecution(ctx, r.WorkflowExecID)
	if err != nil {
		if kind, ok := KindOf(err); !ok || kind != KindNotFound {
			return nil, err
		}
	}
	if existing != nil {
		return nil, NewError(KindInvalidArgument, nil, "execution %d already has a pending approval", r.WorkflowExecID)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO approval_requests (workflow_exec_id, workflow_step_id, status, required_role, timeout_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		r.WorkflowExecID, r.WorkflowStepID, r.Status, r.RequiredRole, r.TimeoutAt,
	)
	if err := row.Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, NewError(KindInvalidArgument, err, "create approval: %v", err)
	}
	return r, nil
}

func (s *PostgresStore) GetApproval(ctx context.Context, id int64) (*ApprovalRequest, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE id = $1`, id)
	return scanApproval(row)
}

func (s *PostgresStore) GetPendingByExecution(ctx context.Context, workflowExecID int64) (*ApprovalRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests
		 WHERE workflow_exec_id = $1 AND status = 'pending' LIMIT 1`, workflowExecID)
	return scanApproval(row)
}

func (s *PostgresStore) UpdateApproval(ctx context.Context, r *ApprovalRequest) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE approval_requests SET status=$1, approver=$2, decided_at=$3, comments=$4, updated_at=now()
		 WHERE id=$5`,
		r.Status, r.Approver, r.DecidedAt, r.Comments, r.ID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NewError(KindNotFound, nil, "approval request %d not found", r.ID)
	}
	return nil
}

func (s *PostgresStore) ListPending(ctx context.Context, role string) ([]*ApprovalRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests
		 WHERE status = 'pending' AND ($1 = '' OR required_role = $1)
		 ORDER BY created_at`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectApprovals(rows)
}

func (s *PostgresStore) ListOverduePending(ctx context.Context, now time.Time) ([]*ApprovalRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests
		 WHERE status = 'pending' AND timeout_at IS NOT NULL AND timeout_at <= $1
		 ORDER BY timeout_at`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectApprovals(rows)
}

func collectApprovals(rows pgx.Rows) ([]*ApprovalRequest, error) {
	var out []*ApprovalRequest
	for rows.Next() {
		r, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountPending(ctx context.Context, role string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM approval_requests WHERE status = 'pending' AND ($1 = '' OR required_role = $1)`,
		role,
	).Scan(&n)
	return n, err
}
