package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
)

const executionColumns = `id, workflow_id, status, trigger_data, context, current_step, resume_at,
	started_at, completed_at, error_message, created_at, updated_at`

func scanExecution(row pgx.Row) (*WorkflowExecution, error) {
	e := &WorkflowExecution{}
	err := row.Scan(&e.ID, &e.WorkflowID, &e.Status, &e.TriggerData, &e.Context, &e.CurrentStep, &e.ResumeAt,
		&e.StartedAt, &e.CompletedAt, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NewError(KindNotFound, err, "workflow execution not found")
		}
		return nil, err
	}
	return e, nil
}

func (s *PostgresStore) CreateExecution(ctx context.Context, e *WorkflowExecution) (*WorkflowExecution, error) {
	if e.Context == nil {
		e.Context = json.RawMessage(`{}`)
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO workflow_executions (workflow_id, status, trigger_data, context, current_step, resume_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, started_at, created_at, updated_at`,
		e.WorkflowID, e.Status, e.TriggerData, e.Context, e.CurrentStep, e.ResumeAt,
	)
	if err := row.Scan(&e.ID, &e.StartedAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, NewError(KindInvalidArgument, err, "create execution: %v", err)
	}
	return e, nil
}

func (s *PostgresStore) GetExecution(ctx context.Context, id int64) (*WorkflowExecution, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM workflow_executions WHERE id = $1`, id)
	return scanExecution(row)
}

// UpdateExecution persists the full row. Callers are expected to hold a
// single-writer-per-execution discipline; this method does not itself
// serialize concurrent writers.
func (s *PostgresStore) UpdateExecution(ctx context.Context, e *WorkflowExecution) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE workflow_executions SET status=$1, context=$2, current_step=$3, resume_at=$4,
			completed_at=$5, error_message=$6, updated_at=now()
		 WHERE id=$7`,
		e.Status, e.Context, e.CurrentStep, e.ResumeAt, e.CompletedAt, e.ErrorMessage, e.ID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NewError(KindNotFound, nil, "workflow execution %d not found", e.ID)
	}
	return nil
}

func (s *PostgresStore) ListExecutions(ctx context.Context, workflowID int64, status ExecutionStatus) ([]*WorkflowExecution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions
		 WHERE ($1 = 0 OR workflow_id = $1) AND ($2 = '' OR status = $2)
		 ORDER BY id DESC`,
		workflowID, string(status),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*WorkflowExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const agentExecColumns = `id, workflow_exec_id, workflow_step_id, agent_id, status, input, output,
	prompt_tokens, completion_tokens, elapsed_ms, error_message, started_at, completed_at, created_at`

func scanAgentExecution(row pgx.Row) (*AgentExecution, error) {
	a := &AgentExecution{}
	err := row.Scan(&a.ID, &a.WorkflowExecID, &a.WorkflowStepID, &a.AgentID, &a.Status, &a.Input, &a.Output,
		&a.PromptTokens, &a.CompletionTokens, &a.ElapsedMS, &a.ErrorMessage, &a.StartedAt, &a.CompletedAt, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NewError(KindNotFound, err, "agent execution not found")
		}
		return nil, err
	}
	return a, nil
}

func (s *PostgresStore) CreateAgentExecution(ctx context.Context, a *AgentExecution) (*AgentExecution, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO agent_executions (workflow_exec_id, workflow_step_id, agent_id, status, input)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, started_at, created_at`,
		a.WorkflowExecID, a.WorkflowStepID, a.AgentID, a.Status, a.Input,
	)
	if err := row.Scan(&a.ID, &a.StartedAt, &a.CreatedAt); err != nil {
		return nil, NewError(KindInvalidArgument, err, "create agent execution: %v", err)
	}
	return a, nil
}

// FinalizeAgentExecution writes the terminal state of an agent invocation:
// output, token counts, elapsed time, and status/error in one update.
func (s *PostgresStore) FinalizeAgentExecution(ctx context.Context, a *AgentExecution) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE agent_executions SET status=$1, output=$2, prompt_tokens=$3, completion_tokens=$4,
			elapsed_ms=$5, error_message=$6, completed_at=$7
		 WHERE id=$8`,
		a.Status, a.Output, a.PromptTokens, a.CompletionTokens, a.ElapsedMS, a.ErrorMessage, a.CompletedAt, a.ID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NewError(KindNotFound, nil, "agent execution %d not found", a.ID)
	}
	return nil
}

func (s *PostgresStore) ListAgentExecutions(ctx context.Context, workflowExecID int64) ([]*AgentExecution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentExecColumns+` FROM agent_executions WHERE workflow_exec_id = $1 ORDER BY id`, workflowExecID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AgentExecution
	for rows.Next() {
		a, err := scanAgentExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
