package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const workflowColumns = `id, name, description, trigger_type, trigger_config, execution_mode, active,
	input_schema, interface_type, public, created_at, updated_at`

func scanWorkflow(row pgx.Row) (*Workflow, error) {
	w := &Workflow{}
	err := row.Scan(&w.ID, &w.Name, &w.Description, &w.TriggerType, &w.TriggerConfig, &w.ExecutionMode, &w.Active,
		&w.InputSchema, &w.InterfaceType, &w.Public, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NewError(KindNotFound, err, "workflow not found")
		}
		return nil, err
	}
	return w, nil
}

func (s *PostgresStore) CreateWorkflow(ctx context.Context, w *Workflow) (*Workflow, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO workflows (name, description, trigger_type, trigger_config, execution_mode, active,
			input_schema, interface_type, public)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at, updated_at`,
		w.Name, w.Description, w.TriggerType, w.TriggerConfig, w.ExecutionMode, w.Active,
		w.InputSchema, w.InterfaceType, w.Public,
	)
	if err := row.Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, NewError(KindInvalidArgument, err, "workflow name %q already exists", w.Name)
		}
		return nil, NewError(KindInvalidArgument, err, "create workflow: %v", err)
	}
	return w, nil
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, id int64) (*Workflow, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)
	return scanWorkflow(row)
}

func (s *PostgresStore) GetWorkflowByName(ctx context.Context, name string) (*Workflow, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE name = $1`, name)
	return scanWorkflow(row)
}

func (s *PostgresStore) UpdateWorkflow(ctx context.Context, w *Workflow) (*Workflow, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE workflows SET name=$1, description=$2, trigger_type=$3, trigger_config=$4, execution_mode=$5,
			active=$6, input_schema=$7, interface_type=$8, public=$9, updated_at=now()
		 WHERE id=$10 RETURNING `+workflowColumns,
		w.Name, w.Description, w.TriggerType, w.TriggerConfig, w.ExecutionMode, w.Active,
		w.InputSchema, w.InterfaceType, w.Public, w.ID,
	)
	return scanWorkflow(row)
}

func (s *PostgresStore) DeleteWorkflow(ctx context.Context, id int64) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NewError(KindNotFound, nil, "workflow %d not found", id)
	}
	return nil
}

func (s *PostgresStore) ListWorkflows(ctx context.Context) ([]*Workflow, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+workflowColumns+` FROM workflows ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetWorkflowActive(ctx context.Context, id int64, active bool) error {
	ct, err := s.pool.Exec(ctx, `UPDATE workflows SET active=$1, updated_at=now() WHERE id=$2`, active, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NewError(KindNotFound, nil, "workflow %d not found", id)
	}
	return nil
}

const stepColumns = `id, workflow_id, step_order, step_type, agent_id, name, input_mapping, output_variable,
	condition_expr, depends_on, approval_config, retry_config, timeout_seconds, created_at, updated_at`

func scanStep(row pgx.Row) (*WorkflowStep, error) {
	st := &WorkflowStep{}
	var dependsOn []int32
	err := row.Scan(&st.ID, &st.WorkflowID, &st.StepOrder, &st.StepType, &st.AgentID, &st.Name, &st.InputMapping,
		&st.OutputVariable, &st.ConditionExpr, &dependsOn, &st.ApprovalConfig, &st.RetryConfig, &st.TimeoutSeconds,
		&st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NewError(KindNotFound, err, "workflow step not found")
		}
		return nil, err
	}
	st.DependsOn = make([]int, len(dependsOn))
	for i, v := range dependsOn {
		st.DependsOn[i] = int(v)
	}
	return st, nil
}

// ReplaceSteps overwrites the full step list for a workflow inside one
// transaction: delete-then-reinsert, validated for acyclicity over the
// dependsOn graph (keyed by step_order, the only identifier stable across
// the replace) before any row is written.
func (s *PostgresStore) ReplaceSteps(ctx context.Context, workflowID int64, steps []*WorkflowStep) ([]*WorkflowStep, error) {
	if err := checkAcyclic(steps); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM workflow_steps WHERE workflow_id = $1`, workflowID); err != nil {
		return nil, NewError(KindInvalidArgument, err, "replace steps: clear existing: %v", err)
	}

	out := make([]*WorkflowStep, 0, len(steps))
	for _, st := range steps {
		dependsOn := make([]int32, len(st.DependsOn))
		for i, v := range st.DependsOn {
			dependsOn[i] = int32(v)
		}
		row := tx.QueryRow(ctx,
			`INSERT INTO workflow_steps (workflow_id, step_order, step_type, agent_id, name, input_mapping,
				output_variable, condition_expr, depends_on, approval_config, retry_config, timeout_seconds)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 RETURNING id, created_at, updated_at`,
			workflowID, st.StepOrder, st.StepType, st.AgentID, st.Name, st.InputMapping,
			st.OutputVariable, st.ConditionExpr, dependsOn, st.ApprovalConfig, st.RetryConfig, st.TimeoutSeconds,
		)
		st.WorkflowID = workflowID
		if err := row.Scan(&st.ID, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, NewError(KindInvalidArgument, err, "replace steps: insert step %d: %v", st.StepOrder, err)
		}
		out = append(out, st)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// checkAcyclic runs Kahn's algorithm over step dependsOn edges, keyed by
// StepOrder, and rejects the whole replacement if any cycle exists.
func checkAcyclic(steps []*WorkflowStep) error {
	indegree := make(map[int]int, len(steps))
	byOrder := make(map[int]*WorkflowStep, len(steps))
	for _, st := range steps {
		byOrder[st.StepOrder] = st
		if _, ok := indegree[st.StepOrder]; !ok {
			indegree[st.StepOrder] = 0
		}
	}
	for _, st := range steps {
		for _, dep := range st.DependsOn {
			if _, ok := byOrder[dep]; !ok {
				return NewError(KindInvalidArgument, nil, "step %d depends on unknown step %d", st.StepOrder, dep)
			}
			indegree[st.StepOrder]++
		}
	}

	var queue []int
	for order, deg := range indegree {
		if deg == 0 {
			queue = append(queue, order)
		}
	}
	visited := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		visited++
		for _, st := range steps {
			for _, dep := range st.DependsOn {
				if dep != cur {
					continue
				}
				indegree[st.StepOrder]--
				if indegree[st.StepOrder] == 0 {
					queue = append(queue, st.StepOrder)
				}
			}
		}
	}
	if visited != len(steps) {
		return NewError(KindInvalidArgument, nil, fmt.Sprintf("workflow step graph contains a cycle (%d of %d steps resolvable)", visited, len(steps)))
	}
	return nil
}

func (s *PostgresStore) ListSteps(ctx context.Context, workflowID int64) ([]*WorkflowStep, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+stepColumns+` FROM workflow_steps WHERE workflow_id = $1 ORDER BY step_order`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*WorkflowStep
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
