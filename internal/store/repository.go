package store

import (
	"context"
	"time"
)

// AgentRepository is the transactional repository for Agent and AgentTool
// records.
type AgentRepository interface {
	CreateAgent(ctx context.Context, a *Agent) (*Agent, error)
	GetAgent(ctx context.Context, id int64) (*Agent, error)
	GetAgentByName(ctx context.Context, name string) (*Agent, error)
	UpdateAgent(ctx context.Context, a *Agent) (*Agent, error)
	DeleteAgent(ctx context.Context, id int64) error
	ListAgents(ctx context.Context) ([]*Agent, error)
	SetAgentActive(ctx context.Context, id int64, active bool) error

	AssignTool(ctx context.Context, agentID, toolID int64, configOverride []byte) (*AgentTool, error)
	RemoveTool(ctx context.Context, agentID, toolID int64) error
	ListAgentTools(ctx context.Context, agentID int64) ([]*AgentTool, error)
}

// ToolRepository is the transactional repository for Tool records.
type ToolRepository interface {
	CreateTool(ctx context.Context, t *Tool) (*Tool, error)
	GetTool(ctx context.Context, id int64) (*Tool, error)
	GetToolByName(ctx context.Context, name string) (*Tool, error)
	UpdateTool(ctx context.Context, t *Tool) (*Tool, error)
	DeleteTool(ctx context.Context, id int64) error
	ListTools(ctx context.Context, toolType ToolType, activeOnly bool) ([]*Tool, error)
	SetToolActive(ctx context.Context, id int64, active bool) error
}

// WorkflowRepository is the transactional repository for Workflow and
// WorkflowStep records.
type WorkflowRepository interface {
	CreateWorkflow(ctx context.Context, w *Workflow) (*Workflow, error)
	GetWorkflow(ctx context.Context, id int64) (*Workflow, error)
	GetWorkflowByName(ctx context.Context, name string) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, w *Workflow) (*Workflow, error)
	DeleteWorkflow(ctx context.Context, id int64) error
	ListWorkflows(ctx context.Context) ([]*Workflow, error)
	SetWorkflowActive(ctx context.Context, id int64, active bool) error

	// ReplaceSteps atomically overwrites the full step list for a workflow,
	// validating acyclicity over the dependsOn graph before committing.
	ReplaceSteps(ctx context.Context, workflowID int64, steps []*WorkflowStep) ([]*WorkflowStep, error)
	ListSteps(ctx context.Context, workflowID int64) ([]*WorkflowStep, error)
}

// ExecutionRepository is the transactional repository for WorkflowExecution
// and AgentExecution records.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, e *WorkflowExecution) (*WorkflowExecution, error)
	GetExecution(ctx context.Context, id int64) (*WorkflowExecution, error)
	// UpdateExecution persists the full row; callers are expected to hold a
	// single-writer-per-execution discipline, since this method does not
	// itself serialize concurrent writers.
	UpdateExecution(ctx context.Context, e *WorkflowExecution) error
	ListExecutions(ctx context.Context, workflowID int64, status ExecutionStatus) ([]*WorkflowExecution, error)

	CreateAgentExecution(ctx context.Context, a *AgentExecution) (*AgentExecution, error)
	FinalizeAgentExecution(ctx context.Context, a *AgentExecution) error
	ListAgentExecutions(ctx context.Context, workflowExecID int64) ([]*AgentExecution, error)
}

// ApprovalRepository is the transactional repository for ApprovalRequest
// records.
type ApprovalRepository interface {
	CreateApproval(ctx context.Context, r *ApprovalRequest) (*ApprovalRequest, error)
	GetApproval(ctx context.Context, id int64) (*ApprovalRequest, error)
	GetPendingByExecution(ctx context.Context, workflowExecID int64) (*ApprovalRequest, error)
	UpdateApproval(ctx context.Context, r *ApprovalRequest) error
	ListPending(ctx context.Context, role string) ([]*ApprovalRequest, error)
	ListOverduePending(ctx context.Context, now time.Time) ([]*ApprovalRequest, error)
	CountPending(ctx context.Context, role string) (int, error)
}

// ScheduleRepository is the transactional repository for WorkflowSchedule
// records.
type ScheduleRepository interface {
	CreateSchedule(ctx context.Context, s *WorkflowSchedule) (*WorkflowSchedule, error)
	GetSchedule(ctx context.Context, id int64) (*WorkflowSchedule, error)
	GetScheduleByWorkflow(ctx context.Context, workflowID int64) (*WorkflowSchedule, error)
	ListSchedules(ctx context.Context, enabledOnly bool) ([]*WorkflowSchedule, error)
	UpdateSchedule(ctx context.Context, s *WorkflowSchedule) error
	// ClaimDue atomically selects due schedules and stamps their last_run_at
	// within one transaction so concurrent scheduler ticks never double-fire a
	// row; advancing next_run_at is left to the caller.
	ClaimDue(ctx context.Context, now time.Time) ([]*WorkflowSchedule, error)
}

// Store bundles every repository; the engine facade depends on this, not on
// *sql.DB or *pgxpool.Pool, so tests can substitute an in-memory fake.
type Store interface {
	AgentRepository
	ToolRepository
	WorkflowRepository
	ExecutionRepository
	ApprovalRepository
	ScheduleRepository
}
