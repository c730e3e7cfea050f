package orchestrator

import (
	"context"
	"time"

	"conductor/internal/store"
)

// memStore is a minimal in-memory store.Store fake for orchestrator tests:
// just enough of each repository to drive the step loop end to end.
type memStore struct {
	agents     map[int64]*store.Agent
	workflows  map[int64]*store.Workflow
	steps      map[int64][]*store.WorkflowStep
	executions map[int64]*store.WorkflowExecution
	approvals  map[int64]*store.ApprovalRequest
	nextExecID int64
	nextApprID int64
}

func newMemStore() *memStore {
	return &memStore{
		agents:     map[int64]*store.Agent{},
		workflows:  map[int64]*store.Workflow{},
		steps:      map[int64][]*store.WorkflowStep{},
		executions: map[int64]*store.WorkflowExecution{},
		approvals:  map[int64]*store.ApprovalRequest{},
	}
}

func (m *memStore) GetWorkflow(ctx context.Context, id int64) (*store.Workflow, error) {
	w, ok := m.workflows[id]
	if !ok {
		return nil, store.NewError(store.KindNotFound, nil, "workflow %d not found", id)
	}
	return w, nil
}

func (m *memStore) ListSteps(ctx context.Context, workflowID int64) ([]*store.WorkflowStep, error) {
	return m.steps[workflowID], nil
}

func (m *memStore) CreateExecution(ctx context.Context, e *store.WorkflowExecution) (*store.WorkflowExecution, error) {
	m.nextExecID++
	e.ID = m.nextExecID
	e.StartedAt = time.Now()
	m.executions[e.ID] = e
	return e, nil
}

func (m *memStore) GetExecution(ctx context.Context, id int64) (*store.WorkflowExecution, error) {
	e, ok := m.executions[id]
	if !ok {
		return nil, store.NewError(store.KindNotFound, nil, "execution %d not found", id)
	}
	return e, nil
}

func (m *memStore) UpdateExecution(ctx context.Context, e *store.WorkflowExecution) error {
	m.executions[e.ID] = e
	return nil
}

func (m *memStore) CreateApproval(ctx context.Context, r *store.ApprovalRequest) (*store.ApprovalRequest, error) {
	m.nextApprID++
	r.ID = m.nextApprID
	m.approvals[r.ID] = r
	return r, nil
}

// Unused repository methods panic if called, to flag scope creep in tests.
func (m *memStore) unimplemented() error { panic("not implemented in test fake") }

func (m *memStore) CreateAgent(ctx context.Context, a *store.Agent) (*store.Agent, error) { return nil, m.unimplemented() }
func (m *memStore) GetAgent(ctx context.Context, id int64) (*store.Agent, error) {
	a, ok := m.agents[id]
	if !ok {
		return nil, store.NewError(store.KindNotFound, nil, "agent %d not found", id)
	}
	return a, nil
}
func (m *memStore) GetAgentByName(ctx context.Context, name string) (*store.Agent, error) { return nil, m.unimplemented() }
func (m *memStore) UpdateAgent(ctx context.Context, a *store.Agent) (*store.Agent, error)  { return nil, m.unimplemented() }
func (m *memStore) DeleteAgent(ctx context.Context, id int64) error                        { return m.unimplemented() }
func (m *memStore) ListAgents(ctx context.Context) ([]*store.Agent, error)                 { return nil, m.unimplemented() }
func (m *memStore) SetAgentActive(ctx context.Context, id int64, active bool) error         { return m.unimplemented() }
func (m *memStore) AssignTool(ctx context.Context, agentID, toolID int64, cfg []byte) (*store.AgentTool, error) {
	return nil, m.unimplemented()
}
func (m *memStore) RemoveTool(ctx context.Context, agentID, toolID int64) error { return m.unimplemented() }
func (m *memStore) ListAgentTools(ctx context.Context, agentID int64) ([]*store.AgentTool, error) {
	return nil, nil
}

func (m *memStore) CreateTool(ctx context.Context, t *store.Tool) (*store.Tool, error) { return nil, m.unimplemented() }
func (m *memStore) GetTool(ctx context.Context, id int64) (*store.Tool, error)          { return nil, m.unimplemented() }
func (m *memStore) GetToolByName(ctx context.Context, name string) (*store.Tool, error) { return nil, m.unimplemented() }
func (m *memStore) UpdateTool(ctx context.Context, t *store.Tool) (*store.Tool, error)  { return nil, m.unimplemented() }
func (m *memStore) DeleteTool(ctx context.Context, id int64) error                      { return m.unimplemented() }
func (m *memStore) ListTools(ctx context.Context, toolType store.ToolType, activeOnly bool) ([]*store.Tool, error) {
	return nil, nil
}
func (m *memStore) SetToolActive(ctx context.Context, id int64, active bool) error { return m.unimplemented() }

func (m *memStore) CreateWorkflow(ctx context.Context, w *store.Workflow) (*store.Workflow, error) {
	return nil, m.unimplemented()
}
func (m *memStore) GetWorkflowByName(ctx context.Context, name string) (*store.Workflow, error) {
	return nil, m.unimplemented()
}
func (m *memStore) UpdateWorkflow(ctx context.Context, w *store.Workflow) (*store.Workflow, error) {
	return nil, m.unimplemented()
}
func (m *memStore) DeleteWorkflow(ctx context.Context, id int64) error          { return m.unimplemented() }
func (m *memStore) ListWorkflows(ctx context.Context) ([]*store.Workflow, error) { return nil, m.unimplemented() }
func (m *memStore) SetWorkflowActive(ctx context.Context, id int64, active bool) error {
	return m.unimplemented()
}
func (m *memStore) ReplaceSteps(ctx context.Context, workflowID int64, steps []*store.WorkflowStep) ([]*store.WorkflowStep, error) {
	return nil, m.unimplemented()
}

func (m *memStore) ListExecutions(ctx context.Context, workflowID int64, status store.ExecutionStatus) ([]*store.WorkflowExecution, error) {
	return nil, m.unimplemented()
}
func (m *memStore) CreateAgentExecution(ctx context.Context, a *store.AgentExecution) (*store.AgentExecution, error) {
	a.ID = 1
	return a, nil
}
func (m *memStore) FinalizeAgentExecution(ctx context.Context, a *store.AgentExecution) error {
	return nil
}
func (m *memStore) ListAgentExecutions(ctx context.Context, workflowExecID int64) ([]*store.AgentExecution, error) {
	return nil, m.unimplemented()
}

func (m *memStore) GetApproval(ctx context.Context, id int64) (*store.ApprovalRequest, error) {
	a, ok := m.approvals[id]
	if !ok {
		return nil, store.NewError(store.KindNotFound, nil, "approval %d not found", id)
	}
	return a, nil
}
func (m *memStore) GetPendingByExecution(ctx context.Context, workflowExecID int64) (*store.ApprovalRequest, error) {
	for _, a := range m.approvals {
		if a.WorkflowExecID == workflowExecID && a.Status == store.ApprovalPending {
			return a, nil
		}
	}
	return nil, store.NewError(store.KindNotFound, nil, "no pending approval")
}
func (m *memStore) UpdateApproval(ctx context.Context, r *store.ApprovalRequest) error {
	m.approvals[r.ID] = r
	return nil
}
func (m *memStore) ListPending(ctx context.Context, role string) ([]*store.ApprovalRequest, error) {
	return nil, m.unimplemented()
}
func (m *memStore) ListOverduePending(ctx context.Context, now time.Time) ([]*store.ApprovalRequest, error) {
	return nil, m.unimplemented()
}
func (m *memStore) CountPending(ctx context.Context, role string) (int, error) { return 0, m.unimplemented() }

func (m *memStore) CreateSchedule(ctx context.Context, s *store.WorkflowSchedule) (*store.WorkflowSchedule, error) {
	return nil, m.unimplemented()
}
func (m *memStore) GetSchedule(ctx context.Context, id int64) (*store.WorkflowSchedule, error) {
	return nil, m.unimplemented()
}
func (m *memStore) GetScheduleByWorkflow(ctx context.Context, workflowID int64) (*store.WorkflowSchedule, error) {
	return nil, m.unimplemented()
}
func (m *memStore) ListSchedules(ctx context.Context, enabledOnly bool) ([]*store.WorkflowSchedule, error) {
	return nil, m.unimplemented()
}
func (m *memStore) UpdateSchedule(ctx context.Context, s *store.WorkflowSchedule) error {
	return m.unimplemented()
}
func (m *memStore) ClaimDue(ctx context.Context, now time.Time) ([]*store.WorkflowSchedule, error) {
	return nil, m.unimplemented()
}

var _ store.Store = (*memStore)(nil)
