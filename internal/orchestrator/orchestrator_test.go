package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"conductor/internal/agentrunner"
	"conductor/internal/llmdriver"
	"conductor/internal/store"
	"conductor/internal/tooldispatch"
)

// scriptedProvider returns its responses in order, one per Complete call,
// regardless of which agent asked — enough to drive the scenarios below
// where each agent step issues exactly one LLM turn.
type scriptedProvider struct {
	responses []*llmdriver.Response
	calls     int
}

func (p *scriptedProvider) Complete(ctx context.Context, req llmdriver.Request) (*llmdriver.Response, error) {
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

func textResponse(text string) *llmdriver.Response {
	return &llmdriver.Response{StopReason: "end_turn", Content: []llmdriver.ContentBlock{{Type: "text", Text: text}}}
}

func TestStartHappyPathTwoStepWorkflow(t *testing.T) {
	st := newMemStore()
	st.agents[1] = &store.Agent{ID: 1, Name: "a1", Active: true, Model: "m", MaxOutputTokens: 100}
	st.agents[2] = &store.Agent{ID: 2, Name: "a2", Active: true, Model: "m", MaxOutputTokens: 100}
	st.workflows[1] = &store.Workflow{ID: 1, Name: "w", Active: true}
	a1 := int64(1)
	a2 := int64(2)
	st.steps[1] = []*store.WorkflowStep{
		{ID: 1, WorkflowID: 1, StepOrder: 0, StepType: store.StepTypeAgent, AgentID: &a1, OutputVariable: "class"},
		{ID: 2, WorkflowID: 1, StepOrder: 1, StepType: store.StepTypeAgent, AgentID: &a2, OutputVariable: "result",
			InputMapping: json.RawMessage(`{"category":"${class.text}"}`)},
	}

	provider := &scriptedProvider{responses: []*llmdriver.Response{textResponse("greeting"), textResponse("ok")}}
	runner := agentrunner.New(st, provider, tooldispatch.New(tooldispatch.NewRegistry(), nil))
	orch := New(st, runner, nil)

	outcome, err := orch.Start(context.Background(), 1, json.RawMessage(`{"query":"hello"}`))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if outcome.Status != store.ExecutionCompleted {
		t.Fatalf("status = %v, want completed", outcome.Status)
	}

	var ctxDoc map[string]any
	if err := json.Unmarshal(outcome.Context, &ctxDoc); err != nil {
		t.Fatalf("unmarshal context: %v", err)
	}
	class := ctxDoc["class"].(map[string]any)
	if class["text"] != "greeting" {
		t.Fatalf("class.text = %v, want greeting", class["text"])
	}
	result := ctxDoc["result"].(map[string]any)
	if result["text"] != "ok" {
		t.Fatalf("result.text = %v, want ok", result["text"])
	}
}

func TestStartConditionSkip(t *testing.T) {
	st := newMemStore()
	st.agents[1] = &store.Agent{ID: 1, Name: "a1", Active: true, Model: "m", MaxOutputTokens: 100}
	st.agents[3] = &store.Agent{ID: 3, Name: "a3", Active: true, Model: "m", MaxOutputTokens: 100}
	st.workflows[1] = &store.Workflow{ID: 1, Name: "w", Active: true}
	a1 := int64(1)
	a3 := int64(3)
	st.steps[1] = []*store.WorkflowStep{
		{ID: 1, WorkflowID: 1, StepOrder: 0, StepType: store.StepTypeAgent, AgentID: &a1, OutputVariable: "a"},
		{ID: 2, WorkflowID: 1, StepOrder: 1, StepType: store.StepTypeCondition, ConditionExpr: "${a.text}==skip", OutputVariable: "s"},
		{ID: 3, WorkflowID: 1, StepOrder: 2, StepType: store.StepTypeAgent, AgentID: &a3, OutputVariable: "b"},
	}

	provider := &scriptedProvider{responses: []*llmdriver.Response{textResponse("skip"), textResponse("final")}}
	runner := agentrunner.New(st, provider, tooldispatch.New(tooldispatch.NewRegistry(), nil))
	orch := New(st, runner, nil)

	outcome, err := orch.Start(context.Background(), 1, nil)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if outcome.Status != store.ExecutionCompleted {
		t.Fatalf("status = %v, want completed", outcome.Status)
	}

	var ctxDoc map[string]any
	_ = json.Unmarshal(outcome.Context, &ctxDoc)
	if _, ok := ctxDoc["s"]; ok {
		t.Fatalf("ctxDoc[%q] = %v, want unset (a skipped step's output variable must not be assigned)", "s", ctxDoc["s"])
	}
	b := ctxDoc["b"].(map[string]any)
	if b["text"] != "final" {
		t.Fatalf("b.text = %v, want final", b["text"])
	}
}

func TestStartApprovalStepPauses(t *testing.T) {
	st := newMemStore()
	st.workflows[1] = &store.Workflow{ID: 1, Name: "w", Active: true}
	st.steps[1] = []*store.WorkflowStep{
		{ID: 1, WorkflowID: 1, StepOrder: 0, StepType: store.StepTypeApproval, OutputVariable: "decision",
			InputMapping: json.RawMessage(`{"requiredRole":"manager"}`)},
	}

	runner := agentrunner.New(st, &scriptedProvider{}, tooldispatch.New(tooldispatch.NewRegistry(), nil))
	orch := New(st, runner, nil)

	outcome, err := orch.Start(context.Background(), 1, nil)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if outcome.Status != store.ExecutionPaused {
		t.Fatalf("status = %v, want paused", outcome.Status)
	}

	pending, err := st.GetPendingByExecution(context.Background(), outcome.ExecutionID)
	if err != nil {
		t.Fatalf("GetPendingByExecution() error = %v", err)
	}
	if pending.RequiredRole != "manager" {
		t.Fatalf("RequiredRole = %q, want manager", pending.RequiredRole)
	}
}

func TestResumeAfterApprovalContinuesExecution(t *testing.T) {
	st := newMemStore()
	st.agents[1] = &store.Agent{ID: 1, Name: "a1", Active: true, Model: "m", MaxOutputTokens: 100}
	st.workflows[1] = &store.Workflow{ID: 1, Name: "w", Active: true}
	a1 := int64(1)
	st.steps[1] = []*store.WorkflowStep{
		{ID: 1, WorkflowID: 1, StepOrder: 0, StepType: store.StepTypeApproval, OutputVariable: "decision"},
		{ID: 2, WorkflowID: 1, StepOrder: 1, StepType: store.StepTypeAgent, AgentID: &a1, OutputVariable: "after"},
	}

	provider := &scriptedProvider{responses: []*llmdriver.Response{textResponse("done")}}
	runner := agentrunner.New(st, provider, tooldispatch.New(tooldispatch.NewRegistry(), nil))
	orch := New(st, runner, nil)

	outcome, err := orch.Start(context.Background(), 1, nil)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	pending, _ := st.GetPendingByExecution(context.Background(), outcome.ExecutionID)
	pending.Status = store.ApprovalApproved
	pending.Approver = "alice"
	_ = st.UpdateApproval(context.Background(), pending)

	resumed, err := orch.Resume(context.Background(), outcome.ExecutionID, pending)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if resumed.Status != store.ExecutionCompleted {
		t.Fatalf("status = %v, want completed", resumed.Status)
	}

	var ctxDoc map[string]any
	_ = json.Unmarshal(resumed.Context, &ctxDoc)
	decision := ctxDoc["decision"].(map[string]any)
	if approved, _ := decision["approved"].(bool); !approved {
		t.Fatalf("decision.approved = %v, want true", decision["approved"])
	}
	if decision["approvedBy"] != "alice" {
		t.Fatalf("decision.approvedBy = %v, want alice", decision["approvedBy"])
	}
}

func TestResumeAfterRejectionFailsExecution(t *testing.T) {
	st := newMemStore()
	st.agents[1] = &store.Agent{ID: 1, Name: "a1", Active: true, Model: "m", MaxOutputTokens: 100}
	st.workflows[1] = &store.Workflow{ID: 1, Name: "w", Active: true}
	a1 := int64(1)
	st.steps[1] = []*store.WorkflowStep{
		{ID: 1, WorkflowID: 1, StepOrder: 0, StepType: store.StepTypeApproval, OutputVariable: "decision"},
		{ID: 2, WorkflowID: 1, StepOrder: 1, StepType: store.StepTypeAgent, AgentID: &a1, OutputVariable: "after"},
	}

	runner := agentrunner.New(st, &scriptedProvider{}, tooldispatch.New(tooldispatch.NewRegistry(), nil))
	orch := New(st, runner, nil)

	outcome, err := orch.Start(context.Background(), 1, nil)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	pending, _ := st.GetPendingByExecution(context.Background(), outcome.ExecutionID)
	pending.Status = store.ApprovalRejected
	pending.Approver = "bob"
	pending.Comments = "no budget"
	_ = st.UpdateApproval(context.Background(), pending)

	resumed, err := orch.Resume(context.Background(), outcome.ExecutionID, pending)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if resumed.Status != store.ExecutionFailed {
		t.Fatalf("status = %v, want failed", resumed.Status)
	}

	exec, err := st.GetExecution(context.Background(), outcome.ExecutionID)
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	const want = "Approval rejected: no budget"
	if exec.ErrorMessage != want {
		t.Fatalf("ErrorMessage = %q, want %q", exec.ErrorMessage, want)
	}
}

func TestResumeAfterTimeoutFailsExecution(t *testing.T) {
	st := newMemStore()
	st.workflows[1] = &store.Workflow{ID: 1, Name: "w", Active: true}
	st.steps[1] = []*store.WorkflowStep{
		{ID: 1, WorkflowID: 1, StepOrder: 0, StepType: store.StepTypeApproval, OutputVariable: "decision"},
	}

	runner := agentrunner.New(st, &scriptedProvider{}, tooldispatch.New(tooldispatch.NewRegistry(), nil))
	orch := New(st, runner, nil)

	outcome, err := orch.Start(context.Background(), 1, nil)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	pending, _ := st.GetPendingByExecution(context.Background(), outcome.ExecutionID)
	pending.Status = store.ApprovalTimedOut
	_ = st.UpdateApproval(context.Background(), pending)

	resumed, err := orch.Resume(context.Background(), outcome.ExecutionID, pending)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if resumed.Status != store.ExecutionFailed {
		t.Fatalf("status = %v, want failed", resumed.Status)
	}

	exec, err := st.GetExecution(context.Background(), outcome.ExecutionID)
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	const want = "Approval rejected: timed out"
	if exec.ErrorMessage != want {
		t.Fatalf("ErrorMessage = %q, want %q", exec.ErrorMessage, want)
	}
}
