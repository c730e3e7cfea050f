// Package orchestrator is the central state machine: it drives a
// WorkflowExecution through its ordered steps against a mutable context,
// dispatching agent/condition/approval/parallel steps, applying retry and
// per-step timeouts, and suspending for human approval.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"conductor/internal/agentrunner"
	"conductor/internal/exprlang"
	"conductor/internal/projector"
	"conductor/internal/retry"
	"conductor/internal/store"
)

const defaultStepTimeout = 300 * time.Second

// Outcome is what start/resume hand back to the caller: the terminal
// context if the execution finished, or a paused marker if it suspended for
// approval.
type Outcome struct {
	ExecutionID int64
	Status      store.ExecutionStatus
	Context     json.RawMessage
}

// Orchestrator drives workflow executions against a Store and an agent
// runner. One Orchestrator is shared across concurrent executions; there is
// no per-execution state held outside the database row itself.
type Orchestrator struct {
	store  store.Store
	runner *agentrunner.Runner
	logger *slog.Logger
}

// New builds an Orchestrator.
func New(st store.Store, runner *agentrunner.Runner, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: st, runner: runner, logger: logger.With("component", "orchestrator")}
}

// Start creates a new WorkflowExecution for workflowID with triggerData
// seeded into the context under the "trigger" key, then drives it to a
// terminal or paused state.
func (o *Orchestrator) Start(ctx context.Context, workflowID int64, triggerData json.RawMessage) (*Outcome, error) {
	wf, err := o.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !wf.Active {
		return nil, store.NewError(store.KindInactive, nil, "workflow %q is inactive", wf.Name)
	}

	if triggerData == nil {
		triggerData = json.RawMessage(`{}`)
	}
	var trigger any
	if err := json.Unmarshal(triggerData, &trigger); err != nil {
		return nil, store.NewError(store.KindInvalidArgument, err, "invalid trigger data: %v", err)
	}
	initialCtx, _ := json.Marshal(map[string]any{"trigger": trigger})

	exec := &store.WorkflowExecution{
		WorkflowID:  workflowID,
		Status:      store.ExecutionRunning,
		TriggerData: triggerData,
		Context:     initialCtx,
		CurrentStep: 0,
	}
	exec, err = o.store.CreateExecution(ctx, exec)
	if err != nil {
		return nil, err
	}

	return o.run(ctx, exec)
}

// Resume transitions a paused execution back to running on the given
// approval's outcome and continues the step loop from the step after the
// approval step. Per the synchronous-reentry resumption model, this call
// itself runs the remaining steps to completion (or the next pause) rather
// than merely flipping a status bit for some other task to pick up.
func (o *Orchestrator) Resume(ctx context.Context, executionID int64, approval *store.ApprovalRequest) (*Outcome, error) {
	exec, err := o.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != store.ExecutionPaused {
		return nil, store.NewError(store.KindInvalidArgument, nil, "execution %d is not paused", executionID)
	}

	if approval.Status != store.ApprovalApproved {
		return o.fail(ctx, exec, approvalFailure(approval))
	}
	outcome := map[string]any{"approved": true, "approvedBy": approval.Approver, "comments": approval.Comments}

	step, err := o.stepAt(ctx, exec.WorkflowID, exec.CurrentStep)
	if err != nil {
		return nil, err
	}
	execCtx, err := mergeOutputVariableValue(exec.Context, step.OutputVariable, outcome)
	if err != nil {
		return nil, err
	}
	exec.Context = execCtx
	exec.CurrentStep++
	exec.Status = store.ExecutionRunning

	if err := o.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}

	return o.run(ctx, exec)
}

// approvalFailure builds the error that fails the owning execution for a
// non-approved decision. Rejection and timeout both fail the workflow with
// the same "Approval rejected: " message prefix; timeout carries no human
// reason, so it uses a fixed one.
func approvalFailure(approval *store.ApprovalRequest) error {
	switch approval.Status {
	case store.ApprovalTimedOut:
		return store.NewError(store.KindApprovalTimeout, nil, "Approval rejected: timed out")
	default:
		return store.NewError(store.KindApprovalRejected, nil, "Approval rejected: %s", approval.Comments)
	}
}

// run is the shared step loop entered by both Start and Resume.
func (o *Orchestrator) run(ctx context.Context, exec *store.WorkflowExecution) (*Outcome, error) {
	steps, err := o.store.ListSteps(ctx, exec.WorkflowID)
	if err != nil {
		return nil, err
	}

	for exec.CurrentStep < len(steps) {
		step := steps[exec.CurrentStep]

		outcome, skipped, suspend, err := o.runStep(ctx, exec, step)
		if err != nil {
			if retryErr := o.retryStep(ctx, exec, step, err); retryErr != nil {
				return o.fail(ctx, exec, retryErr)
			}
			// retryStep succeeded on a later attempt; outcome was produced
			// inside it and context/status already updated. Re-fetch to
			// continue the loop from the persisted state.
			exec, err = o.store.GetExecution(ctx, exec.ID)
			if err != nil {
				return nil, err
			}
			continue
		}

		if !skipped && step.OutputVariable != "" {
			newCtx, mergeErr := mergeOutputVariable(exec.Context, step.OutputVariable, outcome)
			if mergeErr != nil {
				return o.fail(ctx, exec, mergeErr)
			}
			exec.Context = newCtx
		}

		if suspend {
			exec.Status = store.ExecutionPaused
			if err := o.store.UpdateExecution(ctx, exec); err != nil {
				return nil, err
			}
			return &Outcome{ExecutionID: exec.ID, Status: exec.Status, Context: exec.Context}, nil
		}

		exec.CurrentStep++
		if err := o.store.UpdateExecution(ctx, exec); err != nil {
			return nil, err
		}
	}

	exec.Status = store.ExecutionCompleted
	exec.CompletedAt = ptrTime(time.Now())
	if err := o.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	return &Outcome{ExecutionID: exec.ID, Status: exec.Status, Context: exec.Context}, nil
}

// retryStep re-attempts a failed step under its retry-config, if any,
// mutating exec/context/status as attempts land. Returns nil once a retry
// succeeds (the caller re-fetches exec and continues), or the terminal error
// once retries are exhausted or the step carries no retry-config.
func (o *Orchestrator) retryStep(ctx context.Context, exec *store.WorkflowExecution, step *store.WorkflowStep, firstErr error) error {
	if len(step.RetryConfig) == 0 || !store.Retryable(errKind(firstErr)) {
		return firstErr
	}

	cfg := parseRetryConfig(step.RetryConfig)
	attempt := 0
	lastErr := firstErr

	// The first call replays the already-observed failure so retry.Do's
	// backoff for its attempt 0 lands before the first real re-attempt,
	// matching delay(n) counted from the first retry rather than the
	// original try.
	return retry.Do(ctx, cfg, func(ctx context.Context) error {
		if attempt == 0 {
			attempt++
			return lastErr
		}
		outcome, skipped, suspend, err := o.runStep(ctx, exec, step)
		attempt++
		if err != nil {
			lastErr = err
			return err
		}

		if !skipped && step.OutputVariable != "" {
			newCtx, mergeErr := mergeOutputVariable(exec.Context, step.OutputVariable, outcome)
			if mergeErr != nil {
				return mergeErr
			}
			exec.Context = newCtx
		}
		if suspend {
			exec.Status = store.ExecutionPaused
		} else {
			exec.CurrentStep++
		}
		return o.store.UpdateExecution(ctx, exec)
	})
}

func errKind(err error) store.Kind {
	kind, _ := store.KindOf(err)
	return kind
}

func parseRetryConfig(raw json.RawMessage) retry.Config {
	cfg := retry.Config{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2, JitterFactor: 0.25}
	var doc struct {
		MaxRetries     *int     `json:"maxRetries"`
		InitialDelayMS *int     `json:"initialDelayMs"`
		MaxDelayMS     *int     `json:"maxDelayMs"`
		Multiplier     *float64 `json:"multiplier"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return cfg
	}
	if doc.MaxRetries != nil {
		cfg.MaxAttempts = *doc.MaxRetries
	}
	if doc.InitialDelayMS != nil {
		cfg.BaseDelay = time.Duration(*doc.InitialDelayMS) * time.Millisecond
	}
	if doc.MaxDelayMS != nil {
		cfg.MaxDelay = time.Duration(*doc.MaxDelayMS) * time.Millisecond
	}
	if doc.Multiplier != nil {
		cfg.Multiplier = *doc.Multiplier
	}
	return cfg
}

func (o *Orchestrator) fail(ctx context.Context, exec *store.WorkflowExecution, cause error) (*Outcome, error) {
	exec.Status = store.ExecutionFailed
	exec.ErrorMessage = cause.Error()
	exec.CompletedAt = ptrTime(time.Now())
	if err := o.store.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	return &Outcome{ExecutionID: exec.ID, Status: exec.Status, Context: exec.Context}, nil
}

// runStep dispatches one step once (no retry), returning its output
// document, whether it was skipped by its condition expression (in which
// case the caller must not assign the step's output variable), whether the
// execution must suspend, and any error.
func (o *Orchestrator) runStep(ctx context.Context, exec *store.WorkflowExecution, step *store.WorkflowStep) (json.RawMessage, bool, bool, error) {
	var ctxDoc map[string]any
	_ = json.Unmarshal(exec.Context, &ctxDoc)

	// The condition expression is a skip predicate: when it evaluates true
	// the step is skipped, when false the step runs.
	if step.ConditionExpr != "" && exprlang.EvalCtx(step.ConditionExpr, ctxDoc) {
		return json.RawMessage(`{"skipped":true}`), true, false, nil
	}

	switch step.StepType {
	case store.StepTypeCondition:
		return json.RawMessage(`{"skipped":true}`), false, false, nil

	case store.StepTypeAgent:
		out, suspend, err := o.runAgentStep(ctx, exec, step, ctxDoc)
		return out, false, suspend, err

	case store.StepTypeApproval:
		out, suspend, err := o.runApprovalStep(ctx, exec, step, ctxDoc)
		return out, false, suspend, err

	case store.StepTypeParallel:
		out, suspend, err := o.runParallelStep(ctx, exec, step, ctxDoc)
		return out, false, suspend, err

	default:
		return nil, false, false, store.NewError(store.KindInvalidArgument, nil, "unknown step type %q", step.StepType)
	}
}

func (o *Orchestrator) runAgentStep(ctx context.Context, exec *store.WorkflowExecution, step *store.WorkflowStep, ctxDoc map[string]any) (json.RawMessage, bool, error) {
	if step.AgentID == nil {
		return nil, false, store.NewError(store.KindInvalidArgument, nil, "agent step %q has no assigned agent", step.Name)
	}

	input, err := projector.ProjectJSON(step.InputMapping, exec.Context)
	if err != nil {
		return nil, false, store.NewError(store.KindInvalidArgument, err, "project input for step %q: %v", step.Name, err)
	}

	timeout := time.Duration(step.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := o.runner.Run(stepCtx, *step.AgentID, input, &exec.ID, &step.ID)
	if err != nil {
		if stepCtx.Err() != nil {
			return nil, false, store.NewError(store.KindStepTimeout, err, "step %q exceeded %s", step.Name, timeout)
		}
		return nil, false, err
	}

	outputJSON, _ := json.Marshal(map[string]any{"text": out.Text, "stop_reason": out.StopReason})
	return outputJSON, false, nil
}

func (o *Orchestrator) runApprovalStep(ctx context.Context, exec *store.WorkflowExecution, step *store.WorkflowStep, ctxDoc map[string]any) (json.RawMessage, bool, error) {
	var cfg struct {
		RequiredRole   string `json:"requiredRole"`
		TimeoutMinutes *int   `json:"timeoutMinutes"`
	}
	input := projector.Project(rawToAny(step.InputMapping), ctxDoc)
	if b, err := json.Marshal(input); err == nil {
		_ = json.Unmarshal(b, &cfg)
	}

	var timeoutAt *time.Time
	if cfg.TimeoutMinutes != nil {
		t := time.Now().Add(time.Duration(*cfg.TimeoutMinutes) * time.Minute)
		timeoutAt = &t
	}

	_, err := o.store.CreateApproval(ctx, &store.ApprovalRequest{
		WorkflowExecID: exec.ID,
		WorkflowStepID: step.ID,
		Status:         store.ApprovalPending,
		RequiredRole:   cfg.RequiredRole,
		TimeoutAt:      timeoutAt,
	})
	if err != nil {
		return nil, false, err
	}

	return json.RawMessage(`{"status":"PENDING","message":"Waiting for approval"}`), true, nil
}

func rawToAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	_ = json.Unmarshal(raw, &v)
	return v
}

// runParallelStep runs every sub-step named in the step's input mapping
// `{"steps": [stepOrder, ...]}` concurrently against the shared context,
// merging each sub-step's output under its own output-variable name (or a
// synthetic "stepN" key when absent). A sub-step failure is captured into
// the merged output rather than aborting the group.
func (o *Orchestrator) runParallelStep(ctx context.Context, exec *store.WorkflowExecution, step *store.WorkflowStep, ctxDoc map[string]any) (json.RawMessage, bool, error) {
	var cfg struct {
		Steps []int `json:"steps"`
	}
	_ = json.Unmarshal(step.InputMapping, &cfg)

	allSteps, err := o.store.ListSteps(ctx, exec.WorkflowID)
	if err != nil {
		return nil, false, err
	}
	byOrder := make(map[int]*store.WorkflowStep, len(allSteps))
	for _, s := range allSteps {
		byOrder[s.StepOrder] = s
	}

	merged := map[string]any{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, order := range cfg.Steps {
		sub, ok := byOrder[order]
		if !ok {
			continue
		}
		sub := sub
		g.Go(func() error {
			out, _, _, err := o.runStep(gctx, exec, sub)
			key := sub.OutputVariable
			if key == "" {
				key = fmt.Sprintf("step%d", sub.StepOrder)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				merged[key] = map[string]any{"error": err.Error(), "stepName": sub.Name}
				return nil
			}
			merged[key] = rawToAny(out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	outputJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, false, err
	}
	return outputJSON, false, nil
}

func (o *Orchestrator) stepAt(ctx context.Context, workflowID int64, index int) (*store.WorkflowStep, error) {
	steps, err := o.store.ListSteps(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(steps) {
		return nil, store.NewError(store.KindInvalidArgument, nil, "step index %d out of range", index)
	}
	return steps[index], nil
}

// mergeOutputVariable sets ctxJSON[variable] = output within the decoded
// context document, preserving every other key, and re-encodes it.
func mergeOutputVariable(ctxJSON json.RawMessage, variable string, output json.RawMessage) (json.RawMessage, error) {
	doc := map[string]any{}
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &doc); err != nil {
			return nil, err
		}
	}
	doc[variable] = rawToAny(output)
	return json.Marshal(doc)
}

func mergeOutputVariableValue(ctxJSON json.RawMessage, variable string, value map[string]any) (json.RawMessage, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return mergeOutputVariable(ctxJSON, variable, b)
}

func ptrTime(t time.Time) *time.Time { return &t }
