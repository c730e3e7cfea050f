// Package approval coordinates the human-in-the-loop pause points a running
// workflow can suspend on: it owns the decision side of an ApprovalRequest
// (approve/reject), sweeps requests past their deadline, and hands decided
// requests back to the orchestrator to resume the paused execution.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"conductor/internal/orchestrator"
	"conductor/internal/store"
)

// Resumer is the subset of orchestrator.Orchestrator the coordinator drives
// once a human decision lands. Kept as an interface so tests don't need the
// full step-loop machinery wired up.
type Resumer interface {
	Resume(ctx context.Context, executionID int64, approval *store.ApprovalRequest) (*orchestrator.Outcome, error)
}

// Coordinator enforces the invariant that a paused execution has exactly one
// pending ApprovalRequest owned by its current step, and is the only writer
// of ApprovalRequest.Status.
type Coordinator struct {
	store  store.Store
	resume Resumer
	logger *slog.Logger
}

// New builds a Coordinator. resume may be nil for callers that only need
// ProcessTimeouts/inspection (e.g. an admin surface embedding this engine).
func New(st store.Store, resume Resumer, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: st, resume: resume, logger: logger.With("component", "approval")}
}

// Approve records approver's decision on requestID and resumes the owning
// execution. Deciding an already-decided request is rejected rather than
// silently accepted, since a second decision would desynchronize the paused
// execution from the approval row it already consumed.
func (c *Coordinator) Approve(ctx context.Context, requestID int64, approver, comments string) (*store.ApprovalRequest, error) {
	return c.decide(ctx, requestID, store.ApprovalApproved, approver, comments)
}

// Reject records a rejection; the owning execution is left failed by the
// orchestrator's Resume, not by the coordinator directly.
func (c *Coordinator) Reject(ctx context.Context, requestID int64, approver, reason string) (*store.ApprovalRequest, error) {
	return c.decide(ctx, requestID, store.ApprovalRejected, approver, reason)
}

func (c *Coordinator) decide(ctx context.Context, requestID int64, status store.ApprovalStatus, approver, comments string) (*store.ApprovalRequest, error) {
	req, err := c.store.GetApproval(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != store.ApprovalPending {
		return nil, store.NewError(store.KindInvalidArgument, nil, "approval %d already decided (status=%s)", requestID, req.Status)
	}

	now := time.Now()
	req.Status = status
	req.Approver = approver
	req.Comments = comments
	req.DecidedAt = &now
	if err := c.store.UpdateApproval(ctx, req); err != nil {
		return nil, err
	}

	if c.resume != nil {
		if _, err := c.resume.Resume(ctx, req.WorkflowExecID, req); err != nil {
			return nil, fmt.Errorf("resume execution %d after approval %d: %w", req.WorkflowExecID, req.ID, err)
		}
	}
	return req, nil
}

// ProcessTimeouts sweeps requests past their TimeoutAt, marks them timed out,
// and resumes their owning executions so the orchestrator can fail them with
// KindApprovalTimeout. Intended to be called on a periodic tick alongside the
// scheduler.
func (c *Coordinator) ProcessTimeouts(ctx context.Context, now time.Time) (int, error) {
	overdue, err := c.store.ListOverduePending(ctx, now)
	if err != nil {
		return 0, err
	}

	var processed int
	for _, req := range overdue {
		req.Status = store.ApprovalTimedOut
		req.DecidedAt = &now
		if err := c.store.UpdateApproval(ctx, req); err != nil {
			c.logger.Error("mark approval timed out", "approval_id", req.ID, "error", err)
			continue
		}
		if c.resume != nil {
			if _, err := c.resume.Resume(ctx, req.WorkflowExecID, req); err != nil {
				c.logger.Error("resume execution after approval timeout", "execution_id", req.WorkflowExecID, "error", err)
				continue
			}
		}
		processed++
	}
	return processed, nil
}

// Pending lists the approval requests awaiting a decision for role, or every
// pending request when role is empty.
func (c *Coordinator) Pending(ctx context.Context, role string) ([]*store.ApprovalRequest, error) {
	return c.store.ListPending(ctx, role)
}
