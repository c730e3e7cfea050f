package approval

import (
	"context"
	"testing"
	"time"

	"conductor/internal/orchestrator"
	"conductor/internal/store"
)

// fakeStore implements just the approval-repository methods the coordinator
// touches; everything else panics if called.
type fakeStore struct {
	store.Store
	approvals map[int64]*store.ApprovalRequest
	overdue   []*store.ApprovalRequest
}

func newFakeStore() *fakeStore {
	return &fakeStore{approvals: map[int64]*store.ApprovalRequest{}}
}

func (f *fakeStore) GetApproval(ctx context.Context, id int64) (*store.ApprovalRequest, error) {
	req, ok := f.approvals[id]
	if !ok {
		return nil, store.NewError(store.KindNotFound, nil, "approval %d not found", id)
	}
	return req, nil
}

func (f *fakeStore) UpdateApproval(ctx context.Context, r *store.ApprovalRequest) error {
	f.approvals[r.ID] = r
	return nil
}

func (f *fakeStore) ListOverduePending(ctx context.Context, now time.Time) ([]*store.ApprovalRequest, error) {
	return f.overdue, nil
}

// fakeResumer mirrors the orchestrator's real Resume outcome closely enough
// that tests can assert the coordinator handed it the decision it expects:
// an approval resumes to completed, anything else fails the execution.
type fakeResumer struct {
	calls    []int64
	statuses []store.ApprovalStatus
	err      error
}

func (f *fakeResumer) Resume(ctx context.Context, executionID int64, approval *store.ApprovalRequest) (*orchestrator.Outcome, error) {
	f.calls = append(f.calls, executionID)
	f.statuses = append(f.statuses, approval.Status)
	if f.err != nil {
		return nil, f.err
	}
	if approval.Status != store.ApprovalApproved {
		return &orchestrator.Outcome{ExecutionID: executionID, Status: store.ExecutionFailed}, nil
	}
	return &orchestrator.Outcome{ExecutionID: executionID, Status: store.ExecutionCompleted}, nil
}

func TestApproveResumesExecution(t *testing.T) {
	st := newFakeStore()
	st.approvals[1] = &store.ApprovalRequest{ID: 1, WorkflowExecID: 42, Status: store.ApprovalPending, RequiredRole: "manager"}
	resumer := &fakeResumer{}
	c := New(st, resumer, nil)

	decided, err := c.Approve(context.Background(), 1, "alice", "looks good")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if decided.Status != store.ApprovalApproved {
		t.Fatalf("status = %v, want approved", decided.Status)
	}
	if decided.Approver != "alice" {
		t.Fatalf("approver = %q, want alice", decided.Approver)
	}
	if decided.DecidedAt == nil {
		t.Fatal("DecidedAt not set")
	}
	if len(resumer.calls) != 1 || resumer.calls[0] != 42 {
		t.Fatalf("resume calls = %v, want [42]", resumer.calls)
	}
}

func TestApproveRejectsAlreadyDecided(t *testing.T) {
	st := newFakeStore()
	now := time.Now()
	st.approvals[1] = &store.ApprovalRequest{ID: 1, WorkflowExecID: 42, Status: store.ApprovalApproved, DecidedAt: &now}
	c := New(st, &fakeResumer{}, nil)

	_, err := c.Approve(context.Background(), 1, "bob", "")
	kind, ok := store.KindOf(err)
	if !ok || kind != store.KindInvalidArgument {
		t.Fatalf("kind = %v, ok=%v, want KindInvalidArgument", kind, ok)
	}
}

func TestRejectMarksRejectedAndResumes(t *testing.T) {
	st := newFakeStore()
	st.approvals[1] = &store.ApprovalRequest{ID: 1, WorkflowExecID: 7, Status: store.ApprovalPending}
	resumer := &fakeResumer{}
	c := New(st, resumer, nil)

	decided, err := c.Reject(context.Background(), 1, "carol", "insufficient budget")
	if err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if decided.Status != store.ApprovalRejected {
		t.Fatalf("status = %v, want rejected", decided.Status)
	}
	if decided.Comments != "insufficient budget" {
		t.Fatalf("comments = %q", decided.Comments)
	}
	if len(resumer.calls) != 1 || resumer.calls[0] != 7 {
		t.Fatalf("resume calls = %v, want [7]", resumer.calls)
	}
	if len(resumer.statuses) != 1 || resumer.statuses[0] != store.ApprovalRejected {
		t.Fatalf("resume statuses = %v, want [rejected]", resumer.statuses)
	}
}

func TestProcessTimeoutsSweepsOverdue(t *testing.T) {
	st := newFakeStore()
	overdueReq := &store.ApprovalRequest{ID: 9, WorkflowExecID: 100, Status: store.ApprovalPending}
	st.approvals[9] = overdueReq
	st.overdue = []*store.ApprovalRequest{overdueReq}
	resumer := &fakeResumer{}
	c := New(st, resumer, nil)

	n, err := c.ProcessTimeouts(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ProcessTimeouts() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("processed = %d, want 1", n)
	}
	if st.approvals[9].Status != store.ApprovalTimedOut {
		t.Fatalf("status = %v, want timeout", st.approvals[9].Status)
	}
	if len(resumer.calls) != 1 || resumer.calls[0] != 100 {
		t.Fatalf("resume calls = %v, want [100]", resumer.calls)
	}
	if len(resumer.statuses) != 1 || resumer.statuses[0] != store.ApprovalTimedOut {
		t.Fatalf("resume statuses = %v, want [timeout]", resumer.statuses)
	}
}
