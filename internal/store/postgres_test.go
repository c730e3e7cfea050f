package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func mustParseRFC3339(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return tm
}

// setupTestStore connects to TEST_DATABASE_URL and ensures schema. Skips the
// test entirely when that env var is unset, since these exercise a real
// Postgres instance rather than a fake.
func setupTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	s := NewPostgresStore(pool, nil)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DELETE FROM workflows WHERE name LIKE 'test-%'")
		_, _ = pool.Exec(context.Background(), "DELETE FROM agents WHERE name LIKE 'test-%'")
		_, _ = pool.Exec(context.Background(), "DELETE FROM tools WHERE name LIKE 'test-%'")
	})

	return s
}

func TestPostgresStoreEnsureSchemaIdempotent(t *testing.T) {
	s := setupTestStore(t)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second EnsureSchema: %v", err)
	}
}

func TestPostgresStoreAgentRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	agent := &Agent{
		Name:            "test-greeter",
		Provider:        "anthropic",
		Model:           "claude-3-sonnet",
		SystemPrompt:    "be terse",
		Temperature:     0.2,
		MaxOutputTokens: 512,
		Active:          true,
	}
	created, err := s.CreateAgent(ctx, agent)
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected a nonzero agent ID")
	}

	got, err := s.GetAgent(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.Name != agent.Name || got.Model != agent.Model {
		t.Fatalf("GetAgent returned %+v, want name/model matching %+v", got, agent)
	}

	if _, err := s.CreateAgent(ctx, &Agent{Name: "test-greeter", Provider: "anthropic", Model: "x"}); err == nil {
		t.Fatal("expected duplicate agent name to fail")
	} else if kind, ok := KindOf(err); !ok || kind != KindInvalidArgument {
		t.Fatalf("duplicate agent name error kind = %v, want KindInvalidArgument", kind)
	}
}

func TestPostgresStoreReplaceStepsRejectsCycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	wf, err := s.CreateWorkflow(ctx, &Workflow{
		Name:          "test-cyclic",
		TriggerType:   TriggerManual,
		ExecutionMode: ExecutionModeSync,
		Active:        true,
	})
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}

	steps := []*WorkflowStep{
		{StepOrder: 1, StepType: StepTypeCondition, DependsOn: []int{2}},
		{StepOrder: 2, StepType: StepTypeCondition, DependsOn: []int{1}},
	}
	if _, err := s.ReplaceSteps(ctx, wf.ID, steps); err == nil {
		t.Fatal("expected a cyclic step graph to be rejected")
	}
}

func TestPostgresStoreClaimDueClaimsOverdue(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	wf, err := s.CreateWorkflow(ctx, &Workflow{
		Name:          "test-scheduled",
		TriggerType:   TriggerScheduled,
		ExecutionMode: ExecutionModeAsync,
		Active:        true,
	})
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}

	due, err := s.CreateSchedule(ctx, &WorkflowSchedule{
		WorkflowID: wf.ID,
		CronExpr:   "* * * * *",
		Enabled:    true,
		NextRunAt:  mustParseRFC3339(t, "2000-01-01T00:00:00Z"),
	})
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	claimed, err := s.ClaimDue(ctx, mustParseRFC3339(t, "2030-01-01T00:00:00Z"))
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	var found bool
	for _, c := range claimed {
		if c.ID == due.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the overdue schedule to be claimed")
	}
}
