// Package scheduler drives cron-triggered workflow runs: on a fixed tick it
// asks the store for schedules past their due time, starts each one, and
// reschedules it for its next occurrence.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"conductor/internal/orchestrator"
	"conductor/internal/store"
)

// defaultTick is how often the scheduler asks the store for due schedules:
// once a minute. A schedule whose cron expression carries a seconds field
// still fires at most once per tick.
const defaultTick = time.Minute

// fallbackDelay is the next-run-at stamped on a schedule whose cron
// expression fails to parse, so a bad expression doesn't spin the claim loop
// hot on every tick.
const fallbackDelay = time.Hour

// Starter is the subset of orchestrator.Orchestrator the scheduler drives.
// Kept narrow so tests don't need the full step-loop machinery.
type Starter interface {
	Start(ctx context.Context, workflowID int64, triggerData json.RawMessage) (*orchestrator.Outcome, error)
}

// Scheduler polls for due WorkflowSchedule rows and starts their workflows.
type Scheduler struct {
	store   store.Store
	starter Starter
	parser  cron.Parser
	tick    time.Duration
	logger  *slog.Logger
}

// New builds a Scheduler using the standard 6-field, seconds-optional cron
// layout (second? minute hour dom month dow): a 5-field expression parses
// exactly as before, and a 6-field one with a leading seconds field is also
// accepted.
func New(st store.Store, starter Starter, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:   st,
		starter: starter,
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		tick:    defaultTick,
		logger:  logger.With("component", "scheduler"),
	}
}

// Run blocks, polling every tick interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := s.Tick(ctx, now); err != nil {
				s.logger.Error("scheduler tick", "error", err)
			}
		}
	}
}

// Tick claims every schedule due at now, starts its workflow, and persists
// the next occurrence. One failing schedule (claim race, bad cron
// expression, workflow start failure) never blocks the others.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	due, err := s.store.ClaimDue(ctx, now)
	if err != nil {
		return err
	}

	for _, sched := range due {
		s.fire(ctx, sched, now)
	}
	return nil
}

func (s *Scheduler) fire(ctx context.Context, sched *store.WorkflowSchedule, now time.Time) {
	logger := s.logger.With("schedule_id", sched.ID, "workflow_id", sched.WorkflowID)

	next, err := s.nextRun(sched.CronExpr, now)
	if err != nil {
		logger.Error("parse cron expression, falling back", "cron", sched.CronExpr, "error", err)
		next = now.Add(fallbackDelay)
	}
	sched.NextRunAt = next
	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		logger.Error("persist next run", "error", err)
	}

	if _, err := s.starter.Start(ctx, sched.WorkflowID, sched.TriggerData); err != nil {
		logger.Error("start scheduled workflow", "error", err)
	}
}

func (s *Scheduler) nextRun(expr string, now time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(now), nil
}
