// Package store is the durable persistence layer: agents, tools, workflows,
// steps, executions, agent-executions, approval requests, and schedules. All
// engine state transitions round-trip through the repositories defined here.
package store

import (
	"encoding/json"
	"time"
)

// Agent is a named, model-bound prompt-and-tool bundle invoked as one LLM
// interaction.
type Agent struct {
	ID              int64
	Name            string
	Provider        string
	Model           string
	SystemPrompt    string
	Temperature     float64
	MaxOutputTokens int
	Config          json.RawMessage
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ToolType distinguishes in-process tools from tools proxied through an
// external tool-server.
type ToolType string

const (
	ToolTypeInProcess ToolType = "in_process"
	ToolTypeExternal  ToolType = "external"
)

// Tool is a named, schema-described side effect the model can invoke.
type Tool struct {
	ID          int64
	Name        string
	Type        ToolType
	Description string
	InputSchema json.RawMessage
	Handler     string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AgentTool links an Agent to a Tool, optionally overriding its config for
// that agent.
type AgentTool struct {
	ID           int64
	AgentID       int64
	ToolID        int64
	ConfigOverride json.RawMessage
	CreatedAt     time.Time
}

// TriggerType classifies how a workflow execution is started.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
	TriggerEvent     TriggerType = "event"
)

// ExecutionMode is a workflow's sync/async tag. It is stored with the
// workflow; the orchestrator's Start does not consult it and always runs the
// execution to completion or to an approval pause before returning.
type ExecutionMode string

const (
	ExecutionModeSync  ExecutionMode = "sync"
	ExecutionModeAsync ExecutionMode = "async"
)

// Workflow is an ordered graph of steps over a shared context document.
type Workflow struct {
	ID            int64
	Name          string
	Description   string
	TriggerType   TriggerType
	TriggerConfig json.RawMessage
	ExecutionMode ExecutionMode
	Active        bool
	InputSchema   json.RawMessage
	InterfaceType string
	Public        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StepType is the tagged union discriminator for a WorkflowStep. Dispatch on
// this is a Go switch, never a class hierarchy, so the compiler can flag a
// missing case.
type StepType string

const (
	StepTypeAgent     StepType = "agent"
	StepTypeCondition StepType = "condition"
	StepTypeApproval  StepType = "approval"
	StepTypeParallel  StepType = "parallel"
)

// WorkflowStep is one node of a workflow.
type WorkflowStep struct {
	ID                int64
	WorkflowID        int64
	StepOrder         int
	StepType          StepType
	AgentID           *int64
	Name              string
	InputMapping      json.RawMessage
	OutputVariable    string
	ConditionExpr     string
	DependsOn         []int
	ApprovalConfig    json.RawMessage
	RetryConfig       json.RawMessage
	TimeoutSeconds    int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ExecutionStatus is the WorkflowExecution state-machine label.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// WorkflowExecution is one durable invocation of a workflow.
type WorkflowExecution struct {
	ID           int64
	WorkflowID   int64
	Status       ExecutionStatus
	TriggerData  json.RawMessage
	Context      json.RawMessage
	CurrentStep  int
	ResumeAt     *time.Time
	StartedAt    time.Time
	CompletedAt  *time.Time
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AgentExecutionStatus is the lifecycle label for one LLM-agent invocation.
type AgentExecutionStatus string

const (
	AgentExecPending   AgentExecutionStatus = "pending"
	AgentExecRunning   AgentExecutionStatus = "running"
	AgentExecCompleted AgentExecutionStatus = "completed"
	AgentExecFailed    AgentExecutionStatus = "failed"
)

// AgentExecution records one LLM-agent invocation: request, response, token
// usage and timings, written only by the agent runner.
type AgentExecution struct {
	ID               int64
	WorkflowExecID   *int64
	WorkflowStepID   *int64
	AgentID          int64
	Status           AgentExecutionStatus
	Input            json.RawMessage
	Output           json.RawMessage
	PromptTokens     int
	CompletionTokens int
	ElapsedMS        int64
	ErrorMessage     string
	StartedAt        time.Time
	CompletedAt      *time.Time
	CreatedAt        time.Time
}

// TotalTokens sums prompt and completion tokens; the two are still stored
// separately for cost accounting.
func (a AgentExecution) TotalTokens() int {
	return a.PromptTokens + a.CompletionTokens
}

// ApprovalStatus is the lifecycle label for a human-in-the-loop pause token.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalTimedOut ApprovalStatus = "timeout"
)

// ApprovalRequest is a durable pause token awaiting a human decision.
type ApprovalRequest struct {
	ID             int64
	WorkflowExecID int64
	WorkflowStepID int64
	Status         ApprovalStatus
	RequiredRole   string
	Approver       string
	DecidedAt      *time.Time
	Comments       string
	TimeoutAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WorkflowSchedule is a cron-triggered workflow invocation with stored
// trigger data.
type WorkflowSchedule struct {
	ID          int64
	WorkflowID  int64
	CronExpr    string
	Enabled     bool
	LastRunAt   *time.Time
	NextRunAt   time.Time
	TriggerData json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
