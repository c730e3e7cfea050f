package store

import "context"

// schemaStatements creates every table and index the engine needs if absent:
// idempotent, one CREATE per statement, run in order inside EnsureSchema.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS agents (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		system_prompt TEXT NOT NULL DEFAULT '',
		temperature DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_output_tokens INTEGER NOT NULL DEFAULT 1024,
		config JSONB,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS tools (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		input_schema JSONB,
		handler TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS agent_tools (
		id BIGSERIAL PRIMARY KEY,
		agent_id BIGINT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
		tool_id BIGINT NOT NULL REFERENCES tools(id) ON DELETE CASCADE,
		config_override JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (agent_id, tool_id)
	)`,
	`CREATE TABLE IF NOT EXISTS workflows (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		trigger_type TEXT NOT NULL,
		trigger_config JSONB,
		execution_mode TEXT NOT NULL DEFAULT 'sync',
		active BOOLEAN NOT NULL DEFAULT true,
		input_schema JSONB,
		interface_type TEXT NOT NULL DEFAULT '',
		public BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS workflow_steps (
		id BIGSERIAL PRIMARY KEY,
		workflow_id BIGINT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
		step_order INTEGER NOT NULL,
		step_type TEXT NOT NULL,
		agent_id BIGINT REFERENCES agents(id),
		name TEXT NOT NULL DEFAULT '',
		input_mapping JSONB,
		output_variable TEXT NOT NULL DEFAULT '',
		condition_expr TEXT NOT NULL DEFAULT '',
		depends_on INTEGER[] NOT NULL DEFAULT '{}',
		approval_config JSONB,
		retry_config JSONB,
		timeout_seconds INTEGER NOT NULL DEFAULT 300,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (workflow_id, step_order)
	)`,
	`CREATE TABLE IF NOT EXISTS workflow_executions (
		id BIGSERIAL PRIMARY KEY,
		workflow_id BIGINT NOT NULL REFERENCES workflows(id),
		status TEXT NOT NULL,
		trigger_data JSONB,
		context JSONB NOT NULL DEFAULT '{}',
		current_step INTEGER NOT NULL DEFAULT 0,
		resume_at TIMESTAMPTZ,
		started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workflow_executions_workflow_status
		ON workflow_executions (workflow_id, status)`,
	`CREATE TABLE IF NOT EXISTS agent_executions (
		id BIGSERIAL PRIMARY KEY,
		workflow_exec_id BIGINT REFERENCES workflow_executions(id) ON DELETE CASCADE,
		workflow_step_id BIGINT REFERENCES workflow_steps(id) ON DELETE CASCADE,
		agent_id BIGINT NOT NULL REFERENCES agents(id),
		status TEXT NOT NULL,
		input JSONB,
		output JSONB,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		elapsed_ms BIGINT NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_executions_workflow_exec
		ON agent_executions (workflow_exec_id)`,
	`CREATE TABLE IF NOT EXISTS approval_requests (
		id BIGSERIAL PRIMARY KEY,
		workflow_exec_id BIGINT NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
		workflow_step_id BIGINT NOT NULL REFERENCES workflow_steps(id),
		status TEXT NOT NULL,
		required_role TEXT NOT NULL DEFAULT '',
		approver TEXT NOT NULL DEFAULT '',
		decided_at TIMESTAMPTZ,
		comments TEXT NOT NULL DEFAULT '',
		timeout_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_approval_requests_pending
		ON approval_requests (status, timeout_at) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS workflow_schedules (
		id BIGSERIAL PRIMARY KEY,
		workflow_id BIGINT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
		cron_expr TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT true,
		last_run_at TIMESTAMPTZ,
		next_run_at TIMESTAMPTZ NOT NULL,
		trigger_data JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workflow_schedules_due
		ON workflow_schedules (next_run_at) WHERE enabled = true`,
}

// EnsureSchema creates every table and index if they do not already exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return NewError(KindInvalidArgument, err, "ensure schema: %v", err)
		}
	}
	return nil
}
