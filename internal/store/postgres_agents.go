package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

func (s *PostgresStore) CreateAgent(ctx context.Context, a *Agent) (*Agent, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO agents (name, provider, model, system_prompt, temperature, max_output_tokens, config, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		a.Name, a.Provider, a.Model, a.SystemPrompt, a.Temperature, a.MaxOutputTokens, a.Config, a.Active,
	)
	if err := row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, NewError(KindInvalidArgument, err, "agent name %q already exists", a.Name)
		}
		return nil, NewError(KindInvalidArgument, err, "create agent: %v", err)
	}
	return a, nil
}

const agentColumns = `id, name, provider, model, system_prompt, temperature, max_output_tokens, config, active, created_at, updated_at`

func scanAgent(row pgx.Row) (*Agent, error) {
	a := &Agent{}
	err := row.Scan(&a.ID, &a.Name, &a.Provider, &a.Model, &a.SystemPrompt, &a.Temperature,
		&a.MaxOutputTokens, &a.Config, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NewError(KindNotFound, err, "agent not found")
		}
		return nil, err
	}
	return a, nil
}

func (s *PostgresStore) GetAgent(ctx context.Context, id int64) (*Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	return scanAgent(row)
}

func (s *PostgresStore) GetAgentByName(ctx context.Context, name string) (*Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE name = $1`, name)
	return scanAgent(row)
}

func (s *PostgresStore) UpdateAgent(ctx context.Context, a *Agent) (*Agent, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE agents SET name=$1, provider=$2, model=$3, system_prompt=$4, temperature=$5,
		 max_output_tokens=$6, config=$7, active=$8, updated_at=now()
		 WHERE id=$9 RETURNING `+agentColumns,
		a.Name, a.Provider, a.Model, a.SystemPrompt, a.Temperature, a.MaxOutputTokens, a.Config, a.Active, a.ID,
	)
	return scanAgent(row)
}

func (s *PostgresStore) DeleteAgent(ctx context.Context, id int64) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NewError(KindNotFound, nil, "agent %d not found", id)
	}
	return nil
}

func (s *PostgresStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetAgentActive(ctx context.Context, id int64, active bool) error {
	ct, err := s.pool.Exec(ctx, `UPDATE agents SET active=$1, updated_at=now() WHERE id=$2`, active, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NewError(KindNotFound, nil, "agent %d not found", id)
	}
	return nil
}

func (s *PostgresStore) AssignTool(ctx context.Context, agentID, toolID int64, configOverride []byte) (*AgentTool, error) {
	at := &AgentTool{AgentID: agentID, ToolID: toolID, ConfigOverride: configOverride}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO agent_tools (agent_id, tool_id, config_override) VALUES ($1, $2, $3)
		 ON CONFLICT (agent_id, tool_id) DO UPDATE SET config_override = EXCLUDED.config_override
		 RETURNING id, created_at`,
		agentID, toolID, configOverride,
	)
	if err := row.Scan(&at.ID, &at.CreatedAt); err != nil {
		return nil, NewError(KindInvalidArgument, err, "assign tool: %v", err)
	}
	return at, nil
}

func (s *PostgresStore) RemoveTool(ctx context.Context, agentID, toolID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM agent_tools WHERE agent_id=$1 AND tool_id=$2`, agentID, toolID)
	return err
}

func (s *PostgresStore) ListAgentTools(ctx context.Context, agentID int64) ([]*AgentTool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, agent_id, tool_id, config_override, created_at FROM agent_tools WHERE agent_id=$1`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AgentTool
	for rows.Next() {
		at := &AgentTool{}
		if err := rows.Scan(&at.ID, &at.AgentID, &at.ToolID, &at.ConfigOverride, &at.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, at)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && pgxUniqueViolation(err)
}
