package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

const toolColumns = `id, name, type, description, input_schema, handler, active, created_at, updated_at`

func scanTool(row pgx.Row) (*Tool, error) {
	t := &Tool{}
	err := row.Scan(&t.ID, &t.Name, &t.Type, &t.Description, &t.InputSchema, &t.Handler, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NewError(KindNotFound, err, "tool not found")
		}
		return nil, err
	}
	return t, nil
}

func (s *PostgresStore) CreateTool(ctx context.Context, t *Tool) (*Tool, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO tools (name, type, description, input_schema, handler, active)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		t.Name, t.Type, t.Description, t.InputSchema, t.Handler, t.Active,
	)
	if err := row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, NewError(KindInvalidArgument, err, "tool name %q already exists", t.Name)
		}
		return nil, NewError(KindInvalidArgument, err, "create tool: %v", err)
	}
	return t, nil
}

func (s *PostgresStore) GetTool(ctx context.Context, id int64) (*Tool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+toolColumns+` FROM tools WHERE id = $1`, id)
	return scanTool(row)
}

func (s *PostgresStore) GetToolByName(ctx context.Context, name string) (*Tool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+toolColumns+` FROM tools WHERE name = $1`, name)
	return scanTool(row)
}

func (s *PostgresStore) UpdateTool(ctx context.Context, t *Tool) (*Tool, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE tools SET name=$1, type=$2, description=$3, input_schema=$4, handler=$5, active=$6, updated_at=now()
		 WHERE id=$7 RETURNING `+toolColumns,
		t.Name, t.Type, t.Description, t.InputSchema, t.Handler, t.Active, t.ID,
	)
	return scanTool(row)
}

func (s *PostgresStore) DeleteTool(ctx context.Context, id int64) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM tools WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NewError(KindNotFound, nil, "tool %d not found", id)
	}
	return nil
}

func (s *PostgresStore) ListTools(ctx context.Context, toolType ToolType, activeOnly bool) ([]*Tool, error) {
	query := `SELECT ` + toolColumns + ` FROM tools WHERE ($1 = '' OR type = $1) AND ($2 = false OR active = true) ORDER BY id`
	rows, err := s.pool.Query(ctx, query, string(toolType), activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Tool
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetToolActive(ctx context.Context, id int64, active bool) error {
	ct, err := s.pool.Exec(ctx, `UPDATE tools SET active=$1, updated_at=now() WHERE id=$2`, active, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NewError(KindNotFound, nil, "tool %d not found", id)
	}
	return nil
}
