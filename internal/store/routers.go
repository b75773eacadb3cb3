package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wispkit/wispd/internal/model"
)

const routerCols = "id, name, address, port, username, password, active, updated_at_ns"

// UpsertRouter inserts or updates a router by ID.
func (s *Store) UpsertRouter(ctx context.Context, r model.Router) error {
	defer s.lock()()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO routers (id, name, address, port, username, password, active, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name          = excluded.name,
			address       = excluded.address,
			port          = excluded.port,
			username      = excluded.username,
			password      = excluded.password,
			active        = excluded.active,
			updated_at_ns = excluded.updated_at_ns
	`, r.ID, r.Name, r.Address, r.Port, r.Username, r.Password, r.Active, r.UpdatedAtNs)
	return mapErr(err)
}

// GetRouter returns the router with the given ID.
func (s *Store) GetRouter(ctx context.Context, id string) (model.Router, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+routerCols+" FROM routers WHERE id = ?", id)
	return scanRouter(row)
}

// ListRouters returns all routers; with activeOnly, only active ones.
func (s *Store) ListRouters(ctx context.Context, activeOnly bool) ([]model.Router, error) {
	query := "SELECT " + routerCols + " FROM routers"
	if activeOnly {
		query += " WHERE active = 1"
	}
	rows, err := s.q.QueryContext(ctx, query+" ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Router
	for rows.Next() {
		var r model.Router
		if err := rows.Scan(&r.ID, &r.Name, &r.Address, &r.Port, &r.Username,
			&r.Password, &r.Active, &r.UpdatedAtNs); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func scanRouter(row *sql.Row) (model.Router, error) {
	var r model.Router
	err := row.Scan(&r.ID, &r.Name, &r.Address, &r.Port, &r.Username,
		&r.Password, &r.Active, &r.UpdatedAtNs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Router{}, ErrNotFound
	}
	if err != nil {
		return model.Router{}, fmt.Errorf("scan router: %w", err)
	}
	return r, nil
}
