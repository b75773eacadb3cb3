package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wispkit/wispd/internal/model"
)

const profileCols = "row_id, router_id, profile_id, name, rate_limit, burst_limit, service_tier_id, updated_at_ns"

// UpsertProfileBinding inserts or updates a binding keyed by its stable
// (router_id, profile_id) pair.
func (s *Store) UpsertProfileBinding(ctx context.Context, p model.ProfileBinding) error {
	defer s.lock()()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO profile_bindings (row_id, router_id, profile_id, name, rate_limit,
		                              burst_limit, service_tier_id, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(router_id, profile_id) DO UPDATE SET
			name            = excluded.name,
			rate_limit      = excluded.rate_limit,
			burst_limit     = excluded.burst_limit,
			service_tier_id = excluded.service_tier_id,
			updated_at_ns   = excluded.updated_at_ns
	`, p.RowID, p.RouterID, p.ProfileID, p.Name, p.RateLimit, p.BurstLimit,
		p.ServiceTierID, p.UpdatedAtNs)
	return mapErr(err)
}

// GetProfileBinding returns the binding for the router-assigned profile id.
func (s *Store) GetProfileBinding(ctx context.Context, routerID, profileID string) (model.ProfileBinding, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+profileCols+" FROM profile_bindings WHERE router_id = ? AND profile_id = ?",
		routerID, profileID)
	return scanProfileBinding(row)
}

// GetProfileBindingByName returns the binding whose cached name matches.
// The cached name can be stale against the router; callers that only have a
// name must re-resolve through the identity reconciler on a miss.
func (s *Store) GetProfileBindingByName(ctx context.Context, routerID, name string) (model.ProfileBinding, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+profileCols+" FROM profile_bindings WHERE router_id = ? AND name = ?",
		routerID, name)
	return scanProfileBinding(row)
}

// GetProfileBindingByServiceTier returns the binding owned by a service tier
// on the given router.
func (s *Store) GetProfileBindingByServiceTier(ctx context.Context, routerID, tierID string) (model.ProfileBinding, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+profileCols+" FROM profile_bindings WHERE router_id = ? AND service_tier_id = ?",
		routerID, tierID)
	return scanProfileBinding(row)
}

// UpdateProfileBindingName updates only the cached display name.
func (s *Store) UpdateProfileBindingName(ctx context.Context, rowID, name string, updatedAtNs int64) error {
	defer s.lock()()

	_, err := s.q.ExecContext(ctx,
		"UPDATE profile_bindings SET name = ?, updated_at_ns = ? WHERE row_id = ?",
		name, updatedAtNs, rowID)
	return mapErr(err)
}

// ListProfileBindings returns all bindings for a router.
func (s *Store) ListProfileBindings(ctx context.Context, routerID string) ([]model.ProfileBinding, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+profileCols+" FROM profile_bindings WHERE router_id = ? ORDER BY profile_id", routerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.ProfileBinding
	for rows.Next() {
		var p model.ProfileBinding
		if err := rows.Scan(&p.RowID, &p.RouterID, &p.ProfileID, &p.Name,
			&p.RateLimit, &p.BurstLimit, &p.ServiceTierID, &p.UpdatedAtNs); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func scanProfileBinding(row *sql.Row) (model.ProfileBinding, error) {
	var p model.ProfileBinding
	err := row.Scan(&p.RowID, &p.RouterID, &p.ProfileID, &p.Name,
		&p.RateLimit, &p.BurstLimit, &p.ServiceTierID, &p.UpdatedAtNs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ProfileBinding{}, ErrNotFound
	}
	if err != nil {
		return model.ProfileBinding{}, fmt.Errorf("scan profile_binding: %w", err)
	}
	return p, nil
}
