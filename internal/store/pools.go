package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wispkit/wispd/internal/model"
)

const poolCols = "row_id, router_id, pool_id, name, range_descriptor, class, active, updated_at_ns"

// UpsertPool inserts or updates a pool keyed by its stable
// (router_id, pool_id) pair.
func (s *Store) UpsertPool(ctx context.Context, p model.IPPool) error {
	defer s.lock()()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO ip_pools (row_id, router_id, pool_id, name, range_descriptor,
		                      class, active, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(router_id, pool_id) DO UPDATE SET
			name             = excluded.name,
			range_descriptor = excluded.range_descriptor,
			class            = excluded.class,
			active           = excluded.active,
			updated_at_ns    = excluded.updated_at_ns
	`, p.RowID, p.RouterID, p.PoolID, p.Name, p.RangeDescriptor,
		string(p.Class), p.Active, p.UpdatedAtNs)
	return mapErr(err)
}

// GetPool returns the pool for the router-assigned pool id.
func (s *Store) GetPool(ctx context.Context, routerID, poolID string) (model.IPPool, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+poolCols+" FROM ip_pools WHERE router_id = ? AND pool_id = ?",
		routerID, poolID)
	return scanPool(row)
}

// GetPoolByRowID returns the pool with the given local row id.
func (s *Store) GetPoolByRowID(ctx context.Context, rowID string) (model.IPPool, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+poolCols+" FROM ip_pools WHERE row_id = ?", rowID)
	return scanPool(row)
}

// GetPoolByName returns the pool whose cached name matches.
func (s *Store) GetPoolByName(ctx context.Context, routerID, name string) (model.IPPool, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+poolCols+" FROM ip_pools WHERE router_id = ? AND name = ?",
		routerID, name)
	return scanPool(row)
}

// GetActivePoolByClass returns an active pool of the given class on the
// router. Multiple pools may share a class; the lowest pool id wins so the
// choice is deterministic.
func (s *Store) GetActivePoolByClass(ctx context.Context, routerID string, class model.PoolClass) (model.IPPool, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+poolCols+" FROM ip_pools WHERE router_id = ? AND class = ? AND active = 1 ORDER BY pool_id LIMIT 1",
		routerID, string(class))
	return scanPool(row)
}

// UpdatePoolName updates only the cached display name.
func (s *Store) UpdatePoolName(ctx context.Context, rowID, name string, updatedAtNs int64) error {
	defer s.lock()()

	_, err := s.q.ExecContext(ctx,
		"UPDATE ip_pools SET name = ?, updated_at_ns = ? WHERE row_id = ?",
		name, updatedAtNs, rowID)
	return mapErr(err)
}

// UpdatePoolRange updates the cached range descriptor.
func (s *Store) UpdatePoolRange(ctx context.Context, rowID, rangeDescriptor string, updatedAtNs int64) error {
	defer s.lock()()

	_, err := s.q.ExecContext(ctx,
		"UPDATE ip_pools SET range_descriptor = ?, updated_at_ns = ? WHERE row_id = ?",
		rangeDescriptor, updatedAtNs, rowID)
	return mapErr(err)
}

// ListPools returns all pools for a router.
func (s *Store) ListPools(ctx context.Context, routerID string) ([]model.IPPool, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+poolCols+" FROM ip_pools WHERE router_id = ? ORDER BY pool_id", routerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.IPPool
	for rows.Next() {
		var p model.IPPool
		var class string
		if err := rows.Scan(&p.RowID, &p.RouterID, &p.PoolID, &p.Name,
			&p.RangeDescriptor, &class, &p.Active, &p.UpdatedAtNs); err != nil {
			return nil, err
		}
		p.Class = model.PoolClass(class)
		result = append(result, p)
	}
	return result, rows.Err()
}

func scanPool(row *sql.Row) (model.IPPool, error) {
	var p model.IPPool
	var class string
	err := row.Scan(&p.RowID, &p.RouterID, &p.PoolID, &p.Name,
		&p.RangeDescriptor, &class, &p.Active, &p.UpdatedAtNs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.IPPool{}, ErrNotFound
	}
	if err != nil {
		return model.IPPool{}, fmt.Errorf("scan ip_pool: %w", err)
	}
	p.Class = model.PoolClass(class)
	return p, nil
}
