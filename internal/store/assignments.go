package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wispkit/wispd/internal/model"
)

const assignmentCols = "row_id, pool_row_id, address, status, account_row_id, updated_at_ns"

// InsertAssignment creates a new assignment row. The UNIQUE(pool_row_id,
// address) constraint turns a lost allocation race into ErrConflict instead
// of a double grant.
func (s *Store) InsertAssignment(ctx context.Context, a model.IPAssignment) error {
	defer s.lock()()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO ip_assignments (row_id, pool_row_id, address, status, account_row_id, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.RowID, a.PoolRowID, a.Address, string(a.Status), a.AccountRowID, a.UpdatedAtNs)
	return mapErr(err)
}

// ClaimAssignment marks an existing available row as assigned to the given
// account. Returns ErrConflict if the row is already owned.
func (s *Store) ClaimAssignment(ctx context.Context, rowID, accountRowID string, updatedAtNs int64) error {
	defer s.lock()()

	res, err := s.q.ExecContext(ctx, `
		UPDATE ip_assignments
		SET status = ?, account_row_id = ?, updated_at_ns = ?
		WHERE row_id = ? AND status = ?
	`, string(model.AssignmentAssigned), accountRowID, updatedAtNs,
		rowID, string(model.AssignmentAvailable))
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("claim assignment %s: %w", rowID, ErrConflict)
	}
	return nil
}

// GetAssignmentByAccount returns the assignment owned by an account.
func (s *Store) GetAssignmentByAccount(ctx context.Context, accountRowID string) (model.IPAssignment, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+assignmentCols+" FROM ip_assignments WHERE account_row_id = ? AND status = ?",
		accountRowID, string(model.AssignmentAssigned))
	return scanAssignment(row)
}

// GetAssignmentByAddress returns the assignment row for an address in a pool.
func (s *Store) GetAssignmentByAddress(ctx context.Context, poolRowID, address string) (model.IPAssignment, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+assignmentCols+" FROM ip_assignments WHERE pool_row_id = ? AND address = ?",
		poolRowID, address)
	return scanAssignment(row)
}

// ReleaseAssignmentByAccount clears ownership of the account's assignment,
// returning the row to available. Reports whether a row was released.
func (s *Store) ReleaseAssignmentByAccount(ctx context.Context, accountRowID string, updatedAtNs int64) (bool, error) {
	defer s.lock()()

	res, err := s.q.ExecContext(ctx, `
		UPDATE ip_assignments
		SET status = ?, account_row_id = NULL, updated_at_ns = ?
		WHERE account_row_id = ? AND status = ?
	`, string(model.AssignmentAvailable), updatedAtNs,
		accountRowID, string(model.AssignmentAssigned))
	if err != nil {
		return false, mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListAssignedAddresses returns the addresses currently assigned in a pool.
func (s *Store) ListAssignedAddresses(ctx context.Context, poolRowID string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT address FROM ip_assignments WHERE pool_row_id = ? AND status = ?",
		poolRowID, string(model.AssignmentAssigned))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		result = append(result, addr)
	}
	return result, rows.Err()
}

func scanAssignment(row *sql.Row) (model.IPAssignment, error) {
	var a model.IPAssignment
	var status string
	err := row.Scan(&a.RowID, &a.PoolRowID, &a.Address, &status, &a.AccountRowID, &a.UpdatedAtNs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.IPAssignment{}, ErrNotFound
	}
	if err != nil {
		return model.IPAssignment{}, fmt.Errorf("scan ip_assignment: %w", err)
	}
	a.Status = model.AssignmentStatus(status)
	return a, nil
}
