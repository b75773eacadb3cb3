package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wispkit/wispd/internal/model"
)

const accountCols = `row_id, router_id, client_id, username, secret, profile_id, profile_name,
	pool_id, pool_name, static_address, account_id, status, last_sync_ns, updated_at_ns`

// InsertAccount creates a subscriber account row. The UNIQUE(client_id,
// router_id) and UNIQUE(router_id, username) constraints surface duplicate
// provisioning as ErrConflict.
func (s *Store) InsertAccount(ctx context.Context, a model.SubscriberAccount) error {
	defer s.lock()()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO subscriber_accounts (row_id, router_id, client_id, username, secret,
			profile_id, profile_name, pool_id, pool_name, static_address,
			account_id, status, last_sync_ns, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.RowID, a.RouterID, a.ClientID, a.Username, a.Secret,
		a.ProfileID, a.ProfileName, a.PoolID, a.PoolName, a.StaticAddress,
		a.AccountID, string(a.Status), a.LastSyncNs, a.UpdatedAtNs)
	return mapErr(err)
}

// UpdateAccount rewrites the mutable columns of an account row.
func (s *Store) UpdateAccount(ctx context.Context, a model.SubscriberAccount) error {
	defer s.lock()()

	_, err := s.q.ExecContext(ctx, `
		UPDATE subscriber_accounts SET
			secret         = ?,
			profile_id     = ?,
			profile_name   = ?,
			pool_id        = ?,
			pool_name      = ?,
			static_address = ?,
			account_id     = ?,
			status         = ?,
			last_sync_ns   = ?,
			updated_at_ns  = ?
		WHERE row_id = ?
	`, a.Secret, a.ProfileID, a.ProfileName, a.PoolID, a.PoolName,
		a.StaticAddress, a.AccountID, string(a.Status), a.LastSyncNs, a.UpdatedAtNs, a.RowID)
	return mapErr(err)
}

// DeleteAccount removes an account row.
func (s *Store) DeleteAccount(ctx context.Context, rowID string) error {
	defer s.lock()()

	_, err := s.q.ExecContext(ctx, "DELETE FROM subscriber_accounts WHERE row_id = ?", rowID)
	return mapErr(err)
}

// GetAccountByClientRouter returns the account for a (client, router) pair.
// At most one exists by constraint.
func (s *Store) GetAccountByClientRouter(ctx context.Context, clientID int64, routerID string) (model.SubscriberAccount, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+accountCols+" FROM subscriber_accounts WHERE client_id = ? AND router_id = ?",
		clientID, routerID)
	return scanAccount(row)
}

// GetAccountByUsername returns the account with the given username on a router.
func (s *Store) GetAccountByUsername(ctx context.Context, routerID, username string) (model.SubscriberAccount, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+accountCols+" FROM subscriber_accounts WHERE router_id = ? AND username = ?",
		routerID, username)
	return scanAccount(row)
}

// GetAccountByRouterAccountID returns the account with the given
// router-assigned account id.
func (s *Store) GetAccountByRouterAccountID(ctx context.Context, routerID, accountID string) (model.SubscriberAccount, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+accountCols+" FROM subscriber_accounts WHERE router_id = ? AND account_id = ?",
		routerID, accountID)
	return scanAccount(row)
}

// ListAccounts returns all accounts on a router.
func (s *Store) ListAccounts(ctx context.Context, routerID string) ([]model.SubscriberAccount, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+accountCols+" FROM subscriber_accounts WHERE router_id = ? ORDER BY username", routerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.SubscriberAccount
	for rows.Next() {
		var a model.SubscriberAccount
		var status string
		if err := rows.Scan(&a.RowID, &a.RouterID, &a.ClientID, &a.Username, &a.Secret,
			&a.ProfileID, &a.ProfileName, &a.PoolID, &a.PoolName, &a.StaticAddress,
			&a.AccountID, &status, &a.LastSyncNs, &a.UpdatedAtNs); err != nil {
			return nil, err
		}
		a.Status = model.AccountStatus(status)
		result = append(result, a)
	}
	return result, rows.Err()
}

func scanAccount(row *sql.Row) (model.SubscriberAccount, error) {
	var a model.SubscriberAccount
	var status string
	err := row.Scan(&a.RowID, &a.RouterID, &a.ClientID, &a.Username, &a.Secret,
		&a.ProfileID, &a.ProfileName, &a.PoolID, &a.PoolName, &a.StaticAddress,
		&a.AccountID, &status, &a.LastSyncNs, &a.UpdatedAtNs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SubscriberAccount{}, ErrNotFound
	}
	if err != nil {
		return model.SubscriberAccount{}, fmt.Errorf("scan subscriber_account: %w", err)
	}
	a.Status = model.AccountStatus(status)
	return a, nil
}
