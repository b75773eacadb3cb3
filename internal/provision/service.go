// Package provision implements subscriber account lifecycle against an
// access router: create, update, pool-class moves, deletion and session
// control. Router-side writes come first wherever possible; the one known
// gap (router write ok, local write failed) is surfaced as a
// PartialFailureError and converged by the sync reconciler.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/wispkit/wispd/internal/config"
	"github.com/wispkit/wispd/internal/device"
	"github.com/wispkit/wispd/internal/identity"
	"github.com/wispkit/wispd/internal/model"
	"github.com/wispkit/wispd/internal/pool"
	"github.com/wispkit/wispd/internal/store"
)

const minSecretLen = 8

// Config configures a Service.
type Config struct {
	Store    *store.Store
	Device   device.Client
	Pools    *pool.Manager
	Identity *identity.Reconciler
	// UsernameMaxLen bounds generated usernames (default 20).
	UsernameMaxLen int
	// EnforceSecretStrength gates secrets through the strength estimator in
	// addition to the length floor.
	EnforceSecretStrength bool
	// Now is the clock; defaults to time.Now. Injected for tests.
	Now func() time.Time
}

// Service provisions subscriber accounts on routers and mirrors them
// locally.
type Service struct {
	store          *store.Store
	dev            device.Client
	pools          *pool.Manager
	ids            *identity.Reconciler
	usernameMaxLen int
	enforceSecret  bool
	now            func() time.Time
}

// NewService creates a Service from cfg.
func NewService(cfg Config) *Service {
	if cfg.UsernameMaxLen <= 0 {
		cfg.UsernameMaxLen = DefaultUsernameMaxLen
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:          cfg.Store,
		dev:            cfg.Device,
		pools:          cfg.Pools,
		ids:            cfg.Identity,
		usernameMaxLen: cfg.UsernameMaxLen,
		enforceSecret:  cfg.EnforceSecretStrength,
		now:            cfg.Now,
	}
}

// CreateParams describes a subscriber account to provision.
type CreateParams struct {
	ClientID   int64
	ClientName string
	// Username is optional; when empty one is derived from the client name
	// and id, with date-suffixed retry on collision.
	Username string
	Secret   string
	// Profile and ServiceTierID are the two profile sources; exactly one
	// must be given. A tier id resolves through the local binding table.
	Profile       identity.Ref
	ServiceTierID string
	// Pool is optional. With no pool and no static address the router's
	// active-class pool is used.
	Pool identity.Ref
	// StaticAddress bypasses pool allocation entirely.
	StaticAddress string
	Disabled      bool
}

// CreateResult is the outcome of a create. Assignment is nil for static
// addresses and when the address claim failed; in the latter case AssignErr
// carries the claim error and the account still exists on both sides.
type CreateResult struct {
	Account    model.SubscriberAccount
	Assignment *model.IPAssignment
	AssignErr  error
}

// Create provisions a new account. The router-side write precedes the local
// one; a duplicate (client, router) pair is rejected before any router
// contact.
func (s *Service) Create(ctx context.Context, r model.Router, p CreateParams) (CreateResult, error) {
	if err := s.validateSecret(p.Secret); err != nil {
		return CreateResult{}, err
	}
	if !p.Profile.IsZero() && p.ServiceTierID != "" {
		return CreateResult{}, &ValidationError{Field: "profile", Reason: "both profile and service tier given"}
	}
	if p.Profile.IsZero() && p.ServiceTierID == "" {
		return CreateResult{}, &ValidationError{Field: "profile", Reason: "profile or service tier required"}
	}

	_, err := s.store.GetAccountByClientRouter(ctx, p.ClientID, r.ID)
	if err == nil {
		return CreateResult{}, &ConflictError{RouterID: r.ID, ClientID: p.ClientID,
			Reason: "account already provisioned"}
	}
	if !errors.Is(err, store.ErrNotFound) {
		return CreateResult{}, err
	}

	binding, err := s.resolveProfileSource(ctx, r, p)
	if err != nil {
		return CreateResult{}, err
	}

	var pl model.IPPool
	if p.StaticAddress == "" {
		if p.Pool.IsZero() {
			pl, err = s.pools.ResolveClassPool(ctx, r.ID, model.PoolClassActive)
		} else {
			pl, err = s.ids.ResolvePool(ctx, r, p.Pool)
		}
		if err != nil {
			return CreateResult{}, err
		}
	}

	username, err := s.chooseUsername(ctx, r, p)
	if err != nil {
		return CreateResult{}, err
	}

	created, err := s.dev.CreateAccount(ctx, r, device.AccountSpec{
		Name:          username,
		Password:      p.Secret,
		Profile:       binding.Name,
		RemoteAddress: p.StaticAddress,
		Comment:       identity.ClientComment(p.ClientID),
		Disabled:      p.Disabled,
	})
	if err != nil {
		return CreateResult{}, err
	}

	status := model.AccountActive
	if p.Disabled {
		status = model.AccountDisabled
	}
	nowNs := s.now().UnixNano()
	account := model.SubscriberAccount{
		RowID:         uuid.NewString(),
		RouterID:      r.ID,
		ClientID:      p.ClientID,
		Username:      username,
		Secret:        p.Secret,
		ProfileID:     binding.ProfileID,
		ProfileName:   binding.Name,
		PoolID:        pl.PoolID,
		PoolName:      pl.Name,
		StaticAddress: p.StaticAddress,
		AccountID:     created.ID,
		Status:        status,
		UpdatedAtNs:   nowNs,
	}

	var (
		assignment model.IPAssignment
		assignErr  error
		assigned   bool
	)
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.InsertAccount(ctx, account); err != nil {
			return err
		}
		if p.StaticAddress != "" {
			return nil
		}
		// An address claim failure does not undo the account: the account
		// is live on the router either way, and an operator can assign an
		// address afterward.
		assignment, assignErr = s.pools.AssignAddress(ctx, tx, r, pl, account.RowID, "")
		assigned = assignErr == nil
		return nil
	})
	if err != nil {
		pf := &PartialFailureError{RouterID: r.ID, AccountID: created.ID, Username: username, Err: err}
		log.Printf("[provision] %v", pf)
		return CreateResult{}, pf
	}

	result := CreateResult{Account: account}
	if assigned {
		result.Assignment = &assignment
		s.pushRemoteAddress(ctx, r, created.ID, username, assignment.Address)
	} else if assignErr != nil {
		log.Printf("[provision] account %q on router %s created without address: %v",
			username, r.ID, assignErr)
		result.AssignErr = assignErr
	}
	log.Printf("[provision] created account %q (id %s) for client %d on router %s",
		username, created.ID, p.ClientID, r.ID)
	return result, nil
}

// UpdateParams holds optional account changes; nil fields are untouched.
type UpdateParams struct {
	Secret        *string
	Profile       *identity.Ref
	Pool          *identity.Ref
	StaticAddress *string
	Enabled       *bool
}

// Update applies changes to an existing account. Plain attribute changes go
// to the router first and the mirror second. A pool or static-address change
// runs the release/claim and the router patch inside one transaction so a
// router failure rolls the local rebinding back.
func (s *Service) Update(ctx context.Context, r model.Router, clientID int64, p UpdateParams) (model.SubscriberAccount, error) {
	account, err := s.store.GetAccountByClientRouter(ctx, clientID, r.ID)
	if errors.Is(err, store.ErrNotFound) {
		return model.SubscriberAccount{}, &AccountNotFoundError{RouterID: r.ID, ClientID: clientID}
	}
	if err != nil {
		return model.SubscriberAccount{}, err
	}

	if p.Secret != nil {
		if err := s.validateSecret(*p.Secret); err != nil {
			return model.SubscriberAccount{}, err
		}
	}

	patch := device.AccountPatch{Password: p.Secret}
	if p.Secret != nil {
		account.Secret = *p.Secret
	}
	if p.Profile != nil {
		binding, err := s.ids.ResolveProfile(ctx, r, *p.Profile)
		if err != nil {
			return model.SubscriberAccount{}, err
		}
		account.ProfileID = binding.ProfileID
		account.ProfileName = binding.Name
		patch.Profile = &binding.Name
	}
	if p.Enabled != nil {
		disabled := !*p.Enabled
		patch.Disabled = &disabled
		if disabled {
			account.Status = model.AccountDisabled
		} else {
			account.Status = model.AccountActive
		}
	}

	var target model.IPPool
	rebind := false
	switch {
	case p.StaticAddress != nil && *p.StaticAddress != "":
		account.StaticAddress = *p.StaticAddress
		account.PoolID = ""
		account.PoolName = ""
		patch.RemoteAddress = p.StaticAddress
		rebind = true
	case p.Pool != nil || (p.StaticAddress != nil && *p.StaticAddress == ""):
		ref := identity.Ref{ID: account.PoolID, Name: account.PoolName}
		if p.Pool != nil {
			ref = *p.Pool
		}
		if p.StaticAddress != nil {
			account.StaticAddress = ""
		}
		target, err = s.ids.ResolvePool(ctx, r, ref)
		if err != nil {
			return model.SubscriberAccount{}, err
		}
		account.PoolID = target.PoolID
		account.PoolName = target.Name
		rebind = true
	}

	account.UpdatedAtNs = s.now().UnixNano()

	if !rebind {
		if err := s.dev.UpdateAccount(ctx, r, account.AccountID, patch); err != nil {
			return model.SubscriberAccount{}, err
		}
		if err := s.store.UpdateAccount(ctx, account); err != nil {
			pf := &PartialFailureError{RouterID: r.ID, AccountID: account.AccountID,
				Username: account.Username, Err: err}
			log.Printf("[provision] %v", pf)
			return model.SubscriberAccount{}, pf
		}
		return account, nil
	}

	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		if account.StaticAddress != "" {
			if _, err := s.pools.ReleaseAddress(ctx, tx, account.RowID); err != nil {
				return err
			}
		} else {
			assignment, err := s.pools.MoveBetweenPools(ctx, tx, r, account.RowID, target)
			if err != nil {
				return err
			}
			patch.RemoteAddress = &assignment.Address
		}
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}
		// Router write last: a trap here rolls back the local rebinding.
		return s.dev.UpdateAccount(ctx, r, account.AccountID, patch)
	})
	if err != nil {
		return model.SubscriberAccount{}, err
	}
	log.Printf("[provision] updated account %q on router %s", account.Username, r.ID)
	return account, nil
}

// MovePoolClass moves the account's address into the router's pool of the
// given class. The release, the new claim, the row update and the router
// patch run in one transaction; a failure anywhere leaves the old binding
// intact. Moving an account with a static address is rejected.
func (s *Service) MovePoolClass(ctx context.Context, r model.Router, clientID int64, class model.PoolClass) (model.IPAssignment, error) {
	account, err := s.store.GetAccountByClientRouter(ctx, clientID, r.ID)
	if errors.Is(err, store.ErrNotFound) {
		return model.IPAssignment{}, &AccountNotFoundError{RouterID: r.ID, ClientID: clientID}
	}
	if err != nil {
		return model.IPAssignment{}, err
	}
	if account.StaticAddress != "" {
		return model.IPAssignment{}, &ValidationError{Field: "account", Reason: "static address accounts do not move between pools"}
	}

	target, err := s.pools.ResolveClassPool(ctx, r.ID, class)
	if err != nil {
		return model.IPAssignment{}, err
	}
	if account.PoolID == target.PoolID {
		existing, err := s.store.GetAssignmentByAccount(ctx, account.RowID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return model.IPAssignment{}, err
		}
		// Fall through: rebind into the pool the account claims to be in
		// but holds no address from.
	}

	var assignment model.IPAssignment
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		assignment, err = s.pools.MoveBetweenPools(ctx, tx, r, account.RowID, target)
		if err != nil {
			return err
		}
		account.PoolID = target.PoolID
		account.PoolName = target.Name
		account.UpdatedAtNs = s.now().UnixNano()
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}
		return s.dev.UpdateAccount(ctx, r, account.AccountID, device.AccountPatch{
			RemoteAddress: &assignment.Address,
		})
	})
	if err != nil {
		return model.IPAssignment{}, err
	}
	log.Printf("[provision] moved account %q on router %s to %s pool %q (address %s)",
		account.Username, r.ID, class, target.Name, assignment.Address)
	return assignment, nil
}

// Delete removes the account from the router and the mirror. The address is
// released first in its own transaction; a router failure after that keeps
// the local row so the account stays visible, and the sync reconciler
// reports it until the router is reachable again.
func (s *Service) Delete(ctx context.Context, r model.Router, clientID int64) error {
	account, err := s.store.GetAccountByClientRouter(ctx, clientID, r.ID)
	if errors.Is(err, store.ErrNotFound) {
		return &AccountNotFoundError{RouterID: r.ID, ClientID: clientID}
	}
	if err != nil {
		return err
	}

	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		_, err := s.pools.ReleaseAddress(ctx, tx, account.RowID)
		return err
	})
	if err != nil {
		return err
	}

	if err := s.dev.DeleteAccount(ctx, r, account.AccountID); err != nil {
		var nf *device.NotFoundError
		if !errors.As(err, &nf) {
			return fmt.Errorf("provision: delete account %q on router %s: %w",
				account.Username, r.ID, err)
		}
		// Already gone router-side; finish the local cleanup.
	}

	if err := s.store.DeleteAccount(ctx, account.RowID); err != nil {
		return err
	}
	log.Printf("[provision] deleted account %q for client %d on router %s",
		account.Username, clientID, r.ID)
	return nil
}

// Disconnect terminates the account's live sessions on the router and
// returns how many it ended.
func (s *Service) Disconnect(ctx context.Context, r model.Router, clientID int64) (int, error) {
	account, err := s.store.GetAccountByClientRouter(ctx, clientID, r.ID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, &AccountNotFoundError{RouterID: r.ID, ClientID: clientID}
	}
	if err != nil {
		return 0, err
	}

	sessions, err := s.dev.ListActiveSessions(ctx, r)
	if err != nil {
		return 0, err
	}
	terminated := 0
	for _, sess := range sessions {
		if sess.Name != account.Username {
			continue
		}
		if err := s.dev.TerminateSession(ctx, r, sess.ID); err != nil {
			return terminated, err
		}
		terminated++
	}
	if terminated > 0 {
		log.Printf("[provision] disconnected %d session(s) for %q on router %s",
			terminated, account.Username, r.ID)
	}
	return terminated, nil
}

// EnsureProfile pushes a rate-limit binding to the router, creating the
// profile when the binding has no router id yet, and mirrors the result.
func (s *Service) EnsureProfile(ctx context.Context, r model.Router, b model.ProfileBinding) (model.ProfileBinding, error) {
	if b.Name == "" {
		return model.ProfileBinding{}, &ValidationError{Field: "profile", Reason: "name required"}
	}

	if device.KnownID(b.ProfileID) {
		patch := device.ProfilePatch{Name: &b.Name}
		if b.RateLimit != "" {
			patch.RateLimit = &b.RateLimit
		}
		if b.BurstLimit != "" {
			patch.BurstLimit = &b.BurstLimit
		}
		if err := s.dev.UpdateProfile(ctx, r, b.ProfileID, patch); err != nil {
			return model.ProfileBinding{}, err
		}
	} else {
		created, err := s.dev.CreateProfile(ctx, r, device.ProfileSpec{
			Name:       b.Name,
			RateLimit:  b.RateLimit,
			BurstLimit: b.BurstLimit,
		})
		if err != nil {
			return model.ProfileBinding{}, err
		}
		b.ProfileID = created.ID
	}

	if b.RowID == "" {
		if existing, err := s.store.GetProfileBinding(ctx, r.ID, b.ProfileID); err == nil {
			b.RowID = existing.RowID
		} else {
			b.RowID = uuid.NewString()
		}
	}
	b.RouterID = r.ID
	b.UpdatedAtNs = s.now().UnixNano()
	if err := s.store.UpsertProfileBinding(ctx, b); err != nil {
		return model.ProfileBinding{}, err
	}
	log.Printf("[provision] ensured profile %q (id %s) on router %s", b.Name, b.ProfileID, r.ID)
	return b, nil
}

// ResolveUsername derives a free username for the client: the generated base
// when available, otherwise date-suffixed candidates over the next month. A
// name existing on the router without a linked local row is treated as free
// to reclaim.
func (s *Service) ResolveUsername(ctx context.Context, r model.Router, clientName string, clientID int64) (string, error) {
	routerOwner, err := s.routerUsernameOwners(ctx, r)
	if err != nil {
		return "", err
	}

	base := GenerateUsername(clientName, clientID, s.usernameMaxLen)
	candidate := base
	for attempt := 0; attempt < usernameSuffixAttempts; attempt++ {
		if attempt > 0 {
			candidate = dateSuffixCandidate(base, s.now(), attempt-1, s.usernameMaxLen)
		}
		free, err := s.usernameFree(ctx, r, routerOwner, candidate, clientID)
		if err != nil {
			return "", err
		}
		if free {
			return candidate, nil
		}
	}
	return "", &UsernameExhaustedError{RouterID: r.ID, Base: base}
}

// resolveProfileSource picks the profile from the explicit reference or,
// failing that, from the service tier's local binding.
func (s *Service) resolveProfileSource(ctx context.Context, r model.Router, p CreateParams) (model.ProfileBinding, error) {
	if !p.Profile.IsZero() {
		return s.ids.ResolveProfile(ctx, r, p.Profile)
	}
	binding, err := s.store.GetProfileBindingByServiceTier(ctx, r.ID, p.ServiceTierID)
	if errors.Is(err, store.ErrNotFound) {
		return model.ProfileBinding{}, &identity.ProfileNotFoundError{
			RouterID: r.ID, Value: "tier " + p.ServiceTierID}
	}
	return binding, err
}

func (s *Service) chooseUsername(ctx context.Context, r model.Router, p CreateParams) (string, error) {
	if p.Username == "" {
		return s.ResolveUsername(ctx, r, p.ClientName, p.ClientID)
	}
	routerOwner, err := s.routerUsernameOwners(ctx, r)
	if err != nil {
		return "", err
	}
	free, err := s.usernameFree(ctx, r, routerOwner, p.Username, p.ClientID)
	if err != nil {
		return "", err
	}
	if !free {
		return "", &ConflictError{RouterID: r.ID, ClientID: p.ClientID,
			Username: p.Username, Reason: fmt.Sprintf("username %q already in use", p.Username)}
	}
	return p.Username, nil
}

// routerUsernameOwners maps each router-side username to the client id its
// comment names, or 0 when the comment carries no link.
func (s *Service) routerUsernameOwners(ctx context.Context, r model.Router) (map[string]int64, error) {
	accounts, err := s.dev.ListAccounts(ctx, r)
	if err != nil {
		return nil, err
	}
	owners := make(map[string]int64, len(accounts))
	for _, a := range accounts {
		owners[a.Name] = identity.ClientFromComment(a.Comment)
	}
	return owners, nil
}

// usernameFree reports whether candidate can be used for clientID. Taken
// means a local row or a router comment links it to a different client.
func (s *Service) usernameFree(ctx context.Context, r model.Router, routerOwner map[string]int64, candidate string, clientID int64) (bool, error) {
	local, err := s.store.GetAccountByUsername(ctx, r.ID, candidate)
	if err == nil {
		return local.ClientID == clientID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	owner, onRouter := routerOwner[candidate]
	if onRouter && owner != 0 && owner != clientID {
		return false, nil
	}
	return true, nil
}

func (s *Service) validateSecret(secret string) error {
	if len(secret) < minSecretLen {
		return &ValidationError{Field: "secret",
			Reason: fmt.Sprintf("must be at least %d characters", minSecretLen)}
	}
	if s.enforceSecret && config.IsWeakSecret(secret) {
		return &ValidationError{Field: "secret", Reason: "too guessable"}
	}
	return nil
}

// pushRemoteAddress pins the claimed address on the router account. Failure
// is logged, not fatal: the reservation is authoritative locally and the
// next sync pass re-pushes it.
func (s *Service) pushRemoteAddress(ctx context.Context, r model.Router, accountID, username, address string) {
	err := s.dev.UpdateAccount(ctx, r, accountID, device.AccountPatch{RemoteAddress: &address})
	if err != nil {
		log.Printf("[provision] could not pin address %s for %q on router %s: %v",
			address, username, r.ID, err)
	}
}
