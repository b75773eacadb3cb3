// Package syncer reconciles the local mirror against router ground truth on
// a schedule. Router-side ids are stable and names are mutable, so every
// match runs id-first; the pass is idempotent and a second run against an
// unchanged router writes nothing.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wispkit/wispd/internal/device"
	"github.com/wispkit/wispd/internal/identity"
	"github.com/wispkit/wispd/internal/iprange"
	"github.com/wispkit/wispd/internal/model"
	"github.com/wispkit/wispd/internal/pool"
	"github.com/wispkit/wispd/internal/store"
)

// Report is the outcome of one reconciliation pass over one router.
type Report struct {
	RouterID string

	ProfilesCreated      int
	ProfileNamesUpdated  int
	ProfileLimitsUpdated int

	PoolsCreated      int
	PoolNamesUpdated  int
	PoolRangesUpdated int
	// PoolsSkipped lists pools whose range descriptor did not parse.
	PoolsSkipped []string

	AccountsUpdated int
	// OrphanLocalAccounts are usernames mirrored locally with no counterpart
	// on the router.
	OrphanLocalAccounts []string
	// OrphanRouterAccounts are router accounts comment-linked to a client
	// with no local row.
	OrphanRouterAccounts []string

	Took time.Duration
}

// Changes returns the total number of local writes the pass made.
func (r Report) Changes() int {
	return r.ProfilesCreated + r.ProfileNamesUpdated + r.ProfileLimitsUpdated +
		r.PoolsCreated + r.PoolNamesUpdated + r.PoolRangesUpdated + r.AccountsUpdated
}

// Summary renders the report for the sync log line.
func (r Report) Summary() string {
	parts := []string{
		fmt.Sprintf("%d changes", r.Changes()),
	}
	if n := len(r.PoolsSkipped); n > 0 {
		parts = append(parts, fmt.Sprintf("%d pools skipped", n))
	}
	if n := len(r.OrphanLocalAccounts); n > 0 {
		parts = append(parts, fmt.Sprintf("%d local orphans", n))
	}
	if n := len(r.OrphanRouterAccounts); n > 0 {
		parts = append(parts, fmt.Sprintf("%d router orphans", n))
	}
	parts = append(parts, fmt.Sprintf("took %s", r.Took.Round(time.Millisecond)))
	return strings.Join(parts, ", ")
}

// Reconciler converges the local mirror toward one router's reported state.
type Reconciler struct {
	store *store.Store
	dev   device.Client
	pools *pool.Manager
	now   func() time.Time
}

// NewReconciler creates a Reconciler. now defaults to time.Now.
func NewReconciler(s *store.Store, dev device.Client, pools *pool.Manager, now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{store: s, dev: dev, pools: pools, now: now}
}

// SyncRouter runs one reconciliation pass: profiles, pools, then accounts.
// Availability cache entries for the router are dropped afterward so the
// next capacity check sees the fresh state.
func (r *Reconciler) SyncRouter(ctx context.Context, rt model.Router) (Report, error) {
	started := r.now()
	report := Report{RouterID: rt.ID}

	if err := r.syncProfiles(ctx, rt, &report); err != nil {
		return report, fmt.Errorf("syncer: profiles on router %s: %w", rt.ID, err)
	}
	if err := r.syncPools(ctx, rt, &report); err != nil {
		return report, fmt.Errorf("syncer: pools on router %s: %w", rt.ID, err)
	}
	if err := r.syncAccounts(ctx, rt, &report); err != nil {
		return report, fmt.Errorf("syncer: accounts on router %s: %w", rt.ID, err)
	}

	r.pools.InvalidateRouter(rt.ID)
	report.Took = r.now().Sub(started)
	return report, nil
}

func (r *Reconciler) syncProfiles(ctx context.Context, rt model.Router, report *Report) error {
	profiles, err := r.dev.ListProfiles(ctx, rt)
	if err != nil {
		return err
	}
	nowNs := r.now().UnixNano()

	for _, p := range profiles {
		local, err := r.store.GetProfileBinding(ctx, rt.ID, p.ID)
		if errors.Is(err, store.ErrNotFound) {
			binding := model.ProfileBinding{
				RowID:       uuid.NewString(),
				RouterID:    rt.ID,
				ProfileID:   p.ID,
				Name:        p.Name,
				RateLimit:   p.RateLimit,
				BurstLimit:  p.BurstLimit,
				UpdatedAtNs: nowNs,
			}
			if err := r.store.UpsertProfileBinding(ctx, binding); err != nil {
				return err
			}
			report.ProfilesCreated++
			continue
		}
		if err != nil {
			return err
		}

		if local.Name != p.Name {
			if err := r.store.UpdateProfileBindingName(ctx, local.RowID, p.Name, nowNs); err != nil {
				return err
			}
			local.Name = p.Name
			report.ProfileNamesUpdated++
		}
		if local.RateLimit != p.RateLimit || local.BurstLimit != p.BurstLimit {
			local.RateLimit = p.RateLimit
			local.BurstLimit = p.BurstLimit
			local.UpdatedAtNs = nowNs
			if err := r.store.UpsertProfileBinding(ctx, local); err != nil {
				return err
			}
			report.ProfileLimitsUpdated++
		}
	}
	return nil
}

func (r *Reconciler) syncPools(ctx context.Context, rt model.Router, report *Report) error {
	pools, err := r.dev.ListPools(ctx, rt)
	if err != nil {
		return err
	}
	nowNs := r.now().UnixNano()

	for _, p := range pools {
		local, err := r.store.GetPool(ctx, rt.ID, p.ID)
		if errors.Is(err, store.ErrNotFound) {
			if rerr := iprange.Validate(p.Ranges); rerr != nil {
				report.PoolsSkipped = append(report.PoolsSkipped, p.Name)
				log.Printf("[sync] router %s: skipping pool %q: %v", rt.ID, p.Name, rerr)
				continue
			}
			mirrored := model.IPPool{
				RowID:           uuid.NewString(),
				RouterID:        rt.ID,
				PoolID:          p.ID,
				Name:            p.Name,
				RangeDescriptor: p.Ranges,
				Class:           identity.ClassFromTokens(p.Name, p.Comment),
				Active:          true,
				UpdatedAtNs:     nowNs,
			}
			if err := r.store.UpsertPool(ctx, mirrored); err != nil {
				return err
			}
			report.PoolsCreated++
			continue
		}
		if err != nil {
			return err
		}

		if local.Name != p.Name {
			if err := r.store.UpdatePoolName(ctx, local.RowID, p.Name, nowNs); err != nil {
				return err
			}
			report.PoolNamesUpdated++
		}
		if local.RangeDescriptor != p.Ranges {
			if rerr := iprange.Validate(p.Ranges); rerr != nil {
				report.PoolsSkipped = append(report.PoolsSkipped, p.Name)
				log.Printf("[sync] router %s: keeping old range for pool %q: %v", rt.ID, p.Name, rerr)
				continue
			}
			if err := r.store.UpdatePoolRange(ctx, local.RowID, p.Ranges, nowNs); err != nil {
				return err
			}
			report.PoolRangesUpdated++
		}
	}
	return nil
}

func (r *Reconciler) syncAccounts(ctx context.Context, rt model.Router, report *Report) error {
	routerAccounts, err := r.dev.ListAccounts(ctx, rt)
	if err != nil {
		return err
	}
	local, err := r.store.ListAccounts(ctx, rt.ID)
	if err != nil {
		return err
	}
	nowNs := r.now().UnixNano()

	byID := make(map[string]device.Account, len(routerAccounts))
	byName := make(map[string]device.Account, len(routerAccounts))
	for _, a := range routerAccounts {
		byID[a.ID] = a
		byName[a.Name] = a
	}
	matched := make(map[string]struct{}, len(local))

	for _, acct := range local {
		remote, ok := byID[acct.AccountID]
		if !ok {
			// The router id changes when an account is removed and
			// recreated; fall back to the username before declaring an
			// orphan. A name whose comment links a different client is
			// never adopted: both sides surface as orphans instead.
			if cand, found := byName[acct.Username]; found {
				owner := identity.ClientFromComment(cand.Comment)
				if owner == 0 || owner == acct.ClientID {
					remote, ok = cand, true
				}
			}
		}
		if !ok {
			report.OrphanLocalAccounts = append(report.OrphanLocalAccounts, acct.Username)
			continue
		}
		matched[remote.ID] = struct{}{}

		changed := false
		if acct.AccountID != remote.ID {
			acct.AccountID = remote.ID
			changed = true
		}
		if acct.ProfileName != remote.Profile {
			acct.ProfileName = remote.Profile
			// The id behind the renamed profile is re-resolved lazily on
			// the next provisioning write.
			changed = true
		}
		status := model.AccountActive
		if remote.Disabled {
			status = model.AccountDisabled
		}
		if acct.Status != status {
			acct.Status = status
			changed = true
		}
		if changed {
			acct.LastSyncNs = nowNs
			acct.UpdatedAtNs = nowNs
			if err := r.store.UpdateAccount(ctx, acct); err != nil {
				return err
			}
			report.AccountsUpdated++
		}
	}

	for _, remote := range routerAccounts {
		if identity.ClientFromComment(remote.Comment) == 0 {
			continue
		}
		if _, ok := matched[remote.ID]; ok {
			continue
		}
		report.OrphanRouterAccounts = append(report.OrphanRouterAccounts, remote.Name)
	}
	return nil
}
