// Package identity resolves the stable-id to display-name relationship for
// router-side profiles and pools. Router-reported names drift independently
// of the local cache, so every write path prefers a stable id when present
// and falls back to a name lookup only when the id is absent, caching the
// resolved id locally right away.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/wispkit/wispd/internal/device"
	"github.com/wispkit/wispd/internal/model"
	"github.com/wispkit/wispd/internal/store"
)

// Ref is a caller-supplied reference to a profile or pool: a stable id, a
// display name, or both. An empty Ref is unresolvable.
type Ref struct {
	ID   string
	Name string
}

// IsZero reports whether the reference carries neither id nor name.
func (r Ref) IsZero() bool { return !device.KnownID(r.ID) && r.Name == "" }

// ProfileNotFoundError reports a profile reference with no match on the
// router.
type ProfileNotFoundError struct {
	RouterID string
	Value    string
}

func (e *ProfileNotFoundError) Error() string {
	return fmt.Sprintf("identity: profile %q not found on router %s", e.Value, e.RouterID)
}

// PoolNotFoundError reports a pool reference with no match on the router.
type PoolNotFoundError struct {
	RouterID string
	Value    string
}

func (e *PoolNotFoundError) Error() string {
	return fmt.Sprintf("identity: pool %q not found on router %s", e.Value, e.RouterID)
}

// Reconciler resolves references against the local mirror first and the
// device second, writing freshly resolved ids back into the mirror.
type Reconciler struct {
	store *store.Store
	dev   device.Client
	nowNs func() int64
}

// New creates a Reconciler.
func New(s *store.Store, dev device.Client, nowNs func() int64) *Reconciler {
	return &Reconciler{store: s, dev: dev, nowNs: nowNs}
}

// ResolveProfile turns a profile reference into the locally cached binding,
// querying the device when the mirror has no answer.
func (r *Reconciler) ResolveProfile(ctx context.Context, rt model.Router, ref Ref) (model.ProfileBinding, error) {
	if ref.IsZero() {
		return model.ProfileBinding{}, &ProfileNotFoundError{RouterID: rt.ID, Value: ""}
	}

	if device.KnownID(ref.ID) {
		binding, err := r.store.GetProfileBinding(ctx, rt.ID, ref.ID)
		if err == nil {
			return binding, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return model.ProfileBinding{}, err
		}
		return r.resolveProfileFromDevice(ctx, rt, func(p device.Profile) bool { return p.ID == ref.ID }, ref.ID)
	}

	// Name-only reference. The cached name may be stale, so a local miss
	// falls through to the device.
	binding, err := r.store.GetProfileBindingByName(ctx, rt.ID, ref.Name)
	if err == nil {
		return binding, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.ProfileBinding{}, err
	}
	return r.resolveProfileFromDevice(ctx, rt, func(p device.Profile) bool { return p.Name == ref.Name }, ref.Name)
}

func (r *Reconciler) resolveProfileFromDevice(ctx context.Context, rt model.Router, match func(device.Profile) bool, attempted string) (model.ProfileBinding, error) {
	profiles, err := r.dev.ListProfiles(ctx, rt)
	if err != nil {
		return model.ProfileBinding{}, err
	}
	for _, p := range profiles {
		if !match(p) {
			continue
		}
		binding := model.ProfileBinding{
			RowID:       uuid.NewString(),
			RouterID:    rt.ID,
			ProfileID:   p.ID,
			Name:        p.Name,
			RateLimit:   p.RateLimit,
			BurstLimit:  p.BurstLimit,
			UpdatedAtNs: r.nowNs(),
		}
		// Cache the resolved id immediately. Upsert: a rename on the
		// router refreshes the existing row instead of duplicating it.
		if existing, err := r.store.GetProfileBinding(ctx, rt.ID, p.ID); err == nil {
			binding.RowID = existing.RowID
			binding.ServiceTierID = existing.ServiceTierID
		}
		if err := r.store.UpsertProfileBinding(ctx, binding); err != nil {
			return model.ProfileBinding{}, err
		}
		return binding, nil
	}
	return model.ProfileBinding{}, &ProfileNotFoundError{RouterID: rt.ID, Value: attempted}
}

// ResolvePool turns a pool reference into the locally mirrored pool,
// querying the device when the mirror has no answer.
func (r *Reconciler) ResolvePool(ctx context.Context, rt model.Router, ref Ref) (model.IPPool, error) {
	if ref.IsZero() {
		return model.IPPool{}, &PoolNotFoundError{RouterID: rt.ID, Value: ""}
	}

	if device.KnownID(ref.ID) {
		p, err := r.store.GetPool(ctx, rt.ID, ref.ID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return model.IPPool{}, err
		}
		return r.resolvePoolFromDevice(ctx, rt, func(p device.Pool) bool { return p.ID == ref.ID }, ref.ID)
	}

	p, err := r.store.GetPoolByName(ctx, rt.ID, ref.Name)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.IPPool{}, err
	}
	return r.resolvePoolFromDevice(ctx, rt, func(p device.Pool) bool { return p.Name == ref.Name }, ref.Name)
}

func (r *Reconciler) resolvePoolFromDevice(ctx context.Context, rt model.Router, match func(device.Pool) bool, attempted string) (model.IPPool, error) {
	pools, err := r.dev.ListPools(ctx, rt)
	if err != nil {
		return model.IPPool{}, err
	}
	for _, p := range pools {
		if !match(p) {
			continue
		}
		mirrored := model.IPPool{
			RowID:           uuid.NewString(),
			RouterID:        rt.ID,
			PoolID:          p.ID,
			Name:            p.Name,
			RangeDescriptor: p.Ranges,
			Class:           ClassFromTokens(p.Name, p.Comment),
			Active:          true,
			UpdatedAtNs:     r.nowNs(),
		}
		if existing, err := r.store.GetPool(ctx, rt.ID, p.ID); err == nil {
			mirrored.RowID = existing.RowID
			mirrored.Class = existing.Class
			mirrored.Active = existing.Active
		}
		if err := r.store.UpsertPool(ctx, mirrored); err != nil {
			return model.IPPool{}, err
		}
		return mirrored, nil
	}
	return model.IPPool{}, &PoolNotFoundError{RouterID: rt.ID, Value: attempted}
}
