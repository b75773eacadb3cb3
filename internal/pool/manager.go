// Package pool owns IP pool lifecycle and address bookkeeping: availability
// computation with a TTL-bounded cache, capacity gating, and transactional
// assign/release/move operations.
package pool

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maypok86/otter"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/wispkit/wispd/internal/device"
	"github.com/wispkit/wispd/internal/iprange"
	"github.com/wispkit/wispd/internal/model"
	"github.com/wispkit/wispd/internal/store"
)

// criticalThreshold is the utilization percentage at and above which a pool
// accepts no further assignments.
const criticalThreshold = 95.0

// Band classifies pool utilization.
type Band string

const (
	BandLow      Band = "low"      // < 60%
	BandNormal   Band = "normal"   // 60–79%
	BandWarning  Band = "warning"  // 80–94%
	BandCritical Band = "critical" // >= 95%
)

// BandFor returns the utilization band for a percentage.
func BandFor(pct float64) Band {
	switch {
	case pct < 60:
		return BandLow
	case pct < 80:
		return BandNormal
	case pct < criticalThreshold:
		return BandWarning
	default:
		return BandCritical
	}
}

// Availability is a point-in-time view of a pool's free addresses.
type Availability struct {
	RouterID   string
	PoolRowID  string
	PoolID     string
	PoolName   string
	Free       []netip.Addr
	Total      int
	ComputedAt time.Time
}

// Assigned returns the number of addresses in use.
func (a Availability) Assigned() int { return a.Total - len(a.Free) }

// Utilization returns assigned/total as a percentage.
func (a Availability) Utilization() float64 {
	if a.Total == 0 {
		return 100
	}
	return float64(a.Assigned()) / float64(a.Total) * 100
}

// Band returns the utilization band.
func (a Availability) Band() Band { return BandFor(a.Utilization()) }

// cacheKey identifies one pool on one router. Typed on purpose: cache
// entries are scoped and invalidated per router id, never by string
// pattern matching.
type cacheKey struct {
	RouterID string
	PoolID   string
}

// Config configures a Manager.
type Config struct {
	Store  *store.Store
	Device device.Client
	// TTL is the availability cache freshness window (default 10 minutes).
	TTL time.Duration
	// MaxCachedPools bounds the cache (default 1024).
	MaxCachedPools int
	// RangeOptions controls reserved-address exclusions.
	RangeOptions iprange.Options
	// Now is the clock; defaults to time.Now. Injected for tests.
	Now func() time.Time
}

// Manager owns pool lifecycle and address assignment. Per-pool mutexes
// serialize the availability computation and the assignment row write so
// two concurrent allocations cannot pick the same address.
type Manager struct {
	store     *store.Store
	dev       device.Client
	cache     otter.Cache[cacheKey, Availability]
	locks     *xsync.Map[string, *sync.Mutex]
	rangeOpts iprange.Options
	now       func() time.Time
}

// NewManager creates a Manager from cfg.
func NewManager(cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.MaxCachedPools <= 0 {
		cfg.MaxCachedPools = 1024
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cache, err := otter.MustBuilder[cacheKey, Availability](cfg.MaxCachedPools).
		Cost(func(_ cacheKey, _ Availability) uint32 { return 1 }).
		WithTTL(cfg.TTL).
		Build()
	if err != nil {
		panic("pool: failed to create availability cache: " + err.Error())
	}
	return &Manager{
		store:     cfg.Store,
		dev:       cfg.Device,
		cache:     cache,
		locks:     xsync.NewMap[string, *sync.Mutex](),
		rangeOpts: cfg.RangeOptions,
		now:       cfg.Now,
	}
}

// Close releases the availability cache.
func (m *Manager) Close() { m.cache.Close() }

func (m *Manager) poolLock(poolRowID string) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(poolRowID, &sync.Mutex{})
	return mu
}

// CreateSpec describes a pool to create.
type CreateSpec struct {
	Name    string
	Range   string
	Class   model.PoolClass
	Comment string
}

// CreatePool validates the range, checks name uniqueness on the router,
// issues the router-side create, and persists the local row. A device
// failure aborts before any local write, so no orphan local row exists.
func (m *Manager) CreatePool(ctx context.Context, r model.Router, spec CreateSpec) (model.IPPool, error) {
	if err := iprange.Validate(spec.Range); err != nil {
		return model.IPPool{}, err
	}
	if spec.Class == "" {
		spec.Class = model.PoolClassActive
	}

	_, err := m.store.GetPoolByName(ctx, r.ID, spec.Name)
	if err == nil {
		return model.IPPool{}, fmt.Errorf("pool %q on router %s: %w", spec.Name, r.ID, store.ErrConflict)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.IPPool{}, err
	}

	created, err := m.dev.CreatePool(ctx, r, spec.Name, spec.Range, spec.Comment)
	if err != nil {
		return model.IPPool{}, err
	}

	p := model.IPPool{
		RowID:           uuid.NewString(),
		RouterID:        r.ID,
		PoolID:          created.ID,
		Name:            spec.Name,
		RangeDescriptor: spec.Range,
		Class:           spec.Class,
		Active:          true,
		UpdatedAtNs:     m.now().UnixNano(),
	}
	if err := m.store.UpsertPool(ctx, p); err != nil {
		// Known gap: the pool now exists device-side with no local row.
		// The sync reconciler recreates the local row on its next run.
		return model.IPPool{}, fmt.Errorf("pool %q created on router %s but local write failed: %w",
			spec.Name, r.ID, err)
	}
	m.InvalidateRouter(r.ID)
	return p, nil
}

// Availability returns the pool's free-address view, served from cache when
// younger than the freshness window, otherwise recomputed from the router's
// used-address report plus local assignment rows.
func (m *Manager) Availability(ctx context.Context, r model.Router, p model.IPPool) (Availability, error) {
	return m.availabilityVia(ctx, m.store, r, p)
}

// availabilityVia reads local state through q, which must be the enclosing
// transaction when one is open: the database allows a single connection, so
// reads on the root handle would block behind the transaction.
func (m *Manager) availabilityVia(ctx context.Context, q *store.Store, r model.Router, p model.IPPool) (Availability, error) {
	key := cacheKey{RouterID: r.ID, PoolID: p.PoolID}
	if cached, ok := m.cache.Get(key); ok {
		return cached, nil
	}
	avail, err := m.computeAvailability(ctx, q, r, p)
	if err != nil {
		return Availability{}, err
	}
	m.cache.Set(key, avail)
	return avail, nil
}

func (m *Manager) computeAvailability(ctx context.Context, q *store.Store, r model.Router, p model.IPPool) (Availability, error) {
	usedOnRouter, err := m.dev.UsedAddresses(ctx, r, p.Name)
	if err != nil {
		return Availability{}, err
	}
	assignedLocal, err := q.ListAssignedAddresses(ctx, p.RowID)
	if err != nil {
		return Availability{}, err
	}

	used := make(map[netip.Addr]struct{}, len(usedOnRouter)+len(assignedLocal))
	for _, a := range usedOnRouter {
		used[a] = struct{}{}
	}
	for _, s := range assignedLocal {
		a, err := netip.ParseAddr(s)
		if err != nil {
			continue
		}
		used[a] = struct{}{}
	}

	free, err := iprange.Resolve(p.RangeDescriptor, used, m.rangeOpts)
	if err != nil {
		return Availability{}, err
	}
	total, err := iprange.Count(p.RangeDescriptor, m.rangeOpts)
	if err != nil {
		return Availability{}, err
	}

	return Availability{
		RouterID:   r.ID,
		PoolRowID:  p.RowID,
		PoolID:     p.PoolID,
		PoolName:   p.Name,
		Free:       free,
		Total:      total,
		ComputedAt: m.now(),
	}, nil
}

// AssignAddress claims an address for the account inside tx. With no
// specific address the first free address wins; a requested address must be
// in the current availability set or the call fails with
// AddressUnavailableError. The per-pool lock makes the availability check
// and the row write atomic with respect to other allocations.
func (m *Manager) AssignAddress(ctx context.Context, tx *store.Store, r model.Router, p model.IPPool, accountRowID, specific string) (model.IPAssignment, error) {
	mu := m.poolLock(p.RowID)
	mu.Lock()
	defer mu.Unlock()

	avail, err := m.availabilityVia(ctx, tx, r, p)
	if err != nil {
		return model.IPAssignment{}, err
	}

	// Re-check against assignment rows in this transaction's view: the
	// cached snapshot may predate recent claims.
	assigned, err := tx.ListAssignedAddresses(ctx, p.RowID)
	if err != nil {
		return model.IPAssignment{}, err
	}
	taken := make(map[string]struct{}, len(assigned))
	for _, a := range assigned {
		taken[a] = struct{}{}
	}

	var chosen string
	if specific != "" {
		if _, err := netip.ParseAddr(specific); err != nil {
			return model.IPAssignment{}, &AddressUnavailableError{RouterID: r.ID, PoolName: p.Name, Address: specific}
		}
		ok := false
		for _, a := range avail.Free {
			if a.String() == specific {
				ok = true
				break
			}
		}
		if _, dup := taken[specific]; dup {
			ok = false
		}
		if !ok {
			return model.IPAssignment{}, &AddressUnavailableError{RouterID: r.ID, PoolName: p.Name, Address: specific}
		}
		chosen = specific
	} else {
		for _, a := range avail.Free {
			if _, dup := taken[a.String()]; dup {
				continue
			}
			chosen = a.String()
			break
		}
		if chosen == "" {
			return model.IPAssignment{}, &PoolFullError{RouterID: r.ID, PoolName: p.Name, Utilization: avail.Utilization()}
		}
	}

	nowNs := m.now().UnixNano()
	assignment, err := tx.GetAssignmentByAddress(ctx, p.RowID, chosen)
	switch {
	case err == nil:
		// Row exists from an earlier release: claim it back.
		if err := tx.ClaimAssignment(ctx, assignment.RowID, accountRowID, nowNs); err != nil {
			return model.IPAssignment{}, err
		}
		assignment.Status = model.AssignmentAssigned
		assignment.AccountRowID = &accountRowID
		assignment.UpdatedAtNs = nowNs
	case errors.Is(err, store.ErrNotFound):
		assignment = model.IPAssignment{
			RowID:        uuid.NewString(),
			PoolRowID:    p.RowID,
			Address:      chosen,
			Status:       model.AssignmentAssigned,
			AccountRowID: &accountRowID,
			UpdatedAtNs:  nowNs,
		}
		if err := tx.InsertAssignment(ctx, assignment); err != nil {
			return model.IPAssignment{}, err
		}
	default:
		return model.IPAssignment{}, err
	}

	m.cache.Delete(cacheKey{RouterID: r.ID, PoolID: p.PoolID})
	return assignment, nil
}

// ReleaseAddress returns the account's assignment, if any, to available.
// Idempotent: released is false when there was nothing to release.
func (m *Manager) ReleaseAddress(ctx context.Context, tx *store.Store, accountRowID string) (released bool, err error) {
	assignment, err := tx.GetAssignmentByAccount(ctx, accountRowID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	released, err = tx.ReleaseAssignmentByAccount(ctx, accountRowID, m.now().UnixNano())
	if err != nil {
		return false, err
	}
	if released {
		if p, perr := tx.GetPoolByRowID(ctx, assignment.PoolRowID); perr == nil {
			m.cache.Delete(cacheKey{RouterID: p.RouterID, PoolID: p.PoolID})
		}
	}
	return released, nil
}

// ResolveClassPool returns the active pool of the given class on a router.
func (m *Manager) ResolveClassPool(ctx context.Context, routerID string, class model.PoolClass) (model.IPPool, error) {
	p, err := m.store.GetActivePoolByClass(ctx, routerID, class)
	if errors.Is(err, store.ErrNotFound) {
		return model.IPPool{}, &PoolNotFoundError{RouterID: routerID, Value: string(class)}
	}
	return p, err
}

// CheckCapacity fails with PoolFullError when the pool is at or beyond the
// critical utilization threshold.
func (m *Manager) CheckCapacity(ctx context.Context, r model.Router, p model.IPPool) error {
	avail, err := m.Availability(ctx, r, p)
	if err != nil {
		return err
	}
	if avail.Utilization() >= criticalThreshold {
		return &PoolFullError{RouterID: r.ID, PoolName: p.Name, Utilization: avail.Utilization()}
	}
	return nil
}

// MoveBetweenPools releases the account's current assignment and claims an
// address in the target pool as one operation inside tx. The target must
// have capacity; release happens before the new claim.
func (m *Manager) MoveBetweenPools(ctx context.Context, tx *store.Store, r model.Router, accountRowID string, target model.IPPool) (model.IPAssignment, error) {
	avail, err := m.availabilityVia(ctx, tx, r, target)
	if err != nil {
		return model.IPAssignment{}, err
	}
	if avail.Utilization() >= criticalThreshold {
		return model.IPAssignment{}, &PoolFullError{RouterID: r.ID, PoolName: target.Name, Utilization: avail.Utilization()}
	}
	if _, err := m.ReleaseAddress(ctx, tx, accountRowID); err != nil {
		return model.IPAssignment{}, err
	}
	return m.AssignAddress(ctx, tx, r, target, accountRowID, "")
}

// InvalidateRouter drops every cached availability entry for the router.
func (m *Manager) InvalidateRouter(routerID string) {
	m.cache.DeleteByFunc(func(k cacheKey, _ Availability) bool {
		return k.RouterID == routerID
	})
}
