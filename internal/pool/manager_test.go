package pool_test

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"testing"
	"time"

	"github.com/wispkit/wispd/internal/iprange"
	"github.com/wispkit/wispd/internal/model"
	"github.com/wispkit/wispd/internal/pool"
	"github.com/wispkit/wispd/internal/store"
	"github.com/wispkit/wispd/internal/testutil"
)

type fixture struct {
	st   *store.Store
	dev  *testutil.FakeDevice
	mgr  *pool.Manager
	rt   model.Router
	next int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := testutil.OpenStore(t)
	dev := testutil.NewFakeDevice()
	mgr := pool.NewManager(pool.Config{
		Store:  st,
		Device: dev,
		TTL:    time.Minute,
	})
	t.Cleanup(mgr.Close)

	rt := model.Router{ID: "edge-1", Name: "edge-1", Address: "10.9.9.9", Username: "admin", Active: true}
	if err := st.UpsertRouter(context.Background(), rt); err != nil {
		t.Fatalf("seed router: %v", err)
	}
	return &fixture{st: st, dev: dev, mgr: mgr, rt: rt}
}

// seedPool mirrors a pool locally with the given class and range.
func (f *fixture) seedPool(t *testing.T, name, rng string, class model.PoolClass) model.IPPool {
	t.Helper()
	f.next++
	p := model.IPPool{
		RowID:           fmt.Sprintf("row-%d", f.next),
		RouterID:        f.rt.ID,
		PoolID:          fmt.Sprintf("*%d", f.next),
		Name:            name,
		RangeDescriptor: rng,
		Class:           class,
		Active:          true,
		UpdatedAtNs:     1,
	}
	if err := f.st.UpsertPool(context.Background(), p); err != nil {
		t.Fatalf("seed pool %s: %v", name, err)
	}
	return p
}

func netipAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return a
}

func netipAddrs(t *testing.T, addrs ...string) []netip.Addr {
	t.Helper()
	out := make([]netip.Addr, len(addrs))
	for i, s := range addrs {
		out[i] = netipAddr(t, s)
	}
	return out
}

func mustAssign(t *testing.T, f *fixture, p model.IPPool, accountRowID, specific string) model.IPAssignment {
	t.Helper()
	var got model.IPAssignment
	err := f.st.WithTx(context.Background(), func(tx *store.Store) error {
		var err error
		got, err = f.mgr.AssignAddress(context.Background(), tx, f.rt, p, accountRowID, specific)
		return err
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	return got
}

func TestAvailabilityCached(t *testing.T) {
	f := newFixture(t)
	p := f.seedPool(t, "active", "10.0.0.1-10.0.0.10", model.PoolClassActive)
	f.dev.SeedUsed(f.rt.ID, "active",
		netipAddr(t, "10.0.0.3"), netipAddr(t, "10.0.0.4"))

	ctx := context.Background()
	first, err := f.mgr.Availability(ctx, f.rt, p)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if first.Total != 10 || len(first.Free) != 8 || first.Assigned() != 2 {
		t.Fatalf("availability = total %d free %d assigned %d",
			first.Total, len(first.Free), first.Assigned())
	}
	if got := first.Utilization(); got != 20 {
		t.Fatalf("utilization = %v, want 20", got)
	}
	if first.Band() != pool.BandLow {
		t.Fatalf("band = %v, want low", first.Band())
	}

	if _, err := f.mgr.Availability(ctx, f.rt, p); err != nil {
		t.Fatalf("second availability: %v", err)
	}
	if n := f.dev.Calls("UsedAddresses"); n != 1 {
		t.Fatalf("device queried %d times, want 1 (cached)", n)
	}

	f.mgr.InvalidateRouter(f.rt.ID)
	if _, err := f.mgr.Availability(ctx, f.rt, p); err != nil {
		t.Fatalf("post-invalidate availability: %v", err)
	}
	if n := f.dev.Calls("UsedAddresses"); n != 2 {
		t.Fatalf("device queried %d times after invalidate, want 2", n)
	}
}

func TestAssignAddressFirstFree(t *testing.T) {
	f := newFixture(t)
	p := f.seedPool(t, "active", "10.0.0.1-10.0.0.10", model.PoolClassActive)
	f.dev.SeedUsed(f.rt.ID, "active", netipAddr(t, "10.0.0.1"))

	got := mustAssign(t, f, p, "acct-1", "")
	if got.Address != "10.0.0.2" {
		t.Fatalf("assigned %s, want 10.0.0.2", got.Address)
	}
	if got.Status != model.AssignmentAssigned || got.AccountRowID == nil || *got.AccountRowID != "acct-1" {
		t.Fatalf("assignment = %+v", got)
	}

	// The claim lands in the next availability snapshot.
	second := mustAssign(t, f, p, "acct-2", "")
	if second.Address != "10.0.0.3" {
		t.Fatalf("second assigned %s, want 10.0.0.3", second.Address)
	}
}

func TestAssignSpecificAddress(t *testing.T) {
	f := newFixture(t)
	p := f.seedPool(t, "active", "10.0.0.1-10.0.0.10", model.PoolClassActive)

	got := mustAssign(t, f, p, "acct-1", "10.0.0.7")
	if got.Address != "10.0.0.7" {
		t.Fatalf("assigned %s, want 10.0.0.7", got.Address)
	}

	// Taken address is refused, as is anything outside the range.
	for _, specific := range []string{"10.0.0.7", "10.0.9.9", "not-an-ip"} {
		err := f.st.WithTx(context.Background(), func(tx *store.Store) error {
			_, err := f.mgr.AssignAddress(context.Background(), tx, f.rt, p, "acct-2", specific)
			return err
		})
		var unavailable *pool.AddressUnavailableError
		if !errors.As(err, &unavailable) {
			t.Fatalf("specific %q: got %v, want AddressUnavailableError", specific, err)
		}
	}
}

func TestAssignPoolFull(t *testing.T) {
	f := newFixture(t)
	p := f.seedPool(t, "tiny", "10.0.0.1-10.0.0.2", model.PoolClassActive)
	f.dev.SeedUsed(f.rt.ID, "tiny", netipAddr(t, "10.0.0.1"), netipAddr(t, "10.0.0.2"))

	err := f.st.WithTx(context.Background(), func(tx *store.Store) error {
		_, err := f.mgr.AssignAddress(context.Background(), tx, f.rt, p, "acct-1", "")
		return err
	})
	var full *pool.PoolFullError
	if !errors.As(err, &full) {
		t.Fatalf("got %v, want PoolFullError", err)
	}
}

func TestCheckCapacityThreshold(t *testing.T) {
	ctx := context.Background()

	// 19 of 20 in use is 95%: blocked.
	f := newFixture(t)
	p := f.seedPool(t, "warm", "10.0.0.1-10.0.0.20", model.PoolClassActive)
	used := make([]string, 0, 19)
	for i := 1; i <= 19; i++ {
		used = append(used, fmt.Sprintf("10.0.0.%d", i))
	}
	f.dev.SeedUsed(f.rt.ID, "warm", netipAddrs(t, used...)...)

	err := f.mgr.CheckCapacity(ctx, f.rt, p)
	var full *pool.PoolFullError
	if !errors.As(err, &full) {
		t.Fatalf("at 95%%: got %v, want PoolFullError", err)
	}

	// 18 of 20 is 90%: allowed, though in the warning band.
	g := newFixture(t)
	q := g.seedPool(t, "warm", "10.0.0.1-10.0.0.20", model.PoolClassActive)
	g.dev.SeedUsed(g.rt.ID, "warm", netipAddrs(t, used[:18]...)...)
	if err := g.mgr.CheckCapacity(ctx, g.rt, q); err != nil {
		t.Fatalf("at 90%%: %v", err)
	}
	avail, err := g.mgr.Availability(ctx, g.rt, q)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if avail.Band() != pool.BandWarning {
		t.Fatalf("band = %v, want warning", avail.Band())
	}
}

func TestReleaseAddressIdempotent(t *testing.T) {
	f := newFixture(t)
	p := f.seedPool(t, "active", "10.0.0.1-10.0.0.10", model.PoolClassActive)
	mustAssign(t, f, p, "acct-1", "")

	ctx := context.Background()
	var released bool
	err := f.st.WithTx(ctx, func(tx *store.Store) error {
		var err error
		released, err = f.mgr.ReleaseAddress(ctx, tx, "acct-1")
		return err
	})
	if err != nil || !released {
		t.Fatalf("release = %v, %v", released, err)
	}

	err = f.st.WithTx(ctx, func(tx *store.Store) error {
		var err error
		released, err = f.mgr.ReleaseAddress(ctx, tx, "acct-1")
		return err
	})
	if err != nil || released {
		t.Fatalf("second release = %v, %v, want false", released, err)
	}
}

func TestMoveBetweenPools(t *testing.T) {
	f := newFixture(t)
	active := f.seedPool(t, "active", "10.0.0.1-10.0.0.10", model.PoolClassActive)
	suspended := f.seedPool(t, "suspended", "10.0.1.1-10.0.1.10", model.PoolClassSuspended)

	mustAssign(t, f, active, "acct-1", "")

	ctx := context.Background()
	var moved model.IPAssignment
	err := f.st.WithTx(ctx, func(tx *store.Store) error {
		var err error
		moved, err = f.mgr.MoveBetweenPools(ctx, tx, f.rt, "acct-1", suspended)
		return err
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if moved.PoolRowID != suspended.RowID || moved.Address != "10.0.1.1" {
		t.Fatalf("moved = %+v", moved)
	}

	freed, err := f.st.ListAssignedAddresses(ctx, active.RowID)
	if err != nil || len(freed) != 0 {
		t.Fatalf("source pool still holds %v (%v)", freed, err)
	}
}

func TestMoveBetweenPoolsFullTargetRollsBack(t *testing.T) {
	f := newFixture(t)
	active := f.seedPool(t, "active", "10.0.0.1-10.0.0.10", model.PoolClassActive)
	cut := f.seedPool(t, "cut", "10.0.2.1-10.0.2.2", model.PoolClassCutService)
	f.dev.SeedUsed(f.rt.ID, "cut", netipAddr(t, "10.0.2.1"), netipAddr(t, "10.0.2.2"))

	original := mustAssign(t, f, active, "acct-1", "")

	ctx := context.Background()
	err := f.st.WithTx(ctx, func(tx *store.Store) error {
		_, err := f.mgr.MoveBetweenPools(ctx, tx, f.rt, "acct-1", cut)
		return err
	})
	var full *pool.PoolFullError
	if !errors.As(err, &full) {
		t.Fatalf("got %v, want PoolFullError", err)
	}

	// The rollback keeps the original claim.
	kept, err := f.st.GetAssignmentByAccount(ctx, "acct-1")
	if err != nil || kept.Address != original.Address {
		t.Fatalf("after rollback = %+v, %v", kept, err)
	}
}

func TestCreatePool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.mgr.CreatePool(ctx, f.rt, pool.CreateSpec{
		Name:  "grace",
		Range: "10.0.3.0/29",
		Class: model.PoolClassSuspended,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.PoolID == "" || created.Class != model.PoolClassSuspended {
		t.Fatalf("created = %+v", created)
	}
	if _, err := f.st.GetPoolByName(ctx, f.rt.ID, "grace"); err != nil {
		t.Fatalf("local row: %v", err)
	}

	// Duplicate name conflicts before touching the device.
	before := f.dev.Calls("CreatePool")
	if _, err := f.mgr.CreatePool(ctx, f.rt, pool.CreateSpec{Name: "grace", Range: "10.0.4.0/29"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("duplicate = %v, want ErrConflict", err)
	}
	if f.dev.Calls("CreatePool") != before {
		t.Fatal("duplicate create reached the device")
	}

	var invalid *iprange.InvalidRangeError
	if _, err := f.mgr.CreatePool(ctx, f.rt, pool.CreateSpec{Name: "bad", Range: "10.0.0.50-10.0.0.10"}); !errors.As(err, &invalid) {
		t.Fatalf("inverted range = %v, want InvalidRangeError", err)
	}
}

func TestResolveClassPool(t *testing.T) {
	f := newFixture(t)
	f.seedPool(t, "active", "10.0.0.1-10.0.0.10", model.PoolClassActive)

	ctx := context.Background()
	p, err := f.mgr.ResolveClassPool(ctx, f.rt.ID, model.PoolClassActive)
	if err != nil || p.Name != "active" {
		t.Fatalf("resolve = %+v, %v", p, err)
	}

	var notFound *pool.PoolNotFoundError
	if _, err := f.mgr.ResolveClassPool(ctx, f.rt.ID, model.PoolClassCutService); !errors.As(err, &notFound) {
		t.Fatalf("got %v, want PoolNotFoundError", err)
	}
}

func TestBandFor(t *testing.T) {
	tests := []struct {
		pct  float64
		want pool.Band
	}{
		{0, pool.BandLow},
		{59.9, pool.BandLow},
		{60, pool.BandNormal},
		{79.9, pool.BandNormal},
		{80, pool.BandWarning},
		{94.9, pool.BandWarning},
		{95, pool.BandCritical},
		{100, pool.BandCritical},
	}
	for _, tt := range tests {
		if got := pool.BandFor(tt.pct); got != tt.want {
			t.Fatalf("BandFor(%v) = %v, want %v", tt.pct, got, tt.want)
		}
	}
}
