package syncer_test

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/wispkit/wispd/internal/device"
	"github.com/wispkit/wispd/internal/model"
	"github.com/wispkit/wispd/internal/pool"
	"github.com/wispkit/wispd/internal/store"
	"github.com/wispkit/wispd/internal/syncer"
	"github.com/wispkit/wispd/internal/testutil"
)

var testClock = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

type fixture struct {
	st  *store.Store
	dev *testutil.FakeDevice
	rec *syncer.Reconciler
	rt  model.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := testutil.OpenStore(t)
	dev := testutil.NewFakeDevice()
	mgr := pool.NewManager(pool.Config{Store: st, Device: dev, TTL: time.Minute})
	t.Cleanup(mgr.Close)
	rec := syncer.NewReconciler(st, dev, mgr, func() time.Time { return testClock })

	rt := model.Router{ID: "edge-1", Name: "edge-1", Address: "10.9.9.9", Username: "admin", Active: true}
	if err := st.UpsertRouter(context.Background(), rt); err != nil {
		t.Fatalf("seed router: %v", err)
	}
	return &fixture{st: st, dev: dev, rec: rec, rt: rt}
}

func TestSyncMirrorsRouterState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.dev.SeedProfile(f.rt.ID, device.Profile{Name: "50M", RateLimit: "50M/50M"})
	f.dev.SeedProfile(f.rt.ID, device.Profile{Name: "100M", RateLimit: "100M/100M"})
	f.dev.SeedPool(f.rt.ID, device.Pool{Name: "pppoe-a", Ranges: "10.0.0.1-10.0.0.50"})
	f.dev.SeedPool(f.rt.ID, device.Pool{Name: "suspend-pool", Ranges: "10.0.1.1-10.0.1.50"})

	report, err := f.rec.SyncRouter(ctx, f.rt)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.ProfilesCreated != 2 || report.PoolsCreated != 2 {
		t.Fatalf("report = %+v", report)
	}

	pools, err := f.st.ListPools(ctx, f.rt.ID)
	if err != nil || len(pools) != 2 {
		t.Fatalf("pools = %+v, %v", pools, err)
	}
	for _, p := range pools {
		want := model.PoolClassActive
		if p.Name == "suspend-pool" {
			want = model.PoolClassSuspended
		}
		if p.Class != want {
			t.Fatalf("pool %q class = %v, want %v", p.Name, p.Class, want)
		}
	}

	// A second pass over unchanged state writes nothing.
	again, err := f.rec.SyncRouter(ctx, f.rt)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if again.Changes() != 0 {
		t.Fatalf("second pass made %d changes: %+v", again.Changes(), again)
	}
}

func TestSyncRenameUpdatesInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	profile := f.dev.SeedProfile(f.rt.ID, device.Profile{Name: "50M"})
	poolSeed := f.dev.SeedPool(f.rt.ID, device.Pool{Name: "pppoe-a", Ranges: "10.0.0.1-10.0.0.50"})
	if _, err := f.rec.SyncRouter(ctx, f.rt); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	f.dev.RenameProfile(f.rt.ID, profile.ID, "50M-v2")
	f.dev.RenamePool(f.rt.ID, poolSeed.ID, "pppoe-b")

	report, err := f.rec.SyncRouter(ctx, f.rt)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.ProfileNamesUpdated != 1 || report.PoolNamesUpdated != 1 {
		t.Fatalf("report = %+v", report)
	}
	if report.ProfilesCreated != 0 || report.PoolsCreated != 0 {
		t.Fatalf("rename created rows: %+v", report)
	}

	binding, err := f.st.GetProfileBinding(ctx, f.rt.ID, profile.ID)
	if err != nil || binding.Name != "50M-v2" {
		t.Fatalf("binding = %+v, %v", binding, err)
	}
	p, err := f.st.GetPool(ctx, f.rt.ID, poolSeed.ID)
	if err != nil || p.Name != "pppoe-b" {
		t.Fatalf("pool = %+v, %v", p, err)
	}
}

func TestSyncRangeChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed := f.dev.SeedPool(f.rt.ID, device.Pool{Name: "pppoe-a", Ranges: "10.0.0.1-10.0.0.50"})
	if _, err := f.rec.SyncRouter(ctx, f.rt); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	f.dev.SetPoolRanges(f.rt.ID, seed.ID, "10.0.0.1-10.0.0.100")

	report, err := f.rec.SyncRouter(ctx, f.rt)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.PoolRangesUpdated != 1 {
		t.Fatalf("report = %+v", report)
	}
	p, err := f.st.GetPool(ctx, f.rt.ID, seed.ID)
	if err != nil || p.RangeDescriptor != "10.0.0.1-10.0.0.100" {
		t.Fatalf("pool = %+v, %v", p, err)
	}
}

func TestSyncSkipsUnparseableRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.dev.SeedPool(f.rt.ID, device.Pool{Name: "broken", Ranges: "not-a-range"})
	f.dev.SeedPool(f.rt.ID, device.Pool{Name: "good", Ranges: "10.0.0.1-10.0.0.50"})

	report, err := f.rec.SyncRouter(ctx, f.rt)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !slices.Contains(report.PoolsSkipped, "broken") {
		t.Fatalf("skipped = %v, want broken listed", report.PoolsSkipped)
	}
	if report.PoolsCreated != 1 {
		t.Fatalf("created = %d, want 1", report.PoolsCreated)
	}

	pools, err := f.st.ListPools(ctx, f.rt.ID)
	if err != nil || len(pools) != 1 || pools[0].Name != "good" {
		t.Fatalf("pools = %+v, %v", pools, err)
	}
}

func TestSyncAccountDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	remote := f.dev.SeedAccount(f.rt.ID, device.Account{
		Name: "jdoe0042", Profile: "50M", Comment: "client:42",
	})
	local := model.SubscriberAccount{
		RowID: "ac-1", RouterID: f.rt.ID, ClientID: 42, Username: "jdoe0042",
		Secret: "s3cretsecret", ProfileName: "50M", AccountID: remote.ID,
		Status: model.AccountActive, UpdatedAtNs: 1,
	}
	if err := f.st.InsertAccount(ctx, local); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	// Router-side state drifted: the account was disabled by an operator.
	disabled := true
	if err := f.dev.UpdateAccount(ctx, f.rt, remote.ID, device.AccountPatch{Disabled: &disabled}); err != nil {
		t.Fatalf("drift setup: %v", err)
	}

	report, err := f.rec.SyncRouter(ctx, f.rt)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.AccountsUpdated != 1 {
		t.Fatalf("report = %+v", report)
	}
	got, err := f.st.GetAccountByClientRouter(ctx, 42, f.rt.ID)
	if err != nil || got.Status != model.AccountDisabled {
		t.Fatalf("account = %+v, %v", got, err)
	}
	if got.LastSyncNs != testClock.UnixNano() {
		t.Fatalf("last sync = %d, want clock", got.LastSyncNs)
	}

	again, err := f.rec.SyncRouter(ctx, f.rt)
	if err != nil || again.Changes() != 0 {
		t.Fatalf("second pass = %+v, %v", again, err)
	}
}

func TestSyncRelinksRecreatedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	local := model.SubscriberAccount{
		RowID: "ac-1", RouterID: f.rt.ID, ClientID: 42, Username: "jdoe0042",
		Secret: "s3cretsecret", ProfileName: "50M", AccountID: "*STALE",
		Status: model.AccountActive, UpdatedAtNs: 1,
	}
	if err := f.st.InsertAccount(ctx, local); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	// The router account was recreated under a fresh id but the same name.
	recreated := f.dev.SeedAccount(f.rt.ID, device.Account{
		Name: "jdoe0042", Profile: "50M", Comment: "client:42",
	})

	report, err := f.rec.SyncRouter(ctx, f.rt)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.AccountsUpdated != 1 || len(report.OrphanLocalAccounts) != 0 {
		t.Fatalf("report = %+v", report)
	}
	got, err := f.st.GetAccountByClientRouter(ctx, 42, f.rt.ID)
	if err != nil || got.AccountID != recreated.ID {
		t.Fatalf("account = %+v, %v", got, err)
	}
}

func TestSyncNeverAdoptsForeignAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	local := model.SubscriberAccount{
		RowID: "ac-1", RouterID: f.rt.ID, ClientID: 42, Username: "jdoe0042",
		Secret: "s3cretsecret", ProfileName: "50M", AccountID: "*STALE",
		Status: model.AccountActive, UpdatedAtNs: 1,
	}
	if err := f.st.InsertAccount(ctx, local); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	// Same name on the router, but the comment links a different client.
	foreign := f.dev.SeedAccount(f.rt.ID, device.Account{
		Name: "jdoe0042", Profile: "50M", Comment: "client:99",
	})

	report, err := f.rec.SyncRouter(ctx, f.rt)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.AccountsUpdated != 0 {
		t.Fatalf("report = %+v, want no adoption", report)
	}
	if !slices.Equal(report.OrphanLocalAccounts, []string{"jdoe0042"}) {
		t.Fatalf("local orphans = %v", report.OrphanLocalAccounts)
	}
	if !slices.Equal(report.OrphanRouterAccounts, []string{"jdoe0042"}) {
		t.Fatalf("router orphans = %v", report.OrphanRouterAccounts)
	}
	got, err := f.st.GetAccountByClientRouter(ctx, 42, f.rt.ID)
	if err != nil || got.AccountID != "*STALE" {
		t.Fatalf("account = %+v, %v, want untouched row", got, err)
	}
	if got.AccountID == foreign.ID {
		t.Fatal("row adopted the foreign router account")
	}
}

func TestSyncReportsOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Local row with no router counterpart.
	local := model.SubscriberAccount{
		RowID: "ac-1", RouterID: f.rt.ID, ClientID: 42, Username: "gone0042",
		Secret: "s3cretsecret", AccountID: "*GONE", Status: model.AccountActive, UpdatedAtNs: 1,
	}
	if err := f.st.InsertAccount(ctx, local); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	// Router account linked to a client but unknown locally.
	f.dev.SeedAccount(f.rt.ID, device.Account{Name: "stray0007", Comment: "client:7"})
	// Unlinked router accounts (no client comment) are not wispd's problem.
	f.dev.SeedAccount(f.rt.ID, device.Account{Name: "admin-backdoor", Comment: "ops"})

	report, err := f.rec.SyncRouter(ctx, f.rt)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !slices.Equal(report.OrphanLocalAccounts, []string{"gone0042"}) {
		t.Fatalf("local orphans = %v", report.OrphanLocalAccounts)
	}
	if !slices.Equal(report.OrphanRouterAccounts, []string{"stray0007"}) {
		t.Fatalf("router orphans = %v", report.OrphanRouterAccounts)
	}
	// Orphans are reported, never auto-deleted.
	if _, err := f.st.GetAccountByClientRouter(ctx, 42, f.rt.ID); err != nil {
		t.Fatalf("local orphan removed: %v", err)
	}
}

func TestReportSummary(t *testing.T) {
	r := syncer.Report{
		RouterID:             "edge-1",
		ProfilesCreated:      2,
		PoolNamesUpdated:     1,
		PoolsSkipped:         []string{"broken"},
		OrphanRouterAccounts: []string{"stray"},
		Took:                 1500 * time.Millisecond,
	}
	got := r.Summary()
	want := "3 changes, 1 pools skipped, 1 router orphans, took 1.5s"
	if got != want {
		t.Fatalf("summary = %q, want %q", got, want)
	}
}
