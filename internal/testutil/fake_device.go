// Package testutil provides in-memory doubles for the external
// collaborators: a scriptable fake device client and store fixtures.
package testutil

import (
	"context"
	"fmt"
	"net/netip"
	"sync"

	"github.com/wispkit/wispd/internal/device"
	"github.com/wispkit/wispd/internal/model"
)

// FakeDevice implements device.Client against in-memory tables. Errors can
// be scripted per operation, and every call is counted so tests can assert
// that a workflow never touched the device.
type FakeDevice struct {
	mu sync.Mutex

	profiles map[string][]device.Profile // router id -> profiles
	pools    map[string][]device.Pool
	accounts map[string][]device.Account
	sessions map[string][]device.Session
	used     map[string]map[string][]netip.Addr // router id -> pool name -> used

	errOn  map[string]error // op name -> scripted error
	calls  map[string]int
	onCall func(op string)
	next   int
}

// NewFakeDevice returns an empty fake.
func NewFakeDevice() *FakeDevice {
	return &FakeDevice{
		profiles: make(map[string][]device.Profile),
		pools:    make(map[string][]device.Pool),
		accounts: make(map[string][]device.Account),
		sessions: make(map[string][]device.Session),
		used:     make(map[string]map[string][]netip.Addr),
		errOn:    make(map[string]error),
		calls:    make(map[string]int),
	}
}

// FailWith scripts err for every subsequent call of op ("CreateAccount",
// "ListPools", ...). A nil err clears the script.
func (f *FakeDevice) FailWith(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errOn, op)
		return
	}
	f.errOn[op] = err
}

// OnCall registers fn to run at the start of every device operation. Tests
// use it to cancel a context or flip a scripted error at a precise point in
// a workflow.
func (f *FakeDevice) OnCall(fn func(op string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCall = fn
}

// Calls returns how many times op was invoked.
func (f *FakeDevice) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls returns the total number of device operations invoked.
func (f *FakeDevice) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *FakeDevice) begin(op string) error {
	f.calls[op]++
	if f.onCall != nil {
		f.onCall(op)
	}
	if err := f.errOn[op]; err != nil {
		return err
	}
	return nil
}

func (f *FakeDevice) newID() string {
	f.next++
	return fmt.Sprintf("*%X", f.next)
}

// --- seeding helpers ---

// SeedProfile adds a router-side profile, assigning an id if absent.
func (f *FakeDevice) SeedProfile(routerID string, p device.Profile) device.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == device.UnknownID {
		p.ID = f.newID()
	}
	f.profiles[routerID] = append(f.profiles[routerID], p)
	return p
}

// SeedPool adds a router-side pool, assigning an id if absent.
func (f *FakeDevice) SeedPool(routerID string, p device.Pool) device.Pool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == device.UnknownID {
		p.ID = f.newID()
	}
	f.pools[routerID] = append(f.pools[routerID], p)
	return p
}

// SeedAccount adds a router-side account, assigning an id if absent.
func (f *FakeDevice) SeedAccount(routerID string, a device.Account) device.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == device.UnknownID {
		a.ID = f.newID()
	}
	f.accounts[routerID] = append(f.accounts[routerID], a)
	return a
}

// SeedSession adds a live session.
func (f *FakeDevice) SeedSession(routerID string, s device.Session) device.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == device.UnknownID {
		s.ID = f.newID()
	}
	f.sessions[routerID] = append(f.sessions[routerID], s)
	return s
}

// SeedUsed sets the used-address report for a pool.
func (f *FakeDevice) SeedUsed(routerID, poolName string, addrs ...netip.Addr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.used[routerID] == nil {
		f.used[routerID] = make(map[string][]netip.Addr)
	}
	f.used[routerID][poolName] = addrs
}

// RenameProfile changes a profile's display name in place, keeping its id.
func (f *FakeDevice) RenameProfile(routerID, profileID, newName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.profiles[routerID] {
		if f.profiles[routerID][i].ID == profileID {
			f.profiles[routerID][i].Name = newName
		}
	}
}

// RenamePool changes a pool's display name in place, keeping its id.
func (f *FakeDevice) RenamePool(routerID, poolID, newName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.pools[routerID] {
		if f.pools[routerID][i].ID == poolID {
			f.pools[routerID][i].Name = newName
		}
	}
}

// SetPoolRanges rewrites a pool's range list in place, keeping its id.
func (f *FakeDevice) SetPoolRanges(routerID, poolID, ranges string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.pools[routerID] {
		if f.pools[routerID][i].ID == poolID {
			f.pools[routerID][i].Ranges = ranges
		}
	}
}

// RouterAccount returns the router-side account with the given id.
func (f *FakeDevice) RouterAccount(routerID, id string) (device.Account, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts[routerID] {
		if a.ID == id {
			return a, true
		}
	}
	return device.Account{}, false
}

// --- device.Client ---

func (f *FakeDevice) ListProfiles(_ context.Context, r model.Router) ([]device.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("ListProfiles"); err != nil {
		return nil, err
	}
	out := make([]device.Profile, len(f.profiles[r.ID]))
	copy(out, f.profiles[r.ID])
	return out, nil
}

func (f *FakeDevice) CreateProfile(_ context.Context, r model.Router, spec device.ProfileSpec) (device.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("CreateProfile"); err != nil {
		return device.Profile{}, err
	}
	for _, p := range f.profiles[r.ID] {
		if p.Name == spec.Name {
			return device.Profile{}, &device.AlreadyExistsError{RouterID: r.ID, Kind: "profile", Value: spec.Name}
		}
	}
	p := device.Profile{
		ID:            f.newID(),
		Name:          spec.Name,
		RateLimit:     spec.RateLimit,
		BurstLimit:    spec.BurstLimit,
		LocalAddress:  spec.LocalAddress,
		RemoteAddress: spec.RemoteAddress,
	}
	f.profiles[r.ID] = append(f.profiles[r.ID], p)
	return p, nil
}

func (f *FakeDevice) UpdateProfile(_ context.Context, r model.Router, id string, patch device.ProfilePatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("UpdateProfile"); err != nil {
		return err
	}
	for i := range f.profiles[r.ID] {
		p := &f.profiles[r.ID][i]
		if p.ID != id {
			continue
		}
		if patch.Name != nil {
			p.Name = *patch.Name
		}
		if patch.RateLimit != nil {
			p.RateLimit = *patch.RateLimit
		}
		if patch.BurstLimit != nil {
			p.BurstLimit = *patch.BurstLimit
		}
		if patch.RemoteAddress != nil {
			p.RemoteAddress = *patch.RemoteAddress
		}
		return nil
	}
	return &device.NotFoundError{RouterID: r.ID, Kind: "profile", Value: id}
}

func (f *FakeDevice) ListPools(_ context.Context, r model.Router) ([]device.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("ListPools"); err != nil {
		return nil, err
	}
	out := make([]device.Pool, len(f.pools[r.ID]))
	copy(out, f.pools[r.ID])
	return out, nil
}

func (f *FakeDevice) CreatePool(_ context.Context, r model.Router, name, ranges, comment string) (device.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("CreatePool"); err != nil {
		return device.Pool{}, err
	}
	for _, p := range f.pools[r.ID] {
		if p.Name == name {
			return device.Pool{}, &device.AlreadyExistsError{RouterID: r.ID, Kind: "pool", Value: name}
		}
	}
	p := device.Pool{ID: f.newID(), Name: name, Ranges: ranges, Comment: comment}
	f.pools[r.ID] = append(f.pools[r.ID], p)
	return p, nil
}

func (f *FakeDevice) UsedAddresses(_ context.Context, r model.Router, poolName string) ([]netip.Addr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("UsedAddresses"); err != nil {
		return nil, err
	}
	out := make([]netip.Addr, len(f.used[r.ID][poolName]))
	copy(out, f.used[r.ID][poolName])
	return out, nil
}

func (f *FakeDevice) ListAccounts(_ context.Context, r model.Router) ([]device.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("ListAccounts"); err != nil {
		return nil, err
	}
	out := make([]device.Account, len(f.accounts[r.ID]))
	copy(out, f.accounts[r.ID])
	return out, nil
}

func (f *FakeDevice) CreateAccount(_ context.Context, r model.Router, spec device.AccountSpec) (device.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("CreateAccount"); err != nil {
		return device.Account{}, err
	}
	for _, a := range f.accounts[r.ID] {
		if a.Name == spec.Name {
			return device.Account{}, &device.AlreadyExistsError{RouterID: r.ID, Kind: "account", Value: spec.Name}
		}
	}
	a := device.Account{
		ID:            f.newID(),
		Name:          spec.Name,
		Profile:       spec.Profile,
		RemoteAddress: spec.RemoteAddress,
		Comment:       spec.Comment,
		Disabled:      spec.Disabled,
	}
	f.accounts[r.ID] = append(f.accounts[r.ID], a)
	return a, nil
}

func (f *FakeDevice) UpdateAccount(_ context.Context, r model.Router, id string, patch device.AccountPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("UpdateAccount"); err != nil {
		return err
	}
	for i := range f.accounts[r.ID] {
		a := &f.accounts[r.ID][i]
		if a.ID != id {
			continue
		}
		if patch.Profile != nil {
			a.Profile = *patch.Profile
		}
		if patch.RemoteAddress != nil {
			a.RemoteAddress = *patch.RemoteAddress
		}
		if patch.Comment != nil {
			a.Comment = *patch.Comment
		}
		if patch.Disabled != nil {
			a.Disabled = *patch.Disabled
		}
		return nil
	}
	return &device.NotFoundError{RouterID: r.ID, Kind: "account", Value: id}
}

func (f *FakeDevice) DeleteAccount(_ context.Context, r model.Router, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DeleteAccount"); err != nil {
		return err
	}
	accounts := f.accounts[r.ID]
	for i, a := range accounts {
		if a.ID == id {
			f.accounts[r.ID] = append(accounts[:i:i], accounts[i+1:]...)
			return nil
		}
	}
	return &device.NotFoundError{RouterID: r.ID, Kind: "account", Value: id}
}

func (f *FakeDevice) ListActiveSessions(_ context.Context, r model.Router) ([]device.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("ListActiveSessions"); err != nil {
		return nil, err
	}
	out := make([]device.Session, len(f.sessions[r.ID]))
	copy(out, f.sessions[r.ID])
	return out, nil
}

func (f *FakeDevice) TerminateSession(_ context.Context, r model.Router, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("TerminateSession"); err != nil {
		return err
	}
	sessions := f.sessions[r.ID]
	for i, s := range sessions {
		if s.ID == id {
			f.sessions[r.ID] = append(sessions[:i:i], sessions[i+1:]...)
			return nil
		}
	}
	return &device.NotFoundError{RouterID: r.ID, Kind: "session", Value: id}
}

var _ device.Client = (*FakeDevice)(nil)
