// Package device defines the capability interface for talking to an access
// router and its production RouterOS implementation. Every call dials a
// fresh connection, enforces the configured timeout, and closes the
// connection on all exit paths.
package device

import (
	"context"
	"net/netip"

	"github.com/wispkit/wispd/internal/model"
)

// UnknownID is the sentinel for an absent router-assigned identifier.
// Callers must resolve a real id through the identity reconciler before any
// id-keyed write; an UnknownID never silently matches anything.
const UnknownID = ""

// KnownID reports whether id is a concrete router-assigned identifier.
func KnownID(id string) bool { return id != UnknownID }

// Profile is a router-side PPP profile.
type Profile struct {
	ID            string
	Name          string
	RateLimit     string
	BurstLimit    string
	LocalAddress  string
	RemoteAddress string // pool name the profile hands addresses from
}

// ProfileSpec describes a profile to create.
type ProfileSpec struct {
	Name          string
	RateLimit     string
	BurstLimit    string
	LocalAddress  string
	RemoteAddress string
}

// ProfilePatch holds optional profile updates; nil fields are untouched.
type ProfilePatch struct {
	Name          *string
	RateLimit     *string
	BurstLimit    *string
	RemoteAddress *string
}

// Pool is a router-side address pool.
type Pool struct {
	ID      string
	Name    string
	Ranges  string
	Comment string
}

// Account is a router-side PPP account.
type Account struct {
	ID            string
	Name          string
	Profile       string
	RemoteAddress string
	Comment       string
	Disabled      bool
}

// AccountSpec describes an account to create.
type AccountSpec struct {
	Name          string
	Password      string
	Profile       string
	RemoteAddress string
	Comment       string
	Disabled      bool
}

// AccountPatch holds optional account updates; nil fields are untouched.
type AccountPatch struct {
	Password      *string
	Profile       *string
	RemoteAddress *string
	Comment       *string
	Disabled      *bool
}

// Session is a live PPP session on the router.
type Session struct {
	ID       string
	Name     string
	Address  string
	Uptime   string
	CallerID string
}

// Client executes operations against a single router. Implementations must
// honor ctx, apply a per-call timeout, and never reuse connections across
// calls.
type Client interface {
	ListProfiles(ctx context.Context, r model.Router) ([]Profile, error)
	CreateProfile(ctx context.Context, r model.Router, spec ProfileSpec) (Profile, error)
	UpdateProfile(ctx context.Context, r model.Router, id string, patch ProfilePatch) error

	ListPools(ctx context.Context, r model.Router) ([]Pool, error)
	CreatePool(ctx context.Context, r model.Router, name, ranges, comment string) (Pool, error)
	UsedAddresses(ctx context.Context, r model.Router, poolName string) ([]netip.Addr, error)

	ListAccounts(ctx context.Context, r model.Router) ([]Account, error)
	CreateAccount(ctx context.Context, r model.Router, spec AccountSpec) (Account, error)
	UpdateAccount(ctx context.Context, r model.Router, id string, patch AccountPatch) error
	DeleteAccount(ctx context.Context, r model.Router, id string) error

	ListActiveSessions(ctx context.Context, r model.Router) ([]Session, error)
	TerminateSession(ctx context.Context, r model.Router, id string) error
}
