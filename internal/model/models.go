// Package model defines domain structs shared across the persistence layer.
package model

// Router is a managed access router. Rows are owned by configuration
// (the seed file) and are read-only to the provisioning core.
type Router struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Address     string `json:"address"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Active      bool   `json:"active"`
	UpdatedAtNs int64  `json:"updated_at_ns"`
}

// ProfileBinding maps a logical service tier to a router-side PPP profile.
// ProfileID is the router-assigned stable identifier; Name is the cached
// display name and may drift on the router between syncs.
type ProfileBinding struct {
	RowID         string  `json:"row_id"`
	RouterID      string  `json:"router_id"`
	ProfileID     string  `json:"profile_id"`
	Name          string  `json:"name"`
	RateLimit     string  `json:"rate_limit"`
	BurstLimit    string  `json:"burst_limit"`
	ServiceTierID *string `json:"service_tier_id"` // nil for unbound profiles
	UpdatedAtNs   int64   `json:"updated_at_ns"`
}

// IPPool mirrors a router-side address pool. PoolID is the router-assigned
// stable identifier; Name and RangeDescriptor follow the router on sync.
type IPPool struct {
	RowID           string    `json:"row_id"`
	RouterID        string    `json:"router_id"`
	PoolID          string    `json:"pool_id"`
	Name            string    `json:"name"`
	RangeDescriptor string    `json:"range_descriptor"`
	Class           PoolClass `json:"class"`
	Active          bool      `json:"active"`
	UpdatedAtNs     int64     `json:"updated_at_ns"`
}

// IPAssignment is one address claimed from a pool. AccountRowID is non-nil
// if and only if Status is AssignmentAssigned.
type IPAssignment struct {
	RowID        string           `json:"row_id"`
	PoolRowID    string           `json:"pool_row_id"`
	Address      string           `json:"address"`
	Status       AssignmentStatus `json:"status"`
	AccountRowID *string          `json:"account_row_id"`
	UpdatedAtNs  int64            `json:"updated_at_ns"`
}

// SubscriberAccount is the PPP account for one client on one router.
// AccountID is the router-assigned stable identifier. ProfileName and
// PoolName are cached display names kept alongside their stable ids.
type SubscriberAccount struct {
	RowID         string        `json:"row_id"`
	RouterID      string        `json:"router_id"`
	ClientID      int64         `json:"client_id"`
	Username      string        `json:"username"`
	Secret        string        `json:"secret"`
	ProfileID     string        `json:"profile_id"`
	ProfileName   string        `json:"profile_name"`
	PoolID        string        `json:"pool_id"`
	PoolName      string        `json:"pool_name"`
	StaticAddress string        `json:"static_address"`
	AccountID     string        `json:"account_id"`
	Status        AccountStatus `json:"status"`
	LastSyncNs    int64         `json:"last_sync_ns"`
	UpdatedAtNs   int64         `json:"updated_at_ns"`
}
