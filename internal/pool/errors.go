package pool

import "fmt"

// AddressUnavailableError reports that a specifically requested address is
// not in the pool's current availability set.
type AddressUnavailableError struct {
	RouterID string
	PoolName string
	Address  string
}

func (e *AddressUnavailableError) Error() string {
	return fmt.Sprintf("pool: address %s not available in pool %q on router %s",
		e.Address, e.PoolName, e.RouterID)
}

// PoolFullError reports that a pool is at or beyond the critical utilization
// threshold and cannot accept another assignment.
type PoolFullError struct {
	RouterID    string
	PoolName    string
	Utilization float64
}

func (e *PoolFullError) Error() string {
	return fmt.Sprintf("pool: pool %q on router %s is full (%.2f%% utilized)",
		e.PoolName, e.RouterID, e.Utilization)
}

// PoolNotFoundError reports that no pool matched the requested class or name.
type PoolNotFoundError struct {
	RouterID string
	Value    string
}

func (e *PoolNotFoundError) Error() string {
	return fmt.Sprintf("pool: no pool matching %q on router %s", e.Value, e.RouterID)
}
