package provision

import "fmt"

// ValidationError rejects bad input before any external call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("provision: invalid %s: %s", e.Field, e.Reason)
}

// ConflictError reports that provisioning would duplicate a resource: an
// account already exists for the (client, router) pair, or the username is
// taken.
type ConflictError struct {
	RouterID string
	ClientID int64
	Username string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("provision: conflict on router %s for client %d: %s",
		e.RouterID, e.ClientID, e.Reason)
}

// AccountNotFoundError reports that no account exists for the client on the
// router.
type AccountNotFoundError struct {
	RouterID string
	ClientID int64
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("provision: no account for client %d on router %s",
		e.ClientID, e.RouterID)
}

// PartialFailureError reports the known cross-system gap: the router-side
// write succeeded but the local write failed. The router id, router-assigned
// account id and username are carried so the sync reconciler (or an
// operator) can converge the orphaned router record.
type PartialFailureError struct {
	RouterID  string
	AccountID string
	Username  string
	Err       error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("provision: account %q (id %s) exists on router %s but local write failed: %v",
		e.Username, e.AccountID, e.RouterID, e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }

// UsernameExhaustedError reports that every date-suffixed username
// candidate collided.
type UsernameExhaustedError struct {
	RouterID string
	Base     string
}

func (e *UsernameExhaustedError) Error() string {
	return fmt.Sprintf("provision: no free username derived from %q on router %s",
		e.Base, e.RouterID)
}
