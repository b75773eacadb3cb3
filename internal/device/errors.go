package device

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned when the router cannot be reached or the call
// times out. The router-side effect, if any, did not commit, so the
// enclosing workflow is safe to retry from scratch.
var ErrUnavailable = errors.New("device unavailable")

// NotFoundError reports that a named or id-keyed object does not exist on
// the router.
type NotFoundError struct {
	RouterID string
	Kind     string // "profile", "pool", "account", "session"
	Value    string // the id or name that was looked up
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("device: %s %q not found on router %s", e.Kind, e.Value, e.RouterID)
}

// AlreadyExistsError reports that a create collided with an existing object.
type AlreadyExistsError struct {
	RouterID string
	Kind     string
	Value    string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("device: %s %q already exists on router %s", e.Kind, e.Value, e.RouterID)
}
