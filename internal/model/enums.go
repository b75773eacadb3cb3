package model

import "fmt"

// PoolClass is the semantic role of an address pool, independent of the
// pool's router-side name. It gates the service level an account receives.
type PoolClass string

const (
	PoolClassActive     PoolClass = "active"
	PoolClassSuspended  PoolClass = "suspended"
	PoolClassCutService PoolClass = "cut_service"
)

// ParsePoolClass validates and returns a PoolClass.
func ParsePoolClass(s string) (PoolClass, error) {
	switch PoolClass(s) {
	case PoolClassActive, PoolClassSuspended, PoolClassCutService:
		return PoolClass(s), nil
	}
	return "", fmt.Errorf("model: unknown pool class %q", s)
}

// AssignmentStatus is the state of an IPAssignment row.
type AssignmentStatus string

const (
	AssignmentAvailable AssignmentStatus = "available"
	AssignmentAssigned  AssignmentStatus = "assigned"
)

// ParseAssignmentStatus validates and returns an AssignmentStatus.
func ParseAssignmentStatus(s string) (AssignmentStatus, error) {
	switch AssignmentStatus(s) {
	case AssignmentAvailable, AssignmentAssigned:
		return AssignmentStatus(s), nil
	}
	return "", fmt.Errorf("model: unknown assignment status %q", s)
}

// AccountStatus is the state of a SubscriberAccount.
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountDisabled AccountStatus = "disabled"
)

// ParseAccountStatus validates and returns an AccountStatus.
func ParseAccountStatus(s string) (AccountStatus, error) {
	switch AccountStatus(s) {
	case AccountActive, AccountDisabled:
		return AccountStatus(s), nil
	}
	return "", fmt.Errorf("model: unknown account status %q", s)
}
