// Package membership models the lifecycle of organization and group
// memberships: a (user, container) pair is absent, active, or soft-deleted.
// Soft-deleted rows keep their history and are restored in place when the
// user is added again.
package membership

import (
	"errors"
	"time"
)

var (
	ErrAlreadyActive = errors.New("membership: already active")
	ErrNotActive     = errors.New("membership: not active")
)

// State is one of Active, Deleted or Absent.
type State interface {
	isState()
}

type Active struct {
	Role string
}

type Deleted struct {
	Role      string
	DeletedAt time.Time
}

type Absent struct{}

func (Active) isState()  {}
func (Deleted) isState() {}
func (Absent) isState()  {}

// FromRow builds the state of an existing row. A nil deletedAt means active.
func FromRow(role string, deletedAt *time.Time) State {
	if deletedAt != nil {
		return Deleted{Role: role, DeletedAt: deletedAt.UTC()}
	}
	return Active{Role: role}
}

// ActiveRole returns the role only when the state is Active.
func ActiveRole(state State) (string, bool) {
	active, ok := state.(Active)
	if !ok {
		return "", false
	}
	return active.Role, true
}

type Operation int

const (
	OperationInsert Operation = iota + 1
	OperationRestore
	OperationSoftDelete
	OperationUpdateRole
)

func (o Operation) String() string {
	switch o {
	case OperationInsert:
		return "insert"
	case OperationRestore:
		return "restore"
	case OperationSoftDelete:
		return "soft_delete"
	case OperationUpdateRole:
		return "update_role"
	default:
		return "unknown"
	}
}

// Transition is the write a store must perform to move a pair from one
// state to Next.
type Transition struct {
	Operation Operation
	Next      State
}

// Add computes the transition for adding a user with role. Re-adding a
// soft-deleted membership restores the existing row with the new role.
func Add(current State, role string) (Transition, error) {
	switch current.(type) {
	case Active:
		return Transition{}, ErrAlreadyActive
	case Deleted:
		return Transition{Operation: OperationRestore, Next: Active{Role: role}}, nil
	default:
		return Transition{Operation: OperationInsert, Next: Active{Role: role}}, nil
	}
}

func Remove(current State, now time.Time) (Transition, error) {
	active, ok := current.(Active)
	if !ok {
		return Transition{}, ErrNotActive
	}
	return Transition{
		Operation: OperationSoftDelete,
		Next:      Deleted{Role: active.Role, DeletedAt: now.UTC()},
	}, nil
}

func ChangeRole(current State, role string) (Transition, error) {
	if _, ok := current.(Active); !ok {
		return Transition{}, ErrNotActive
	}
	return Transition{Operation: OperationUpdateRole, Next: Active{Role: role}}, nil
}
