package training

import (
	"errors"
	"fmt"
	"time"
)

// ItemType is the closed set of trainable item kinds. Keeping it a named
// type (not a free string) makes ItemKey comparisons and store dispatch
// exhaustive.
type ItemType string

const (
	ItemTypeModule   ItemType = "module"
	ItemTypeDocument ItemType = "document"
)

// ParseItemType validates raw input from the API boundary.
func ParseItemType(raw string) (ItemType, error) {
	switch ItemType(raw) {
	case ItemTypeModule:
		return ItemTypeModule, nil
	case ItemTypeDocument:
		return ItemTypeDocument, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidItemType, raw)
	}
}

func (t ItemType) Valid() bool {
	return t == ItemTypeModule || t == ItemTypeDocument
}

// ItemKey identifies one training item. It is the unit the whole engine
// diffs on.
type ItemKey struct {
	ItemID string   `json:"item_id"`
	Type   ItemType `json:"item_type"`
}

func (k ItemKey) String() string { return string(k.Type) + ":" + k.ItemID }

// User carries only what expected-set resolution needs. Empty ids mean the
// column is null.
type User struct {
	AuthID       string `json:"auth_id"`
	RoleID       string `json:"role_id,omitempty"`
	DepartmentID string `json:"department_id,omitempty"`
}

// Role has a home department used as a fallback when the user carries no
// direct department.
type Role struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DepartmentID string `json:"department_id,omitempty"`
}

type Department struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RoleAssignment is a catalog rule: anyone holding the role must have the item.
type RoleAssignment struct {
	RoleID string  `json:"role_id"`
	Item   ItemKey `json:"item"`
}

// DepartmentAssignment is a catalog rule: anyone in the department must have
// the item.
type DepartmentAssignment struct {
	DepartmentID string  `json:"department_id"`
	Item         ItemKey `json:"item"`
}

// UserAssignment is one active requirement row. Deleted outright on REMOVE;
// its terminal state is snapshotted into a CompletionRecord first.
type UserAssignment struct {
	ID          string     `json:"id"`
	AuthID      string     `json:"auth_id"`
	Item        ItemKey    `json:"item"`
	AssignedAt  time.Time  `json:"assigned_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CompletionRecord survives removal of the active assignment row so that a
// remove-then-re-add cycle does not erase completion history.
type CompletionRecord struct {
	AuthID      string    `json:"auth_id"`
	Item        ItemKey   `json:"item"`
	CompletedAt time.Time `json:"completed_at"`
}

// AuditEntry is the immutable record of one reconciliation operation.
type AuditEntry struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id,omitempty"`
	Trigger     string    `json:"trigger"`
	Actor       string    `json:"actor,omitempty"`
	AuthID      string    `json:"auth_id,omitempty"`
	BeforeCount int       `json:"before_count"`
	AfterCount  int       `json:"after_count"`
	Added       []ItemKey `json:"added,omitempty"`
	Removed     []ItemKey `json:"removed,omitempty"`
	Errors      int       `json:"errors,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Plan is the reconciler's classification of one user's items.
type Plan struct {
	AuthID string    `json:"auth_id"`
	Keep   []ItemKey `json:"keep"`
	Add    []ItemKey `json:"add"`
	Remove []ItemKey `json:"remove"`
}

// Empty reports whether executing the plan would change anything.
func (p Plan) Empty() bool { return len(p.Add) == 0 && len(p.Remove) == 0 }

// UserResult summarises one user's reconciliation for callers and the UI.
type UserResult struct {
	AuthID  string `json:"auth_id"`
	Kept    int    `json:"kept"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
	Errors  int    `json:"errors"`
}

// RunSummary aggregates a batch run. Always produced, even when some users
// failed entirely.
type RunSummary struct {
	RunID          string        `json:"run_id"`
	UsersProcessed int           `json:"users_processed"`
	Kept           int           `json:"kept"`
	Added          int           `json:"added"`
	Removed        int           `json:"removed"`
	Errors         int           `json:"errors"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
}

func (s *RunSummary) merge(r UserResult) {
	s.UsersProcessed++
	s.Kept += r.Kept
	s.Added += r.Added
	s.Removed += r.Removed
	s.Errors += r.Errors
}

// Filter narrows a batch run to one role or department. Zero value means all
// users with a non-null role or department.
type Filter struct {
	RoleID       string `json:"role_id,omitempty"`
	DepartmentID string `json:"department_id,omitempty"`
}

func (f Filter) IsZero() bool { return f.RoleID == "" && f.DepartmentID == "" }

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidItemType = errors.New("invalid item type (must be \"module\" or \"document\")")
)
