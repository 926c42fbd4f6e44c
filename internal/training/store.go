package training

import "context"

// Catalog is the read-only view of roles, departments, users and catalog
// rules. The engine never writes through it.
type Catalog interface {
	GetUser(ctx context.Context, authID string) (User, error)
	GetRoleDepartment(ctx context.Context, roleID string) (string, error)
	GetRoleAssignments(ctx context.Context, roleID string) ([]ItemKey, error)
	GetDepartmentAssignments(ctx context.Context, departmentID string) ([]ItemKey, error)

	// Bulk reads used to build the per-run rule index and the batch candidate
	// list. ListUsers returns only users with a non-null role or department,
	// narrowed by the filter.
	GetAllRoleAssignments(ctx context.Context) ([]RoleAssignment, error)
	GetAllDepartmentAssignments(ctx context.Context) ([]DepartmentAssignment, error)
	ListUsers(ctx context.Context, filter Filter) ([]User, error)
}

// AssignmentStore owns the user_assignments table. Reconciliation is the only
// writer of it.
type AssignmentStore interface {
	ListActive(ctx context.Context, authID string) ([]UserAssignment, error)
	Get(ctx context.Context, authID string, item ItemKey) (UserAssignment, error)
	// Upsert inserts the row, ignoring a duplicate on the unique
	// (auth_id, item_id, item_type) key so that retries never double-insert.
	Upsert(ctx context.Context, a UserAssignment) error
	// Delete is a no-op when the row is already gone.
	Delete(ctx context.Context, authID string, item ItemKey) error
}

// CompletionStore preserves (auth_id, item) completion history independently
// of the active assignment rows. Records are only ever superseded by a newer
// completed_at, never deleted.
type CompletionStore interface {
	Put(ctx context.Context, rec CompletionRecord) error
	Find(ctx context.Context, authID string, item ItemKey) (CompletionRecord, error)
}

// AuditStore appends immutable reconciliation records.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
}
