package training

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Catalog, AssignmentStore, CompletionStore and
// AuditStore in process. It backs the unit tests and lets the service run
// without Postgres in development.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]User
	roles       map[string]Role
	departments map[string]Department
	roleRules   map[string]map[ItemKey]struct{}
	deptRules   map[string]map[ItemKey]struct{}
	assignments map[string]map[ItemKey]UserAssignment
	completions map[string]map[ItemKey]CompletionRecord
	audit       []AuditEntry
}

var (
	_ Catalog         = (*MemoryStore)(nil)
	_ AssignmentStore = (*MemoryStore)(nil)
	_ CompletionStore = (*MemoryStore)(nil)
	_ AuditStore      = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]User),
		roles:       make(map[string]Role),
		departments: make(map[string]Department),
		roleRules:   make(map[string]map[ItemKey]struct{}),
		deptRules:   make(map[string]map[ItemKey]struct{}),
		assignments: make(map[string]map[ItemKey]UserAssignment),
		completions: make(map[string]map[ItemKey]CompletionRecord),
	}
}

// --- catalog mutation helpers (the out-of-scope CRUD surface) ---

func (m *MemoryStore) PutUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.AuthID] = u
}

func (m *MemoryStore) PutRole(r Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[r.ID] = r
}

func (m *MemoryStore) PutDepartment(d Department) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.departments[d.ID] = d
}

func (m *MemoryStore) PutRoleAssignment(roleID string, item ItemKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.roleRules[roleID]
	if !ok {
		set = make(map[ItemKey]struct{})
		m.roleRules[roleID] = set
	}
	set[item] = struct{}{}
}

func (m *MemoryStore) RemoveRoleAssignment(roleID string, item ItemKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roleRules[roleID], item)
}

func (m *MemoryStore) PutDepartmentAssignment(departmentID string, item ItemKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.deptRules[departmentID]
	if !ok {
		set = make(map[ItemKey]struct{})
		m.deptRules[departmentID] = set
	}
	set[item] = struct{}{}
}

func (m *MemoryStore) RemoveDepartmentAssignment(departmentID string, item ItemKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deptRules[departmentID], item)
}

// MarkCompleted stamps an active assignment row, simulating the training
// delivery path that is out of this engine's scope.
func (m *MemoryStore) MarkCompleted(authID string, item ItemKey, at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.assignments[authID]
	if !ok {
		return false
	}
	row, ok := rows[item]
	if !ok {
		return false
	}
	t := at.UTC()
	row.CompletedAt = &t
	rows[item] = row
	return true
}

// AuditEntries returns a copy of the appended audit trail (tests).
func (m *MemoryStore) AuditEntries() []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}

// --- Catalog ---

func (m *MemoryStore) GetUser(ctx context.Context, authID string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[authID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryStore) GetRoleDepartment(ctx context.Context, roleID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[roleID]
	if !ok {
		return "", ErrNotFound
	}
	return r.DepartmentID, nil
}

func (m *MemoryStore) GetRoleAssignments(ctx context.Context, roleID string) ([]ItemKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.roles[roleID]; !ok {
		return nil, ErrNotFound
	}
	return keysOf(m.roleRules[roleID]), nil
}

func (m *MemoryStore) GetDepartmentAssignments(ctx context.Context, departmentID string) ([]ItemKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.departments[departmentID]; !ok {
		return nil, ErrNotFound
	}
	return keysOf(m.deptRules[departmentID]), nil
}

func (m *MemoryStore) GetAllRoleAssignments(ctx context.Context) ([]RoleAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []RoleAssignment
	for roleID, set := range m.roleRules {
		for k := range set {
			out = append(out, RoleAssignment{RoleID: roleID, Item: k})
		}
	}
	return out, nil
}

func (m *MemoryStore) GetAllDepartmentAssignments(ctx context.Context) ([]DepartmentAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []DepartmentAssignment
	for deptID, set := range m.deptRules {
		for k := range set {
			out = append(out, DepartmentAssignment{DepartmentID: deptID, Item: k})
		}
	}
	return out, nil
}

func (m *MemoryStore) ListUsers(ctx context.Context, filter Filter) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []User
	for _, u := range m.users {
		if u.RoleID == "" && u.DepartmentID == "" {
			continue
		}
		if filter.RoleID != "" && u.RoleID != filter.RoleID {
			continue
		}
		if filter.DepartmentID != "" && !m.inDepartmentLocked(u, filter.DepartmentID) {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// inDepartmentLocked mirrors the effective-department policy: a direct
// department matches outright; the role's home department only counts when
// the user has no direct department.
func (m *MemoryStore) inDepartmentLocked(u User, departmentID string) bool {
	if u.DepartmentID != "" {
		return u.DepartmentID == departmentID
	}
	if u.RoleID == "" {
		return false
	}
	return m.roles[u.RoleID].DepartmentID == departmentID
}

// --- AssignmentStore ---

func (m *MemoryStore) ListActive(ctx context.Context, authID string) ([]UserAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []UserAssignment
	for _, row := range m.assignments[authID] {
		out = append(out, row)
	}
	return out, nil
}

func (m *MemoryStore) Get(ctx context.Context, authID string, item ItemKey) (UserAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.assignments[authID][item]
	if !ok {
		return UserAssignment{}, ErrNotFound
	}
	return row, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, a UserAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.assignments[a.AuthID]
	if !ok {
		rows = make(map[ItemKey]UserAssignment)
		m.assignments[a.AuthID] = rows
	}
	// Duplicate key keeps the existing row, matching the SQL
	// "on conflict do nothing" semantics.
	if _, exists := rows[a.Item]; exists {
		return nil
	}
	rows[a.Item] = a
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, authID string, item ItemKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assignments[authID], item)
	return nil
}

// --- CompletionStore ---

func (m *MemoryStore) Put(ctx context.Context, rec CompletionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs, ok := m.completions[rec.AuthID]
	if !ok {
		recs = make(map[ItemKey]CompletionRecord)
		m.completions[rec.AuthID] = recs
	}
	// Overwrite by recency only; history is never regressed.
	if existing, ok := recs[rec.Item]; ok && existing.CompletedAt.After(rec.CompletedAt) {
		return nil
	}
	recs[rec.Item] = rec
	return nil
}

func (m *MemoryStore) Find(ctx context.Context, authID string, item ItemKey) (CompletionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.completions[authID][item]
	if !ok {
		return CompletionRecord{}, ErrNotFound
	}
	return rec, nil
}

// --- AuditStore ---

func (m *MemoryStore) Append(ctx context.Context, entry *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, *entry)
	return nil
}

func keysOf(set map[ItemKey]struct{}) []ItemKey {
	if len(set) == 0 {
		return nil
	}
	out := make([]ItemKey, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
