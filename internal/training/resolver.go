package training

import (
	"context"
	"errors"
	"time"

	"trainhub.org/internal/obs"
)

// Resolver computes the exact item set a user must have active. With an index
// it serves batch runs from the shared snapshot; without one it reads the
// catalog directly (single-user reconciliation).
type Resolver struct {
	catalog Catalog
	index   *RuleIndex
}

func NewResolver(catalog Catalog, index *RuleIndex) *Resolver {
	return &Resolver{catalog: catalog, index: index}
}

// ExpectedSet returns RoleItems(role) ∪ DepartmentItems(effective department).
// A user with neither role nor department resolves to an empty set; a role or
// department pointing at a missing row contributes nothing (configuration
// gap, warned, never an error).
func (r *Resolver) ExpectedSet(ctx context.Context, u User) (map[ItemKey]struct{}, error) {
	expected := make(map[ItemKey]struct{})

	if u.RoleID != "" {
		if err := r.addRoleItems(ctx, u, expected); err != nil {
			return nil, err
		}
	}

	dept, err := r.EffectiveDepartment(ctx, u)
	if err != nil {
		return nil, err
	}
	if dept != "" {
		if err := r.addDepartmentItems(ctx, u, dept, expected); err != nil {
			return nil, err
		}
	}
	return expected, nil
}

// EffectiveDepartment applies the precedence policy: the user's direct
// department wins; the role's home department is only a fallback.
func (r *Resolver) EffectiveDepartment(ctx context.Context, u User) (string, error) {
	if u.DepartmentID != "" {
		return u.DepartmentID, nil
	}
	if u.RoleID == "" {
		return "", nil
	}
	dept, err := r.catalog.GetRoleDepartment(ctx, u.RoleID)
	if errors.Is(err, ErrNotFound) {
		warnConfigGap(u.AuthID, "role", u.RoleID)
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return dept, nil
}

func (r *Resolver) addRoleItems(ctx context.Context, u User, expected map[ItemKey]struct{}) error {
	if r.index != nil {
		for k := range r.index.RoleItems(u.RoleID) {
			expected[k] = struct{}{}
		}
		return nil
	}
	items, err := r.catalog.GetRoleAssignments(ctx, u.RoleID)
	if errors.Is(err, ErrNotFound) {
		warnConfigGap(u.AuthID, "role", u.RoleID)
		return nil
	}
	if err != nil {
		return err
	}
	for _, k := range items {
		expected[k] = struct{}{}
	}
	return nil
}

func (r *Resolver) addDepartmentItems(ctx context.Context, u User, dept string, expected map[ItemKey]struct{}) error {
	if r.index != nil {
		for k := range r.index.DepartmentItems(dept) {
			expected[k] = struct{}{}
		}
		return nil
	}
	items, err := r.catalog.GetDepartmentAssignments(ctx, dept)
	if errors.Is(err, ErrNotFound) {
		warnConfigGap(u.AuthID, "department", dept)
		return nil
	}
	if err != nil {
		return err
	}
	for _, k := range items {
		expected[k] = struct{}{}
	}
	return nil
}

func warnConfigGap(authID, kind, id string) {
	obs.LogRequest(map[string]any{
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"level":   "warn",
		"msg":     "configuration gap: referenced " + kind + " is missing",
		"auth_id": authID,
		kind:      id,
	})
}
