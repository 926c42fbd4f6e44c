package training

import "context"

// RuleIndex is a read-only snapshot of the catalog rule tables, built once
// per batch run and shared across workers. It is never mutated after
// BuildRuleIndex returns.
type RuleIndex struct {
	roles       map[string]map[ItemKey]struct{}
	departments map[string]map[ItemKey]struct{}
}

// BuildRuleIndex loads all role and department rules in two bulk reads.
func BuildRuleIndex(ctx context.Context, catalog Catalog) (*RuleIndex, error) {
	roleRules, err := catalog.GetAllRoleAssignments(ctx)
	if err != nil {
		return nil, err
	}
	deptRules, err := catalog.GetAllDepartmentAssignments(ctx)
	if err != nil {
		return nil, err
	}

	ix := &RuleIndex{
		roles:       make(map[string]map[ItemKey]struct{}),
		departments: make(map[string]map[ItemKey]struct{}),
	}
	for _, r := range roleRules {
		set, ok := ix.roles[r.RoleID]
		if !ok {
			set = make(map[ItemKey]struct{})
			ix.roles[r.RoleID] = set
		}
		set[r.Item] = struct{}{}
	}
	for _, d := range deptRules {
		set, ok := ix.departments[d.DepartmentID]
		if !ok {
			set = make(map[ItemKey]struct{})
			ix.departments[d.DepartmentID] = set
		}
		set[d.Item] = struct{}{}
	}
	return ix, nil
}

// RoleItems returns the rule set for a role. An unknown role yields an empty
// contribution, indistinguishable from a role with no rules.
func (ix *RuleIndex) RoleItems(roleID string) map[ItemKey]struct{} {
	return ix.roles[roleID]
}

// DepartmentItems returns the rule set for a department.
func (ix *RuleIndex) DepartmentItems(departmentID string) map[ItemKey]struct{} {
	return ix.departments[departmentID]
}
