package training

import (
	"context"
	"testing"
)

func seedCatalog(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	store.PutDepartment(Department{ID: "d1", Name: "Clinical"})
	store.PutDepartment(Department{ID: "d2", Name: "Facilities"})
	store.PutRole(Role{ID: "r1", Name: "Nurse", DepartmentID: "d2"})
	store.PutRoleAssignment("r1", key("A", ItemTypeModule))
	store.PutDepartmentAssignment("d1", key("C", ItemTypeModule))
	store.PutDepartmentAssignment("d2", key("F", ItemTypeDocument))
	return store
}

func TestExpectedSetIsRoleUnionDepartment(t *testing.T) {
	store := seedCatalog(t)
	r := NewResolver(store, nil)

	got, err := r.ExpectedSet(context.Background(), User{AuthID: "u-1", RoleID: "r1", DepartmentID: "d1"})
	if err != nil {
		t.Fatalf("ExpectedSet: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %v", got)
	}
	if _, ok := got[key("A", ItemTypeModule)]; !ok {
		t.Fatalf("missing role item: %v", got)
	}
	if _, ok := got[key("C", ItemTypeModule)]; !ok {
		t.Fatalf("missing department item: %v", got)
	}
}

func TestDirectDepartmentTakesPrecedence(t *testing.T) {
	store := seedCatalog(t)
	r := NewResolver(store, nil)

	// Role r1's home department is d2; the user's own d1 must win.
	got, err := r.ExpectedSet(context.Background(), User{AuthID: "u-1", RoleID: "r1", DepartmentID: "d1"})
	if err != nil {
		t.Fatalf("ExpectedSet: %v", err)
	}
	if _, ok := got[key("F", ItemTypeDocument)]; ok {
		t.Fatalf("home-department item leaked into expected set: %v", got)
	}
	if _, ok := got[key("C", ItemTypeModule)]; !ok {
		t.Fatalf("direct-department item missing: %v", got)
	}
}

func TestRoleHomeDepartmentIsFallback(t *testing.T) {
	store := seedCatalog(t)
	r := NewResolver(store, nil)

	got, err := r.ExpectedSet(context.Background(), User{AuthID: "u-1", RoleID: "r1"})
	if err != nil {
		t.Fatalf("ExpectedSet: %v", err)
	}
	if _, ok := got[key("F", ItemTypeDocument)]; !ok {
		t.Fatalf("expected fallback to role home department: %v", got)
	}
}

func TestNoRoleNoDepartmentResolvesEmpty(t *testing.T) {
	store := seedCatalog(t)
	r := NewResolver(store, nil)

	got, err := r.ExpectedSet(context.Background(), User{AuthID: "u-1"})
	if err != nil {
		t.Fatalf("ExpectedSet: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty set, got %v", got)
	}
}

func TestMissingRoleFailsOpen(t *testing.T) {
	store := seedCatalog(t)
	r := NewResolver(store, nil)

	got, err := r.ExpectedSet(context.Background(), User{AuthID: "u-1", RoleID: "deleted-role", DepartmentID: "d1"})
	if err != nil {
		t.Fatalf("missing role must not be an error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only the department contribution, got %v", got)
	}
}

func TestMissingDepartmentFailsOpen(t *testing.T) {
	store := seedCatalog(t)
	r := NewResolver(store, nil)

	got, err := r.ExpectedSet(context.Background(), User{AuthID: "u-1", RoleID: "r1", DepartmentID: "deleted-dept"})
	if err != nil {
		t.Fatalf("missing department must not be an error: %v", err)
	}
	if _, ok := got[key("A", ItemTypeModule)]; !ok || len(got) != 1 {
		t.Fatalf("expected only the role contribution, got %v", got)
	}
}

func TestResolverUsesIndexSnapshot(t *testing.T) {
	store := seedCatalog(t)
	index, err := BuildRuleIndex(context.Background(), store)
	if err != nil {
		t.Fatalf("BuildRuleIndex: %v", err)
	}
	r := NewResolver(store, index)

	// Catalog edits after the snapshot are invisible until the next run.
	store.PutRoleAssignment("r1", key("Z", ItemTypeDocument))

	got, err := r.ExpectedSet(context.Background(), User{AuthID: "u-1", RoleID: "r1", DepartmentID: "d1"})
	if err != nil {
		t.Fatalf("ExpectedSet: %v", err)
	}
	if _, ok := got[key("Z", ItemTypeDocument)]; ok {
		t.Fatalf("index snapshot should not see later edits: %v", got)
	}
}
