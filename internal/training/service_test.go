package training

import (
	"context"
	"errors"
	"testing"
	"time"
)

// seedOrg builds the catalog used by the end-to-end service tests:
//
//	role r1 (home d2): modules A, B
//	role r2:           module E
//	dept d1:           module C, document F
//	dept d2:           module G
func seedOrg(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	store.PutDepartment(Department{ID: "d1", Name: "Clinical"})
	store.PutDepartment(Department{ID: "d2", Name: "Facilities"})
	store.PutRole(Role{ID: "r1", Name: "Nurse", DepartmentID: "d2"})
	store.PutRole(Role{ID: "r2", Name: "Technician"})
	store.PutRoleAssignment("r1", key("A", ItemTypeModule))
	store.PutRoleAssignment("r1", key("B", ItemTypeModule))
	store.PutRoleAssignment("r2", key("E", ItemTypeModule))
	store.PutDepartmentAssignment("d1", key("C", ItemTypeModule))
	store.PutDepartmentAssignment("d1", key("F", ItemTypeDocument))
	store.PutDepartmentAssignment("d2", key("G", ItemTypeModule))
	return store
}

func newTestService(store *MemoryStore, opts ...Option) *Service {
	return NewService(store, store, store, store, opts...)
}

func activeKeys(t *testing.T, store *MemoryStore, authID string) map[ItemKey]struct{} {
	t.Helper()
	rows, err := store.ListActive(context.Background(), authID)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	out := make(map[ItemKey]struct{}, len(rows))
	for _, r := range rows {
		out[r.Item] = struct{}{}
	}
	return out
}

func TestReconcileUserAssignsRoleAndDepartmentItems(t *testing.T) {
	store := seedOrg(t)
	store.PutUser(User{AuthID: "u-1", RoleID: "r1", DepartmentID: "d1"})
	svc := newTestService(store)

	res, err := svc.ReconcileUser(context.Background(), "u-1", "hr-admin")
	if err != nil {
		t.Fatalf("ReconcileUser: %v", err)
	}
	if res.Added != 4 || res.Removed != 0 || res.Errors != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	got := activeKeys(t, store, "u-1")
	for _, want := range []ItemKey{
		key("A", ItemTypeModule), key("B", ItemTypeModule),
		key("C", ItemTypeModule), key("F", ItemTypeDocument),
	} {
		if _, ok := got[want]; !ok {
			t.Fatalf("missing %v in %v", want, got)
		}
	}
	// The role's home department (d2) must not leak past the direct one.
	if _, ok := got[key("G", ItemTypeModule)]; ok {
		t.Fatalf("home-department item leaked: %v", got)
	}
}

func TestReconcileUserConvergesAfterRoleChange(t *testing.T) {
	store := seedOrg(t)
	store.PutUser(User{AuthID: "u-1", RoleID: "r1", DepartmentID: "d1"})
	svc := newTestService(store)
	ctx := context.Background()

	if _, err := svc.ReconcileUser(ctx, "u-1", ""); err != nil {
		t.Fatalf("initial reconcile: %v", err)
	}

	store.PutUser(User{AuthID: "u-1", RoleID: "r2", DepartmentID: "d1"})
	res, err := svc.ReconcileUser(ctx, "u-1", "")
	if err != nil {
		t.Fatalf("reconcile after role change: %v", err)
	}
	if res.Added != 1 || res.Removed != 2 || res.Kept != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}

	got := activeKeys(t, store, "u-1")
	want := setOf(key("E", ItemTypeModule), key("C", ItemTypeModule), key("F", ItemTypeDocument))
	if len(got) != len(want) {
		t.Fatalf("active = %v, want %v", got, want)
	}
	for k := range want {
		if _, ok := got[k]; !ok {
			t.Fatalf("missing %v", k)
		}
	}
}

func TestReconcileUserIsIdempotent(t *testing.T) {
	store := seedOrg(t)
	store.PutUser(User{AuthID: "u-1", RoleID: "r1", DepartmentID: "d1"})
	svc := newTestService(store)
	ctx := context.Background()

	if _, err := svc.ReconcileUser(ctx, "u-1", ""); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	res, err := svc.ReconcileUser(ctx, "u-1", "")
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if res.Added != 0 || res.Removed != 0 || res.Kept != 4 {
		t.Fatalf("second run must be a no-op: %+v", res)
	}
	if entries := store.AuditEntries(); len(entries) != 1 {
		t.Fatalf("no-op run must not append audit entries, got %d", len(entries))
	}
}

func TestCompletionSurvivesRoleRoundTrip(t *testing.T) {
	store := seedOrg(t)
	store.PutUser(User{AuthID: "u-1", RoleID: "r1"})
	svc := newTestService(store)
	ctx := context.Background()
	completed := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	moduleA := key("A", ItemTypeModule)

	if _, err := svc.ReconcileUser(ctx, "u-1", ""); err != nil {
		t.Fatalf("initial reconcile: %v", err)
	}
	if !store.MarkCompleted("u-1", moduleA, completed) {
		t.Fatal("MarkCompleted failed")
	}

	// r1 -> r2: module A is removed.
	store.PutUser(User{AuthID: "u-1", RoleID: "r2"})
	if _, err := svc.ReconcileUser(ctx, "u-1", ""); err != nil {
		t.Fatalf("reconcile to r2: %v", err)
	}
	if _, err := store.Get(ctx, "u-1", moduleA); !errors.Is(err, ErrNotFound) {
		t.Fatalf("module A should be removed, got %v", err)
	}

	// r2 -> r1: module A comes back with its completion restored.
	store.PutUser(User{AuthID: "u-1", RoleID: "r1"})
	if _, err := svc.ReconcileUser(ctx, "u-1", ""); err != nil {
		t.Fatalf("reconcile back to r1: %v", err)
	}
	row, err := store.Get(ctx, "u-1", moduleA)
	if err != nil {
		t.Fatalf("module A not restored: %v", err)
	}
	if row.CompletedAt == nil || !row.CompletedAt.Equal(completed) {
		t.Fatalf("completion lost across role round trip: %v", row.CompletedAt)
	}
}

func TestReconcileUserValidation(t *testing.T) {
	store := seedOrg(t)
	svc := newTestService(store)
	ctx := context.Background()

	if _, err := svc.ReconcileUser(ctx, "  ", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.ReconcileUser(ctx, "nobody", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetCompletionHistory(t *testing.T) {
	store := seedOrg(t)
	svc := newTestService(store)
	ctx := context.Background()
	completed := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	moduleA := key("A", ItemTypeModule)

	if err := store.Put(ctx, CompletionRecord{AuthID: "u-1", Item: moduleA, CompletedAt: completed}); err != nil {
		t.Fatalf("seed completion: %v", err)
	}

	got, err := svc.GetCompletionHistory(ctx, "u-1", "A", ItemTypeModule)
	if err != nil {
		t.Fatalf("GetCompletionHistory: %v", err)
	}
	if got == nil || !got.Equal(completed) {
		t.Fatalf("got %v, want %v", got, completed)
	}

	// Never completed: nil, not an error.
	got, err = svc.GetCompletionHistory(ctx, "u-1", "B", ItemTypeModule)
	if err != nil {
		t.Fatalf("absent completion: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for never-completed item, got %v", got)
	}

	if _, err := svc.GetCompletionHistory(ctx, "u-1", "A", ItemType("video")); !errors.Is(err, ErrInvalidItemType) {
		t.Fatalf("expected ErrInvalidItemType, got %v", err)
	}
	if _, err := svc.GetCompletionHistory(ctx, "", "A", ItemTypeModule); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestListAssignments(t *testing.T) {
	store := seedOrg(t)
	store.PutUser(User{AuthID: "u-1", RoleID: "r2"})
	svc := newTestService(store)
	ctx := context.Background()

	if _, err := svc.ReconcileUser(ctx, "u-1", ""); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	rows, err := svc.ListAssignments(ctx, "u-1")
	if err != nil {
		t.Fatalf("ListAssignments: %v", err)
	}
	if len(rows) != 1 || rows[0].Item != key("E", ItemTypeModule) {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if _, err := svc.ListAssignments(ctx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
