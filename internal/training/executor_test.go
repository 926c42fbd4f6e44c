package training

import (
	"context"
	"errors"
	"testing"
	"time"
)

// flakyAssignments fails selected operations once to exercise
// continue-on-error and retry paths.
type flakyAssignments struct {
	AssignmentStore
	failUpsert map[ItemKey]int
	failDelete map[ItemKey]int
}

func (f *flakyAssignments) Upsert(ctx context.Context, a UserAssignment) error {
	if n := f.failUpsert[a.Item]; n > 0 {
		f.failUpsert[a.Item] = n - 1
		return errors.New("injected upsert failure")
	}
	return f.AssignmentStore.Upsert(ctx, a)
}

func (f *flakyAssignments) Delete(ctx context.Context, authID string, item ItemKey) error {
	if n := f.failDelete[item]; n > 0 {
		f.failDelete[item] = n - 1
		return errors.New("injected delete failure")
	}
	return f.AssignmentStore.Delete(ctx, authID, item)
}

type failingCompletions struct {
	CompletionStore
	failPut bool
}

func (f *failingCompletions) Put(ctx context.Context, rec CompletionRecord) error {
	if f.failPut {
		return errors.New("injected completion failure")
	}
	return f.CompletionStore.Put(ctx, rec)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestApplySnapshotsCompletionBeforeDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	completed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	moduleD := key("D", ItemTypeModule)

	if err := store.Upsert(ctx, UserAssignment{ID: "as-1", AuthID: "u-1", Item: moduleD, AssignedAt: completed.Add(-time.Hour)}); err != nil {
		t.Fatalf("seed assignment: %v", err)
	}
	if !store.MarkCompleted("u-1", moduleD, completed) {
		t.Fatal("MarkCompleted failed")
	}

	exec := NewExecutor(store, store, store, nil)
	res := exec.Apply(ctx, Plan{AuthID: "u-1", Remove: []ItemKey{moduleD}}, "run-1", TriggerUser, "tester")

	if res.Removed != 1 || res.Errors != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := store.Get(ctx, "u-1", moduleD); !errors.Is(err, ErrNotFound) {
		t.Fatalf("assignment row should be gone, got %v", err)
	}
	rec, err := store.Find(ctx, "u-1", moduleD)
	if err != nil {
		t.Fatalf("completion record missing: %v", err)
	}
	if !rec.CompletedAt.Equal(completed) {
		t.Fatalf("completion time = %v, want %v", rec.CompletedAt, completed)
	}
}

func TestApplyRestoresCompletionOnAdd(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	completed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	moduleA := key("A", ItemTypeModule)

	if err := store.Put(ctx, CompletionRecord{AuthID: "u-1", Item: moduleA, CompletedAt: completed}); err != nil {
		t.Fatalf("seed completion: %v", err)
	}

	exec := NewExecutor(store, store, store, nil)
	res := exec.Apply(ctx, Plan{AuthID: "u-1", Add: []ItemKey{moduleA}}, "run-1", TriggerUser, "tester")
	if res.Added != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	row, err := store.Get(ctx, "u-1", moduleA)
	if err != nil {
		t.Fatalf("assignment missing: %v", err)
	}
	if row.CompletedAt == nil || !row.CompletedAt.Equal(completed) {
		t.Fatalf("completed_at not restored: %v", row.CompletedAt)
	}
}

func TestApplyIsIdempotentOnRetry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	moduleA := key("A", ItemTypeModule)
	moduleB := key("B", ItemTypeModule)

	if err := store.Upsert(ctx, UserAssignment{ID: "as-b", AuthID: "u-1", Item: moduleB, AssignedAt: time.Now()}); err != nil {
		t.Fatalf("seed assignment: %v", err)
	}

	plan := Plan{AuthID: "u-1", Add: []ItemKey{moduleA}, Remove: []ItemKey{moduleB}}
	exec := NewExecutor(store, store, store, nil)

	first := exec.Apply(ctx, plan, "run-1", TriggerUser, "tester")
	second := exec.Apply(ctx, plan, "run-1", TriggerUser, "tester")

	if first.Errors != 0 || second.Errors != 0 {
		t.Fatalf("retry produced errors: %+v %+v", first, second)
	}
	rows, err := store.ListActive(ctx, "u-1")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(rows) != 1 || rows[0].Item != moduleA {
		t.Fatalf("unexpected active rows: %+v", rows)
	}
}

func TestApplyContinuesAfterItemFailure(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	moduleA := key("A", ItemTypeModule)
	moduleB := key("B", ItemTypeModule)
	docC := key("C", ItemTypeDocument)

	flaky := &flakyAssignments{
		AssignmentStore: store,
		failUpsert:      map[ItemKey]int{moduleA: 1},
	}

	exec := NewExecutor(flaky, store, store, nil)
	res := exec.Apply(ctx, Plan{AuthID: "u-1", Add: []ItemKey{moduleA, moduleB, docC}}, "run-1", TriggerUser, "tester")

	if res.Errors != 1 {
		t.Fatalf("expected 1 error, got %+v", res)
	}
	if res.Added != 2 {
		t.Fatalf("remaining items should still apply: %+v", res)
	}

	// Retrying the same plan completes the missed item.
	res = exec.Apply(ctx, Plan{AuthID: "u-1", Add: []ItemKey{moduleA, moduleB, docC}}, "run-1", TriggerUser, "tester")
	if res.Errors != 0 {
		t.Fatalf("retry should succeed: %+v", res)
	}
	rows, _ := store.ListActive(ctx, "u-1")
	if len(rows) != 3 {
		t.Fatalf("expected 3 active rows, got %d", len(rows))
	}
}

func TestApplyKeepsRowWhenSnapshotFails(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	completed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	moduleD := key("D", ItemTypeModule)

	if err := store.Upsert(ctx, UserAssignment{ID: "as-1", AuthID: "u-1", Item: moduleD, AssignedAt: completed.Add(-time.Hour)}); err != nil {
		t.Fatalf("seed assignment: %v", err)
	}
	store.MarkCompleted("u-1", moduleD, completed)

	exec := NewExecutor(store, &failingCompletions{CompletionStore: store, failPut: true}, store, nil)
	res := exec.Apply(ctx, Plan{AuthID: "u-1", Remove: []ItemKey{moduleD}}, "run-1", TriggerUser, "tester")

	if res.Errors != 1 || res.Removed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	// The row must survive so a retry can archive it.
	if _, err := store.Get(ctx, "u-1", moduleD); err != nil {
		t.Fatalf("assignment row must remain until archived: %v", err)
	}
}

func TestApplyWritesAuditEntry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	moduleA := key("A", ItemTypeModule)
	moduleB := key("B", ItemTypeModule)

	if err := store.Upsert(ctx, UserAssignment{ID: "as-b", AuthID: "u-1", Item: moduleB, AssignedAt: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("seed assignment: %v", err)
	}

	exec := NewExecutor(store, store, store, fixedClock(now))
	exec.Apply(ctx, Plan{AuthID: "u-1", Add: []ItemKey{moduleA}, Remove: []ItemKey{moduleB}}, "run-7", TriggerBatch, "hr-admin")

	entries := store.AuditEntries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	e := entries[0]
	if e.RunID != "run-7" || e.Trigger != TriggerBatch || e.Actor != "hr-admin" || e.AuthID != "u-1" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.BeforeCount != 1 || e.AfterCount != 1 {
		t.Fatalf("before/after = %d/%d", e.BeforeCount, e.AfterCount)
	}
	if len(e.Added) != 1 || e.Added[0] != moduleA {
		t.Fatalf("added = %v", e.Added)
	}
	if len(e.Removed) != 1 || e.Removed[0] != moduleB {
		t.Fatalf("removed = %v", e.Removed)
	}
	if !e.CreatedAt.Equal(now) {
		t.Fatalf("created_at = %v", e.CreatedAt)
	}
}

func TestApplyEmptyPlanWritesNoAudit(t *testing.T) {
	store := NewMemoryStore()
	exec := NewExecutor(store, store, store, nil)
	res := exec.Apply(context.Background(), Plan{AuthID: "u-1", Keep: []ItemKey{key("A", ItemTypeModule)}}, "run-1", TriggerUser, "")
	if res.Kept != 1 || res.Errors != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(store.AuditEntries()) != 0 {
		t.Fatal("no-op plan must not write audit entries")
	}
}
