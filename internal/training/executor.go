package training

import (
	"context"
	"errors"
	"time"

	"trainhub.org/internal/ids"
	"trainhub.org/internal/obs"
)

// Executor applies one user's plan. Removals run before additions so a
// completion is snapshotted before any window in which the new row does not
// exist yet; with idempotent upserts this ordering is a nicety, not a
// transactional guarantee.
type Executor struct {
	assignments AssignmentStore
	completions CompletionStore
	auditLog    AuditStore
	now         func() time.Time
}

func NewExecutor(assignments AssignmentStore, completions CompletionStore, auditLog AuditStore, now func() time.Time) *Executor {
	if now == nil {
		now = time.Now
	}
	return &Executor{
		assignments: assignments,
		completions: completions,
		auditLog:    auditLog,
		now:         now,
	}
}

// Apply executes the plan with continue-on-error semantics: a failing item is
// counted and logged, the rest of the plan still runs, and the caller decides
// whether to retry the whole user. Re-applying the same plan against the same
// store state produces no duplicates and no errors.
func (e *Executor) Apply(ctx context.Context, plan Plan, runID, trigger, actor string) UserResult {
	res := UserResult{AuthID: plan.AuthID, Kept: len(plan.Keep)}
	before := len(plan.Keep) + len(plan.Remove)

	var added, removed []ItemKey

	for _, key := range plan.Remove {
		row, err := e.assignments.Get(ctx, plan.AuthID, key)
		switch {
		case errors.Is(err, ErrNotFound):
			// Already gone: a prior partially-failed run removed it.
			res.Removed++
			removed = append(removed, key)
			continue
		case err != nil:
			res.Errors++
			warnItemError(plan.AuthID, key, "read assignment", err)
			continue
		}

		if row.CompletedAt != nil {
			rec := CompletionRecord{AuthID: plan.AuthID, Item: key, CompletedAt: *row.CompletedAt}
			if err := e.completions.Put(ctx, rec); err != nil {
				// The completion snapshot must land before the row is deleted;
				// leave the row for a retry rather than lose history.
				res.Errors++
				warnItemError(plan.AuthID, key, "archive completion", err)
				continue
			}
		}

		if err := e.assignments.Delete(ctx, plan.AuthID, key); err != nil {
			res.Errors++
			warnItemError(plan.AuthID, key, "delete assignment", err)
			continue
		}
		res.Removed++
		removed = append(removed, key)
	}

	for _, key := range plan.Add {
		var completedAt *time.Time
		rec, err := e.completions.Find(ctx, plan.AuthID, key)
		switch {
		case err == nil:
			t := rec.CompletedAt
			completedAt = &t
		case errors.Is(err, ErrNotFound):
			// First assignment of this item for this user.
		default:
			// Adding with a null completed_at here could clobber real history
			// on the next overwrite; skip the item and let a retry pick it up.
			res.Errors++
			warnItemError(plan.AuthID, key, "read completion history", err)
			continue
		}

		a := UserAssignment{
			ID:          ids.New(),
			AuthID:      plan.AuthID,
			Item:        key,
			AssignedAt:  e.now().UTC(),
			CompletedAt: completedAt,
		}
		if err := e.assignments.Upsert(ctx, a); err != nil {
			res.Errors++
			warnItemError(plan.AuthID, key, "insert assignment", err)
			continue
		}
		res.Added++
		added = append(added, key)
	}

	if !plan.Empty() || res.Errors > 0 {
		entry := &AuditEntry{
			ID:          ids.New(),
			RunID:       runID,
			Trigger:     trigger,
			Actor:       actor,
			AuthID:      plan.AuthID,
			BeforeCount: before,
			AfterCount:  res.Kept + res.Added,
			Added:       added,
			Removed:     removed,
			Errors:      res.Errors,
			CreatedAt:   e.now().UTC(),
		}
		if err := e.auditLog.Append(ctx, entry); err != nil {
			res.Errors++
			warnItemError(plan.AuthID, ItemKey{}, "append audit entry", err)
		}
	}

	obs.ObserveReconcileUser(res.Kept, res.Added, res.Removed, res.Errors)
	return res
}

func warnItemError(authID string, key ItemKey, op string, err error) {
	entry := map[string]any{
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"level":   "warn",
		"msg":     "reconcile item failed: " + op,
		"auth_id": authID,
		"error":   err.Error(),
	}
	if key.ItemID != "" {
		entry["item"] = key.String()
	}
	obs.LogRequest(entry)
}
