package training

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"trainhub.org/internal/obs"
)

const (
	defaultWorkers   = 4
	defaultBatchSize = 100
)

// Orchestrator drives the per-user pipeline across a candidate set: the full
// backfill population or the subset affected by a catalog edit. Users are
// independent units of work, so they run on a bounded worker pool; all
// mutation is scoped to each user's own rows.
type Orchestrator struct {
	catalog     Catalog
	assignments AssignmentStore
	executor    *Executor
	workers     int
	batchSize   int
	timeout     time.Duration
	now         func() time.Time
}

func NewOrchestrator(catalog Catalog, assignments AssignmentStore, executor *Executor, workers, batchSize int, timeout time.Duration, now func() time.Time) *Orchestrator {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		catalog:     catalog,
		assignments: assignments,
		executor:    executor,
		workers:     workers,
		batchSize:   batchSize,
		timeout:     timeout,
		now:         now,
	}
}

// Run reconciles every candidate user and always returns a summary, even when
// some users failed entirely. Cancellation and the per-run timeout stop
// scheduling between users; in-flight users are left to finish so no user is
// ever interrupted mid-plan.
func (o *Orchestrator) Run(ctx context.Context, filter Filter, trigger, actor string) (RunSummary, error) {
	summary := RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: o.now().UTC(),
	}

	users, err := o.catalog.ListUsers(ctx, filter)
	if err != nil {
		return summary, err
	}
	users = dedupeUsers(users)

	index, err := BuildRuleIndex(ctx, o.catalog)
	if err != nil {
		return summary, err
	}
	resolver := NewResolver(o.catalog, index)

	schedCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		schedCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	// Workers get a detached context: cancellation stops new scheduling but
	// never interrupts a user whose plan is being applied.
	workCtx := context.WithoutCancel(ctx)

	var mu sync.Mutex
	g := &errgroup.Group{}
	g.SetLimit(o.workers)

	scheduled := 0
batches:
	for start := 0; start < len(users); start += o.batchSize {
		end := start + o.batchSize
		if end > len(users) {
			end = len(users)
		}
		for _, u := range users[start:end] {
			if schedCtx.Err() != nil {
				break batches
			}
			u := u
			scheduled++
			g.Go(func() error {
				res := runPipeline(workCtx, resolver, o.assignments, o.executor, u, summary.RunID, trigger, actor)
				mu.Lock()
				summary.merge(res)
				mu.Unlock()
				return nil
			})
		}
		obs.LogRequest(map[string]any{
			"ts":        time.Now().UTC().Format(time.RFC3339Nano),
			"level":     "info",
			"msg":       "reconcile batch scheduled",
			"run_id":    summary.RunID,
			"scheduled": scheduled,
			"total":     len(users),
		})
	}
	_ = g.Wait()

	summary.Duration = o.now().UTC().Sub(summary.StartedAt)
	obs.ObserveReconcileRun(summary.Duration.Seconds())
	return summary, nil
}

// runPipeline is the shared per-user unit of work: resolve, read actual,
// diff, execute. A failure before execution surfaces as one user-level error
// in the summary rather than aborting the run.
func runPipeline(ctx context.Context, resolver *Resolver, assignments AssignmentStore, executor *Executor, u User, runID, trigger, actor string) UserResult {
	expected, err := resolver.ExpectedSet(ctx, u)
	if err != nil {
		warnItemError(u.AuthID, ItemKey{}, "resolve expected set", err)
		return UserResult{AuthID: u.AuthID, Errors: 1}
	}
	rows, err := assignments.ListActive(ctx, u.AuthID)
	if err != nil {
		warnItemError(u.AuthID, ItemKey{}, "load active assignments", err)
		return UserResult{AuthID: u.AuthID, Errors: 1}
	}
	plan := Diff(u.AuthID, expected, ActualByKey(rows))
	return executor.Apply(ctx, plan, runID, trigger, actor)
}

// dedupeUsers keeps the first occurrence of each auth id so one run never
// schedules the same user twice.
func dedupeUsers(users []User) []User {
	seen := make(map[string]struct{}, len(users))
	out := users[:0]
	for _, u := range users {
		if _, ok := seen[u.AuthID]; ok {
			continue
		}
		seen[u.AuthID] = struct{}{}
		out = append(out, u)
	}
	return out
}
