package training

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	TriggerUser  = "training.reconcile.user"
	TriggerBatch = "training.reconcile.batch"
)

// Service is the engine's entry point for the UI/API layer. All dependencies
// are injected; there is no module-level state.
type Service struct {
	catalog     Catalog
	assignments AssignmentStore
	completions CompletionStore
	auditLog    AuditStore

	workers   int
	batchSize int
	timeout   time.Duration
	now       func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithWorkers bounds batch-run parallelism.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithBatchSize sets how many users are scheduled per progress batch.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithBatchTimeout stops a run from scheduling new users after the given
// duration; in-flight users still finish.
func WithBatchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(catalog Catalog, assignments AssignmentStore, completions CompletionStore, auditLog AuditStore, opts ...Option) *Service {
	s := &Service{
		catalog:     catalog,
		assignments: assignments,
		completions: completions,
		auditLog:    auditLog,
		workers:     defaultWorkers,
		batchSize:   defaultBatchSize,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReconcileUser synchronously reconciles one user, typically right after a
// role/department edit. The actor is recorded in the audit trail.
func (s *Service) ReconcileUser(ctx context.Context, authID, actor string) (UserResult, error) {
	authID = strings.TrimSpace(authID)
	if authID == "" {
		return UserResult{}, fmt.Errorf("%w: auth_id is required", ErrInvalidInput)
	}

	user, err := s.catalog.GetUser(ctx, authID)
	if err != nil {
		return UserResult{AuthID: authID}, err
	}

	resolver := NewResolver(s.catalog, nil)
	executor := NewExecutor(s.assignments, s.completions, s.auditLog, s.now)
	res := runPipeline(ctx, resolver, s.assignments, executor, user, uuid.NewString(), TriggerUser, actor)
	return res, nil
}

// ReconcileAll runs a backfill over every user with a non-null role or
// department, optionally narrowed to one role or department. Safe to re-run:
// an interrupted or repeated run only completes the remaining work.
func (s *Service) ReconcileAll(ctx context.Context, filter Filter, actor string) (RunSummary, error) {
	executor := NewExecutor(s.assignments, s.completions, s.auditLog, s.now)
	orch := NewOrchestrator(s.catalog, s.assignments, executor, s.workers, s.batchSize, s.timeout, s.now)
	return orch.Run(ctx, filter, TriggerBatch, actor)
}

// GetCompletionHistory returns the preserved completion time for the key, or
// nil when the user never completed the item. Absence is not an error.
func (s *Service) GetCompletionHistory(ctx context.Context, authID, itemID string, itemType ItemType) (*time.Time, error) {
	authID = strings.TrimSpace(authID)
	itemID = strings.TrimSpace(itemID)
	if authID == "" || itemID == "" {
		return nil, fmt.Errorf("%w: auth_id and item_id are required", ErrInvalidInput)
	}
	if !itemType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidItemType, itemType)
	}

	rec, err := s.completions.Find(ctx, authID, ItemKey{ItemID: itemID, Type: itemType})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	t := rec.CompletedAt
	return &t, nil
}

// ListAssignments exposes the user's active rows for the admin UI.
func (s *Service) ListAssignments(ctx context.Context, authID string) ([]UserAssignment, error) {
	authID = strings.TrimSpace(authID)
	if authID == "" {
		return nil, fmt.Errorf("%w: auth_id is required", ErrInvalidInput)
	}
	return s.assignments.ListActive(ctx, authID)
}
