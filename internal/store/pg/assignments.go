package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"trainhub.org/internal/training"
)

// --- training.AssignmentStore ---

func (s *Store) ListActive(ctx context.Context, authID string) ([]training.UserAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, auth_id, item_id, item_type, assigned_at, completed_at
		from user_assignments
		where auth_id = $1
		order by item_type, item_id
	`, authID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []training.UserAssignment
	for rows.Next() {
		a, err := scanAssignment(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *Store) Get(ctx context.Context, authID string, item training.ItemKey) (training.UserAssignment, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, auth_id, item_id, item_type, assigned_at, completed_at
		from user_assignments
		where auth_id = $1 and item_id = $2 and item_type = $3
	`, authID, item.ItemID, string(item.Type))
	a, err := scanAssignment(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return training.UserAssignment{}, training.ErrNotFound
	}
	if err != nil {
		return training.UserAssignment{}, err
	}
	return a, nil
}

// Upsert inserts the row; a conflict on the unique (auth_id, item_id,
// item_type) key keeps the existing row, so retried plans never duplicate.
func (s *Store) Upsert(ctx context.Context, a training.UserAssignment) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_assignments (id, auth_id, item_id, item_type, assigned_at, completed_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (auth_id, item_id, item_type) do nothing
	`, a.ID, a.AuthID, a.Item.ItemID, string(a.Item.Type), a.AssignedAt, a.CompletedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return training.ErrNotFound
		}
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

// Delete is a no-op when the row is already gone.
func (s *Store) Delete(ctx context.Context, authID string, item training.ItemKey) error {
	_, err := s.db.ExecContext(ctx, `
		delete from user_assignments
		where auth_id = $1 and item_id = $2 and item_type = $3
	`, authID, item.ItemID, string(item.Type))
	return err
}

// --- training.CompletionStore ---

// Put records a completion, superseding an older completed_at only. History
// never regresses and is never deleted.
func (s *Store) Put(ctx context.Context, rec training.CompletionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_training_completions (auth_id, item_id, item_type, completed_at)
		values ($1, $2, $3, $4)
		on conflict (auth_id, item_id, item_type) do update
		set completed_at = excluded.completed_at
		where excluded.completed_at > user_training_completions.completed_at
	`, rec.AuthID, rec.Item.ItemID, string(rec.Item.Type), rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("upsert completion: %w", err)
	}
	return nil
}

func (s *Store) Find(ctx context.Context, authID string, item training.ItemKey) (training.CompletionRecord, error) {
	rec := training.CompletionRecord{AuthID: authID, Item: item}
	err := s.db.QueryRowContext(ctx, `
		select completed_at from user_training_completions
		where auth_id = $1 and item_id = $2 and item_type = $3
	`, authID, item.ItemID, string(item.Type)).Scan(&rec.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return training.CompletionRecord{}, training.ErrNotFound
	}
	if err != nil {
		return training.CompletionRecord{}, err
	}
	return rec, nil
}

// --- training.AuditStore ---

func (s *Store) Append(ctx context.Context, entry *training.AuditEntry) error {
	added, err := json.Marshal(entry.Added)
	if err != nil {
		return fmt.Errorf("marshal added keys: %w", err)
	}
	removed, err := json.Marshal(entry.Removed)
	if err != nil {
		return fmt.Errorf("marshal removed keys: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_log (id, run_id, trigger_source, actor, auth_id, before_count, after_count, added, removed, errors, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, entry.ID, nullIfEmpty(entry.RunID), entry.Trigger, nullIfEmpty(entry.Actor), nullIfEmpty(entry.AuthID),
		entry.BeforeCount, entry.AfterCount, added, removed, entry.Errors, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func scanAssignment(scan func(...any) error) (training.UserAssignment, error) {
	var (
		a         training.UserAssignment
		rawType   string
		completed sql.NullTime
	)
	if err := scan(&a.ID, &a.AuthID, &a.Item.ItemID, &rawType, &a.AssignedAt, &completed); err != nil {
		return training.UserAssignment{}, err
	}
	itemType, err := training.ParseItemType(rawType)
	if err != nil {
		return training.UserAssignment{}, fmt.Errorf("user_assignments row: %w", err)
	}
	a.Item.Type = itemType
	if completed.Valid {
		t := completed.Time
		a.CompletedAt = &t
	}
	return a, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
