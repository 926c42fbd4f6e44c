package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"trainhub.org/internal/training"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store implements every persistence interface the engine depends on.
type Store struct {
	db *sql.DB
}

var (
	_ training.Catalog         = (*Store)(nil)
	_ training.AssignmentStore = (*Store)(nil)
	_ training.CompletionStore = (*Store)(nil)
	_ training.AuditStore      = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (tests, shared pools).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// --- training.Catalog ---

func (s *Store) GetUser(ctx context.Context, authID string) (training.User, error) {
	var (
		u      training.User
		roleID sql.NullString
		deptID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select auth_id, role_id, department_id from users where auth_id = $1
	`, authID).Scan(&u.AuthID, &roleID, &deptID)
	if errors.Is(err, sql.ErrNoRows) {
		return training.User{}, training.ErrNotFound
	}
	if err != nil {
		return training.User{}, err
	}
	if roleID.Valid {
		u.RoleID = roleID.String
	}
	if deptID.Valid {
		u.DepartmentID = deptID.String
	}
	return u, nil
}

func (s *Store) GetRoleDepartment(ctx context.Context, roleID string) (string, error) {
	var deptID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select department_id from roles where id = $1
	`, roleID).Scan(&deptID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", training.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if !deptID.Valid {
		return "", nil
	}
	return deptID.String, nil
}

func (s *Store) GetRoleAssignments(ctx context.Context, roleID string) ([]training.ItemKey, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, training.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.listItemKeys(ctx, `
		select item_id, item_type from role_assignments where role_id = $1
	`, roleID)
}

func (s *Store) GetDepartmentAssignments(ctx context.Context, departmentID string) ([]training.ItemKey, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `select 1 from departments where id = $1`, departmentID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, training.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.listItemKeys(ctx, `
		select item_id, item_type from department_assignments where department_id = $1
	`, departmentID)
}

func (s *Store) GetAllRoleAssignments(ctx context.Context) ([]training.RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select role_id, item_id, item_type from role_assignments
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []training.RoleAssignment
	for rows.Next() {
		var (
			ra      training.RoleAssignment
			rawType string
		)
		if err := rows.Scan(&ra.RoleID, &ra.Item.ItemID, &rawType); err != nil {
			return nil, err
		}
		if ra.Item.Type, err = training.ParseItemType(rawType); err != nil {
			return nil, fmt.Errorf("role_assignments row: %w", err)
		}
		result = append(result, ra)
	}
	return result, rows.Err()
}

func (s *Store) GetAllDepartmentAssignments(ctx context.Context) ([]training.DepartmentAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select department_id, item_id, item_type from department_assignments
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []training.DepartmentAssignment
	for rows.Next() {
		var (
			da      training.DepartmentAssignment
			rawType string
		)
		if err := rows.Scan(&da.DepartmentID, &da.Item.ItemID, &rawType); err != nil {
			return nil, err
		}
		if da.Item.Type, err = training.ParseItemType(rawType); err != nil {
			return nil, fmt.Errorf("department_assignments row: %w", err)
		}
		result = append(result, da)
	}
	return result, rows.Err()
}

func (s *Store) ListUsers(ctx context.Context, filter training.Filter) ([]training.User, error) {
	var (
		conds = []string{"(u.role_id is not null or u.department_id is not null)"}
		args  []any
		idx   = 1
	)
	if filter.RoleID != "" {
		conds = append(conds, fmt.Sprintf("u.role_id = $%d", idx))
		args = append(args, filter.RoleID)
		idx++
	}
	if filter.DepartmentID != "" {
		// Direct department wins; the role's home department only counts for
		// users without one (effective-department policy).
		conds = append(conds, fmt.Sprintf("(u.department_id = $%d or (u.department_id is null and r.department_id = $%d))", idx, idx))
		args = append(args, filter.DepartmentID)
		idx++
	}

	query := fmt.Sprintf(`
		select u.auth_id, u.role_id, u.department_id
		from users u
		left join roles r on r.id = u.role_id
		where %s
		order by u.auth_id
	`, strings.Join(conds, " and "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []training.User
	for rows.Next() {
		var (
			u      training.User
			roleID sql.NullString
			deptID sql.NullString
		)
		if err := rows.Scan(&u.AuthID, &roleID, &deptID); err != nil {
			return nil, err
		}
		if roleID.Valid {
			u.RoleID = roleID.String
		}
		if deptID.Valid {
			u.DepartmentID = deptID.String
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (s *Store) listItemKeys(ctx context.Context, query string, args ...any) ([]training.ItemKey, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []training.ItemKey
	for rows.Next() {
		var (
			key     training.ItemKey
			rawType string
		)
		if err := rows.Scan(&key.ItemID, &rawType); err != nil {
			return nil, err
		}
		if key.Type, err = training.ParseItemType(rawType); err != nil {
			return nil, err
		}
		result = append(result, key)
	}
	return result, rows.Err()
}

// --- helpers ---

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
