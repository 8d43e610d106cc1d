package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"tadbir/api/internal/perm"
)

// ErrDuplicate marks a unique-constraint violation (username, category name,
// custom title).
var ErrDuplicate = errors.New("duplicate record")

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Users

const userColumns = `id, username, password_hash, full_name, phone, title, role, is_active, permissions`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	var role string
	var permsJSON []byte
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.FullName,
		&user.Phone, &user.Title, &role, &user.IsActive, &permsJSON)
	if err != nil {
		return User{}, err
	}
	user.Role = perm.Normalize(role)
	if len(permsJSON) > 0 {
		if err := json.Unmarshal(permsJSON, &user.Permissions); err != nil {
			return User{}, fmt.Errorf("decode permissions: %w", err)
		}
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY full_name`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=$1`, username)
	return scanUser(row)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	return scanUser(row)
}

// SaveUser rewrites the full record, matching the save-everything contract of
// the original gateway.
func (s *PostgresStore) SaveUser(ctx context.Context, user User) error {
	permsJSON, err := json.Marshal(user.Permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, full_name, phone, title, role, is_active, permissions, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			username=EXCLUDED.username,
			password_hash=EXCLUDED.password_hash,
			full_name=EXCLUDED.full_name,
			phone=EXCLUDED.phone,
			title=EXCLUDED.title,
			role=EXCLUDED.role,
			is_active=EXCLUDED.is_active,
			permissions=EXCLUDED.permissions,
			updated_at=NOW()
	`, user.ID, user.Username, user.PasswordHash, user.FullName, user.Phone,
		user.Title, string(user.Role), user.IsActive, permsJSON)
	if isUniqueViolation(err) {
		return fmt.Errorf("save user %s: %w", user.Username, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserPermissions(ctx context.Context, userID string, perms perm.Permissions, title string, role perm.Role) error {
	permsJSON, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET permissions=$2, title=$3, role=$4, updated_at=NOW() WHERE id=$1
	`, userID, permsJSON, title, string(role))
	if err != nil {
		return fmt.Errorf("update user permissions: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---------------------------------------------------------------------------
// Refresh sessions (Postgres fallback when Redis is not configured)

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.username, u.password_hash, u.full_name, u.phone, u.title, u.role, u.is_active, u.permissions
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	row := s.db.QueryRowContext(ctx, query, tokenHash)
	return scanUser(row)
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Categories

func (s *PostgresStore) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, parent_id, name, type FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	items := make([]Category, 0)
	for rows.Next() {
		var item Category
		var catType string
		if err := rows.Scan(&item.ID, &item.ParentID, &item.Name, &catType); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		item.Type = perm.Section(catType)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCategory(ctx context.Context, categoryID string) (Category, error) {
	var item Category
	var catType string
	err := s.db.QueryRowContext(ctx, `SELECT id, parent_id, name, type FROM categories WHERE id=$1`, categoryID).
		Scan(&item.ID, &item.ParentID, &item.Name, &catType)
	if err != nil {
		return Category{}, err
	}
	item.Type = perm.Section(catType)
	return item, nil
}

func (s *PostgresStore) SaveCategory(ctx context.Context, cat Category) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, parent_id, name, type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET parent_id=EXCLUDED.parent_id, name=EXCLUDED.name, type=EXCLUDED.type
	`, cat.ID, cat.ParentID, cat.Name, string(cat.Type))
	if isUniqueViolation(err) {
		return fmt.Errorf("save category %s: %w", cat.Name, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("save category: %w", err)
	}
	return nil
}

// DeleteCategory is a no-op for the two synthetic roots. Resolutions under a
// deleted category stay in the table but become unreachable through listing,
// so an admin can still reap them one by one.
func (s *PostgresStore) DeleteCategory(ctx context.Context, categoryID string) error {
	if IsRootCategory(categoryID) {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id=$1`, categoryID)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Resolutions

const resolutionColumns = `id, parent_id, title, description, workgroup, grade, lesson, executor,
	needs_date, execution_date, execution_term, discussion_time, images, is_approved, created_at,
	progress, executor_claim, executor_claim_date, is_completed, last_completed_at,
	reminder_type, reminder_start_date, reminder_end_date`

func scanResolution(row interface{ Scan(...any) error }) (Resolution, error) {
	var item Resolution
	var imagesJSON []byte
	var reminderType string
	err := row.Scan(&item.ID, &item.ParentID, &item.Title, &item.Description, &item.Workgroup,
		&item.Grade, &item.Lesson, &item.Executor, &item.NeedsDate, &item.ExecutionDate,
		&item.ExecutionTerm, &item.DiscussionTime, &imagesJSON, &item.IsApproved, &item.CreatedAt,
		&item.Progress, &item.ExecutorClaim, &item.ExecutorClaimDate, &item.IsCompleted,
		&item.LastCompletedAt, &reminderType, &item.ReminderStart, &item.ReminderEnd)
	if err != nil {
		return Resolution{}, err
	}
	item.ReminderType = normalizeReminderType(reminderType)
	if len(imagesJSON) > 0 {
		if err := json.Unmarshal(imagesJSON, &item.Images); err != nil {
			return Resolution{}, fmt.Errorf("decode images: %w", err)
		}
	}
	return item, nil
}

// ListResolutions returns all resolutions, or only those under parentID if
// non-empty. Archive records never leave this method.
func (s *PostgresStore) ListResolutions(ctx context.Context, parentID string) ([]Resolution, error) {
	query := `SELECT ` + resolutionColumns + ` FROM resolutions WHERE lesson <> $1`
	args := []any{pdfLessonMarker}
	if parentID != "" {
		query += ` AND parent_id = $2`
		args = append(args, parentID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list resolutions: %w", err)
	}
	defer rows.Close()

	items := make([]Resolution, 0)
	for rows.Next() {
		item, err := scanResolution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resolution: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolutions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetResolution(ctx context.Context, resolutionID string) (Resolution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resolutionColumns+` FROM resolutions WHERE id=$1`, resolutionID)
	return scanResolution(row)
}

func (s *PostgresStore) GetResolutionsByIDs(ctx context.Context, ids []string) ([]Resolution, error) {
	if len(ids) == 0 {
		return []Resolution{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resolutionColumns+` FROM resolutions WHERE id = ANY($1) AND lesson <> $2`,
		ids, pdfLessonMarker)
	if err != nil {
		return nil, fmt.Errorf("get resolutions by ids: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]Resolution, len(ids))
	for rows.Next() {
		item, err := scanResolution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resolution: %w", err)
		}
		byID[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolutions: %w", err)
	}

	// Preserve the caller's (ranking) order.
	items := make([]Resolution, 0, len(byID))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// SaveResolution rewrites the full record. Progress is clamped to [0,100] at
// this boundary; the original store persisted whatever it was handed.
func (s *PostgresStore) SaveResolution(ctx context.Context, item Resolution) error {
	if item.Progress < 0 {
		item.Progress = 0
	}
	if item.Progress > 100 {
		item.Progress = 100
	}
	if item.Images == nil {
		item.Images = []string{}
	}
	if item.ReminderType == "" {
		item.ReminderType = "none"
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	imagesJSON, err := json.Marshal(item.Images)
	if err != nil {
		return fmt.Errorf("encode images: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resolutions (id, parent_id, title, description, workgroup, grade, lesson, executor,
			needs_date, execution_date, execution_term, discussion_time, images, is_approved, created_at,
			progress, executor_claim, executor_claim_date, is_completed, last_completed_at,
			reminder_type, reminder_start_date, reminder_end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		ON CONFLICT (id) DO UPDATE SET
			parent_id=EXCLUDED.parent_id,
			title=EXCLUDED.title,
			description=EXCLUDED.description,
			workgroup=EXCLUDED.workgroup,
			grade=EXCLUDED.grade,
			lesson=EXCLUDED.lesson,
			executor=EXCLUDED.executor,
			needs_date=EXCLUDED.needs_date,
			execution_date=EXCLUDED.execution_date,
			execution_term=EXCLUDED.execution_term,
			discussion_time=EXCLUDED.discussion_time,
			images=EXCLUDED.images,
			is_approved=EXCLUDED.is_approved,
			created_at=EXCLUDED.created_at,
			progress=EXCLUDED.progress,
			executor_claim=EXCLUDED.executor_claim,
			executor_claim_date=EXCLUDED.executor_claim_date,
			is_completed=EXCLUDED.is_completed,
			last_completed_at=EXCLUDED.last_completed_at,
			reminder_type=EXCLUDED.reminder_type,
			reminder_start_date=EXCLUDED.reminder_start_date,
			reminder_end_date=EXCLUDED.reminder_end_date
	`, item.ID, item.ParentID, item.Title, item.Description, item.Workgroup, item.Grade,
		item.Lesson, item.Executor, item.NeedsDate, item.ExecutionDate, item.ExecutionTerm,
		item.DiscussionTime, imagesJSON, item.IsApproved, item.CreatedAt, item.Progress,
		item.ExecutorClaim, item.ExecutorClaimDate, item.IsCompleted, item.LastCompletedAt,
		string(item.ReminderType), item.ReminderStart, item.ReminderEnd)
	if err != nil {
		return fmt.Errorf("save resolution: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteResolution(ctx context.Context, resolutionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM resolutions WHERE id=$1`, resolutionID)
	if err != nil {
		return fmt.Errorf("delete resolution: %w", err)
	}
	return nil
}

// SearchResolutions is the database-side fallback search: case-insensitive
// substring match over title and description, scoped to categories of the
// requested type plus that type's synthetic root, excluding archive records.
func (s *PostgresStore) SearchResolutions(ctx context.Context, sectionType perm.Section, query string) ([]Resolution, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resolutionColumns+`
		FROM resolutions
		WHERE lesson <> $1
			AND (parent_id IN (SELECT id FROM categories WHERE type = $2) OR parent_id = $3)
			AND (title ILIKE $4 OR description ILIKE $4)
		ORDER BY created_at DESC
	`, pdfLessonMarker, string(sectionType), sectionRootID(sectionType), pattern)
	if err != nil {
		return nil, fmt.Errorf("search resolutions: %w", err)
	}
	defer rows.Close()

	items := make([]Resolution, 0)
	for rows.Next() {
		item, err := scanResolution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resolution: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resolutions: %w", err)
	}
	return items, nil
}

func sectionRootID(sectionType perm.Section) string {
	switch sectionType {
	case perm.SectionPrograms:
		return ProgramsRootID
	case perm.SectionCouncil:
		return CouncilRootID
	default:
		return ""
	}
}

// ---------------------------------------------------------------------------
// Custom titles

func (s *PostgresStore) ListCustomTitles(ctx context.Context) ([]CustomTitle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title FROM custom_titles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list custom titles: %w", err)
	}
	defer rows.Close()

	items := make([]CustomTitle, 0)
	for rows.Next() {
		var item CustomTitle
		if err := rows.Scan(&item.ID, &item.Title); err != nil {
			return nil, fmt.Errorf("scan custom title: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate custom titles: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SaveCustomTitle(ctx context.Context, title string) (CustomTitle, error) {
	var item CustomTitle
	err := s.db.QueryRowContext(ctx, `INSERT INTO custom_titles (title) VALUES ($1) RETURNING id, title`, title).
		Scan(&item.ID, &item.Title)
	if isUniqueViolation(err) {
		return CustomTitle{}, fmt.Errorf("save custom title %s: %w", title, ErrDuplicate)
	}
	if err != nil {
		return CustomTitle{}, fmt.Errorf("save custom title: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateCustomTitle(ctx context.Context, id int64, newTitle string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE custom_titles SET title=$2 WHERE id=$1`, id, newTitle)
	if isUniqueViolation(err) {
		return fmt.Errorf("update custom title %s: %w", newTitle, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("update custom title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteCustomTitle(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM custom_titles WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete custom title: %w", err)
	}
	return nil
}
