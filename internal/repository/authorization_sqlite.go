package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/bigkaa/docportal/internal/domain/model"
)

// sqliteAuthorizationRepo — реализация AuthorizationRepository для SQLite.
// Используется в dev-режиме и в тестах без Docker.
type sqliteAuthorizationRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteAuthorizationRepository создаёт хранилище авторизаций поверх SQLite.
// db должен быть открыт через database.OpenSQLite (схема применена,
// внешние ключи включены).
func NewSQLiteAuthorizationRepository(db *sql.DB) (AuthorizationRepository, error) {
	if db == nil {
		return nil, ErrStoreUnavailable
	}
	return &sqliteAuthorizationRepo{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

const liteGrantColumns = `id, owner_username, bucket, document_group_path, is_active, created_at`

// rowScanner — общий интерфейс *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// liteTime читает TIMESTAMP-колонку SQLite. Для RETURNING драйвер не знает
// объявленный тип колонки и отдаёт строку вместо time.Time.
type liteTime struct {
	dest *time.Time
}

func (lt liteTime) Scan(v any) error {
	switch x := v.(type) {
	case time.Time:
		*lt.dest = x
		return nil
	case string:
		return lt.parse(x)
	case []byte:
		return lt.parse(string(x))
	default:
		return fmt.Errorf("неподдерживаемый тип времени %T", v)
	}
}

func (lt liteTime) parse(s string) error {
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			*lt.dest = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("некорректное время %q", s)
}

func scanLiteGrant(row rowScanner) (*model.Grant, error) {
	g := &model.Grant{}
	err := row.Scan(&g.ID, &g.OwnerUsername, &g.Bucket, &g.DocumentGroupPath, &g.IsActive, liteTime{&g.CreatedAt})
	return g, err
}

func litePlaceholder(int) string {
	return "?"
}

func (r *sqliteAuthorizationRepo) GetActiveGrant(ctx context.Context, username string) (*model.Grant, error) {
	grants, err := r.ListActiveGrants(ctx, username)
	if err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return nil, ErrNotFound
	}
	return grants[0], nil
}

func (r *sqliteAuthorizationRepo) ListActiveGrants(ctx context.Context, username string) ([]*model.Grant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT g.id, g.owner_username, g.bucket, g.document_group_path, g.is_active, g.created_at
		FROM grants g
		JOIN identities i ON i.username = g.owner_username
		WHERE g.owner_username = ? AND g.is_active = 1 AND i.is_active = 1
		ORDER BY g.created_at DESC, g.id DESC`, username)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения активных грантов: %w", err)
	}
	defer rows.Close()

	var result []*model.Grant
	for rows.Next() {
		g, err := scanLiteGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования гранта: %w", err)
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

func (r *sqliteAuthorizationRepo) FindGrant(ctx context.Context, username, bucket, path string) (*model.Grant, error) {
	g, err := scanLiteGrant(r.db.QueryRowContext(ctx,
		`SELECT `+liteGrantColumns+` FROM grants
		WHERE owner_username = ? AND bucket = ? AND document_group_path = ?`,
		username, bucket, path))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска гранта: %w", err)
	}
	return g, nil
}

func (r *sqliteAuthorizationRepo) GetGrant(ctx context.Context, id int64) (*model.Grant, error) {
	g, err := scanLiteGrant(r.db.QueryRowContext(ctx,
		`SELECT `+liteGrantColumns+` FROM grants WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения гранта: %w", err)
	}
	return g, nil
}

func (r *sqliteAuthorizationRepo) CreateGrant(ctx context.Context, username, bucket, path string) (*model.Grant, error) {
	if err := validateGrantInput(username, bucket, path); err != nil {
		return nil, err
	}
	username, bucket, path = strings.TrimSpace(username), strings.TrimSpace(bucket), strings.TrimSpace(path)
	now := r.now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка начала транзакции: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck // откат после коммита — no-op

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO identities (username, is_admin, is_active, created_at) VALUES (?, 0, 1, ?)
		ON CONFLICT (username) DO NOTHING`,
		username, now,
	); err != nil {
		return nil, fmt.Errorf("ошибка создания пользователя: %w", err)
	}

	g, err := scanLiteGrant(tx.QueryRowContext(ctx, `
		INSERT INTO grants (owner_username, bucket, document_group_path, is_active, created_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (owner_username, bucket, document_group_path) DO UPDATE
		SET is_active = 1,
			created_at = CASE WHEN grants.is_active = 1 THEN grants.created_at ELSE excluded.created_at END
		RETURNING `+liteGrantColumns,
		username, bucket, path, now))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания гранта: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return g, nil
}

func (r *sqliteAuthorizationRepo) UpdateGrant(ctx context.Context, id int64, patch model.GrantPatch) (*model.Grant, error) {
	if err := validatePatchValues(patch); err != nil {
		return nil, err
	}

	set, args := grantSet(patch, litePlaceholder)
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE grants SET %s WHERE id = ? RETURNING %s`, set, liteGrantColumns)

	g, err := scanLiteGrant(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: у владельца уже есть грант на этот bucket и путь", ErrConflict)
		}
		return nil, fmt.Errorf("ошибка обновления гранта: %w", err)
	}
	return g, nil
}

func (r *sqliteAuthorizationRepo) DeactivateGrant(ctx context.Context, username string) (*model.Grant, error) {
	g, err := scanLiteGrant(r.db.QueryRowContext(ctx, `
		UPDATE grants SET is_active = 0
		WHERE id = (
			SELECT id FROM grants
			WHERE owner_username = ? AND is_active = 1
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		)
		RETURNING `+liteGrantColumns, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка деактивации гранта: %w", err)
	}
	return g, nil
}

func (r *sqliteAuthorizationRepo) DeleteGrant(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM grants WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления гранта: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteAuthorizationRepo) ListAll(ctx context.Context) ([]*model.GrantWithOwner, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT g.id, g.owner_username, g.bucket, g.document_group_path, g.is_active, g.created_at,
			i.is_admin, i.is_active
		FROM grants g
		JOIN identities i ON i.username = g.owner_username
		ORDER BY g.owner_username, g.created_at DESC, g.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка грантов: %w", err)
	}
	defer rows.Close()

	var result []*model.GrantWithOwner
	for rows.Next() {
		item := &model.GrantWithOwner{}
		if err := rows.Scan(
			&item.ID, &item.OwnerUsername, &item.Bucket, &item.DocumentGroupPath,
			&item.IsActive, liteTime{&item.CreatedAt}, &item.OwnerIsAdmin, &item.OwnerIsActive,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования гранта: %w", err)
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

// --- Identities ---

func scanLiteIdentity(row rowScanner) (*model.Identity, error) {
	u := &model.Identity{}
	err := row.Scan(&u.Username, &u.IsAdmin, &u.IsActive, liteTime{&u.CreatedAt})
	return u, err
}

func (r *sqliteAuthorizationRepo) GetIdentity(ctx context.Context, username string) (*model.Identity, error) {
	u, err := scanLiteIdentity(r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE username = ?`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return u, nil
}

func (r *sqliteAuthorizationRepo) ListIdentities(ctx context.Context) ([]*model.Identity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+identityColumns+` FROM identities ORDER BY created_at DESC, username`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка пользователей: %w", err)
	}
	defer rows.Close()

	var result []*model.Identity
	for rows.Next() {
		u, err := scanLiteIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования пользователя: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (r *sqliteAuthorizationRepo) CreateIdentity(ctx context.Context, username string, isAdmin bool) (*model.Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: требуется username", ErrValidation)
	}

	u, err := scanLiteIdentity(r.db.QueryRowContext(ctx, `
		INSERT INTO identities (username, is_admin, is_active, created_at) VALUES (?, ?, 1, ?)
		ON CONFLICT (username) DO UPDATE
		SET is_admin = excluded.is_admin, is_active = 1, created_at = excluded.created_at
		WHERE identities.is_active = 0
		RETURNING `+identityColumns,
		username, isAdmin, r.now()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: пользователь %s уже существует", ErrConflict, username)
		}
		return nil, fmt.Errorf("ошибка создания пользователя: %w", err)
	}
	return u, nil
}

func (r *sqliteAuthorizationRepo) UpdateIdentity(ctx context.Context, username string, patch model.IdentityPatch) (*model.Identity, error) {
	if patch.Empty() {
		return nil, fmt.Errorf("%w: патч не содержит допустимых полей (isAdmin, isActive)", ErrValidation)
	}

	set, args := identitySet(patch, litePlaceholder)
	args = append(args, username)
	query := fmt.Sprintf(`UPDATE identities SET %s WHERE username = ? RETURNING %s`, set, identityColumns)

	u, err := scanLiteIdentity(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка обновления пользователя: %w", err)
	}
	return u, nil
}

func (r *sqliteAuthorizationRepo) DeleteIdentity(ctx context.Context, username string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM identities WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("ошибка удаления пользователя: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteAuthorizationRepo) IsAdmin(ctx context.Context, username string) (bool, error) {
	var isAdmin bool
	err := r.db.QueryRowContext(ctx,
		`SELECT is_admin = 1 AND is_active = 1 FROM identities WHERE username = ?`, username,
	).Scan(&isAdmin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка проверки прав администратора: %w", err)
	}
	return isAdmin, nil
}
