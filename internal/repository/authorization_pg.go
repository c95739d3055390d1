package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/docportal/internal/domain/model"
)

// pgAuthorizationRepo — реализация AuthorizationRepository для PostgreSQL.
type pgAuthorizationRepo struct {
	db DBTX
	tx *TxRunner
}

// NewPostgresAuthorizationRepository создаёт хранилище авторизаций поверх pgxpool.
func NewPostgresAuthorizationRepository(pool *pgxpool.Pool) (AuthorizationRepository, error) {
	if pool == nil {
		return nil, ErrStoreUnavailable
	}
	return &pgAuthorizationRepo{db: pool, tx: NewTxRunner(pool)}, nil
}

const grantColumns = `g.id, g.owner_username, g.bucket, g.document_group_path, g.is_active, g.created_at`

// scanGrant сканирует строку результата в модель Grant.
func scanGrant(row pgx.Row) (*model.Grant, error) {
	g := &model.Grant{}
	err := row.Scan(&g.ID, &g.OwnerUsername, &g.Bucket, &g.DocumentGroupPath, &g.IsActive, &g.CreatedAt)
	return g, err
}

func pgPlaceholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (r *pgAuthorizationRepo) GetActiveGrant(ctx context.Context, username string) (*model.Grant, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM grants g
		JOIN identities i ON i.username = g.owner_username
		WHERE g.owner_username = $1 AND g.is_active AND i.is_active
		ORDER BY g.created_at DESC, g.id DESC
		LIMIT 1`, grantColumns)

	g, err := scanGrant(r.db.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения активного гранта: %w", err)
	}
	return g, nil
}

func (r *pgAuthorizationRepo) ListActiveGrants(ctx context.Context, username string) ([]*model.Grant, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM grants g
		JOIN identities i ON i.username = g.owner_username
		WHERE g.owner_username = $1 AND g.is_active AND i.is_active
		ORDER BY g.created_at DESC, g.id DESC`, grantColumns)

	rows, err := r.db.Query(ctx, query, username)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения активных грантов: %w", err)
	}
	defer rows.Close()

	var result []*model.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования гранта: %w", err)
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

func (r *pgAuthorizationRepo) FindGrant(ctx context.Context, username, bucket, path string) (*model.Grant, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM grants g
		WHERE g.owner_username = $1 AND g.bucket = $2 AND g.document_group_path = $3`, grantColumns)

	g, err := scanGrant(r.db.QueryRow(ctx, query, username, bucket, path))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска гранта: %w", err)
	}
	return g, nil
}

func (r *pgAuthorizationRepo) GetGrant(ctx context.Context, id int64) (*model.Grant, error) {
	query := fmt.Sprintf(`SELECT %s FROM grants g WHERE g.id = $1`, grantColumns)
	g, err := scanGrant(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения гранта: %w", err)
	}
	return g, nil
}

func (r *pgAuthorizationRepo) CreateGrant(ctx context.Context, username, bucket, path string) (*model.Grant, error) {
	if err := validateGrantInput(username, bucket, path); err != nil {
		return nil, err
	}
	username, bucket, path = strings.TrimSpace(username), strings.TrimSpace(bucket), strings.TrimSpace(path)

	var grant *model.Grant
	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO identities (username) VALUES ($1) ON CONFLICT (username) DO NOTHING`,
			username,
		); err != nil {
			return fmt.Errorf("ошибка создания пользователя: %w", err)
		}

		// Активный дубликат возвращается как есть, неактивный — реактивируется
		// с обновлением created_at.
		query := `
			INSERT INTO grants AS g (owner_username, bucket, document_group_path)
			VALUES ($1, $2, $3)
			ON CONFLICT (owner_username, bucket, document_group_path) DO UPDATE
			SET is_active = TRUE,
				created_at = CASE WHEN g.is_active THEN g.created_at ELSE now() END
			RETURNING ` + grantColumns

		g, err := scanGrant(tx.QueryRow(ctx, query, username, bucket, path))
		if err != nil {
			return fmt.Errorf("ошибка создания гранта: %w", err)
		}
		grant = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

func (r *pgAuthorizationRepo) UpdateGrant(ctx context.Context, id int64, patch model.GrantPatch) (*model.Grant, error) {
	if err := validatePatchValues(patch); err != nil {
		return nil, err
	}

	set, args := grantSet(patch, pgPlaceholder)
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE grants AS g SET %s WHERE g.id = $%d RETURNING %s`, set, len(args), grantColumns)

	g, err := scanGrant(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: у владельца уже есть грант на этот bucket и путь", ErrConflict)
		}
		return nil, fmt.Errorf("ошибка обновления гранта: %w", err)
	}
	return g, nil
}

func (r *pgAuthorizationRepo) DeactivateGrant(ctx context.Context, username string) (*model.Grant, error) {
	query := `
		UPDATE grants AS g SET is_active = FALSE
		WHERE g.id = (
			SELECT id FROM grants
			WHERE owner_username = $1 AND is_active
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		)
		RETURNING ` + grantColumns

	g, err := scanGrant(r.db.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка деактивации гранта: %w", err)
	}
	return g, nil
}

func (r *pgAuthorizationRepo) DeleteGrant(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM grants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления гранта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgAuthorizationRepo) ListAll(ctx context.Context) ([]*model.GrantWithOwner, error) {
	query := fmt.Sprintf(`
		SELECT %s, i.is_admin, i.is_active
		FROM grants g
		JOIN identities i ON i.username = g.owner_username
		ORDER BY g.owner_username, g.created_at DESC, g.id DESC`, grantColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка грантов: %w", err)
	}
	defer rows.Close()

	var result []*model.GrantWithOwner
	for rows.Next() {
		item := &model.GrantWithOwner{}
		if err := rows.Scan(
			&item.ID, &item.OwnerUsername, &item.Bucket, &item.DocumentGroupPath,
			&item.IsActive, &item.CreatedAt, &item.OwnerIsAdmin, &item.OwnerIsActive,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования гранта: %w", err)
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

// --- Identities ---

const identityColumns = `username, is_admin, is_active, created_at`

func scanIdentity(row pgx.Row) (*model.Identity, error) {
	u := &model.Identity{}
	err := row.Scan(&u.Username, &u.IsAdmin, &u.IsActive, &u.CreatedAt)
	return u, err
}

func (r *pgAuthorizationRepo) GetIdentity(ctx context.Context, username string) (*model.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE username = $1`
	u, err := scanIdentity(r.db.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return u, nil
}

func (r *pgAuthorizationRepo) ListIdentities(ctx context.Context) ([]*model.Identity, error) {
	rows, err := r.db.Query(ctx, `SELECT `+identityColumns+` FROM identities ORDER BY created_at DESC, username`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка пользователей: %w", err)
	}
	defer rows.Close()

	var result []*model.Identity
	for rows.Next() {
		u, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования пользователя: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (r *pgAuthorizationRepo) CreateIdentity(ctx context.Context, username string, isAdmin bool) (*model.Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: требуется username", ErrValidation)
	}

	// Деактивированный пользователь реактивируется, активный — конфликт
	query := `
		INSERT INTO identities AS i (username, is_admin) VALUES ($1, $2)
		ON CONFLICT (username) DO UPDATE
		SET is_admin = EXCLUDED.is_admin, is_active = TRUE, created_at = now()
		WHERE NOT i.is_active
		RETURNING ` + identityColumns

	u, err := scanIdentity(r.db.QueryRow(ctx, query, username, isAdmin))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: пользователь %s уже существует", ErrConflict, username)
		}
		return nil, fmt.Errorf("ошибка создания пользователя: %w", err)
	}
	return u, nil
}

func (r *pgAuthorizationRepo) UpdateIdentity(ctx context.Context, username string, patch model.IdentityPatch) (*model.Identity, error) {
	if patch.Empty() {
		return nil, fmt.Errorf("%w: патч не содержит допустимых полей (isAdmin, isActive)", ErrValidation)
	}

	set, args := identitySet(patch, pgPlaceholder)
	args = append(args, username)
	query := fmt.Sprintf(`UPDATE identities SET %s WHERE username = $%d RETURNING %s`, set, len(args), identityColumns)

	u, err := scanIdentity(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка обновления пользователя: %w", err)
	}
	return u, nil
}

func (r *pgAuthorizationRepo) DeleteIdentity(ctx context.Context, username string) error {
	// Гранты удаляются каскадно (ON DELETE CASCADE)
	tag, err := r.db.Exec(ctx, `DELETE FROM identities WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("ошибка удаления пользователя: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgAuthorizationRepo) IsAdmin(ctx context.Context, username string) (bool, error) {
	var isAdmin bool
	err := r.db.QueryRow(ctx,
		`SELECT is_admin AND is_active FROM identities WHERE username = $1`, username,
	).Scan(&isAdmin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка проверки прав администратора: %w", err)
	}
	return isAdmin, nil
}
