// Пакет repository — хранилище авторизаций: пользователи (identities)
// и гранты (grants). Две реализации: PostgreSQL через pgx и SQLite через
// database/sql. Все запросы — чистый SQL, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mattn/go-sqlite3"

	"github.com/bigkaa/docportal/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrValidation — некорректные входные данные (например, пустой патч).
	ErrValidation = errors.New("некорректные данные")
	// ErrStoreUnavailable — хранилище не инициализировано или недоступно.
	ErrStoreUnavailable = errors.New("хранилище авторизаций недоступно")
)

// GrantRepository — операции над грантами.
type GrantRepository interface {
	// GetActiveGrant возвращает самый свежий активный грант пользователя.
	GetActiveGrant(ctx context.Context, username string) (*model.Grant, error)
	// ListActiveGrants возвращает активные гранты, сначала самые свежие.
	ListActiveGrants(ctx context.Context, username string) ([]*model.Grant, error)
	// FindGrant ищет грант по точному совпадению (любой активности).
	FindGrant(ctx context.Context, username, bucket, path string) (*model.Grant, error)
	// GetGrant возвращает грант по ID.
	GetGrant(ctx context.Context, id int64) (*model.Grant, error)
	// CreateGrant идемпотентно создаёт грант (реактивирует неактивный),
	// создавая пользователя при необходимости.
	CreateGrant(ctx context.Context, username, bucket, path string) (*model.Grant, error)
	// UpdateGrant частично обновляет грант.
	UpdateGrant(ctx context.Context, id int64, patch model.GrantPatch) (*model.Grant, error)
	// DeactivateGrant снимает активность с основного гранта пользователя.
	DeactivateGrant(ctx context.Context, username string) (*model.Grant, error)
	// DeleteGrant удаляет грант.
	DeleteGrant(ctx context.Context, id int64) error
	// ListAll возвращает все гранты вместе с полями владельца.
	ListAll(ctx context.Context) ([]*model.GrantWithOwner, error)
}

// IdentityRepository — операции над пользователями.
type IdentityRepository interface {
	GetIdentity(ctx context.Context, username string) (*model.Identity, error)
	ListIdentities(ctx context.Context) ([]*model.Identity, error)
	// CreateIdentity создаёт пользователя или реактивирует деактивированного.
	// Для активного пользователя возвращает ErrConflict.
	CreateIdentity(ctx context.Context, username string, isAdmin bool) (*model.Identity, error)
	UpdateIdentity(ctx context.Context, username string, patch model.IdentityPatch) (*model.Identity, error)
	// DeleteIdentity удаляет пользователя вместе с его грантами.
	DeleteIdentity(ctx context.Context, username string) error
	// IsAdmin — пользователь активен и является администратором.
	IsAdmin(ctx context.Context, username string) (bool, error)
}

// AuthorizationRepository — полное хранилище авторизаций.
type AuthorizationRepository interface {
	GrantRepository
	IdentityRepository
}

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: ошибка начала транзакции: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности
// (PostgreSQL 23505 или SQLite UNIQUE constraint).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// grantSet собирает SET-часть UPDATE по патчу гранта.
// placeholder формирует плейсхолдер по номеру аргумента ($1 или ?).
func grantSet(patch model.GrantPatch, placeholder func(n int) string) (string, []any) {
	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = %s", column, placeholder(len(args))))
	}
	if patch.Bucket != nil {
		add("bucket", strings.TrimSpace(*patch.Bucket))
	}
	if patch.DocumentGroupPath != nil {
		add("document_group_path", strings.TrimSpace(*patch.DocumentGroupPath))
	}
	if patch.IsActive != nil {
		add("is_active", *patch.IsActive)
	}
	return strings.Join(sets, ", "), args
}

// identitySet собирает SET-часть UPDATE по патчу пользователя.
func identitySet(patch model.IdentityPatch, placeholder func(n int) string) (string, []any) {
	var sets []string
	var args []any
	if patch.IsAdmin != nil {
		args = append(args, *patch.IsAdmin)
		sets = append(sets, "is_admin = "+placeholder(len(args)))
	}
	if patch.IsActive != nil {
		args = append(args, *patch.IsActive)
		sets = append(sets, "is_active = "+placeholder(len(args)))
	}
	return strings.Join(sets, ", "), args
}

// validateGrantInput проверяет обязательные поля гранта.
func validateGrantInput(username, bucket, path string) error {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(bucket) == "" || strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: требуются username, bucket и путь группы документов", ErrValidation)
	}
	return nil
}

// validatePatchValues отклоняет пустые строки в патче гранта.
func validatePatchValues(patch model.GrantPatch) error {
	if patch.Empty() {
		return fmt.Errorf("%w: патч не содержит допустимых полей (bucket, documentGroupPath, isActive)", ErrValidation)
	}
	if patch.Bucket != nil && strings.TrimSpace(*patch.Bucket) == "" {
		return fmt.Errorf("%w: bucket не может быть пустым", ErrValidation)
	}
	if patch.DocumentGroupPath != nil && strings.TrimSpace(*patch.DocumentGroupPath) == "" {
		return fmt.Errorf("%w: путь группы документов не может быть пустым", ErrValidation)
	}
	return nil
}
