// resolver.go — выбор гранта, действующего для запроса, и проверка прав администратора.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/docportal/internal/domain/model"
	"github.com/bigkaa/docportal/internal/domain/scope"
	"github.com/bigkaa/docportal/internal/repository"
)

// Selector — явный выбор гранта в запросе. Все поля опциональны.
type Selector struct {
	// GrantID — идентификатор гранта (X-Grant-Id)
	GrantID int64
	// Bucket, Path — bucket и путь группы документов (X-Grant-Bucket, X-Grant-Path)
	Bucket string
	Path   string
	// Folder — папка, к которой обращается запрос
	Folder string
}

// explicit сообщает, указан ли конкретный грант.
func (s Selector) explicit() bool {
	return s.GrantID != 0 || s.Bucket != "" || s.Path != ""
}

// matches проверяет грант против явного выбора.
func (s Selector) matches(g *model.Grant) bool {
	if s.GrantID != 0 && g.ID != s.GrantID {
		return false
	}
	if s.Bucket != "" && g.Bucket != s.Bucket {
		return false
	}
	if s.Path != "" && g.DocumentGroupPath != s.Path {
		return false
	}
	return true
}

// Resolver определяет грант запроса. Состояние между запросами не хранит.
type Resolver struct {
	repo            repository.AuthorizationRepository
	enforcer        *scope.Enforcer
	requireExplicit bool
	logger          *slog.Logger
}

// NewResolver создаёт Resolver.
// requireExplicit — при нескольких активных грантах требовать явный выбор
// вместо самого свежего.
func NewResolver(
	repo repository.AuthorizationRepository,
	enforcer *scope.Enforcer,
	requireExplicit bool,
	logger *slog.Logger,
) *Resolver {
	return &Resolver{
		repo:            repo,
		enforcer:        enforcer,
		requireExplicit: requireExplicit,
		logger:          logger.With(slog.String("component", "resolver")),
	}
}

// Enforcer возвращает проверку области гранта.
func (r *Resolver) Enforcer() *scope.Enforcer {
	return r.enforcer
}

// ActiveGrants возвращает активные гранты пользователя, сначала самые свежие.
func (r *Resolver) ActiveGrants(ctx context.Context, username string) ([]*model.Grant, error) {
	grants, err := r.repo.ListActiveGrants(ctx, username)
	if err != nil {
		return nil, storeErr("получение грантов", err)
	}
	return grants, nil
}

// Resolve выбирает грант для запроса:
//  1. нет активных грантов — ErrNotAuthorized;
//  2. явный выбор ищется только среди своих активных грантов — иначе ErrGrantNotFound;
//  3. только папка — первый грант, чья область её покрывает, иначе ErrForbidden;
//  4. единственный активный грант;
//  5. несколько — самый свежий либо ErrGrantSelectionRequired.
//
// При явном выборе и указанной папке папка проверяется по области гранта.
func (r *Resolver) Resolve(ctx context.Context, username string, sel Selector) (*model.Grant, error) {
	grants, err := r.ActiveGrants(ctx, username)
	if err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotAuthorized, username)
	}

	var grant *model.Grant
	switch {
	case sel.explicit():
		for _, g := range grants {
			if sel.matches(g) {
				grant = g
				break
			}
		}
		if grant == nil {
			r.logger.Debug("Явно выбранный грант не найден",
				slog.String("username", username),
				slog.Int64("grant_id", sel.GrantID),
				slog.String("bucket", sel.Bucket),
				slog.String("path", sel.Path),
			)
			return nil, ErrGrantNotFound
		}

	case sel.Folder != "":
		for _, g := range grants {
			if r.enforcer.CheckScope(g, sel.Folder) == nil {
				return g, nil
			}
		}
		return nil, fmt.Errorf("%w: папка %q вне области грантов пользователя", ErrForbidden, sel.Folder)

	case len(grants) == 1:
		grant = grants[0]

	default:
		if r.requireExplicit {
			return nil, fmt.Errorf("%w: у пользователя %d активных грантов", ErrGrantSelectionRequired, len(grants))
		}
		grant = grants[0]
	}

	if sel.Folder != "" {
		if err := r.enforcer.CheckScope(grant, sel.Folder); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrForbidden, err)
		}
	}
	return grant, nil
}

// IsAdmin — пользователь активен и является администратором.
func (r *Resolver) IsAdmin(ctx context.Context, username string) (bool, error) {
	ok, err := r.repo.IsAdmin(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, storeErr("проверка прав администратора", err)
	}
	return ok, nil
}

// RequireAdmin возвращает ErrForbidden, если пользователь не администратор.
func (r *Resolver) RequireAdmin(ctx context.Context, username string) error {
	ok, err := r.IsAdmin(ctx, username)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: требуются права администратора", ErrForbidden)
	}
	return nil
}
