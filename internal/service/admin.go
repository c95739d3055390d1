// admin.go — администрирование пользователей и грантов.
// Проверка прав администратора выполняется на уровне handlers (RequireAdmin).
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bigkaa/docportal/internal/domain/model"
	"github.com/bigkaa/docportal/internal/repository"
)

// AdminService — CRUD пользователей и грантов.
type AdminService struct {
	repo   repository.AuthorizationRepository
	logger *slog.Logger
}

// NewAdminService создаёт AdminService.
func NewAdminService(repo repository.AuthorizationRepository, logger *slog.Logger) *AdminService {
	return &AdminService{
		repo:   repo,
		logger: logger.With(slog.String("component", "admin_service")),
	}
}

func requireUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", fmt.Errorf("%w: username обязателен", ErrValidation)
	}
	return username, nil
}

// --- Пользователи ---

// ListIdentities возвращает всех пользователей.
func (s *AdminService) ListIdentities(ctx context.Context) ([]*model.Identity, error) {
	list, err := s.repo.ListIdentities(ctx)
	if err != nil {
		return nil, storeErr("список пользователей", err)
	}
	return list, nil
}

// GetIdentity возвращает пользователя.
func (s *AdminService) GetIdentity(ctx context.Context, username string) (*model.Identity, error) {
	id, err := s.repo.GetIdentity(ctx, username)
	if err != nil {
		return nil, storeErr("пользователь "+username, err)
	}
	return id, nil
}

// CreateIdentity создаёт пользователя (или реактивирует деактивированного).
func (s *AdminService) CreateIdentity(ctx context.Context, username string, isAdmin bool) (*model.Identity, error) {
	username, err := requireUsername(username)
	if err != nil {
		return nil, err
	}
	id, err := s.repo.CreateIdentity(ctx, username, isAdmin)
	if err != nil {
		return nil, storeErr("создание пользователя "+username, err)
	}
	s.logger.Info("Пользователь создан",
		slog.String("username", username),
		slog.Bool("is_admin", isAdmin),
	)
	return id, nil
}

// UpdateIdentity частично обновляет пользователя.
func (s *AdminService) UpdateIdentity(ctx context.Context, username string, patch model.IdentityPatch) (*model.Identity, error) {
	if patch.Empty() {
		return nil, fmt.Errorf("%w: патч не содержит допустимых полей (isAdmin, isActive)", ErrValidation)
	}
	id, err := s.repo.UpdateIdentity(ctx, username, patch)
	if err != nil {
		return nil, storeErr("обновление пользователя "+username, err)
	}
	s.logger.Info("Пользователь обновлён", slog.String("username", username))
	return id, nil
}

// DeleteIdentity удаляет пользователя вместе с грантами.
func (s *AdminService) DeleteIdentity(ctx context.Context, username string) error {
	if err := s.repo.DeleteIdentity(ctx, username); err != nil {
		return storeErr("удаление пользователя "+username, err)
	}
	s.logger.Info("Пользователь удалён", slog.String("username", username))
	return nil
}

// --- Гранты ---

// ListGrants возвращает все гранты с полями владельцев.
func (s *AdminService) ListGrants(ctx context.Context) ([]*model.GrantWithOwner, error) {
	list, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, storeErr("список грантов", err)
	}
	return list, nil
}

// CreateGrant идемпотентно создаёт грант.
func (s *AdminService) CreateGrant(ctx context.Context, username, bucket, path string) (*model.Grant, error) {
	username, err := requireUsername(username)
	if err != nil {
		return nil, err
	}
	g, err := s.repo.CreateGrant(ctx, username, strings.TrimSpace(bucket), strings.TrimSpace(path))
	if err != nil {
		return nil, storeErr("создание гранта", err)
	}
	s.logger.Info("Грант создан",
		slog.Int64("grant_id", g.ID),
		slog.String("username", username),
		slog.String("bucket", g.Bucket),
		slog.String("path", g.DocumentGroupPath),
	)
	return g, nil
}

// UpdateGrant частично обновляет грант.
func (s *AdminService) UpdateGrant(ctx context.Context, id int64, patch model.GrantPatch) (*model.Grant, error) {
	g, err := s.repo.UpdateGrant(ctx, id, patch)
	if err != nil {
		return nil, storeErr(fmt.Sprintf("обновление гранта %d", id), err)
	}
	s.logger.Info("Грант обновлён", slog.Int64("grant_id", id))
	return g, nil
}

// DeactivateGrant снимает активность с основного гранта пользователя.
func (s *AdminService) DeactivateGrant(ctx context.Context, username string) (*model.Grant, error) {
	g, err := s.repo.DeactivateGrant(ctx, username)
	if err != nil {
		return nil, storeErr("деактивация гранта "+username, err)
	}
	s.logger.Info("Грант деактивирован",
		slog.Int64("grant_id", g.ID),
		slog.String("username", username),
	)
	return g, nil
}

// DeleteGrant удаляет грант.
func (s *AdminService) DeleteGrant(ctx context.Context, id int64) error {
	if err := s.repo.DeleteGrant(ctx, id); err != nil {
		return storeErr(fmt.Sprintf("удаление гранта %d", id), err)
	}
	s.logger.Info("Грант удалён", slog.Int64("grant_id", id))
	return nil
}
