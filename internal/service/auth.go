// auth.go — вход пользователя через identity provider.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bigkaa/docportal/internal/idp"
)

// Authenticator — выдача токенов по логину и паролю.
// Реализуется *idp.Client.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*idp.TokenSet, error)
}

// AuthService — прокси входа к IdP. Токены не выпускает и не хранит.
type AuthService struct {
	idp    Authenticator
	logger *slog.Logger
}

// NewAuthService создаёт AuthService.
func NewAuthService(authenticator Authenticator, logger *slog.Logger) *AuthService {
	return &AuthService{
		idp:    authenticator,
		logger: logger.With(slog.String("component", "auth_service")),
	}
}

// Login получает access, id и refresh токены.
func (s *AuthService) Login(ctx context.Context, username, password string) (*idp.TokenSet, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: имя пользователя и пароль обязательны", ErrValidation)
	}

	tokens, err := s.idp.Login(ctx, username, password)
	if err != nil {
		switch {
		case errors.Is(err, idp.ErrInvalidCredentials):
			s.logger.Info("Вход отклонён", slog.String("username", username))
			return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		default:
			s.logger.Error("Ошибка входа через IdP",
				slog.String("username", username),
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("%w: %w: %v", ErrInternal, ErrUnavailable, err)
		}
	}

	s.logger.Info("Пользователь вошёл", slog.String("username", username))
	return tokens, nil
}
