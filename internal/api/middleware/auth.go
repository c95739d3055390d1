// auth.go — аутентификация по паре токенов: access token в Authorization
// и ID token в X-ID-Token. Оба токена должны принадлежать одному пользователю.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/docportal/internal/api/errors"
	"github.com/bigkaa/docportal/internal/idtoken"
)

// Заголовки запроса.
const (
	HeaderIDToken     = "X-ID-Token"
	HeaderGrantID     = "X-Grant-Id"
	HeaderGrantBucket = "X-Grant-Bucket"
	HeaderGrantPath   = "X-Grant-Path"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyIdentity — аутентифицированный пользователь запроса.
	ContextKeyIdentity contextKey = "dp_identity"
)

// Identity — пользователь, извлечённый из пары токенов.
type Identity struct {
	// Username — имя пользователя (matriculaValidador)
	Username string
	// DisplayName — отображаемое имя (nombreValidador)
	DisplayName string
	Subject     string
	Email       string
	Groups      []string
}

// TokenAuth — middleware проверки пары токенов.
type TokenAuth struct {
	access idtoken.Reader
	id     idtoken.Reader
	logger *slog.Logger
}

// NewTokenAuth создаёт middleware.
// access и id — читатели access и ID токенов (могут различаться проверкой aud).
func NewTokenAuth(access, id idtoken.Reader, logger *slog.Logger) *TokenAuth {
	return &TokenAuth{
		access: access,
		id:     id,
		logger: logger.With(slog.String("component", "token_auth")),
	}
}

// Middleware возвращает HTTP middleware аутентификации.
// Несогласованные токены отклоняются до выбора гранта.
func (a *TokenAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accessToken, ok := bearerToken(r)
			if !ok {
				apierrors.Unauthorized(w, "Отсутствует или неверный заголовок Authorization: ожидается Bearer <token>")
				return
			}
			idToken := strings.TrimSpace(r.Header.Get(HeaderIDToken))
			if idToken == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок "+HeaderIDToken)
				return
			}

			accessClaims, err := a.access.Decode(r.Context(), accessToken)
			if err != nil {
				a.reject(w, r, "access", err)
				return
			}
			idClaims, err := a.id.Decode(r.Context(), idToken)
			if err != nil {
				a.reject(w, r, "id", err)
				return
			}

			if err := idtoken.CheckPair(accessClaims, idClaims); err != nil {
				a.logger.Warn("Токены принадлежат разным пользователям",
					slog.String("access_username", accessClaims.Username),
					slog.String("id_username", idClaims.Username),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.WriteError(w, http.StatusUnauthorized, apierrors.CodeTokensInconsistent,
					"Токены не согласованы")
				return
			}

			identity := &Identity{
				Username:    idClaims.Username,
				DisplayName: idClaims.Name,
				Subject:     idClaims.Subject,
				Email:       idClaims.Email,
				Groups:      idClaims.Groups,
			}
			if identity.DisplayName == "" {
				identity.DisplayName = identity.Username
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// reject отвечает 401 с категорией ошибки: истёкший токен или невалидный.
func (a *TokenAuth) reject(w http.ResponseWriter, r *http.Request, kind string, err error) {
	a.logger.Debug("Токен отклонён",
		slog.String("token", kind),
		slog.String("error", err.Error()),
		slog.String("remote_addr", r.RemoteAddr),
	)
	if errors.Is(err, idtoken.ErrTokenExpired) {
		apierrors.WriteError(w, http.StatusUnauthorized, apierrors.CodeTokenExpired, "Срок действия токена истёк")
		return
	}
	apierrors.Unauthorized(w, "Невалидный токен")
}

// bearerToken извлекает токен из заголовка Authorization.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// --- Context helpers ---

// WithIdentity помещает пользователя в контекст.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, ContextKeyIdentity, identity)
}

// IdentityFromContext извлекает пользователя из контекста запроса.
// Возвращает nil, если запрос не аутентифицирован.
func IdentityFromContext(ctx context.Context) *Identity {
	identity, _ := ctx.Value(ContextKeyIdentity).(*Identity)
	return identity
}
