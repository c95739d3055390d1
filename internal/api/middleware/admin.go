package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	apierrors "github.com/bigkaa/docportal/internal/api/errors"
	"github.com/bigkaa/docportal/internal/service"
)

// AdminChecker — проверка прав администратора. Реализуется *service.Resolver.
type AdminChecker interface {
	RequireAdmin(ctx context.Context, username string) error
}

// RequireAdmin пропускает только активных администраторов.
// Должен использоваться ПОСЛЕ TokenAuth.Middleware().
func RequireAdmin(checker AdminChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := IdentityFromContext(r.Context())
			if identity == nil {
				apierrors.Unauthorized(w, "Запрос не аутентифицирован")
				return
			}
			if err := checker.RequireAdmin(r.Context(), identity.Username); err != nil {
				logger.Warn("Отказ в административном доступе",
					slog.String("username", identity.Username),
					slog.String("path", r.URL.Path),
				)
				apierrors.WriteServiceError(w, logger, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SelectorFromRequest собирает явный выбор гранта из заголовков.
// folder — папка запроса (из query или тела).
func SelectorFromRequest(r *http.Request, folder string) (service.Selector, error) {
	sel := service.Selector{
		Bucket: strings.TrimSpace(r.Header.Get(HeaderGrantBucket)),
		Path:   strings.TrimSpace(r.Header.Get(HeaderGrantPath)),
		Folder: strings.TrimSpace(folder),
	}
	if raw := strings.TrimSpace(r.Header.Get(HeaderGrantID)); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return sel, invalidHeader(HeaderGrantID, raw)
		}
		sel.GrantID = id
	}
	return sel, nil
}

func invalidHeader(name, value string) error {
	return &headerError{name: name, value: value}
}

// headerError — некорректное значение заголовка, классифицируется как ErrValidation.
type headerError struct {
	name  string
	value string
}

func (e *headerError) Error() string {
	return "некорректный заголовок " + e.name + ": " + strconv.Quote(e.value)
}

func (e *headerError) Unwrap() error {
	return service.ErrValidation
}
