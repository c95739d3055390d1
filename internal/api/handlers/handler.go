// handler.go — основной обработчик API портала.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/docportal/internal/api/errors"
	"github.com/bigkaa/docportal/internal/api/middleware"
	"github.com/bigkaa/docportal/internal/domain/model"
	"github.com/bigkaa/docportal/internal/service"
)

// maxBodyBytes — предельный размер JSON-тела запроса.
const maxBodyBytes = 1 << 20

// APIHandler — основной обработчик API портала.
type APIHandler struct {
	health     *HealthHandler
	auth       *service.AuthService
	resolver   *service.Resolver
	files      *service.FileService
	processing *service.ProcessingService
	admin      *service.AdminService
	logger     *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	auth *service.AuthService,
	resolver *service.Resolver,
	files *service.FileService,
	processing *service.ProcessingService,
	admin *service.AdminService,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:     health,
		auth:       auth,
		resolver:   resolver,
		files:      files,
		processing: processing,
		admin:      admin,
		logger:     logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает JSON-тело запроса. Неизвестные поля отклоняются.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: пустое тело запроса", service.ErrValidation)
		}
		return fmt.Errorf("%w: некорректный JSON: %v", service.ErrValidation, err)
	}
	return nil
}

// identity возвращает пользователя запроса или отвечает 401.
func (h *APIHandler) identity(w http.ResponseWriter, r *http.Request) (*middleware.Identity, bool) {
	identity := middleware.IdentityFromContext(r.Context())
	if identity == nil {
		apierrors.Unauthorized(w, "Запрос не аутентифицирован")
		return nil, false
	}
	return identity, true
}

// resolveGrant определяет грант запроса по заголовкам выбора и папке.
// При ошибке ответ уже записан.
func (h *APIHandler) resolveGrant(w http.ResponseWriter, r *http.Request, folder string) (*middleware.Identity, *model.Grant, bool) {
	identity, ok := h.identity(w, r)
	if !ok {
		return nil, nil, false
	}

	sel, err := middleware.SelectorFromRequest(r, folder)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return nil, nil, false
	}

	grant, err := h.resolver.Resolve(r.Context(), identity.Username, sel)
	if err != nil {
		h.logger.Debug("Грант не определён",
			slog.String("username", identity.Username),
			slog.String("folder", sel.Folder),
			slog.String("error", err.Error()),
		)
		apierrors.WriteServiceError(w, h.logger, err)
		return nil, nil, false
	}
	return identity, grant, true
}

// grantResponse — грант в ответе API.
type grantResponse struct {
	ID                int64  `json:"id"`
	Username          string `json:"username"`
	Bucket            string `json:"bucket"`
	DocumentGroupPath string `json:"documentGroupPath"`
	IsActive          bool   `json:"isActive"`
	CreatedAt         string `json:"createdAt"`
	OwnerIsAdmin      *bool  `json:"ownerIsAdmin,omitempty"`
	OwnerIsActive     *bool  `json:"ownerIsActive,omitempty"`
}

func grantToResponse(g *model.Grant) grantResponse {
	return grantResponse{
		ID:                g.ID,
		Username:          g.OwnerUsername,
		Bucket:            g.Bucket,
		DocumentGroupPath: g.DocumentGroupPath,
		IsActive:          g.IsActive,
		CreatedAt:         g.CreatedAt.UTC().Format(timeLayout),
	}
}

// timeLayout — формат времени в ответах API.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"
