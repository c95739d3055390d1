// Пакет errors — конструкторы стандартных ошибок API портала.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bigkaa/docportal/internal/service"
)

// Коды ошибок.
const (
	CodeValidationError        = "VALIDATION_ERROR"
	CodeNotFound               = "NOT_FOUND"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeTokenExpired           = "TOKEN_EXPIRED"
	CodeTokensInconsistent     = "TOKENS_INCONSISTENT"
	CodeForbidden              = "FORBIDDEN"
	CodeNotAuthorized          = "NOT_AUTHORIZED"
	CodeGrantNotFound          = "GRANT_NOT_FOUND"
	CodeGrantSelectionRequired = "GRANT_SELECTION_REQUIRED"
	CodeConflict               = "CONFLICT"
	CodeUpstreamUnavailable    = "UPSTREAM_UNAVAILABLE"
	CodeInternalError          = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Conflict — 409 конфликт.
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// mapping — HTTP-ответ для категории ошибки сервиса.
type mapping struct {
	status  int
	code    string
	message string
}

var kindMapping = map[service.Kind]mapping{
	service.KindUnauthenticated:        {http.StatusUnauthorized, CodeUnauthorized, ""},
	service.KindForbidden:              {http.StatusForbidden, CodeForbidden, ""},
	service.KindNotAuthorized:          {http.StatusForbidden, CodeNotAuthorized, "Пользователь не авторизован в портале"},
	service.KindGrantNotFound:          {http.StatusForbidden, CodeGrantNotFound, "Выбранный грант не найден среди активных грантов пользователя"},
	service.KindGrantSelectionRequired: {http.StatusBadRequest, CodeGrantSelectionRequired, ""},
	service.KindNotFound:               {http.StatusNotFound, CodeNotFound, ""},
	service.KindValidation:             {http.StatusBadRequest, CodeValidationError, ""},
	service.KindConflict:               {http.StatusConflict, CodeConflict, ""},
	service.KindUnavailable:            {http.StatusBadGateway, CodeUpstreamUnavailable, "Внешний сервис недоступен"},
	service.KindInternal:               {http.StatusInternalServerError, CodeInternalError, "Внутренняя ошибка сервера"},
}

// StatusOf возвращает HTTP-статус для ошибки сервиса.
func StatusOf(err error) int {
	return kindMapping[service.KindOf(err)].status
}

// WriteServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Детали внутренних ошибок и недоступности только логируются.
func WriteServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := service.KindOf(err)
	m := kindMapping[kind]

	message := m.message
	if message == "" {
		message = err.Error()
	}

	if m.status >= http.StatusInternalServerError && logger != nil {
		logger.Error("Ошибка обработки запроса",
			slog.Int("status", m.status),
			slog.String("error", err.Error()),
		)
	}
	WriteError(w, m.status, m.code, message)
}
