// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/docportal/internal/repository"
	"github.com/bigkaa/docportal/internal/storage"
)

var (
	// ErrUnauthenticated — нет токенов, токен невалиден, просрочен или токены несогласованы.
	ErrUnauthenticated = errors.New("требуется аутентификация")
	// ErrForbidden — нет прав (админ-операция, путь вне области гранта).
	ErrForbidden = errors.New("доступ запрещён")
	// ErrNotAuthorized — у пользователя нет ни одного активного гранта.
	ErrNotAuthorized = errors.New("у пользователя нет активных грантов")
	// ErrGrantNotFound — явно выбранный грант не принадлежит пользователю или неактивен.
	ErrGrantNotFound = errors.New("выбранный грант не найден среди активных грантов пользователя")
	// ErrGrantSelectionRequired — несколько активных грантов, выбор не указан.
	ErrGrantSelectionRequired = errors.New("требуется явный выбор гранта")
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrConflict — конфликт (дубликат или манифест уже обрабатывается).
	ErrConflict = errors.New("конфликт")
	// ErrInternal — внутренняя ошибка (хранилище авторизаций или объектное хранилище).
	ErrInternal = errors.New("внутренняя ошибка")
	// ErrUnavailable — внешняя зависимость (объектное хранилище, IdP) недоступна.
	// Всегда сопровождается ErrInternal.
	ErrUnavailable = errors.New("внешняя зависимость недоступна")
)

// Kind — категория ошибки для транспортного слоя.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindForbidden
	KindNotAuthorized
	KindGrantNotFound
	KindGrantSelectionRequired
	KindNotFound
	KindValidation
	KindConflict
	KindUnavailable
)

// kindOrder — порядок проверки: более специфичные категории первыми.
var kindOrder = []struct {
	err  error
	kind Kind
}{
	{ErrUnauthenticated, KindUnauthenticated},
	{ErrNotAuthorized, KindNotAuthorized},
	{ErrGrantNotFound, KindGrantNotFound},
	{ErrGrantSelectionRequired, KindGrantSelectionRequired},
	{ErrForbidden, KindForbidden},
	{ErrNotFound, KindNotFound},
	{ErrValidation, KindValidation},
	{ErrConflict, KindConflict},
	{ErrUnavailable, KindUnavailable},
}

// KindOf классифицирует ошибку. Неизвестные ошибки — KindInternal.
func KindOf(err error) Kind {
	for _, k := range kindOrder {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// storeErr переводит ошибку хранилища авторизаций в таксономию сервиса.
func storeErr(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s: %v", ErrNotFound, op, err)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %s: %v", ErrConflict, op, err)
	case errors.Is(err, repository.ErrValidation):
		return fmt.Errorf("%w: %s: %v", ErrValidation, op, err)
	case errors.Is(err, repository.ErrStoreUnavailable):
		return fmt.Errorf("%w: %w: %s: %v", ErrInternal, ErrUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrInternal, op, err)
}

// storageErr переводит ошибку объектного хранилища в таксономию сервиса.
func storageErr(op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s: %v", ErrNotFound, op, err)
	}
	return fmt.Errorf("%w: %w: %s: %v", ErrInternal, ErrUnavailable, op, err)
}
