package model

import "time"

// Identity — зарегистрированный пользователь портала.
// Хранится в таблице identities, ключ — username.
type Identity struct {
	// Username — имя пользователя в IdP (уникально)
	Username string
	// IsAdmin — право на административные операции
	IsAdmin bool
	// IsActive — мягкая деактивация учётной записи
	IsActive bool
	// CreatedAt — время создания записи
	CreatedAt time.Time
}

// IdentityPatch — частичное обновление Identity.
// nil-поле не изменяется.
type IdentityPatch struct {
	IsAdmin  *bool
	IsActive *bool
}

// Empty сообщает, что патч не содержит ни одного поля.
func (p IdentityPatch) Empty() bool {
	return p.IsAdmin == nil && p.IsActive == nil
}
