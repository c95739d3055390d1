package model

import "time"

// Grant — разрешение пользователя на один bucket и один префикс
// группы документов. Хранится в таблице grants.
type Grant struct {
	// ID — суррогатный ключ
	ID int64
	// OwnerUsername — владелец гранта (FK → identities)
	OwnerUsername string
	// Bucket — bucket объектного хранилища
	Bucket string
	// DocumentGroupPath — префикс пути, внутри которого разрешён доступ
	DocumentGroupPath string
	// IsActive — активность гранта
	IsActive bool
	// CreatedAt — время создания (или последней реактивации)
	CreatedAt time.Time
}

// GrantPatch — частичное обновление гранта.
// Допустимые поля: bucket, путь группы документов, активность.
type GrantPatch struct {
	Bucket            *string
	DocumentGroupPath *string
	IsActive          *bool
}

// Empty сообщает, что патч не содержит ни одного поля.
func (p GrantPatch) Empty() bool {
	return p.Bucket == nil && p.DocumentGroupPath == nil && p.IsActive == nil
}

// GrantWithOwner — грант вместе с полями владельца (админский листинг).
type GrantWithOwner struct {
	Grant
	OwnerIsAdmin  bool
	OwnerIsActive bool
}
