package model

import "time"

// Допустимые решения по манифесту.
const (
	OutcomeOK        = "OK"
	OutcomeKO        = "KO"
	OutcomeKOPartial = "KO parcial"
)

// ValidOutcome проверяет, что решение входит в допустимый набор.
func ValidOutcome(outcome string) bool {
	switch outcome {
	case OutcomeOK, OutcomeKO, OutcomeKOPartial:
		return true
	}
	return false
}

// DocumentFailure — документ, который не удалось переместить.
type DocumentFailure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Причины отказа перемещения документа.
const (
	ReasonNotFound = "not found"
)

// ProcessingResult — итог одной обработки манифеста.
// Не сохраняется: долговременное состояние — только объекты в хранилище.
type ProcessingResult struct {
	SourceKey       string            `json:"sourceKey"`
	SourceDeleted   bool              `json:"sourceDeleted"`
	DestinationKey  string            `json:"destinationKey"`
	RowsTotal       int               `json:"rowsTotal"`
	DocumentsMoved  []string          `json:"documentsMoved"`
	DocumentsFailed []DocumentFailure `json:"documentsFailed"`
	Outcome         string            `json:"resultado"`
	ProcessedBy     string            `json:"processedBy"`
	ProcessedAt     time.Time         `json:"processedAt"`
}

// ObjectInfo — объект в хранилище (результат листинга).
type ObjectInfo struct {
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// FolderInfo — «папка» (общий префикс) в хранилище.
type FolderInfo struct {
	Prefix string `json:"prefix"`
	Name   string `json:"name"`
}
