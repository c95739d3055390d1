// Пакет scope — проверка, что путь в хранилище попадает в область гранта.
//
// Две независимые стратегии:
//   - CheckScope — по префиксу пути группы документов (когда папка известна);
//   - CheckTypology — legacy-проверка по справочнику типологий (когда папки нет).
package scope

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/cases"

	"github.com/bigkaa/docportal/internal/domain/model"
	"github.com/bigkaa/docportal/internal/domain/typology"
)

// ErrDenied — путь вне области гранта.
var ErrDenied = errors.New("путь вне области гранта")

// Mode — политика сопоставления префикса.
type Mode string

const (
	// ModePrefix — строковый префикс без нормализации.
	// "Recepcion/Muestreo/CartasX" проходит для гранта "Recepcion/Muestreo/Cartas".
	ModePrefix Mode = "prefix"
	// ModeSegment — точное совпадение или префикс, за которым следует "/".
	ModeSegment Mode = "segment"
)

// ParseMode преобразует значение конфигурации в Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePrefix, ModeSegment:
		return Mode(s), nil
	}
	return "", fmt.Errorf("неизвестная политика сопоставления: %q", s)
}

// DeniedError — отказ с причиной. errors.Is(err, ErrDenied) == true.
type DeniedError struct {
	Path   string
	Scope  string
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("доступ к %q запрещён: %s", e.Path, e.Reason)
}

// Is позволяет сравнивать с ErrDenied.
func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}

// Enforcer — проверка области гранта.
type Enforcer struct {
	mode Mode
}

// NewEnforcer создаёт Enforcer с указанной политикой.
func NewEnforcer(mode Mode) *Enforcer {
	return &Enforcer{mode: mode}
}

// Mode возвращает активную политику.
func (e *Enforcer) Mode() Mode {
	return e.mode
}

// CheckScope проверяет, что candidate лежит внутри DocumentGroupPath гранта.
func (e *Enforcer) CheckScope(grant *model.Grant, candidate string) error {
	if grant == nil {
		return &DeniedError{Path: candidate, Reason: "грант не определён"}
	}
	prefix := grant.DocumentGroupPath
	if prefix == "" {
		return &DeniedError{Path: candidate, Reason: "у гранта пустой путь группы документов"}
	}
	if !strings.HasPrefix(candidate, prefix) {
		return &DeniedError{Path: candidate, Scope: prefix, Reason: "путь не начинается с " + prefix}
	}
	if e.mode == ModeSegment {
		rest := candidate[len(prefix):]
		if rest != "" && !strings.HasSuffix(prefix, "/") && !strings.HasPrefix(rest, "/") {
			return &DeniedError{Path: candidate, Scope: prefix, Reason: "соседняя папка, а не вложенная в " + prefix}
		}
	}
	return nil
}

// CheckTypology — legacy-проверка по имени файла: типология из справочника,
// описание которой содержит ключевое слово группы документов гранта.
func (e *Enforcer) CheckTypology(grant *model.Grant, fileName string) (typology.Entry, error) {
	entry := typology.Classify(fileName)
	if grant == nil {
		return entry, &DeniedError{Path: fileName, Reason: "грант не определён"}
	}
	if !entry.Known() {
		return entry, &DeniedError{Path: fileName, Reason: "типология файла не определена"}
	}
	keyword := GroupKeyword(grant.DocumentGroupPath)
	if keyword == "" {
		return entry, &DeniedError{Path: fileName, Reason: "у гранта нет группы документов"}
	}
	// Caser хранит состояние, поэтому создаётся на каждый вызов
	fold := cases.Fold()
	if !strings.Contains(fold.String(entry.Description), fold.String(keyword)) {
		return entry, &DeniedError{
			Path:   fileName,
			Scope:  grant.DocumentGroupPath,
			Reason: fmt.Sprintf("типология %s не относится к группе %s", entry.Code, path.Base(grant.DocumentGroupPath)),
		}
	}
	return entry, nil
}

// GroupKeyword возвращает ключевое слово группы документов по пути гранта.
// Facturas → "factur" (Facturas/Factura/Facturación), Cartas → "cartas",
// иначе — последний сегмент пути.
func GroupKeyword(groupPath string) string {
	group := path.Base(strings.TrimRight(groupPath, "/"))
	if group == "." || group == "/" {
		return ""
	}
	switch strings.ToLower(group) {
	case "facturas":
		return "factur"
	case "cartas":
		return "cartas"
	}
	return group
}
