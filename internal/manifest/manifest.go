// Пакет manifest — разбор и сериализация манифестов (CSV с заголовком).
//
// Разделитель определяется по строке заголовка (',' ';' или табуляция).
// При обработке в каждую строку вписываются поля отметки
// (resultado, matriculaValidador, nombreValidador, fechaValidacion).
//
// Ограничения: CRLF внутри значения в кавычках читается как LF,
// повторяющиеся имена колонок (без учёта регистра) не допускаются.
package manifest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Колонки манифеста.
const (
	ColumnDocumentID = "idDocumento"

	ColumnOutcome      = "resultado"
	ColumnOperatorID   = "matriculaValidador"
	ColumnOperatorName = "nombreValidador"
	ColumnValidatedAt  = "fechaValidacion"
)

// ErrMalformed — манифест не удаётся разобрать.
var ErrMalformed = errors.New("некорректный манифест")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Table — разобранный манифест.
type Table struct {
	Header    []string
	Rows      [][]string
	Delimiter rune
}

// Stamp — значения полей отметки, одинаковые для всех строк.
type Stamp struct {
	Outcome      string
	OperatorID   string
	OperatorName string
	// Timestamp — ISO-8601, один на весь манифест
	Timestamp string
}

// Parse разбирает манифест. Первая непустая строка — заголовок.
func Parse(data []byte) (*Table, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	delim := sniffDelimiter(data)
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delim
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: нет строки заголовка", ErrMalformed)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if err := checkHeader(header); err != nil {
		return nil, err
	}

	t := &Table{Header: header, Rows: [][]string{}, Delimiter: delim}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if len(rec) > len(header) {
			line, _ := r.FieldPos(0)
			return nil, fmt.Errorf("%w: строка %d содержит %d полей, в заголовке %d",
				ErrMalformed, line, len(rec), len(header))
		}
		for len(rec) < len(header) {
			rec = append(rec, "")
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

// checkHeader отклоняет повторяющиеся непустые имена колонок:
// отметка и Records адресуют колонку по имени.
func checkHeader(header []string) error {
	seen := make(map[string]struct{}, len(header))
	for _, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("%w: колонка %q повторяется в заголовке", ErrMalformed, h)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// sniffDelimiter выбирает самый частый разделитель в первой непустой
// строке (вне кавычек). По умолчанию — запятая.
func sniffDelimiter(data []byte) rune {
	counts := map[rune]int{',': 0, ';': 0, '\t': 0}
	inQuotes, started := false, false
	for _, c := range string(data) {
		if c == '"' {
			inQuotes = !inQuotes
			started = true
			continue
		}
		if inQuotes {
			continue
		}
		if c == '\n' || c == '\r' {
			if started {
				break
			}
			continue
		}
		started = true
		if _, ok := counts[c]; ok {
			counts[c]++
		}
	}
	best := ','
	for _, d := range []rune{';', '\t'} {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return best
}

// Len возвращает число строк данных.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Column возвращает индекс колонки или -1.
// Сравнение без учёта регистра и окружающих пробелов.
func (t *Table) Column(name string) int {
	for i, h := range t.Header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

// Stamp вписывает поля отметки во все строки. Отсутствующие колонки
// добавляются в конец заголовка в фиксированном порядке.
func (t *Table) Stamp(s Stamp) {
	fields := []struct {
		name, value string
	}{
		{ColumnOutcome, s.Outcome},
		{ColumnOperatorID, s.OperatorID},
		{ColumnOperatorName, s.OperatorName},
		{ColumnValidatedAt, s.Timestamp},
	}
	for _, f := range fields {
		idx := t.Column(f.name)
		if idx < 0 {
			t.Header = append(t.Header, f.name)
			idx = len(t.Header) - 1
			for i := range t.Rows {
				t.Rows[i] = append(t.Rows[i], "")
			}
		}
		for i := range t.Rows {
			t.Rows[i][idx] = f.value
		}
	}
}

// Serialize формирует текст манифеста с исходным разделителем.
// Поле берётся в кавычки, если содержит разделитель, кавычку, CR или LF.
// В заголовке в кавычки берутся и поля с любым из разделителей ',' ';' '\t',
// иначе Parse определит другой разделитель. То же для строк таблицы
// из одной колонки: её разделитель по заголовку не определяется.
func (t *Table) Serialize() []byte {
	delim := t.Delimiter
	if delim == 0 {
		delim = ','
	}
	var buf bytes.Buffer
	writeRecord(&buf, t.Header, delim, true)
	single := len(t.Header) == 1
	for _, row := range t.Rows {
		writeRecord(&buf, row, delim, single)
	}
	return buf.Bytes()
}

// candidateDelimiters — разделители, среди которых выбирает Parse.
const candidateDelimiters = ",;\t"

func writeRecord(buf *bytes.Buffer, rec []string, delim rune, anyDelim bool) {
	// Одиночное пустое поле дало бы пустую строку, а она пропускается при разборе
	if len(rec) == 1 && rec[0] == "" {
		buf.WriteString(`""` + "\n")
		return
	}
	for i, field := range rec {
		if i > 0 {
			buf.WriteRune(delim)
		}
		if needsQuotes(field, delim, anyDelim) {
			buf.WriteByte('"')
			buf.WriteString(strings.ReplaceAll(field, `"`, `""`))
			buf.WriteByte('"')
			continue
		}
		buf.WriteString(field)
	}
	buf.WriteByte('\n')
}

func needsQuotes(field string, delim rune, anyDelim bool) bool {
	if anyDelim && strings.ContainsAny(field, candidateDelimiters) {
		return true
	}
	return strings.ContainsRune(field, delim) || strings.ContainsAny(field, "\"\r\n")
}

// DocumentIDs возвращает непустые значения idDocumento без повторов
// в порядке строк.
func (t *Table) DocumentIDs() []string {
	idx := t.Column(ColumnDocumentID)
	if idx < 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(t.Rows))
	ids := make([]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		id := strings.TrimSpace(row[idx])
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// Records возвращает строки как объекты «колонка → значение».
func (t *Table) Records() []map[string]string {
	out := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]string, len(t.Header))
		for i, h := range t.Header {
			rec[h] = row[i]
		}
		out = append(out, rec)
	}
	return out
}
