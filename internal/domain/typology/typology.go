// Пакет typology — справочник типологий документов: код в имени файла
// манифеста → человекочитаемое описание.
package typology

import (
	"sort"
	"strings"
)

// Unknown — типология файла, не найденного в справочнике.
const (
	UnknownCode        = "UNKNOWN"
	UnknownDescription = "Tipo de archivo no identificado"
)

// Entry — найденная типология.
type Entry struct {
	Code        string `json:"tipologia"`
	Description string `json:"descripcion"`
}

// Known сообщает, что типология найдена в справочнике.
func (e Entry) Known() bool {
	return e.Code != UnknownCode
}

var catalog = map[string]string{
	"BIOKTYP001": "Facturación Electricidad PVPC Horario",
	"BIOKTYP016": "Facturación Electricidad PVPC Táctico",
	"BIOKTYP002": "Facturación Electricidad Bono social",
	"BIOKTYP003": "Facturación Electricidad Precio Fijo",
	"BIOKTYP015": "Facturación Electricidad Transitorio",
	"BIOKTYP007": "Facturación Electricidad Cargos Varios",
	"BIOKTYP027": "Facturación Gas RL.1",
	"BIOKTYP028": "Facturación Gas RL.2",
	"BIOKTYP029": "Facturación Gas RL.3",
	"BIOKTYP030": "Facturación Gas Transitorio",
	"BIOKTYP021": "Facturación Gas Cargos Varios",
	"BIOKTYP022": "Facturación Gas Clientes VIP",
	"F001":       "Facturas GNCOM gas",
	"F002":       "Facturas GNCOM electricidad",
	"F003":       "Facturas GNL",
	"F004":       "Facturas Clientes No Finales",
	"F401":       "Factura gas de Gas Natural Comercializadora",
	"F402":       "Factura eléctrica de Gas Natural Comercializadora",
	"C001":       "Cartas de cobro",
	"C002":       "Cartas de cobro",
	"C003":       "Cartas de cobro",
	"C003_1":     "Cartas de cobro",
	"C004":       "Cartas de cobro",
	"C005":       "Cartas de cobro",
	"C009":       "Cartas de cobro",
	"C010":       "Cartas de cobro",
	"C011":       "Cartas de cobro",
	"C012":       "Cartas de cobro",
	"C013":       "Cartas de cobro",
	"C014":       "Cartas de cobro",
	"C015":       "Cartas de cobro",
	"C016":       "Cartas de cobro",
	"C017":       "Cartas de cobro",
	"C018":       "Cartas de cobro",
	"C019":       "Cartas de cobro",
	"C101":       "Cartas de cobro",
	"C102":       "Cartas de cobro",
	"C103":       "Cartas de cobro",
	"C104":       "Cartas de cobro",
	"C105":       "Cartas de cobro",
	"C107":       "Cartas de cobro",
	"C109":       "Cartas de cobro",
	"C110":       "Cartas de cobro",
	"C111":       "Cartas de cobro",
	"C112":       "Cartas de cobro",
	"C113":       "Cartas de cobro",
	"C114":       "Cartas de cobro",
	"C117":       "Cartas de cobro",
	"C120":       "Cartas de cobro",
	"C121":       "Cartas de cobro",
	"C124":       "Cartas de cobro",
	"C125":       "Cartas de cobro",
	"C126":       "Cartas de cobro",
	"C132":       "Cartas de cobro",
	"C144":       "Cartas de cobro",
	"C301":       "Cartas de cobro",
	"C302":       "Cartas de cobro",
	"C303":       "Cartas de cobro",
	"C304":       "Cartas de cobro",
	"C308":       "Cartas de cobro",
	"C309":       "Cartas de cobro",
	"C312":       "Cartas de cobro",
	"C401":       "Cartas de cobro",
	"C402":       "Cartas de cobro",
	"G347":       "Cartas de Contratación",
	"G348":       "Cartas de Contratación",
	"G349":       "Cartas de Contratación",
}

// codes — коды, упорядоченные по убыванию длины (затем лексикографически),
// чтобы C003_1 находился раньше C003.
var codes = func() []string {
	out := make([]string, 0, len(catalog))
	for c := range catalog {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}()

// Classify определяет типологию по вхождению кода в имя файла.
// Побеждает самый длинный совпавший код.
func Classify(fileName string) Entry {
	for _, c := range codes {
		if strings.Contains(fileName, c) {
			return Entry{Code: c, Description: catalog[c]}
		}
	}
	return Entry{Code: UnknownCode, Description: UnknownDescription}
}

// Lookup возвращает описание по точному коду.
func Lookup(code string) (Entry, bool) {
	d, ok := catalog[code]
	if !ok {
		return Entry{}, false
	}
	return Entry{Code: code, Description: d}, true
}
