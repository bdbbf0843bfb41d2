// Package ffcsv turns GENESIS flat-file CSV tables into long-format observations.
//
// Two layouts occur in practice. The long layout carries one measure per row in
// value_variable_code / value columns. The wide layout carries one column per
// measure, named CODE__Label__Unit. Both are melted to one Observation per
// (row, measure).
package ffcsv

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

const (
	colTime              = "time"
	colValue             = "value"
	colValueUnit         = "value_unit"
	colValueVariableCode = "value_variable_code"
	colValueQuality      = "value_q"

	suffixVariableCode  = "_variable_code"
	suffixAttributeCode = "_variable_attribute_code"

	measureSeparator = "__"
	qualitySuffix    = "q"
)

var (
	ErrEmpty         = errors.New("ffcsv: empty content")
	ErrUnknownLayout = errors.New("ffcsv: neither value column nor measure columns found")
)

// Observation is one value of one measure at one point in time.
// Value is nil when the cell is empty or holds a secrecy/missing marker.
type Observation struct {
	TableID  string            `json:"table_id" yaml:"table_id"`
	Time     string            `json:"time" yaml:"time"`
	Keys     map[string]string `json:"keys" yaml:"keys"`
	Variable string            `json:"variable" yaml:"variable"`
	Value    *float64          `json:"value" yaml:"value"`
	Unit     string            `json:"unit,omitempty" yaml:"unit,omitempty"`
	Quality  string            `json:"quality,omitempty" yaml:"quality,omitempty"`
}

// KeyString renders Keys in a stable order, e.g. "GES=GESM|KREISE=05111".
func (o Observation) KeyString() string {
	names := make([]string, 0, len(o.Keys))
	for k := range o.Keys {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, k+"="+o.Keys[k])
	}
	return strings.Join(parts, "|")
}

type dimension struct {
	codeIdx      int
	attributeIdx int
}

type measure struct {
	idx        int
	code       string
	unit       string
	qualityIdx int
}

type layout struct {
	timeIdx    int
	dimensions []dimension

	// long layout
	valueIdx, unitIdx, variableIdx, qualityIdx int

	// wide layout
	measures []measure
}

// ParseString parses the content returned by the GENESIS tablefile endpoint.
func ParseString(tableID, content string) ([]Observation, error) {
	return Parse(tableID, strings.NewReader(content))
}

func Parse(tableID string, r io.Reader) ([]Observation, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("ffcsv: read: %w", err)
	}
	data, err = toUTF8(data)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmpty
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = ';'
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("ffcsv: header: %w", err)
	}
	lay, err := detectLayout(header)
	if err != nil {
		return nil, err
	}

	var out []Observation
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ffcsv: %w", err)
		}
		if blank(record) {
			continue
		}
		line, _ := reader.FieldPos(0)
		obs, err := lay.melt(tableID, record)
		if err != nil {
			return nil, fmt.Errorf("ffcsv: line %d: %w", line, err)
		}
		out = append(out, obs...)
	}
	return out, nil
}

func detectLayout(header []string) (*layout, error) {
	lay := &layout{timeIdx: -1, valueIdx: -1, unitIdx: -1, variableIdx: -1, qualityIdx: -1}
	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		header[i] = h
		index[h] = i
	}

	if i, ok := index[colTime]; ok {
		lay.timeIdx = i
	}
	for i, h := range header {
		if !strings.HasSuffix(h, suffixVariableCode) || h == colValueVariableCode {
			continue
		}
		prefix := strings.TrimSuffix(h, suffixVariableCode)
		attr, ok := index[prefix+suffixAttributeCode]
		if !ok {
			continue
		}
		lay.dimensions = append(lay.dimensions, dimension{codeIdx: i, attributeIdx: attr})
	}

	if i, ok := index[colValue]; ok {
		lay.valueIdx = i
		lay.unitIdx = lookup(index, colValueUnit)
		lay.variableIdx = lookup(index, colValueVariableCode)
		lay.qualityIdx = lookup(index, colValueQuality)
		return lay, nil
	}

	qualities := make(map[string]int)
	for i, h := range header {
		parts := strings.Split(h, measureSeparator)
		if len(parts) >= 2 && strings.EqualFold(parts[len(parts)-1], qualitySuffix) {
			qualities[parts[0]] = i
		}
	}
	for i, h := range header {
		parts := strings.Split(h, measureSeparator)
		if len(parts) < 2 || strings.EqualFold(parts[len(parts)-1], qualitySuffix) {
			continue
		}
		m := measure{idx: i, code: parts[0], qualityIdx: -1}
		if len(parts) >= 3 {
			m.unit = parts[len(parts)-1]
		}
		if q, ok := qualities[m.code]; ok {
			m.qualityIdx = q
		}
		lay.measures = append(lay.measures, m)
	}
	if len(lay.measures) == 0 {
		return nil, ErrUnknownLayout
	}
	return lay, nil
}

func (l *layout) melt(tableID string, record []string) ([]Observation, error) {
	keys := make(map[string]string, len(l.dimensions))
	for _, d := range l.dimensions {
		code := field(record, d.codeIdx)
		if code == "" {
			continue
		}
		keys[code] = field(record, d.attributeIdx)
	}
	base := Observation{
		TableID: tableID,
		Time:    field(record, l.timeIdx),
	}

	if l.valueIdx >= 0 {
		obs := base
		obs.Keys = keys
		obs.Variable = field(record, l.variableIdx)
		obs.Unit = field(record, l.unitIdx)
		value, quality, err := ParseValue(field(record, l.valueIdx))
		if err != nil {
			return nil, err
		}
		obs.Value = value
		obs.Quality = firstNonEmpty(field(record, l.qualityIdx), quality)
		return []Observation{obs}, nil
	}

	out := make([]Observation, 0, len(l.measures))
	for _, m := range l.measures {
		obs := base
		obs.Keys = copyKeys(keys)
		obs.Variable = m.code
		obs.Unit = m.unit
		value, quality, err := ParseValue(field(record, m.idx))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.code, err)
		}
		obs.Value = value
		obs.Quality = firstNonEmpty(field(record, m.qualityIdx), quality)
		out = append(out, obs)
	}
	return out, nil
}

// ParseValue converts a GENESIS cell. "-" means exactly zero; ".", "...", "x"
// and "/" mean unknown, secret or not meaningful and yield a nil value with
// the marker returned as quality. A comma is read as the decimal separator,
// in which case dots are thousands separators.
func ParseValue(raw string) (*float64, string, error) {
	s := strings.TrimSpace(raw)
	switch s {
	case "":
		return nil, "", nil
	case "-":
		zero := 0.0
		return &zero, "-", nil
	case ".", "...", "x", "/":
		return nil, s, nil
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, "", fmt.Errorf("invalid value %q", raw)
	}
	return &v, "", nil
}

// toUTF8 strips a BOM and decodes Latin-1 payloads that older GENESIS
// deployments still return.
func toUTF8(data []byte) ([]byte, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return data, nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("ffcsv: decode latin-1: %w", err)
	}
	return decoded, nil
}

func lookup(index map[string]int, name string) int {
	if i, ok := index[name]; ok {
		return i
	}
	return -1
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func copyKeys(keys map[string]string) map[string]string {
	out := make(map[string]string, len(keys))
	for k, v := range keys {
		out[k] = v
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
