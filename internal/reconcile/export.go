package reconcile

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// ImportParseError reports a ground-truth export that could not be read or
// held no usable row.
type ImportParseError struct {
	Path string
	Err  error
}

func (e *ImportParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to parse export: %v", e.Err)
	}
	return fmt.Sprintf("failed to parse export %s: %v", e.Path, e.Err)
}

func (e *ImportParseError) Unwrap() error {
	return e.Err
}

// ErrNoRows is wrapped by ImportParseError when the export holds no row.
var ErrNoRows = errors.New("no data found in export")

const (
	fieldPrompt   = "promptTokens"
	fieldResponse = "responseTokens"
	fieldTotal    = "totalTokens"
)

// ParseExport reads a ground-truth export from path.
func ParseExport(path string) (ActualTokenCounts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ActualTokenCounts{}, &ImportParseError{Path: path, Err: err}
	}
	counts, err := ParseExportBytes(data)
	if err != nil {
		var parseErr *ImportParseError
		if errors.As(err, &parseErr) {
			parseErr.Path = path
		}
		return ActualTokenCounts{}, err
	}
	return counts, nil
}

// ParseExportBytes decodes an xctrace XML table export (the first <row> is
// used) or a JSON object or array of objects with the same field names.
func ParseExportBytes(data []byte) (ActualTokenCounts, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return ActualTokenCounts{}, &ImportParseError{Err: ErrNoRows}
	}
	var (
		row map[string]string
		err error
	)
	switch trimmed[0] {
	case '{', '[':
		row, err = firstJSONRow(trimmed)
	default:
		row, err = firstXMLRow(trimmed)
	}
	if err != nil {
		return ActualTokenCounts{}, &ImportParseError{Err: err}
	}
	return ActualTokenCounts{
		Prompt:   parseCount(row[fieldPrompt]),
		Response: parseCount(row[fieldResponse]),
		Total:    parseCount(row[fieldTotal]),
	}, nil
}

func firstXMLRow(data []byte) (map[string]string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	var (
		row     map[string]string
		current string
		value   strings.Builder
	)
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid XML: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "row" && row == nil:
				row = map[string]string{}
			case row != nil && isCountField(t.Name.Local):
				current = t.Name.Local
				value.Reset()
			}
		case xml.CharData:
			if current != "" {
				value.Write(t)
			}
		case xml.EndElement:
			switch {
			case row != nil && t.Name.Local == current:
				row[current] = strings.TrimSpace(value.String())
				current = ""
			case row != nil && t.Name.Local == "row":
				return row, nil
			}
		}
	}
	if row == nil {
		return nil, ErrNoRows
	}
	return nil, errors.New("invalid XML: unterminated row")
}

func isCountField(name string) bool {
	return name == fieldPrompt || name == fieldResponse || name == fieldTotal
}

func firstJSONRow(data []byte) (map[string]string, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var doc any
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var obj map[string]any
	switch v := doc.(type) {
	case map[string]any:
		obj = v
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				obj = m
				break
			}
		}
	}
	if obj == nil {
		return nil, ErrNoRows
	}

	row := map[string]string{}
	for _, key := range []string{fieldPrompt, fieldResponse, fieldTotal} {
		switch v := obj[key].(type) {
		case string:
			row[key] = strings.TrimSpace(v)
		case json.Number:
			row[key] = v.String()
		}
	}
	return row, nil
}

// parseCount accepts integers and integral floats. Anything else is zero.
func parseCount(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err == nil {
		return n
	}
	if errors.Is(err, strconv.ErrRange) {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) {
		return 0
	}
	// float64(math.MaxInt) rounds up to 2^63, which int cannot hold.
	if f >= float64(math.MaxInt) || f < float64(math.MinInt) {
		return 0
	}
	return int(f)
}
