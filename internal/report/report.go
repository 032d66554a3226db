// Package report serializes benchmark results: a JSON export with sorted
// keys, a markdown summary, and console renderings of both.
package report

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mwiater/tokentrace/internal/benchmark"
)

//go:embed result.schema.json
var resultSchema []byte

// ExportWriteError reports a result that could not be serialized or persisted.
type ExportWriteError struct {
	Path string
	Err  error
}

func (e *ExportWriteError) Error() string {
	return fmt.Sprintf("could not write report %s: %v", e.Path, e.Err)
}

func (e *ExportWriteError) Unwrap() error {
	return e.Err
}

// JSON encodes result with sorted keys, two-space indentation and RFC 3339
// timestamps. HTML characters in the response are left unescaped.
func JSON(result benchmark.Result) ([]byte, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	// Round-tripping through a generic value sorts every object's keys.
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var generic any
	if err := decoder.Decode(&generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteJSON writes the JSON export to path atomically.
func WriteJSON(path string, result benchmark.Result) error {
	data, err := JSON(result)
	if err != nil {
		return &ExportWriteError{Path: path, Err: err}
	}
	return writeFile(path, data)
}

// WriteMarkdown writes the markdown summary to path atomically.
func WriteMarkdown(path string, result benchmark.Result) error {
	return writeFile(path, []byte(Markdown(result)))
}

// writeFile replaces path via a temp file in the same directory, so a failed
// write leaves any previous report intact.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &ExportWriteError{Path: path, Err: err}
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return &ExportWriteError{Path: path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &ExportWriteError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &ExportWriteError{Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &ExportWriteError{Path: path, Err: err}
	}
	return nil
}

// SchemaError lists the schema violations found in a report document.
type SchemaError struct {
	Violations []string
}

func (e *SchemaError) Error() string {
	return "report does not match schema: " + strings.Join(e.Violations, "; ")
}

// Validate checks a JSON report document against the embedded schema.
func Validate(data []byte) error {
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(resultSchema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return &SchemaError{Violations: violations}
}

// Load reads and validates a JSON report. A missing file yields an error
// matching os.ErrNotExist.
func Load(path string) (benchmark.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return benchmark.Result{}, fmt.Errorf("read report %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates and decodes a JSON report document.
func Parse(data []byte) (benchmark.Result, error) {
	if err := Validate(data); err != nil {
		var schemaErr *SchemaError
		if errors.As(err, &schemaErr) {
			return benchmark.Result{}, err
		}
		return benchmark.Result{}, fmt.Errorf("invalid report: %w", err)
	}
	var result benchmark.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return benchmark.Result{}, fmt.Errorf("decode report: %w", err)
	}
	return result, nil
}
