package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed table.schema.json
var tableSchemaJSON string

var (
	tableSchemaOnce sync.Once
	tableSchema     *gojsonschema.Schema
	tableSchemaErr  error
)

func compiledTableSchema() (*gojsonschema.Schema, error) {
	tableSchemaOnce.Do(func() {
		loader := gojsonschema.NewStringLoader(tableSchemaJSON)
		tableSchema, tableSchemaErr = gojsonschema.NewSchema(loader)
	})

	return tableSchema, tableSchemaErr
}

// ValidateDocument checks a raw schema document against the JSON Schema
// before it is decoded into a TableSchema. Structural errors are joined
// into one ErrBadInput-wrapped message so clients see every violation at
// once instead of fixing them one request at a time.
func ValidateDocument(data []byte) error {
	compiled, err := compiledTableSchema()
	if err != nil {
		return fmt.Errorf("compile table schema: %w", err)
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadInput, err)
	}

	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}

	return fmt.Errorf("%w: %s", ErrBadInput, strings.Join(messages, "; "))
}

// ParseTableSchema validates and decodes a raw schema document.
func ParseTableSchema(data []byte) (*TableSchema, error) {
	if err := ValidateDocument(data); err != nil {
		return nil, err
	}

	var s TableSchema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadInput, err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &s, nil
}
