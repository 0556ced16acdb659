// Package main generates JSON Schemas for the tablefang request and
// stream-event shapes, for client authors and contract tests. The table
// schema document itself is validated against the hand-maintained
// internal/schema/table.schema.json, which carries enum and shape
// constraints reflection cannot derive.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/tablefang/internal/sse"
	"github.com/Sumatoshi-tech/tablefang/internal/storage"
	"github.com/Sumatoshi-tech/tablefang/internal/table"
)

// Schema represents a JSON Schema.
type Schema struct {
	Schema      string             `json:"$schema,omitempty"`
	Title       string             `json:"title,omitempty"`
	Description string             `json:"description,omitempty"`
	Type        string             `json:"type,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Ref         string             `json:"$ref,omitempty"`
	Definitions map[string]*Schema `json:"definitions,omitempty"`
}

var outputDir string

func main() {
	flag.StringVar(&outputDir, "o", "docs/schemas", "Output directory for schemas")
	flag.Parse()

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	shapes := map[string]any{
		"add_rows_request":    &table.AddRowsRequest{},
		"regen_rows_request":  &table.RegenRowsRequest{},
		"update_rows_request": &table.UpdateRowsRequest{},
		"delete_rows_request": &table.DeleteRowsRequest{},
		"embed_file_request":  &table.EmbedFileRequest{},
		"chunk_event":         &sse.ChunkEvent{},
		"row_event":           &sse.RowEvent{},
		"references_event":    &sse.ReferencesEvent{},
		"rows_page":           &storage.Page{},
	}

	for name, shape := range shapes {
		schema := generateSchema(name, shape)
		if err := writeSchema(name, schema); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing schema for %s: %v\n", name, err)
			os.Exit(1)
		}

		fmt.Printf("Generated schema for %s\n", name)
	}

	fmt.Println("All schemas generated successfully")
}

func generateSchema(name string, v any) *Schema {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	defs := make(map[string]*Schema)
	props, required := structToProperties(t, defs)

	schema := &Schema{
		Schema:      "https://json-schema.org/draft-07/schema#",
		Title:       t.Name(),
		Description: fmt.Sprintf("JSON schema for the %s wire shape", name),
		Type:        "object",
		Properties:  props,
		Required:    required,
	}

	if len(defs) > 0 {
		schema.Definitions = defs
	}

	return schema
}

func structToProperties(t reflect.Type, defs map[string]*Schema) (map[string]*Schema, []string) {
	props := make(map[string]*Schema)

	var required []string

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		jsonTag := field.Tag.Get("json")

		if jsonTag == "-" || jsonTag == "" {
			continue
		}

		parts := strings.Split(jsonTag, ",")
		jsonName := parts[0]
		isOmitempty := len(parts) > 1 && parts[1] == "omitempty"

		fieldSchema := typeToSchema(field.Type, defs)
		props[jsonName] = fieldSchema

		if !isOmitempty {
			required = append(required, jsonName)
		}
	}

	return props, required
}

func typeToSchema(t reflect.Type, defs map[string]*Schema) *Schema {
	switch t.Kind() {
	case reflect.String:
		return &Schema{Type: "string"}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if t == reflect.TypeOf(time.Duration(0)) {
			return &Schema{Type: "integer", Description: "Duration in nanoseconds"}
		}

		return &Schema{Type: "integer"}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &Schema{Type: "integer"}

	case reflect.Float32, reflect.Float64:
		return &Schema{Type: "number"}

	case reflect.Bool:
		return &Schema{Type: "boolean"}

	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return &Schema{Type: "string", Description: "Base64-encoded bytes"}
		}

		return &Schema{
			Type:  "array",
			Items: typeToSchema(t.Elem(), defs),
		}

	case reflect.Map:
		return &Schema{
			Type: "object",
			Description: fmt.Sprintf("Map with %s keys and %s values",
				t.Key().Kind().String(), t.Elem().Kind().String()),
		}

	case reflect.Interface:
		return &Schema{Description: "Any JSON value"}

	case reflect.Struct:
		if t == reflect.TypeOf(time.Time{}) {
			return &Schema{Type: "string", Description: "ISO 8601 timestamp"}
		}

		defName := t.Name()
		if defName == "" {
			props, required := structToProperties(t, defs)

			return &Schema{Type: "object", Properties: props, Required: required}
		}

		if _, exists := defs[defName]; !exists {
			defs[defName] = nil // reserve against self-reference loops
			props, required := structToProperties(t, defs)
			defs[defName] = &Schema{Type: "object", Properties: props, Required: required}
		}

		return &Schema{Ref: "#/definitions/" + defName}

	case reflect.Ptr:
		return typeToSchema(t.Elem(), defs)

	default:
		return &Schema{Type: "object"}
	}
}

func writeSchema(name string, schema *Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	path := filepath.Join(outputDir, name+".json")

	return os.WriteFile(path, data, 0o644)
}
