package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// DType names the storage type of a table column.
type DType string

// Column data types. Vector columns additionally carry a dimension in
// Column.VectorSize; file types store a URI pointing at the uploaded blob.
const (
	DTypeInt      DType = "int"
	DTypeFloat    DType = "float"
	DTypeBool     DType = "bool"
	DTypeStr      DType = "str"
	DTypeImage    DType = "image"
	DTypeAudio    DType = "audio"
	DTypeDocument DType = "document"
	DTypeVector   DType = "vector"
)

// Valid reports whether d is one of the supported data types.
func (d DType) Valid() bool {
	switch d {
	case DTypeInt, DTypeFloat, DTypeBool, DTypeStr, DTypeImage, DTypeAudio, DTypeDocument, DTypeVector:
		return true
	default:
		return false
	}
}

// IsFile reports whether values of this type are stored as file URIs.
func (d DType) IsFile() bool {
	return d == DTypeImage || d == DTypeAudio || d == DTypeDocument
}

// String returns the wire name of the dtype.
func (d DType) String() string {
	return string(d)
}

// CoerceValue converts a raw cell value into the canonical Go representation
// for the dtype. Generated text is parsed for scalar types so a model that
// answers "42" fills an int column with int64(42). A nil value stays nil.
func CoerceValue(d DType, value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch d {
	case DTypeInt:
		return coerceInt(value)
	case DTypeFloat:
		return coerceFloat(value)
	case DTypeBool:
		return coerceBool(value)
	case DTypeStr, DTypeImage, DTypeAudio, DTypeDocument:
		return coerceString(value)
	case DTypeVector:
		return coerceVector(value)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDType, d)
	}
}

func coerceInt(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an int", ErrBadInput, v)
		}

		return parsed, nil
	default:
		return nil, fmt.Errorf("%w: cannot store %T in an int column", ErrBadInput, value)
	}
}

func coerceFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a float", ErrBadInput, v)
		}

		return parsed, nil
	default:
		return nil, fmt.Errorf("%w: cannot store %T in a float column", ErrBadInput, value)
	}
}

func coerceBool(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(strings.ToLower(v)))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a bool", ErrBadInput, v)
		}

		return parsed, nil
	default:
		return nil, fmt.Errorf("%w: cannot store %T in a bool column", ErrBadInput, value)
	}
}

func coerceString(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	case int, int64, float64, bool:
		return fmt.Sprintf("%v", v), nil
	default:
		return nil, fmt.Errorf("%w: cannot store %T in a str column", ErrBadInput, value)
	}
}

func coerceVector(value any) (any, error) {
	switch v := value.(type) {
	case []float32:
		return v, nil
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}

		return out, nil
	case []any:
		out := make([]float32, len(v))

		for i, raw := range v {
			f, ok := raw.(float64)
			if !ok {
				return nil, fmt.Errorf("%w: vector element %d is %T, want number", ErrBadInput, i, raw)
			}

			out[i] = float32(f)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("%w: cannot store %T in a vector column", ErrBadInput, value)
	}
}
