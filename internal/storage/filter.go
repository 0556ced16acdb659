package storage

import (
	"strings"
	"time"

	"github.com/Sumatoshi-tech/tablefang/internal/schema"
)

// MatchAll reports whether the row satisfies every filter.
func MatchAll(row schema.Row, filters []Filter) bool {
	for _, f := range filters {
		if !f.Match(row) {
			return false
		}
	}

	return true
}

// Match reports whether the row satisfies the filter. Missing cells and
// incomparable types never match.
func (f Filter) Match(row schema.Row) bool {
	value, ok := row[f.Column]
	if !ok {
		return false
	}

	if f.Op == OpContains {
		haystack, hok := asString(value)
		needle, nok := asString(f.Value)

		return hok && nok && strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
	}

	cmp, ok := Compare(value, f.Value)
	if !ok {
		return false
	}

	switch f.Op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	case OpContains:
		return false
	default:
		return false
	}
}

// Compare orders two cell values of compatible types. Numbers compare
// across int/float representations; strings and times compare naturally;
// bools order false < true. The second return value is false when the
// types are incomparable.
func Compare(a, b any) (int, bool) {
	if af, ok := asFloat(a); ok {
		bf, bok := asFloat(b)
		if !bok {
			return 0, false
		}

		return compareFloat(af, bf), true
	}

	if at, ok := a.(time.Time); ok {
		bt, bok := b.(time.Time)
		if !bok {
			return 0, false
		}

		return at.Compare(bt), true
	}

	if as, ok := asString(a); ok {
		bs, bok := asString(b)
		if !bok {
			return 0, false
		}

		return strings.Compare(as, bs), true
	}

	if ab, ok := a.(bool); ok {
		bb, bok := b.(bool)
		if !bok {
			return 0, false
		}

		return compareBool(ab, bb), true
	}

	return 0, false
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)

	return s, ok
}
