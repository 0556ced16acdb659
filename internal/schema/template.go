package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// refPattern matches ${column} placeholders inside prompt templates.
// Column ids may contain anything except a closing brace.
var refPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// segmentKind discriminates template segments.
type segmentKind int

const (
	segmentLiteral segmentKind = iota
	segmentRef
)

// segment is one compiled template piece: either literal text or a
// column reference to substitute at render time.
type segment struct {
	kind segmentKind
	text string
}

// Template is a compiled prompt template. Compilation happens once per
// schema load; rendering is a cheap string assembly over row values.
type Template struct {
	raw      segmentSlice
	refs     []string
	original string
}

type segmentSlice []segment

// CompileTemplate parses text into a Template. Placeholders use the
// ${column} form; an unterminated ${ is kept as literal text. Duplicate
// references are collapsed in Refs but each occurrence renders.
func CompileTemplate(text string) Template {
	segments := make(segmentSlice, 0, 4)
	refs := make([]string, 0, 4)
	seen := make(map[string]struct{})

	rest := text
	for {
		loc := refPattern.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}

		if loc[0] > 0 {
			segments = append(segments, segment{kind: segmentLiteral, text: rest[:loc[0]]})
		}

		name := rest[loc[2]:loc[3]]
		segments = append(segments, segment{kind: segmentRef, text: name})

		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}

			refs = append(refs, name)
		}

		rest = rest[loc[1]:]
	}

	if rest != "" {
		segments = append(segments, segment{kind: segmentLiteral, text: rest})
	}

	return Template{raw: segments, refs: refs, original: text}
}

// Refs returns the distinct referenced column ids in first-occurrence order.
func (t Template) Refs() []string {
	return t.refs
}

// Empty reports whether the template renders to nothing regardless of input.
func (t Template) Empty() bool {
	return len(t.raw) == 0
}

// String returns the original template text.
func (t Template) String() string {
	return t.original
}

// Render substitutes row values into the template. Null and missing cells
// render as the empty string so a partially filled row still produces a
// usable prompt. Non-string values are formatted with %v.
func (t Template) Render(row Row) string {
	var b strings.Builder

	b.Grow(len(t.original))

	for _, seg := range t.raw {
		if seg.kind == segmentLiteral {
			b.WriteString(seg.text)

			continue
		}

		value, ok := row[seg.text]
		if !ok || value == nil {
			continue
		}

		switch v := value.(type) {
		case string:
			b.WriteString(v)
		default:
			fmt.Fprintf(&b, "%v", v)
		}
	}

	return b.String()
}

// snippetRefPattern matches row['column'] and row["column"] accesses in
// code snippets, the snippet equivalent of ${column} references.
var snippetRefPattern = regexp.MustCompile(`row\[\s*['"]([^'"]+)['"]\s*\]`)

// SnippetRefs extracts the distinct column ids a code snippet reads
// through its row parameter, in first-occurrence order.
func SnippetRefs(source string) []string {
	matches := snippetRefPattern.FindAllStringSubmatch(source, -1)
	refs := make([]string, 0, len(matches))
	seen := make(map[string]struct{})

	for _, m := range matches {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}

		seen[name] = struct{}{}

		refs = append(refs, name)
	}

	return refs
}
