package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sumatoshi-tech/tablefang/internal/schema"
)

func TestCompileTemplate_Refs_FirstOccurrenceOrder(t *testing.T) {
	t.Parallel()

	tpl := schema.CompileTemplate("Use ${b} then ${a}, and ${b} again.")
	assert.Equal(t, []string{"b", "a"}, tpl.Refs())
}

func TestCompileTemplate_NoRefs_EmptySlice(t *testing.T) {
	t.Parallel()

	tpl := schema.CompileTemplate("plain text")
	assert.Empty(t, tpl.Refs())
	assert.False(t, tpl.Empty())
}

func TestCompileTemplate_EmptyText_Empty(t *testing.T) {
	t.Parallel()

	tpl := schema.CompileTemplate("")
	assert.True(t, tpl.Empty())
	assert.Empty(t, tpl.Refs())
}

func TestTemplate_Render_SubstitutesValues(t *testing.T) {
	t.Parallel()

	tpl := schema.CompileTemplate("Q: ${question}\nA: ${hint}")
	row := schema.Row{"question": "why is the sky blue", "hint": "physics"}

	assert.Equal(t, "Q: why is the sky blue\nA: physics", tpl.Render(row))
}

func TestTemplate_Render_MissingAndNullAsEmpty(t *testing.T) {
	t.Parallel()

	tpl := schema.CompileTemplate("[${a}][${b}]")
	row := schema.Row{"a": nil}

	assert.Equal(t, "[][]", tpl.Render(row))
}

func TestTemplate_Render_FormatsNonStrings(t *testing.T) {
	t.Parallel()

	tpl := schema.CompileTemplate("count=${n} ok=${flag}")
	row := schema.Row{"n": int64(42), "flag": true}

	assert.Equal(t, "count=42 ok=true", tpl.Render(row))
}

func TestCompileTemplate_UnterminatedRef_KeptAsLiteral(t *testing.T) {
	t.Parallel()

	tpl := schema.CompileTemplate("broken ${ref")
	assert.Empty(t, tpl.Refs())
	assert.Equal(t, "broken ${ref", tpl.Render(schema.Row{"ref": "x"}))
}

func TestCompileTemplate_RepeatedRef_RendersEachOccurrence(t *testing.T) {
	t.Parallel()

	tpl := schema.CompileTemplate("${x}-${x}")
	assert.Equal(t, "a-a", tpl.Render(schema.Row{"x": "a"}))
}

func TestSnippetRefs_BothQuoteStyles(t *testing.T) {
	t.Parallel()

	code := `total = row['price'] * row["qty"] if row['price'] else 0`
	assert.Equal(t, []string{"price", "qty"}, schema.SnippetRefs(code))
}

func TestSnippetRefs_DeadBranchStillCounts(t *testing.T) {
	t.Parallel()

	code := `x = 1
if False:
    x = row['unused']`
	assert.Equal(t, []string{"unused"}, schema.SnippetRefs(code))
}
