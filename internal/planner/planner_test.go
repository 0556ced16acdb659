package planner_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tablefang/internal/planner"
	"github.com/Sumatoshi-tech/tablefang/internal/schema"
)

func TestCompute_Chain_AllBudgetToRows(t *testing.T) {
	t.Parallel()

	plan := planner.Compute(planner.Params{
		MaxLevelWidth: 1,
		ToGenerate:    3,
		Concurrent:    true,
	})

	assert.Equal(t, planner.Plan{ColumnBatch: 1, RowBatch: 15}, plan)
}

func TestCompute_FanOut_SplitsBudget(t *testing.T) {
	t.Parallel()

	plan := planner.Compute(planner.Params{
		MaxLevelWidth: 3,
		ToGenerate:    3,
		Concurrent:    true,
	})

	assert.Equal(t, planner.Plan{ColumnBatch: 3, RowBatch: 5}, plan)
}

func TestCompute_NotConcurrent_SerialColumns(t *testing.T) {
	t.Parallel()

	plan := planner.Compute(planner.Params{
		MaxLevelWidth: 4,
		ToGenerate:    4,
		Concurrent:    false,
	})

	assert.Equal(t, planner.Plan{ColumnBatch: 1, RowBatch: 15}, plan)
}

func TestCompute_MultiTurn_FullySerial(t *testing.T) {
	t.Parallel()

	plan := planner.Compute(planner.Params{
		MaxLevelWidth: 3,
		ToGenerate:    3,
		Concurrent:    true,
		MultiTurn:     true,
	})

	assert.Equal(t, planner.Plan{ColumnBatch: 1, RowBatch: 1}, plan)
}

func TestCompute_WidthCapsColumnBatch(t *testing.T) {
	t.Parallel()

	plan := planner.Compute(planner.Params{
		MaxLevelWidth: 2,
		ToGenerate:    6,
		Concurrent:    true,
	})

	assert.Equal(t, planner.Plan{ColumnBatch: 2, RowBatch: 7}, plan)
}

func TestCompute_NothingToGenerate_RowParallelism(t *testing.T) {
	t.Parallel()

	plan := planner.Compute(planner.Params{
		MaxLevelWidth: 0,
		ToGenerate:    0,
		Concurrent:    true,
	})

	assert.Equal(t, planner.Plan{ColumnBatch: 1, RowBatch: 15}, plan)
}

func TestCompute_CustomBudget(t *testing.T) {
	t.Parallel()

	plan := planner.Compute(planner.Params{
		MaxLevelWidth: 2,
		ToGenerate:    2,
		Concurrent:    true,
		CellBudget:    8,
	})

	assert.Equal(t, planner.Plan{ColumnBatch: 2, RowBatch: 4}, plan)
}

func TestCompute_ProductNeverExceedsBudget(t *testing.T) {
	t.Parallel()

	for width := 0; width <= 6; width++ {
		for toGen := 0; toGen <= 6; toGen++ {
			plan := planner.Compute(planner.Params{
				MaxLevelWidth: width,
				ToGenerate:    toGen,
				Concurrent:    true,
			})

			assert.LessOrEqual(t, plan.ColumnBatch*plan.RowBatch, planner.DefaultCellBudget,
				"width=%d toGen=%d", width, toGen)
			assert.GreaterOrEqual(t, plan.ColumnBatch, 1)
			assert.GreaterOrEqual(t, plan.RowBatch, 1)
		}
	}
}

func regenSchema() *schema.TableSchema {
	gen := func(prompt string) *schema.LLMGenConfig {
		return &schema.LLMGenConfig{Model: "m", UserPrompt: prompt}
	}

	return &schema.TableSchema{
		ID:   "regen",
		Kind: schema.KindAction,
		Columns: []schema.Column{
			{ID: "input", DType: schema.DTypeStr},
			{ID: "a", DType: schema.DTypeStr, Gen: gen("${input}")},
			{ID: "b", DType: schema.DTypeStr, Gen: gen("${a}")},
			{ID: "c", DType: schema.DTypeStr, Gen: gen("${b}")},
		},
	}
}

func TestRegenColumns_RunAll(t *testing.T) {
	t.Parallel()

	cols, err := planner.RegenColumns(regenSchema(), planner.RegenAll, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, cols)
}

func TestRegenColumns_RunSelected(t *testing.T) {
	t.Parallel()

	cols, err := planner.RegenColumns(regenSchema(), planner.RegenSelected, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, cols)
}

func TestRegenColumns_RunBefore_Inclusive(t *testing.T) {
	t.Parallel()

	cols, err := planner.RegenColumns(regenSchema(), planner.RegenBefore, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cols)
}

func TestRegenColumns_RunAfter_Inclusive(t *testing.T) {
	t.Parallel()

	cols, err := planner.RegenColumns(regenSchema(), planner.RegenAfter, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, cols)
}

func TestRegenColumns_TargetNotOutput_ReturnsError(t *testing.T) {
	t.Parallel()

	_, err := planner.RegenColumns(regenSchema(), planner.RegenSelected, "input")
	assert.ErrorIs(t, err, schema.ErrBadInput)
}

func TestRegenColumns_UnknownStrategy_ReturnsError(t *testing.T) {
	t.Parallel()

	_, err := planner.RegenColumns(regenSchema(), planner.RegenStrategy("run_some"), "a")
	assert.ErrorIs(t, err, schema.ErrBadInput)
}

func TestColumnsToGenerate_SkipsSuppliedValues(t *testing.T) {
	t.Parallel()

	s := regenSchema()
	rows := []schema.Row{
		{"input": "x", "a": "supplied"},
		{"input": "y", "a": "supplied too"},
	}

	assert.Equal(t, []string{"b", "c"}, planner.ColumnsToGenerate(s, rows))
}

func TestColumnsToGenerate_AnyMissingValueCounts(t *testing.T) {
	t.Parallel()

	s := regenSchema()
	rows := []schema.Row{
		{"input": "x", "a": "supplied"},
		{"input": "y"},
	}

	assert.Equal(t, []string{"a", "b", "c"}, planner.ColumnsToGenerate(s, rows))
}

func TestHasMultiTurn_DetectsChatColumn(t *testing.T) {
	t.Parallel()

	s := &schema.TableSchema{
		ID:   "chat",
		Kind: schema.KindChat,
		Columns: []schema.Column{
			{ID: "User", DType: schema.DTypeStr},
			{ID: "AI", DType: schema.DTypeStr, Gen: &schema.LLMGenConfig{
				Model: "m", UserPrompt: "${User}", MultiTurn: true,
			}},
		},
	}

	assert.True(t, planner.HasMultiTurn(s, []string{"AI"}))
	assert.False(t, planner.HasMultiTurn(s, []string{"User"}))
}
