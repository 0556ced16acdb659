package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/tablefang/internal/schema"
	"github.com/Sumatoshi-tech/tablefang/internal/storage"
)

// InspectCommand prints a table's schema and its most recent rows.
type InspectCommand struct {
	project string
	rows    int
	noColor bool
}

// NewInspectCommand creates the inspect subcommand.
func NewInspectCommand() *cobra.Command {
	ic := &InspectCommand{}

	cmd := &cobra.Command{
		Use:   "inspect <table-id>",
		Short: "Show a table's schema and recent rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ic.run(cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&ic.project, "project", "p", "default", "project id")
	cmd.Flags().IntVarP(&ic.rows, "rows", "n", 10, "recent rows to show")
	cmd.Flags().BoolVar(&ic.noColor, "no-color", false, "disable colored output")

	return cmd
}

func (ic *InspectCommand) run(cmd *cobra.Command, tableID string) error {
	a, err := buildApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	if ic.noColor {
		color.NoColor = true
	}

	ctx := cmd.Context()

	ts, err := a.service.GetTable(ctx, ic.project, tableID)
	if err != nil {
		return err
	}

	heading := color.New(color.FgCyan, color.Bold)
	_, _ = heading.Fprintf(os.Stdout, "%s (%s)\n\n", ts.ID, ts.Kind)

	ic.printSchema(ts)

	page, err := a.service.ListRows(ctx, ic.project, tableID, storage.ListOptions{
		OrderBy: schema.UpdatedAtColumn,
		Desc:    true,
		Limit:   ic.rows,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "\n%d rows total, showing %d most recent\n\n", page.Total, len(page.Rows))

	ic.printRows(ts, page.Rows)

	return nil
}

func (ic *InspectCommand) printSchema(ts *schema.TableSchema) {
	w := table.NewWriter()
	w.SetOutputMirror(os.Stdout)
	w.SetStyle(table.StyleLight)
	w.AppendHeader(table.Row{"#", "Column", "Type", "Generation"})

	for i, col := range ts.Columns {
		w.AppendRow(table.Row{i + 1, col.ID, col.DType, describeGen(col)})
	}

	w.Render()
}

func (ic *InspectCommand) printRows(ts *schema.TableSchema, rows []schema.Row) {
	if len(rows) == 0 {
		return
	}

	w := table.NewWriter()
	w.SetOutputMirror(os.Stdout)
	w.SetStyle(table.StyleLight)

	header := table.Row{schema.RowIDColumn}
	for _, col := range ts.Columns {
		header = append(header, col.ID)
	}

	w.AppendHeader(header)

	failed := color.New(color.FgRed)

	for _, row := range rows {
		line := table.Row{truncate(fmt.Sprint(row[schema.RowIDColumn]), 12)}

		for _, col := range ts.Columns {
			cell := truncate(fmt.Sprint(row[col.ID]), 32)

			if state, ok := row.State(col.ID); ok && state.Error != "" {
				cell = failed.Sprintf("! %s", state.Error)
			}

			line = append(line, cell)
		}

		w.AppendRow(line)
	}

	w.Render()
}

func describeGen(col schema.Column) string {
	switch cfg := col.Gen.(type) {
	case *schema.LLMGenConfig:
		if cfg.MultiTurn {
			return "llm " + cfg.Model + " (multi-turn)"
		}

		return "llm " + cfg.Model
	case *schema.EmbedGenConfig:
		return "embed " + cfg.EmbeddingModel + " <- " + cfg.SourceColumn
	case *schema.CodeGenConfig:
		return "code"
	default:
		return "input"
	}
}

func truncate(s string, limit int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= limit {
		return s
	}

	return s[:limit-1] + "…"
}
