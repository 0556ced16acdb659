package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/tablefang/internal/archive"
)

// ExportCommand writes one table to an archive file.
type ExportCommand struct {
	project string
	output  string
}

// NewExportCommand creates the export subcommand.
func NewExportCommand() *cobra.Command {
	ec := &ExportCommand{}

	cmd := &cobra.Command{
		Use:   "export <table-id>",
		Short: "Write a table to an archive file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ec.run(cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&ec.project, "project", "p", "default", "project id")
	cmd.Flags().StringVarP(&ec.output, "output", "o", "", "output path (default <table-id>"+archive.FileExtension+")")

	return cmd
}

func (ec *ExportCommand) run(cmd *cobra.Command, tableID string) error {
	a, err := buildApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	path := ec.output
	if path == "" {
		path = tableID + archive.FileExtension
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if err := a.service.ExportTable(cmd.Context(), ec.project, tableID, out); err != nil {
		_ = out.Close()
		_ = os.Remove(path)

		return err
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "exported %s to %s (%s)\n", tableID, path, humanize.Bytes(uint64(info.Size())))

	return nil
}

// ImportCommand creates a table from an archive file.
type ImportCommand struct {
	project string
	tableID string
}

// NewImportCommand creates the import subcommand.
func NewImportCommand() *cobra.Command {
	ic := &ImportCommand{}

	cmd := &cobra.Command{
		Use:   "import <archive-file>",
		Short: "Create a table from an archive file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ic.run(cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&ic.project, "project", "p", "default", "project id")
	cmd.Flags().StringVarP(&ic.tableID, "table", "t", "", "target table id (default derived from the file name)")

	return cmd
}

func (ic *ImportCommand) run(cmd *cobra.Command, path string) error {
	a, err := buildApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = in.Close() }()

	tableID := ic.tableID
	if tableID == "" {
		tableID = tableIDFromPath(path)
	}

	ts, err := a.service.ImportTable(cmd.Context(), ic.project, tableID, in)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "imported %s from %s\n", ts.ID, path)

	return nil
}

// tableIDFromPath strips the directory and the archive extension.
func tableIDFromPath(path string) string {
	base := path
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}

	return strings.TrimSuffix(base, archive.FileExtension)
}
