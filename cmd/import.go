package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-engine/internal/importer"
)

var (
	importTenant string
	importFile   string
	importMode   string
	importDryRun bool
	importCheck  bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a CSV or XLSX contact list",
	Long:  "Classifies each row as new, existing or invalid, then ingests the selected rows. --check only prints the classification.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		mode, err := importer.ParseMode(importMode)
		if err != nil {
			return err
		}

		rows, err := readImportFile(ctx, importFile)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		if importCheck {
			rep, err := env.Importer.CheckDuplicates(ctx, importTenant, rows)
			if err != nil {
				return eris.Wrap(err, "check duplicates")
			}
			return printJSON(cmd.OutOrStdout(), rep)
		}

		res, err := env.Importer.Import(ctx, importTenant, rows, mode, importDryRun)
		if err != nil {
			return eris.Wrap(err, "import")
		}

		zap.L().Info("import complete",
			zap.String("file", importFile),
			zap.Int("created", res.Created),
			zap.Int("updated", res.Updated),
			zap.Int("failed", len(res.Failed)),
			zap.Bool("dry_run", res.DryRun),
		)
		return printJSON(cmd.OutOrStdout(), res)
	},
}

// readImportFile picks the reader from the file extension.
func readImportFile(ctx context.Context, path string) ([]importer.Row, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return importer.ReadXLSX(path)
	case ".csv", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "open %s", path)
		}
		defer func() { _ = f.Close() }()
		return importer.ReadCSV(ctx, f)
	default:
		return nil, eris.Errorf("unsupported import file %q (want .csv or .xlsx)", path)
	}
}

func init() {
	importCmd.Flags().StringVar(&importTenant, "tenant", "", "tenant id (required)")
	importCmd.Flags().StringVar(&importFile, "file", "", "path to a .csv or .xlsx file (required)")
	importCmd.Flags().StringVar(&importMode, "mode", string(importer.ModeNovos), "rows to ingest: novos or atualizar")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "classify rows without writing")
	importCmd.Flags().BoolVar(&importCheck, "check", false, "only print the duplicate report")
	_ = importCmd.MarkFlagRequired("tenant")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
