package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cookcard/ingest/internal/canonical"
)

var (
	vocabFile   string
	vocabDryRun bool
)

var vocabCmd = &cobra.Command{
	Use:   "vocab",
	Short: "Manage the canonical ingredient vocabulary",
}

var vocabImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import canonical items from a YAML, XLSX or CSV file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		items, err := canonical.LoadVocabularyFile(vocabFile)
		if err != nil {
			return err
		}

		if vocabDryRun {
			m := canonical.NewMatcher(items, cfg.Canonical.FuzzyThreshold)
			fmt.Printf("%d items, %d match terms (dry run)\n", len(items), m.Len())
			return nil
		}

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx, false)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.UpsertCanonicalItems(ctx, items)
		if err != nil {
			return err
		}
		zap.L().Info("vocabulary imported",
			zap.String("file", vocabFile),
			zap.Int("items", len(items)),
			zap.Int64("upserted", n),
		)
		return nil
	},
}

func init() {
	vocabImportCmd.Flags().StringVar(&vocabFile, "file", "", "vocabulary file (.yaml, .yml, .xlsx or .csv)")
	vocabImportCmd.Flags().BoolVar(&vocabDryRun, "dry-run", false, "parse and index the file without writing")
	_ = vocabImportCmd.MarkFlagRequired("file")

	vocabCmd.AddCommand(vocabImportCmd)
	rootCmd.AddCommand(vocabCmd)
}
