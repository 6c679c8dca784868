package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-coverage/cli/pkg/output"
	"github.com/telhawk-systems/telhawk-coverage/internal/chain"
	"github.com/telhawk-systems/telhawk-coverage/internal/models"
)

var importFile string

var importCmd = &cobra.Command{
	Use:   "import [operation-id]",
	Short: "Archive an operation chain",
	Long: `Copy an operation's execution chain into the coverage archive so it can be
correlated after the emulation server has pruned it.

The operation is fetched from Caldera by id, or read from --file.

Examples:
  covctl import op-42 --service-config coverage.yaml
  covctl import --file operation.yaml --service-config coverage.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVarP(&importFile, "file", "f", "", "operation file (YAML or JSON, - for stdin)")
}

func runImport(cmd *cobra.Command, args []string) error {
	if (len(args) == 1) == (importFile != "") {
		return fmt.Errorf("exactly one of an operation id or --file is required")
	}

	sc, _, err := serviceConfig(cmd)
	if err != nil {
		return err
	}
	if sc.DatabaseURL == "" {
		return fmt.Errorf("database_url is not configured")
	}

	var op *models.Operation
	if importFile != "" {
		op, err = readOperation(importFile, cmd.InOrStdin())
	} else {
		if sc.Caldera.URL == "" {
			return fmt.Errorf("caldera.url is not configured")
		}
		op, err = chain.NewCalderaSource(sc.Caldera.URL, sc.Caldera.APIKey).ExecutionChain(cmd.Context(), args[0])
	}
	if err != nil {
		return err
	}

	if err := chain.Migrate(sc.DatabaseURL); err != nil {
		return err
	}
	archive, err := chain.NewArchive(cmd.Context(), sc.DatabaseURL)
	if err != nil {
		return err
	}
	defer archive.Close()

	if err := archive.Import(cmd.Context(), op); err != nil {
		output.Error("Import failed: %v", err)
		return err
	}

	searchable := 0
	for _, step := range op.Chain {
		if step.Searchable() {
			searchable++
		}
	}
	output.Success("Archived %s: %d steps (%d searchable)", op.ID, len(op.Chain), searchable)
	return nil
}
