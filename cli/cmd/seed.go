package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-coverage/cli/pkg/output"
	"github.com/telhawk-systems/telhawk-coverage/internal/app"
	"github.com/telhawk-systems/telhawk-coverage/internal/chain"
	"github.com/telhawk-systems/telhawk-coverage/internal/models"
	"github.com/telhawk-systems/telhawk-coverage/internal/seeder"
)

var (
	seedFile        string
	seedOperationID string
	seedDetectRatio float64
	seedNoise       int
	seedJitter      time.Duration
	seedIndexPrefix string
	seedRandomSeed  int64
	seedDryRun      bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Index synthetic Wazuh alerts for an operation",
	Long: `Generate Wazuh-shaped alerts for an operation's chain and bulk-index them
into the alert store, so coverage runs can be exercised without live agents.

A fraction of the searchable steps (--detect-ratio) get an alert tied to the
step's technique and process; --noise adds unrelated alerts around each step.

Examples:
  covctl seed --file operation.yaml --detect-ratio 0.75
  covctl seed --operation op-42 --noise 3 --seed 7 --service-config coverage.yaml
  covctl seed --file operation.yaml --dry-run --output json`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "operation file (YAML or JSON, - for stdin)")
	seedCmd.Flags().StringVar(&seedOperationID, "operation", "", "load the operation from the configured chain sources")
	seedCmd.Flags().Float64Var(&seedDetectRatio, "detect-ratio", 0.8, "probability that a step is detected (0-1)")
	seedCmd.Flags().IntVar(&seedNoise, "noise", 1, "unrelated alerts per step")
	seedCmd.Flags().DurationVar(&seedJitter, "jitter", time.Minute, "maximum offset of an alert from its step")
	seedCmd.Flags().StringVar(&seedIndexPrefix, "index-prefix", seeder.DefaultIndexPrefix, "daily index prefix")
	seedCmd.Flags().Int64Var(&seedRandomSeed, "seed", 0, "random seed (0 picks one)")
	seedCmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "generate without indexing")
}

func runSeed(cmd *cobra.Command, args []string) error {
	if (seedFile == "") == (seedOperationID == "") {
		return fmt.Errorf("exactly one of --file or --operation is required")
	}

	sc, logger, err := serviceConfig(cmd)
	if err != nil {
		return err
	}

	var op *models.Operation
	if seedFile != "" {
		op, err = readOperation(seedFile, cmd.InOrStdin())
	} else {
		var (
			src     chain.Source
			cleanup func()
		)
		src, _, cleanup, err = app.Chains(cmd.Context(), sc, logger)
		defer cleanup()
		if err == nil && src == nil {
			err = fmt.Errorf("no chain source configured: set caldera.url or database_url")
		}
		if err == nil {
			op, err = src.ExecutionChain(cmd.Context(), seedOperationID)
		}
	}
	if err != nil {
		return err
	}

	rules, err := app.Rules(sc)
	if err != nil {
		return err
	}
	gen := seeder.NewGenerator(seeder.Options{
		DetectRatio:  seedDetectRatio,
		NoisePerStep: seedNoise,
		Jitter:       seedJitter,
		IndexPrefix:  seedIndexPrefix,
		Seed:         seedRandomSeed,
	}, rules)
	docs := gen.Generate(op)

	if seedDryRun {
		sources := make([]map[string]interface{}, 0, len(docs))
		for _, d := range docs {
			sources = append(sources, d.Source)
		}
		return output.Print(outputFormat(cmd), sources, func() { renderSeedPlan(op, docs) })
	}

	gateway, err := app.Gateway(sc)
	if err != nil {
		return err
	}
	res, err := seeder.NewIndexer(gateway.Client()).Index(cmd.Context(), docs)
	if err != nil {
		output.Error("Seeding failed: %v", err)
		return err
	}

	return output.Print(outputFormat(cmd), res, func() {
		output.Success("Indexed %d alerts for %s", res.Indexed, op.ID)
		if res.Failed > 0 {
			output.Warn("%d alerts failed", res.Failed)
			for _, e := range res.Errors {
				output.Error("%s", e)
			}
		}
	})
}

func renderSeedPlan(op *models.Operation, docs []seeder.Document) {
	perIndex := map[string]int{}
	for _, d := range docs {
		perIndex[d.Index]++
	}
	indices := make([]string, 0, len(perIndex))
	for idx := range perIndex {
		indices = append(indices, idx)
	}
	sort.Strings(indices)

	output.Info("Operation %s: %d alerts generated for %d steps", op.ID, len(docs), len(op.Chain))
	tbl := output.NewTable([]string{"INDEX", "ALERTS"})
	for _, idx := range indices {
		tbl.AddRow([]string{idx, strconv.Itoa(perIndex[idx])})
	}
	tbl.Render()
}
