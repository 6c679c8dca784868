package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-coverage/cli/pkg/output"
	"github.com/telhawk-systems/telhawk-coverage/internal/app"
	"github.com/telhawk-systems/telhawk-coverage/internal/models"
	"github.com/telhawk-systems/telhawk-coverage/internal/service"
)

var (
	correlateFile  string
	correlateIndex string
	correlateStart string
	correlateEnd   string
	correlateLocal bool
	correlateSteps bool
)

var correlateCmd = &cobra.Command{
	Use:   "correlate [operation-id]",
	Short: "Correlate an operation with SIEM alerts",
	Long: `Correlate an emulation operation's execution chain with Wazuh alerts and
report which techniques were detected.

The chain is loaded by id by the service, or read from --file.

Examples:
  covctl correlate 3f1c2d9e-...
  covctl correlate --file operation.yaml --steps
  covctl correlate op-42 --start 2024-05-01T10:00:00Z --end 2024-05-01T12:00:00Z
  covctl correlate op-42 --local --service-config coverage.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCorrelate,
}

func init() {
	rootCmd.AddCommand(correlateCmd)

	correlateCmd.Flags().StringVarP(&correlateFile, "file", "f", "", "operation file (YAML or JSON, - for stdin)")
	correlateCmd.Flags().StringVar(&correlateIndex, "index", "", "alert index pattern")
	correlateCmd.Flags().StringVar(&correlateStart, "start", "", "override operation start (RFC 3339 or epoch)")
	correlateCmd.Flags().StringVar(&correlateEnd, "end", "", "override operation end (RFC 3339 or epoch)")
	correlateCmd.Flags().BoolVar(&correlateLocal, "local", false, "run the engine in-process instead of calling the service")
	correlateCmd.Flags().BoolVar(&correlateSteps, "steps", false, "show per-step results")
}

func buildCorrelateRequest(cmd *cobra.Command, args []string) (models.CorrelateRequest, error) {
	req := models.CorrelateRequest{
		Index: correlateIndex,
		Start: correlateStart,
		End:   correlateEnd,
	}
	if len(args) == 1 {
		req.OperationID = args[0]
	}
	if correlateFile != "" {
		payload, err := readOperationPayload(correlateFile, cmd.InOrStdin())
		if err != nil {
			return req, err
		}
		req.Operation = payload
	}
	if req.OperationID == "" && req.Operation == nil {
		return req, fmt.Errorf("an operation id or --file is required")
	}
	if req.Index == "" {
		req.Index = currentProfile(cmd).Index
	}
	return req, nil
}

func runCorrelate(cmd *cobra.Command, args []string) error {
	req, err := buildCorrelateRequest(cmd, args)
	if err != nil {
		return err
	}

	var report *models.CoverageReport
	if correlateLocal {
		report, err = correlateInProcess(cmd, req)
	} else {
		report, err = apiClient(cmd).Correlate(cmd.Context(), req)
	}
	if err != nil {
		output.Error("Correlation failed: %v", err)
		return err
	}

	return output.Print(outputFormat(cmd), report, func() { renderReport(report, correlateSteps) })
}

func correlateInProcess(cmd *cobra.Command, req models.CorrelateRequest) (*models.CoverageReport, error) {
	sc, logger, err := serviceConfig(cmd)
	if err != nil {
		return nil, err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	gateway, err := app.Gateway(sc)
	if err != nil {
		return nil, err
	}
	engine, err := app.Engine(sc, gateway, logger)
	if err != nil {
		return nil, err
	}
	chains, _, closeChains, err := app.Chains(ctx, sc, logger)
	if err != nil {
		return nil, err
	}
	defer closeChains()

	svc := service.NewCoverageService(engine, gateway, logger).WithDependencies(chains, nil)
	return svc.Correlate(ctx, req)
}

func renderReport(r *models.CoverageReport, steps bool) {
	name := r.OperationName
	if name == "" {
		name = r.OperationID
	}
	output.Info("Operation: %s (%s)", name, r.OperationID)
	output.Info("Window:    %s .. %s", r.StartTime, r.EndTime)
	output.Info("Tier:      %s", r.Tier)
	if r.FallbackUsed {
		output.Warn("Step-level correlation was not possible; technique-level fallback used")
	}
	if r.Incomplete {
		output.Warn("Some searches failed; results may be incomplete")
	}
	output.Info("Detection: %.1f%% (%s basis), %d/%d techniques",
		r.Correlation.DetectionRate, r.Correlation.DetectionRateBasis,
		r.Correlation.DetectedTechniques, r.Correlation.TotalTechniques)
	if r.AttackSteps != nil && r.DetectedSteps != nil {
		output.Info("Steps:     %d/%d detected", *r.DetectedSteps, *r.AttackSteps)
	}
	output.Info("Alerts:    %d matched of %d", r.TotalMatches, r.TotalAlerts)

	detected := make(map[string]bool, len(r.Correlation.MatchedTechniques))
	for _, t := range r.Correlation.MatchedTechniques {
		detected[t] = true
	}
	tbl := output.NewTable([]string{"TECHNIQUE", "DETECTED"})
	for _, t := range r.Correlation.AllOperationTechniques {
		tbl.AddRow([]string{t, yesNo(detected[t])})
	}
	if tbl.Len() > 0 {
		tbl.Render()
	}

	if steps && len(r.StepResults) > 0 {
		stepTbl := output.NewTable([]string{"LINK", "TECHNIQUE", "ABILITY", "PID", "MATCHES", "PID MATCHES", "CONFIDENCE", "DETECTED"})
		for _, s := range r.StepResults {
			stepTbl.AddRow([]string{
				s.LinkID,
				s.TechniqueID,
				truncate(s.AbilityName, 40),
				s.ProcessID,
				strconv.Itoa(s.MatchCount),
				strconv.Itoa(s.PIDMatchCount),
				strconv.FormatFloat(s.Confidence, 'f', 2, 64),
				yesNo(s.Detected),
			})
		}
		stepTbl.Render()
	}

	if n := len(r.Correlation.UndetectedTechniquesList); n > 0 {
		output.Warn("Undetected: %s", strings.Join(r.Correlation.UndetectedTechniquesList, ", "))
	} else if r.Correlation.TotalTechniques > 0 {
		output.Success("All techniques detected")
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
