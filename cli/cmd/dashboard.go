package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-coverage/cli/pkg/output"
	"github.com/telhawk-systems/telhawk-coverage/internal/models"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard [operation-id]",
	Short: "Show coverage KPIs for an operation",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildCorrelateRequest(cmd, args)
		if err != nil {
			return err
		}
		summary, err := apiClient(cmd).DashboardSummary(cmd.Context(), req)
		if err != nil {
			output.Error("Dashboard summary failed: %v", err)
			return err
		}
		return output.Print(outputFormat(cmd), summary, func() { renderDashboard(summary) })
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)

	dashboardCmd.Flags().StringVarP(&correlateFile, "file", "f", "", "operation file (YAML or JSON, - for stdin)")
	dashboardCmd.Flags().StringVar(&correlateIndex, "index", "", "alert index pattern")
	dashboardCmd.Flags().StringVar(&correlateStart, "start", "", "override operation start")
	dashboardCmd.Flags().StringVar(&correlateEnd, "end", "", "override operation end")
}

func renderDashboard(s *models.DashboardSummary) {
	output.Info("Operation: %s (%s)", s.Operation.Name, s.Operation.ID)
	output.Info("Window:    %s .. %s", s.Operation.Start, s.Operation.End)

	attackSteps := "-"
	if s.KPI.AttackSteps != nil {
		attackSteps = strconv.Itoa(*s.KPI.AttackSteps)
	}
	tbl := output.NewTable([]string{"KPI", "VALUE"})
	tbl.AddRow([]string{"operations", strconv.Itoa(s.KPI.Operations)})
	tbl.AddRow([]string{"techniques", strconv.Itoa(s.KPI.TechniquesTotal)})
	tbl.AddRow([]string{"techniques detected", strconv.Itoa(s.KPI.TechniquesDetected)})
	tbl.AddRow([]string{"detection rate", strconv.FormatFloat(s.KPI.DetectionRate, 'f', 2, 64) + "%"})
	tbl.AddRow([]string{"alerts", strconv.Itoa(s.KPI.AlertsTotal)})
	tbl.AddRow([]string{"attack steps", attackSteps})
	tbl.Render()
}
