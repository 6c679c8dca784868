package cmd

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-coverage/cli/pkg/output"
	"github.com/telhawk-systems/telhawk-coverage/internal/models"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the coverage service and Wazuh indexer",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := apiClient(cmd).Health(cmd.Context())
		if err != nil {
			output.Error("Health check failed: %v", err)
			return err
		}
		return output.Print(outputFormat(cmd), status, func() { renderHealth(status) })
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func renderHealth(s *models.HealthStatus) {
	tbl := output.NewTable([]string{"COMPONENT", "STATUS"})
	tbl.AddRow([]string{"plugin", s.Plugin})
	tbl.AddRow([]string{"wazuh_indexer", s.WazuhIndexer})

	names := make([]string, 0, len(s.Components))
	for name := range s.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		tbl.AddRow([]string{name, s.Components[name]})
	}
	tbl.Render()
}
