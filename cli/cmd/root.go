package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-coverage/cli/internal/client"
	"github.com/telhawk-systems/telhawk-coverage/cli/internal/config"
	svcconfig "github.com/telhawk-systems/telhawk-coverage/internal/config"
	"github.com/telhawk-systems/telhawk-coverage/internal/logging"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "covctl",
	Short: "TelHawk detection coverage CLI",
	Long: `covctl measures how well the SIEM detects adversary emulation runs.

Correlate operations against Wazuh alerts through the coverage service or
locally, seed test alerts, inspect the rule-to-technique mapping and import
operation chains into the archive.`,
	Version:      "0.1.0",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.covctl/config.yaml)")
	rootCmd.PersistentFlags().String("profile", "", "profile to use (default: current profile)")
	rootCmd.PersistentFlags().String("output", "table", "output format: table, json, yaml")
	rootCmd.PersistentFlags().String("service-config", "", "coverage service config file, used by local commands")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.Default()
	}
}

func outputFormat(cmd *cobra.Command) string {
	format, _ := cmd.Flags().GetString("output")
	return format
}

func currentProfile(cmd *cobra.Command) config.Profile {
	name, _ := cmd.Flags().GetString("profile")
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg.Resolve(name)
}

func apiClient(cmd *cobra.Command) *client.CoverageClient {
	p := currentProfile(cmd)
	return client.NewCoverageClient(p.ServerURL, p.Token)
}

// serviceConfig loads the coverage service configuration for commands that
// talk to OpenSearch, Caldera or the archive directly.
func serviceConfig(cmd *cobra.Command) (*svcconfig.Config, *logging.Logger, error) {
	path, _ := cmd.Flags().GetString("service-config")
	sc, err := svcconfig.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load service config: %w", err)
	}
	level := logging.ParseLevel(sc.Logging.Level)
	if level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	logger := logging.NewWithWriter(os.Stderr, level, "text")
	return sc, logger, nil
}
