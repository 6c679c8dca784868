package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-coverage/cli/internal/config"
	"github.com/telhawk-systems/telhawk-coverage/cli/pkg/output"
)

var (
	profileServer string
	profileToken  string
	profileIndex  string
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage coverage service profiles",
}

var profileSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Create or update a profile and make it current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := config.Profile{ServerURL: profileServer, Token: profileToken, Index: profileIndex}
		if existing, err := cfg.GetProfile(args[0]); err == nil {
			if !cmd.Flags().Changed("server") {
				p.ServerURL = existing.ServerURL
			}
			if !cmd.Flags().Changed("token") {
				p.Token = existing.Token
			}
			if !cmd.Flags().Changed("index") {
				p.Index = existing.Index
			}
		}
		if err := cfg.SaveProfile(args[0], p); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
		output.Success("Profile '%s' saved (%s)", args[0], p.ServerURL)
		return nil
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Switch the current profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := cfg.GetProfile(args[0]); err != nil {
			return err
		}
		cfg.CurrentProfile = args[0]
		if err := cfg.Save(); err != nil {
			return err
		}
		output.Success("Using profile '%s'", args[0])
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	Run: func(cmd *cobra.Command, args []string) {
		names := cfg.Names()
		if len(names) == 0 {
			output.Warn("No profiles configured; using %s", config.DefaultServerURL)
			return
		}
		tbl := output.NewTable([]string{"", "NAME", "SERVER", "INDEX"})
		for _, name := range names {
			p := cfg.Profiles[name]
			marker := ""
			if name == cfg.CurrentProfile {
				marker = "*"
			}
			tbl.AddRow([]string{marker, name, p.ServerURL, p.Index})
		}
		tbl.Render()
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Delete a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RemoveProfile(args[0]); err != nil {
			return err
		}
		output.Success("Profile '%s' removed", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSetCmd, profileUseCmd, profileListCmd, profileRemoveCmd)

	profileSetCmd.Flags().StringVar(&profileServer, "server", config.DefaultServerURL, "coverage service URL")
	profileSetCmd.Flags().StringVar(&profileToken, "token", "", "bearer token")
	profileSetCmd.Flags().StringVar(&profileIndex, "index", "", "default alert index pattern")
}
