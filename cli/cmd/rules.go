package cmd

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-coverage/cli/pkg/output"
	"github.com/telhawk-systems/telhawk-coverage/internal/normalize"
	"github.com/telhawk-systems/telhawk-coverage/internal/rulemap"
)

var (
	rulesMappingFile string
	rulesTechnique   string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect the rule-to-technique mapping",
	Long: `Wazuh rules that ship without MITRE metadata are attributed to a technique
through a rule mapping. These commands show the built-in table, optionally
extended by a mapping file.`,
}

type ruleEntry struct {
	RuleID      string `json:"rule_id"`
	TechniqueID string `json:"technique_id"`
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List mapped rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadMapping()
		if err != nil {
			return err
		}
		entries := mappingEntries(m, rulesTechnique)
		return output.Print(outputFormat(cmd), entries, func() {
			if len(entries) == 0 {
				output.Warn("No rules mapped")
				return
			}
			tbl := output.NewTable([]string{"RULE", "TECHNIQUE"})
			for _, e := range entries {
				tbl.AddRow([]string{e.RuleID, e.TechniqueID})
			}
			tbl.Render()
			output.Info("%d of %d rules", len(entries), m.Len())
		})
	},
}

var rulesLookupCmd = &cobra.Command{
	Use:   "lookup <rule-id>",
	Short: "Show the technique implied by a rule id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadMapping()
		if err != nil {
			return err
		}
		t, ok := m.Technique(args[0])
		if !ok {
			return fmt.Errorf("rule %s is not mapped", args[0])
		}
		entry := ruleEntry{RuleID: args[0], TechniqueID: t}
		return output.Print(outputFormat(cmd), entry, func() {
			output.Info("%s -> %s", entry.RuleID, entry.TechniqueID)
		})
	},
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesLookupCmd)

	rulesCmd.PersistentFlags().StringVar(&rulesMappingFile, "mapping", "", "rule mapping file")
	rulesListCmd.Flags().StringVar(&rulesTechnique, "technique", "", "only rules implying this technique")
}

func loadMapping() (*rulemap.Mapping, error) {
	if rulesMappingFile == "" {
		return rulemap.Default(), nil
	}
	return rulemap.LoadFile(rulesMappingFile)
}

// mappingEntries returns the mapping sorted numerically by rule id, filtered
// to technique when set.
func mappingEntries(m *rulemap.Mapping, technique string) []ruleEntry {
	if technique != "" {
		id, ok := normalize.TechniqueID(technique)
		if !ok {
			return []ruleEntry{}
		}
		technique = id
	}

	entries := []ruleEntry{}
	for rule, t := range m.Rules() {
		if technique != "" && t != technique {
			continue
		}
		entries = append(entries, ruleEntry{RuleID: rule, TechniqueID: t})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, errA := strconv.Atoi(entries[i].RuleID)
		b, errB := strconv.Atoi(entries[j].RuleID)
		if errA == nil && errB == nil && a != b {
			return a < b
		}
		return entries[i].RuleID < entries[j].RuleID
	})
	return entries
}
