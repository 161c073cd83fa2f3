package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harun/sylva/pkg/rules"
)

var (
	rulesFacts string
	rulesSet   string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Work with regulatory rule files",
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check [DIR]",
	Short: "Validate a rule directory",
	Long: `Load and compile every rule file in DIR (default: the configured rules
directory). With --facts, evaluate the rules against a JSON facts file and
print the findings.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRulesCheck,
}

func init() {
	rulesCheckCmd.Flags().StringVar(&rulesFacts, "facts", "", "JSON file with facts to evaluate")
	rulesCheckCmd.Flags().StringVar(&rulesSet, "set", "", "evaluate only this rule set")
	rulesCmd.AddCommand(rulesCheckCmd)
	rootCmd.AddCommand(rulesCmd)
}

func runRulesCheck(cmd *cobra.Command, args []string) error {
	var dir string
	if len(args) == 1 {
		dir = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir = cfg.Agents.Regulatory.RulesDir
	}

	sets, err := rules.LoadDir(dir)
	if err != nil {
		return err
	}
	engine := rules.NewEngine(sets...)

	out := cmd.OutOrStdout()
	for _, rs := range engine.Sets() {
		fmt.Fprintf(out, "%s: %d rules (%s)\n", rs.ID, len(rs.Rules), rs.Source)
	}
	fmt.Fprintf(out, "OK: %d rule sets, %d rules\n", len(sets), engine.RuleCount())

	if rulesFacts == "" {
		return nil
	}

	data, err := os.ReadFile(rulesFacts)
	if err != nil {
		return fmt.Errorf("failed to read facts: %w", err)
	}
	var facts rules.Facts
	if err := json.Unmarshal(data, &facts); err != nil {
		return fmt.Errorf("invalid facts file: %w", err)
	}

	var findings []rules.Finding
	if rulesSet != "" {
		findings, err = engine.EvaluateSet(rulesSet, facts)
	} else {
		findings, err = engine.Evaluate(facts)
	}
	for _, f := range findings {
		fmt.Fprintf(out, "[%s] %s/%s: %s\n", f.Severity, f.RuleSet, f.Rule, f.Message)
	}
	if err != nil {
		return fmt.Errorf("evaluation errors: %w", err)
	}
	if len(findings) == 0 {
		fmt.Fprintln(out, "No findings")
	}
	return nil
}
