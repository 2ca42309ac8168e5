package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var promoteMinOccurrences int

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Extract repeated rules from episodes and promote them to the semantic tier",
	RunE:  runPromote,
}

func init() {
	promoteCmd.Flags().IntVarP(&promoteMinOccurrences, "min", "m", 2, "minimum occurrences before a rule is promoted")
}

func runPromote(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, db, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	rules, err := eng.Pipeline.ExtractRules(promoteMinOccurrences)
	if err != nil {
		return err
	}
	if err := eng.Pipeline.PromoteToSemantic(rules); err != nil {
		return err
	}

	fmt.Printf("promoted %d rules\n", len(rules))
	for _, r := range rules {
		fmt.Printf("  [%s] %.2f (%dx) %s\n", r.Kind, r.Confidence, r.Occurrences, r.Rule)
	}
	return nil
}
