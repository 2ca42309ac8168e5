package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var evolutionCmd = &cobra.Command{
	Use:   "evolution",
	Short: "Show evolution state and audit history",
	RunE:  runEvolution,
}

var evolutionHistory bool

func init() {
	evolutionCmd.Flags().BoolVar(&evolutionHistory, "history", false, "print the full transition audit trail")
}

func runEvolution(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, db, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	state, err := eng.Evolution.State()
	if err != nil {
		return err
	}

	fmt.Printf("state: %s (since %s)\n", state.State, time.UnixMilli(state.EnteredAt).Format(time.RFC3339))
	fmt.Printf("transitions: %d  applied: %d  rolled back: %d\n",
		state.TransitionCount, state.EvolutionsApplied, state.EvolutionsRolledBack)
	if state.Pending != nil {
		fmt.Printf("pending: %s (%d/%d evidence)\n",
			state.Pending.ID, len(state.Pending.Evidence), state.Pending.Threshold)
	}

	if !evolutionHistory {
		return nil
	}

	history, err := eng.Evolution.History()
	if err != nil {
		return err
	}
	for _, h := range history {
		flag := ""
		if h.Forced {
			flag = " [forced]"
		}
		fmt.Printf("  %s  %s→%s%s  %s\n",
			time.UnixMilli(h.At).Format(time.RFC3339), h.From, h.To, flag, h.Reason)
	}
	return nil
}
