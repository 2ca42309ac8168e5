package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var scoreStore bool

var scoreCmd = &cobra.Command{
	Use:   "score [text]",
	Short: "Score a candidate memory for novelty and surprise",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runScore,
}

func init() {
	scoreCmd.Flags().BoolVar(&scoreStore, "store", false, "store the observation according to its classification")
}

func runScore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, db, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	text := strings.Join(args, " ")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if scoreStore {
		result, err := eng.Observe(ctx, text, "", nil)
		if err != nil {
			return err
		}
		return printJSON(result)
	}

	result, err := eng.Scorer.Score(ctx, text)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
