package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Apply recorded outcomes to chunk utility scores",
	RunE:  runTrack,
}

func runTrack(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, db, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := eng.Tracker.ProcessOutcomes(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("processed %d outcomes\n", n)
	return nil
}
