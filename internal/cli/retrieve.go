package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BJS-Innovation-Lab/mnemo/internal/retrieval"
)

var (
	retrieveLimit int
	retrieveTier  string
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve [query]",
	Short: "Rank stored memories against a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRetrieve,
}

func init() {
	retrieveCmd.Flags().IntVarP(&retrieveLimit, "limit", "n", 10, "max results")
	retrieveCmd.Flags().StringVarP(&retrieveTier, "tier", "t", "", "filter by tier (core, working, learning, research)")
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, db, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	query := strings.Join(args, " ")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := eng.Ranker.Retrieve(ctx, query, retrieval.Options{Limit: retrieveLimit, Tier: retrieveTier})
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}

	for i, r := range results {
		content := r.Chunk.Content
		if len(content) > 100 {
			content = content[:100] + "..."
		}
		fmt.Printf("%2d. [%.3f] (%s sim=%.3f util=%.2f) %s\n",
			i+1, r.Final, r.Chunk.Tier, r.Similarity, r.Chunk.UtilityScore, content)
	}
	return nil
}
