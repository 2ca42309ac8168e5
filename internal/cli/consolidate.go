package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/BJS-Innovation-Lab/mnemo/internal/consolidate"
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate [file]",
	Short: "Close a session: build an episode and link it into the narrative",
	Long:  "Reads session data (decisions, failures, learnings, goals, procedures) as JSON from a file, or from stdin when no file is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConsolidate,
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	data, err := readSessionData(path, os.Stdin)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, db, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	episode, err := eng.Pipeline.ConsolidateSession(data)
	if err != nil {
		return err
	}
	return printJSON(episode)
}

// readSessionData decodes session JSON from path, or from stdin when path is
// empty or "-".
func readSessionData(path string, stdin io.Reader) (consolidate.SessionData, error) {
	var data consolidate.SessionData

	r := stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return data, fmt.Errorf("open session file: %w", err)
		}
		defer f.Close()
		r = f
	}

	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return data, fmt.Errorf("decode session data: %w", err)
	}
	return data, nil
}
