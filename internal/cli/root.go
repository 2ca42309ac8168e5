package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "Memory governance for AI agents",
	Long:  "Mnemo decides what an agent may remember, how confidently, how memories rank against live queries, and when accumulated evidence may trigger governed self-modification.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(evolutionCmd)
	rootCmd.AddCommand(trackCmd)
}
