package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show a run's status and a fresh metrics snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.store.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		snap, err := env.engine.Snapshot(cmd.Context(), run.TopicID)
		if err != nil {
			return err
		}

		fmt.Printf("run %s  topic=%s  status=%s\n", run.ID, run.TopicID, run.Status)
		if run.Error != "" {
			fmt.Printf("error: %s\n", run.Error)
		}
		fmt.Printf("frontier: %d\n", snap.FrontierSize)
		fmt.Printf("pages: %v\n", snap.PagesByStatus)
		fmt.Printf("citations: %v\n", snap.CitationsByState)
		fmt.Printf("content saved: %d\n", snap.ContentSaved)
		fmt.Printf("heroes: %v\n", snap.HeroesByStatus)
		fmt.Printf("feed: %v\n", snap.FeedByStatus)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
