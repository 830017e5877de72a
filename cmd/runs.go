package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ddoubleg123/carrot-sub001/internal/model"
	"github.com/ddoubleg123/carrot-sub001/internal/store"
)

var (
	runsTopic  string
	runsStatus string
	runsLimit  int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		runs, err := env.store.ListRuns(cmd.Context(), store.RunFilter{
			TopicID: runsTopic,
			Status:  model.RunStatus(runsStatus),
			Limit:   runsLimit,
		})
		if err != nil {
			return err
		}

		for _, r := range runs {
			fmt.Printf("%s  %-10s  %s  %s\n", r.ID, r.Status, r.TopicID, r.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("%d runs\n", len(runs))
		return nil
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsTopic, "topic", "", "filter by topic id")
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "filter by status")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "max runs to list")
	rootCmd.AddCommand(runsCmd)
}
