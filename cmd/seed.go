package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var seedTopic string

var seedCmd = &cobra.Command{
	Use:   "seed <url>...",
	Short: "Enqueue seed pages for a topic",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		added, err := env.engine.Seed(cmd.Context(), seedTopic, args)
		if err != nil {
			return err
		}

		size, err := env.frontier.Size(cmd.Context(), seedTopic)
		if err != nil {
			return err
		}
		fmt.Printf("seeded %d of %d urls (frontier size %d)\n", added, len(args), size)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedTopic, "topic", "", "topic id (required)")
	_ = seedCmd.MarkFlagRequired("topic")
	rootCmd.AddCommand(seedCmd)
}
