package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ddoubleg123/carrot-sub001/internal/audit"
	"github.com/ddoubleg123/carrot-sub001/internal/canonical"
)

var auditTopic string

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run one audit pass over a topic",
	Long:  "Requeues stuck work, reconciles page bookkeeping, re-drives orphaned saved citations, and backfills missing hero and feed entries.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		auditor := audit.New(env.store, canonical.New(cfg.Canonical), cfg.Audit)
		report, err := auditor.RunOnce(cmd.Context(), auditTopic)
		if err != nil {
			return err
		}

		fmt.Printf("stuck feed items requeued: %d\n", report.StuckFeedItems)
		fmt.Printf("pages reopened: %d\n", report.ReopenedPages)
		fmt.Printf("pages completed: %d\n", report.CompletedPages)
		fmt.Printf("stuck citations requeued: %d\n", report.StuckCitations)
		fmt.Printf("orphaned citations repaired: %d\n", report.OrphansRepaired)
		fmt.Printf("heroes backfilled: %d\n", report.HeroesBackfilled)
		fmt.Printf("feed items backfilled: %d\n", report.FeedsBackfilled)
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditTopic, "topic", "", "topic id (required)")
	_ = auditCmd.MarkFlagRequired("topic")
	rootCmd.AddCommand(auditCmd)
}
