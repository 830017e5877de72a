package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ddoubleg123/carrot-sub001/pkg/jina"
)

var (
	discoverTopic string
	discoverLimit int
	discoverSite  string
	discoverSeed  bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover <query>...",
	Short: "Search the web for seed pages",
	Long:  "Runs a web search for the query and prints candidate seed pages. With --seed the results are enqueued on the topic's frontier directly.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Scrape.JinaKey == "" {
			return eris.New("discover: scrape.jina_key is required for web search")
		}

		client := jina.NewClient(cfg.Scrape.JinaKey)

		var opts []jina.SearchOption
		if discoverSite != "" {
			opts = append(opts, jina.WithSiteFilter(discoverSite))
		}
		resp, err := client.Search(cmd.Context(), strings.Join(args, " "), opts...)
		if err != nil {
			return err
		}

		results := resp.Data
		if discoverLimit > 0 && len(results) > discoverLimit {
			results = results[:discoverLimit]
		}
		for _, r := range results {
			fmt.Printf("%s\n    %s\n", r.Title, r.URL)
		}

		if !discoverSeed || len(results) == 0 {
			return nil
		}

		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		urls := make([]string, 0, len(results))
		for _, r := range results {
			urls = append(urls, r.URL)
		}
		added, err := env.engine.Seed(cmd.Context(), discoverTopic, urls)
		if err != nil {
			return err
		}
		zap.L().Info("discover: results seeded",
			zap.String("topic_id", discoverTopic), zap.Int("added", added))
		fmt.Printf("seeded %d of %d results\n", added, len(urls))
		return nil
	},
}

func init() {
	discoverCmd.Flags().StringVar(&discoverTopic, "topic", "", "topic id (required with --seed)")
	discoverCmd.Flags().IntVar(&discoverLimit, "limit", 10, "max results")
	discoverCmd.Flags().StringVar(&discoverSite, "site", "", "restrict search to a domain")
	discoverCmd.Flags().BoolVar(&discoverSeed, "seed", false, "enqueue results on the topic frontier")
	discoverCmd.MarkFlagsRequiredTogether("topic", "seed")
	rootCmd.AddCommand(discoverCmd)
}
