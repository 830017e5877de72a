package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ddoubleg123/carrot-sub001/internal/model"
)

var (
	runTopic string
	runSeeds []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a discovery pass for a topic to completion",
	Long:  "Seeds the frontier, starts a run, and drives the worker fleet in the foreground until the topic drains or the process is interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if len(runSeeds) > 0 {
			added, err := env.engine.Seed(ctx, runTopic, runSeeds)
			if err != nil {
				return err
			}
			zap.L().Info("run: frontier seeded",
				zap.String("topic_id", runTopic), zap.Int("added", added))
		}

		run, err := env.store.CreateRun(ctx, runTopic)
		if err != nil {
			return eris.Wrap(err, "run: create run")
		}
		if err := env.store.UpdateRunStatus(ctx, run.ID, model.RunStatusLive); err != nil {
			return eris.Wrap(err, "run: mark live")
		}
		zap.L().Info("run: started", zap.String("run_id", run.ID))

		err = env.engine.Execute(ctx, run.ID, runTopic)
		if ctx.Err() != nil {
			// Interrupted. Record the stop so the run is not left live.
			stopCtx := context.WithoutCancel(ctx)
			if serr := env.store.UpdateRunStatus(stopCtx, run.ID, model.RunStatusStopped); serr != nil {
				zap.L().Warn("run: mark stopped", zap.Error(serr))
			}
			zap.L().Info("run: interrupted", zap.String("run_id", run.ID))
			return nil
		}
		if err != nil {
			return err
		}

		final, err := env.store.GetRun(context.WithoutCancel(ctx), run.ID)
		if err != nil {
			return err
		}
		zap.L().Info("run: finished",
			zap.String("run_id", final.ID), zap.String("status", string(final.Status)))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runTopic, "topic", "", "topic id to discover for (required)")
	runCmd.Flags().StringSliceVar(&runSeeds, "seed-url", nil, "seed page URL (repeatable)")
	_ = runCmd.MarkFlagRequired("topic")
	rootCmd.AddCommand(runCmd)
}
