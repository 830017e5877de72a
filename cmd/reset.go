package main

import (
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset-citation <id>",
	Short: "Return a failed citation to the pending state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "reset: bad citation id %q", args[0])
		}

		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.engine.ResetCitation(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("citation %d reset\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
