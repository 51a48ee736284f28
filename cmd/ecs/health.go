package main

import (
	"fmt"

	"github.com/joshrwolf/ecs/internal/health"
	"github.com/spf13/cobra"
)

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the container engine answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := opts.newEngine(opts.cfg)
			if err != nil {
				return err
			}

			if !health.New(eng).Healthy(cmd.Context()) {
				fmt.Fprintln(cmd.OutOrStdout(), "unhealthy")
				return &exitError{code: 1}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			return nil
		},
	}
}
