package main

import (
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/joshrwolf/ecs/internal/engine"
	"github.com/joshrwolf/ecs/internal/runner"
	"github.com/spf13/cobra"
)

func newRunCmd(opts *options) *cobra.Command {
	var command string

	cmd := &cobra.Command{
		Use:   "run IMAGE[:TAG] [-- CMD...]",
		Short: "Pull an image, run it to completion, print its output and remove it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := clog.FromContext(ctx)

			image, tag := splitImage(args[0])
			argv := args[1:]
			if command != "" {
				if len(argv) > 0 {
					return fmt.Errorf("use either --command or arguments after the image, not both")
				}
				var err error
				if argv, err = engine.SplitCommand(command); err != nil {
					return err
				}
			}

			eng, err := opts.newEngine(opts.cfg)
			if err != nil {
				return err
			}

			r := runner.New(eng, engine.Request{Image: image, Tag: tag, Cmd: argv})
			req := r.Request()
			log.Debug("starting run", "cid", r.CorrelationID(), "image", req.Image, "tag", req.Tag, "cmd", req.Cmd)

			res := r.Run(ctx)
			if !res.OK {
				return fmt.Errorf("run %s: %w", r.CorrelationID(), res.Err)
			}

			if _, err := cmd.OutOrStdout().Write(res.Stdout); err != nil {
				return fmt.Errorf("writing stdout: %w", err)
			}
			if _, err := cmd.ErrOrStderr().Write(res.Stderr); err != nil {
				return fmt.Errorf("writing stderr: %w", err)
			}

			if *res.ExitCode != 0 {
				return &exitError{code: *res.ExitCode}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&command, "command", "c", "", "command line to run (instead of arguments)")

	return cmd
}
