package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	kws "github.com/cortexswarm/kws-go"
)

func newListenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Spot keywords on the default microphone until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.pipelineConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.log.Info("listening on default microphone; press Ctrl+C to stop")
			return a.runPipeline(ctx, cmd, cfg, kws.NewMicSource(cfg))
		},
	}
	addPipelineFlags(cmd)
	return cmd
}

func newReplayCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay FILE.wav",
		Short: "Run the pipeline over a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.pipelineConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			src := kws.NewWAVSource(args[0], cfg, a.v.GetBool("realtime"))
			return a.runPipeline(ctx, cmd, cfg, src)
		},
	}
	addPipelineFlags(cmd)
	cmd.Flags().Bool("realtime", false, "pace the file at its sample rate like a live microphone")
	return cmd
}
