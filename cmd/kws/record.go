package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	kws "github.com/cortexswarm/kws-go"
)

func newRecordCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record FILE.wav",
		Short: "Capture the default microphone to a 16-bit mono WAV file",
		Long: "Capture the default microphone to a 16-bit mono WAV file at the pipeline\n" +
			"sample rate. Useful for building replay fixtures.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := kws.DefaultConfig()
			if path := a.v.GetString("config"); path != "" {
				loaded, err := kws.LoadConfig(path)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			dur := a.v.GetDuration("duration")
			if dur <= 0 {
				return errors.New("--duration must be positive")
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			samples, err := recordMic(ctx, kws.NewMicSource(cfg), int(dur.Seconds()*float64(cfg.SampleRate)))
			if err != nil {
				return err
			}
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := kws.WriteWAV(f, samples, cfg.SampleRate); err != nil {
				f.Close()
				return fmt.Errorf("write %s: %w", args[0], err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			a.log.WithField("samples", len(samples)).WithField("file", args[0]).Info("recording saved")
			return nil
		},
	}
	cmd.Flags().Duration("duration", 5*time.Second, "how long to record")
	return cmd
}

// recordMic reads up to n samples from src, stopping early when ctx is done.
func recordMic(ctx context.Context, src kws.Source, n int) ([]int16, error) {
	if err := src.Open(); err != nil {
		return nil, err
	}
	defer src.Close()

	out := make([]int16, 0, n)
	buf := make([]int16, 1600)
	for len(out) < n {
		if ctx.Err() != nil {
			break
		}
		k, err := src.Read(buf[:min(len(buf), n-len(out))])
		out = append(out, buf[:k]...)
		if err != nil {
			if errors.Is(err, kws.ErrInvalidRead) {
				continue
			}
			return out, err
		}
	}
	return out, nil
}
