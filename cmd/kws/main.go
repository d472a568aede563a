// Command kws runs the keyword-spotting pipeline against the default
// microphone or a WAV file and prints accepted keywords.
//
//	kws listen --model data/kws.onnx --labels data/labels.txt
//	kws replay --model data/kws.onnx --labels data/labels.txt sample.wav
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd(newApp()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "kws: %v\n", err)
		os.Exit(1)
	}
}

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	v   *viper.Viper
	log *logrus.Logger
}

func newApp() *app {
	return &app{v: viper.New(), log: logrus.New()}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "kws",
		Short:         "Streaming keyword spotting",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "YAML pipeline configuration file")
	pf.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text or json)")

	root.AddCommand(
		newListenCmd(a),
		newReplayCmd(a),
		newRecordCmd(a),
		newLabelsCmd(a),
		newPresetsCmd(),
		newVersionCmd(),
	)
	return root
}

// init binds the command's flags to viper under the KWS_ prefix and
// configures the logger.
func (a *app) init(cmd *cobra.Command) error {
	a.v.SetEnvPrefix("KWS")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	level, err := logrus.ParseLevel(a.v.GetString("log-level"))
	if err != nil {
		return err
	}
	a.log.SetLevel(level)
	a.log.SetOutput(os.Stderr)
	switch a.v.GetString("log-format") {
	case "json":
		a.log.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		a.log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", a.v.GetString("log-format"))
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
