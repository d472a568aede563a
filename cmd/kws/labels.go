package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	kws "github.com/cortexswarm/kws-go"
)

func newLabelsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "labels [FILE]",
		Short: "Validate and print a label vocabulary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else if cfgPath := a.v.GetString("config"); cfgPath != "" {
				cfg, err := kws.LoadConfig(cfgPath)
				if err != nil {
					return err
				}
				path = cfg.Model.LabelsPath
			}
			if path == "" {
				return errors.New("no label file given")
			}
			labels, err := kws.LoadLabels(path)
			if err != nil {
				return err
			}
			for i, l := range labels {
				fmt.Fprintf(cmd.OutOrStdout(), "%3d  %s\n", i, l)
			}
			return nil
		},
	}
	return cmd
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the sensitivity presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PRESET\tENERGY\tPROBABILITY")
			for _, s := range []kws.Sensitivity{kws.SensitivityQuiet, kws.SensitivityNormal, kws.SensitivityNoisy} {
				e, p, _ := kws.PresetThresholds(s)
				fmt.Fprintf(tw, "%s\t%.2f\t%.2f\n", s, e, p)
			}
			fmt.Fprintf(tw, "%s\t-\t-\n", kws.SensitivityCustom)
			return tw.Flush()
		},
	}
}
