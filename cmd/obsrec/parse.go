package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/overtake.report/internal/fsutil"
	"github.com/banshee-data/overtake.report/internal/report"
	"github.com/banshee-data/overtake.report/internal/track"
)

// errNoData is returned when a log holds nothing to reconstruct.
var errNoData = errors.New("log holds no usable data")

func newParseCmd(root *rootOptions) *cobra.Command {
	var out reportOutputs

	cmd := &cobra.Command{
		Use:   "parse <log>",
		Short: "Reconstruct the trip report from a recorded log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(cmd)
			if err != nil {
				return err
			}
			r, ok, err := track.ParseFile(fsutil.OSFileSystem{}, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s: %w", args[0], errNoData)
			}
			return writeOutputs(cmd.OutOrStdout(), r, out, report.Options{
				Title:    args[0],
				Units:    cfg.GetUnits(),
				Timezone: cfg.GetTimezone(),
			})
		},
	}
	addOutputFlags(cmd, &out)
	return cmd
}

func addOutputFlags(cmd *cobra.Command, out *reportOutputs) {
	cmd.Flags().BoolVar(&out.json, "json", false, "print the report as JSON")
	cmd.Flags().StringVar(&out.html, "html", "", "write an HTML report to this file")
	cmd.Flags().StringVar(&out.png, "png", "", "write a route image to this file")
	cmd.Flags().StringVar(&out.title, "title", "", "report title")
}
