// Command obsrec records overtaking distances from an OpenBikeSensor and
// reconstructs geotagged trip reports from the recorded logs.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/overtake.report/internal/config"
	"github.com/banshee-data/overtake.report/internal/db"
	"github.com/banshee-data/overtake.report/internal/monitoring"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	var root rootOptions

	cmd := &cobra.Command{
		Use:           "obsrec",
		Short:         "OpenBikeSensor overtaking distance recorder",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&root.configPath, "config", config.DefaultConfigPath, "path to the JSON config file")
	cmd.PersistentFlags().BoolVar(&root.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(newRecordCmd(&root))
	cmd.AddCommand(newParseCmd(&root))
	cmd.AddCommand(newTripsCmd(&root))
	cmd.AddCommand(newMigrateCmd(&root))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// loadConfig reads the config file. A missing file at the default path
// yields the defaults; a missing file named explicitly is an error.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.RecorderConfig, error) {
	cfg, err := config.LoadRecorderConfig(o.configPath)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config"):
		cfg = config.DefaultRecorderConfig()
	default:
		return nil, err
	}
	monitoring.SetDebug(o.debug || cfg.GetDebug())
	return cfg, nil
}

func (o *rootOptions) openDB(cmd *cobra.Command) (*config.RecorderConfig, *db.DB, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	store, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("open trip database: %w", err)
	}
	return cfg, store, nil
}
