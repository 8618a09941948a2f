package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/banshee-data/overtake.report/internal/report"
	"github.com/banshee-data/overtake.report/internal/security"
	"github.com/banshee-data/overtake.report/internal/units"
)

func newTripsCmd(root *rootOptions) *cobra.Command {
	trips := &cobra.Command{Use: "trips", Short: "Stored trip commands"}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored trips, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, store, err := root.openDB(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			all, err := store.Trips(limit)
			if err != nil {
				return err
			}
			if len(all) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no trips")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tSTARTED\tMINUTES\tDISTANCE\tOVERTAKES\tCLOSEST")
			for _, t := range all {
				closest := "-"
				if t.MinOvertakeCm != nil {
					closest = units.FormatDistance(float64(*t.MinOvertakeCm), cfg.GetUnits())
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%s\n",
					t.ID, units.FormatTripTime(t.StartedAt, cfg.GetTimezone()), t.DurationSeconds/60,
					units.FormatKilometres(t.DistanceMeters), t.Overtakes, closest)
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum number of trips (0 for all)")

	var out reportOutputs
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show the stored report of a trip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid trip id %q: %w", args[0], err)
			}
			cfg, store, err := root.openDB(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			t, err := store.Trip(id)
			if err != nil {
				return err
			}
			r, ok, err := store.TripReport(id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("trip %s: %w", id, errNoData)
			}
			return writeOutputs(cmd.OutOrStdout(), r, out, report.Options{
				Title:    t.FileName,
				Units:    cfg.GetUnits(),
				Timezone: cfg.GetTimezone(),
			})
		},
	}
	addOutputFlags(show, &out)

	var purge bool
	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored trip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid trip id %q: %w", args[0], err)
			}
			cfg, store, err := root.openDB(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			t, err := store.Trip(id)
			if err != nil {
				return err
			}
			if purge {
				// The stored path is checked before anything is removed.
				if err := security.ValidateTripLog(t.Path, cfg.GetLogDir()); err != nil {
					return fmt.Errorf("refusing to remove log: %w", err)
				}
			}
			if err := store.DeleteTrip(id); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted trip %s\n", id)

			if purge {
				if err := os.Remove(t.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("remove log: %w", err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", t.Path)
			}
			return nil
		},
	}
	del.Flags().BoolVar(&purge, "purge", false, "also remove the trip log file")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show totals over every stored trip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, store, err := root.openDB(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			s, err := store.TotalStats()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "sessions: %d\novertakes: %d\ndistance: %.1f km\nduration: %d min\n",
				s.Sessions, s.Overtakes, s.DistanceKm, s.DurationMinutes)
			return nil
		},
	}

	trips.AddCommand(list, show, del, stats)
	return trips
}
