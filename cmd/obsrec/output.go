package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/overtake.report/internal/report"
	"github.com/banshee-data/overtake.report/internal/track"
	"github.com/banshee-data/overtake.report/internal/units"
)

// reportOutputs are the optional renderings of a report.
type reportOutputs struct {
	json  bool
	html  string
	png   string
	title string
}

func printReport(w io.Writer, r *track.Report, o report.Options) {
	_, _ = fmt.Fprintln(w, report.Subtitle(r, o))
	_, _ = fmt.Fprintf(w, "%d segments, %d fixes, %d distance measurements\n",
		r.Segments, len(r.Route), r.TotalMeasurements)
	if len(r.Events) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tLAT\tLON\tOVERTAKER\tSTATIONARY")
	for _, ev := range r.Events {
		stationary := "-"
		if ev.StationaryCm != nil {
			stationary = units.FormatDistance(float64(*ev.StationaryCm), o.Units)
		}
		t := time.Unix(int64(ev.Time), 0).UTC()
		_, _ = fmt.Fprintf(tw, "%s\t%.6f\t%.6f\t%s\t%s\n",
			units.FormatTripTime(t, o.Timezone), ev.Latitude, ev.Longitude,
			units.FormatDistance(float64(ev.OvertakerCm), o.Units), stationary)
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(w, "min %s, avg %s, max %s\n",
		units.FormatDistance(float64(r.Stats.MinCm), o.Units),
		units.FormatDistance(r.Stats.AvgCm, o.Units),
		units.FormatDistance(float64(r.Stats.MaxCm), o.Units))
}

// writeOutputs prints r to w as text or JSON and writes the requested
// HTML and image files.
func writeOutputs(w io.Writer, r *track.Report, out reportOutputs, o report.Options) error {
	if out.title != "" {
		o.Title = out.title
	}
	if out.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
	} else {
		printReport(w, r, o)
	}

	if out.html != "" {
		f, err := os.Create(out.html)
		if err != nil {
			return fmt.Errorf("create %s: %w", out.html, err)
		}
		if err := report.WriteHTML(f, r, o); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", out.html, err)
		}
	}
	if out.png != "" {
		if err := report.WriteRoutePNG(out.png, r, o); err != nil {
			return err
		}
	}
	return nil
}
