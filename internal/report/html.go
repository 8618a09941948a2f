// Package report renders reconstructed trips as an HTML page or a route
// image.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/overtake.report/internal/track"
	"github.com/banshee-data/overtake.report/internal/units"
)

// MinPassingCm is the minimum legal passing distance in built-up areas.
// Events closer than this are highlighted.
const MinPassingCm = 150

// Options controls labels in rendered reports.
type Options struct {
	Title    string
	Units    string
	Timezone string
}

func (o Options) withDefaults() Options {
	if o.Title == "" {
		o.Title = "Overtaking distances"
	}
	if !units.IsValid(o.Units) {
		o.Units = units.CM
	}
	if o.Timezone == "" {
		o.Timezone = units.DefaultTimezone
	}
	return o
}

// Subtitle summarises a report in one line.
func Subtitle(r *track.Report, o Options) string {
	o = o.withDefaults()
	s := fmt.Sprintf("%s, %d overtakes, %s, %d min",
		units.FormatTripTime(r.StartedAt, o.Timezone), len(r.Events),
		units.FormatKilometres(r.DistanceMeters), r.DurationSeconds/60)
	if r.Stats.Count > 0 {
		s += fmt.Sprintf(", closest %s", units.FormatDistance(float64(r.Stats.MinCm), o.Units))
	}
	return s
}

// WriteHTML renders a page with a bar chart of every overtaking distance
// and a scatter map of the route with the event positions.
func WriteHTML(w io.Writer, r *track.Report, o Options) error {
	o = o.withDefaults()

	page := components.NewPage()
	page.AddCharts(distanceChart(r, o), routeChart(r, o))

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

func eventLabel(ev track.OvertakeEvent, tz string) string {
	t := time.Unix(int64(ev.Time), 0).UTC()
	if local, err := units.ConvertTime(t, tz); err == nil {
		t = local
	}
	return t.Format("15:04:05")
}

func distanceChart(r *track.Report, o Options) *charts.Bar {
	labels := make([]string, 0, len(r.Events))
	bars := make([]opts.BarData, 0, len(r.Events))
	for _, ev := range r.Events {
		labels = append(labels, eventLabel(ev, o.Timezone))
		d := opts.BarData{Value: units.ConvertDistance(float64(ev.OvertakerCm), o.Units)}
		if ev.OvertakerCm < MinPassingCm {
			d.ItemStyle = &opts.ItemStyle{Color: "#d62728"}
		} else {
			d.ItemStyle = &opts.ItemStyle{Color: "#2ca02c"}
		}
		bars = append(bars, d)
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: o.Title, Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: o.Title, Subtitle: Subtitle(r, o)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Distance (" + o.Units + ")"}),
	)
	bar.SetXAxis(labels).
		AddSeries("overtaker", bars,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

func routeChart(r *track.Report, o Options) *charts.Scatter {
	route := make([]opts.ScatterData, 0, len(r.Route))
	for _, c := range r.Route {
		route = append(route, opts.ScatterData{Value: []interface{}{c.Longitude, c.Latitude}})
	}
	events := make([]opts.ScatterData, 0, len(r.Events))
	for _, ev := range r.Events {
		events = append(events, opts.ScatterData{
			Name:  units.FormatDistance(float64(ev.OvertakerCm), o.Units),
			Value: []interface{}{ev.Longitude, ev.Latitude, ev.OvertakerCm},
		})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{Title: "Route", Subtitle: fmt.Sprintf("%d segments, %d fixes", r.Segments, len(r.Route))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Longitude", Scale: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Latitude", Scale: opts.Bool(true)}),
	)
	scatter.AddSeries("route", route, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	scatter.AddSeries("overtakes", events, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))
	return scatter
}
