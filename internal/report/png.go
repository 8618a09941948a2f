package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/overtake.report/internal/track"
)

// ErrEmptyRoute is returned when a report has no route to draw.
var ErrEmptyRoute = errors.New("report: empty route")

const routeImageSize = 8 * vg.Inch

var (
	routeColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	closeColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	safeColor  = color.RGBA{R: 44, G: 160, B: 44, A: 255}
)

func routePlot(r *track.Report, o Options) (*plot.Plot, error) {
	if len(r.Route) == 0 {
		return nil, ErrEmptyRoute
	}
	o = o.withDefaults()

	p := plot.New()
	p.Title.Text = o.Title
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"

	pts := make(plotter.XYs, len(r.Route))
	for i, c := range r.Route {
		pts[i] = plotter.XY{X: c.Longitude, Y: c.Latitude}
	}
	route, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, fmt.Errorf("route: %w", err)
	}
	route.GlyphStyle.Color = routeColor
	route.GlyphStyle.Radius = vg.Points(1)
	route.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(route)
	p.Legend.Add("route", route)

	var near, far plotter.XYs
	for _, ev := range r.Events {
		xy := plotter.XY{X: ev.Longitude, Y: ev.Latitude}
		if ev.OvertakerCm < MinPassingCm {
			near = append(near, xy)
		} else {
			far = append(far, xy)
		}
	}
	for _, group := range []struct {
		name string
		pts  plotter.XYs
		col  color.Color
	}{
		{fmt.Sprintf("< %d cm", MinPassingCm), near, closeColor},
		{fmt.Sprintf(">= %d cm", MinPassingCm), far, safeColor},
	} {
		if len(group.pts) == 0 {
			continue
		}
		s, err := plotter.NewScatter(group.pts)
		if err != nil {
			return nil, fmt.Errorf("events: %w", err)
		}
		s.GlyphStyle.Color = group.col
		s.GlyphStyle.Radius = vg.Points(4)
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(s)
		p.Legend.Add(group.name, s)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WriteRoutePNG saves an image of the route with the event positions to
// path. The format follows the file extension.
func WriteRoutePNG(path string, r *track.Report, o Options) error {
	p, err := routePlot(r, o)
	if err != nil {
		return err
	}
	if err := p.Save(routeImageSize, routeImageSize, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// RenderRoutePNG writes a PNG image of the route to w.
func RenderRoutePNG(w io.Writer, r *track.Report, o Options) error {
	p, err := routePlot(r, o)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(routeImageSize, routeImageSize, "png")
	if err != nil {
		return fmt.Errorf("render route: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("render route: %w", err)
	}
	return nil
}
