package preheat

import (
	"errors"
	"fmt"
	"image/color"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// PlotterOptions is used to configure the Plotter.
type PlotterOptions struct {
	Title            string
	SessionColor     color.Color
	AnticipatedColor color.Color
	BucketColor      color.Color
	Sessions         []HeatingSession
}

// Plotter graphs heating speed against outdoor temperature: one glyph per
// session plus the per-bucket median curve the estimator actually uses.
type Plotter struct {
	options PlotterOptions
	plot    *plot.Plot
}

// NewPlotter returns a Plotter configured with the given options. If a color
// is nil the default is used.
func NewPlotter(options *PlotterOptions) *Plotter {
	p := Plotter{
		options: PlotterOptions{
			SessionColor:     color.RGBA{B: 255, A: 255},
			AnticipatedColor: color.RGBA{R: 255, A: 255},
			BucketColor:      color.RGBA{G: 150, A: 255},
		},
	}

	p.options.Title = options.Title
	p.options.Sessions = options.Sessions

	if options.SessionColor != nil {
		p.options.SessionColor = options.SessionColor
	}

	if options.AnticipatedColor != nil {
		p.options.AnticipatedColor = options.AnticipatedColor
	}

	if options.BucketColor != nil {
		p.options.BucketColor = options.BucketColor
	}

	return &p
}

// Plot returns the plot.Plot for the session data given to the Plotter. The
// caller should call plot.Save to create the graph files. This allows the
// caller to define the Plot size and graphics format.
func (p *Plotter) Plot() (*plot.Plot, error) {
	if len(p.options.Sessions) == 0 {
		return nil, errors.New("no data")
	}

	var normal, anticipated plotter.XYs

	for _, s := range p.options.Sessions {
		pt := plotter.XY{X: s.OutdoorAvg, Y: s.Speed}

		if s.Anticipated {
			anticipated = append(anticipated, pt)
		} else {
			normal = append(normal, pt)
		}
	}

	p.plot = plot.New()
	p.plot.Title.Text = p.options.Title
	p.plot.X.Label.Text = "Outdoor temperature (degC)"
	p.plot.Y.Label.Text = "Heating speed (degC/min)"

	if err := p.sessions(normal, "sessions", p.options.SessionColor, draw.RingGlyph{}); err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}

	if err := p.sessions(anticipated, "anticipated", p.options.AnticipatedColor, draw.CrossGlyph{}); err != nil {
		return nil, fmt.Errorf("anticipated: %w", err)
	}

	if err := p.buckets(); err != nil {
		return nil, fmt.Errorf("buckets: %w", err)
	}

	p.plot.Add(plotter.NewGrid())

	return p.plot, nil
}

func (p *Plotter) sessions(data plotter.XYs, label string, c color.Color, shape draw.GlyphDrawer) error {
	if len(data) == 0 {
		return nil
	}

	s, err := plotter.NewScatter(data)
	if err != nil {
		return err
	}

	s.Shape = shape
	s.Radius = vg.Points(3)
	s.Color = c
	p.plot.Add(s)
	p.plot.Legend.Add(label, s)

	return nil
}

// buckets draws the median speed for each outdoor bucket, the same curve
// EstimateMinutes interpolates from.
func (p *Plotter) buckets() error {
	speeds := make(map[int][]float64)

	for _, s := range p.options.Sessions {
		bucket := outdoorBucket(s.OutdoorAvg)
		speeds[bucket] = append(speeds[bucket], s.Speed)
	}

	buckets := make([]int, 0, len(speeds))
	for b := range speeds {
		buckets = append(buckets, b)
	}

	sort.Ints(buckets)

	line := make(plotter.XYs, len(buckets))

	for i, b := range buckets {
		line[i].X = float64(b)
		line[i].Y = median(speeds[b])
	}

	l, err := plotter.NewLine(line)
	if err != nil {
		return err
	}

	l.Color = p.options.BucketColor
	l.Dashes = []vg.Length{vg.Points(1), vg.Points(5)}
	p.plot.Add(l)
	p.plot.Legend.Add("bucket median", l)

	return nil
}
