package api

import (
	"io"
	"math"
	"strconv"

	"github.com/jung-kurt/gofpdf"

	"github.com/sketchwall/backend/internal/canvas"
)

// Canvas pixels per millimeter on the page.
const pdfScale = 4.0

// WritePDF renders an action history onto an A4 landscape page, replaying
// the log in order so overdraw matches what clients see.
func WritePDF(w io.Writer, history []canvas.Action) error {
	p := gofpdf.New("L", "mm", "A4", "")
	p.AddPage()
	p.SetFont("Helvetica", "", 10)

	for _, a := range history {
		r, g, b := parseColor(a.Color)
		if a.Type == canvas.ActionEraser {
			r, g, b = 255, 255, 255
		}
		p.SetDrawColor(r, g, b)

		width := float64(a.StrokeWidth) / pdfScale
		if width < 0.2 {
			width = 0.2
		}
		p.SetLineWidth(width)

		x1, y1 := mm(a.X1), mm(a.Y1)
		x2, y2 := mm(a.X2), mm(a.Y2)

		switch {
		case a.HasPoints():
			if len(a.Points) == 1 {
				p.Circle(mm(a.Points[0].X), mm(a.Points[0].Y), width/2, "D")
				continue
			}
			for i := 1; i < len(a.Points); i++ {
				p.Line(
					mm(a.Points[i-1].X), mm(a.Points[i-1].Y),
					mm(a.Points[i].X), mm(a.Points[i].Y),
				)
			}

		case a.Type == canvas.ActionRectangle:
			p.Rect(math.Min(x1, x2), math.Min(y1, y2), math.Abs(x2-x1), math.Abs(y2-y1), "D")

		case a.Type == canvas.ActionOval:
			p.Ellipse((x1+x2)/2, (y1+y2)/2, math.Abs(x2-x1)/2, math.Abs(y2-y1)/2, 0, "D")

		case a.Type == canvas.ActionTriangle:
			p.Polygon([]gofpdf.PointType{
				{X: x1, Y: y2},
				{X: x2, Y: y2},
				{X: (x1 + x2) / 2, Y: y1},
			}, "D")

		case a.Type == canvas.ActionText:
			p.SetTextColor(r, g, b)
			p.Text(x1, y1, a.Text)

		default:
			p.Line(x1, y1, x2, y2)
		}
	}

	return p.Output(w)
}

func mm(v float32) float64 {
	return float64(v) / pdfScale
}

// parseColor reads "#rrggbb" or "#rrggbbaa"; anything unparsable renders
// black.
func parseColor(c string) (int, int, int) {
	if len(c) < 7 || c[0] != '#' {
		return 0, 0, 0
	}
	r, err1 := strconv.ParseUint(c[1:3], 16, 8)
	g, err2 := strconv.ParseUint(c[3:5], 16, 8)
	b, err3 := strconv.ParseUint(c[5:7], 16, 8)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0
	}
	return int(r), int(g), int(b)
}
