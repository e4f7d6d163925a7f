// Package preview renders the bubble-grid overlay written next to
// result.json. The reading pipeline's answers do not depend on it.
package preview

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/scanmark/omreader/internal/omr/model"
	"github.com/scanmark/omreader/pkg/colorutil"
)

// Render draws every row's choice centers onto a copy of warped, colored by
// the row's outcome (OK family green, other answered rows yellow,
// unanswered rows magenta), and returns the new Mat. Caller owns the
// returned Mat's lifetime.
func Render(warped gocv.Mat, rows []model.RowResult, radius float64) gocv.Mat {
	out := gocv.NewMat()
	warped.CopyTo(&out)

	r := int(radius)
	if r < 2 {
		r = 2
	}

	for _, row := range rows {
		col := colorFor(row)
		for i, c := range row.Coords {
			center := image.Pt(int(c.X), int(c.Y))
			gocv.Circle(&out, center, r, col, 1)
			if row.Answer != "" && model.ChoiceLabels()[i] == row.Answer {
				gocv.Circle(&out, center, r+2, col, 2)
			}
		}
	}
	return out
}

func colorFor(row model.RowResult) color.RGBA {
	switch {
	case row.Tier.IsOKFamily():
		return colorutil.Green
	case row.Answer != "":
		return colorutil.Yellow
	default:
		return colorutil.Magenta
	}
}
