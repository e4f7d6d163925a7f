// Package anchor exports best-guess q1A/q1E/q53A reference points from the
// reconstructed grids so a caller can re-run the pipeline with anchors
// supplied next time.
package anchor

import (
	"math"

	"github.com/scanmark/omreader/internal/omr/model"
	"github.com/scanmark/omreader/pkg/geometry"
)

// spacingRegularityLimit is the std/mean threshold on consecutive
// differences below which a candidate axis is considered regular enough to
// emit.
const spacingRegularityLimit = 0.30

// Emit derives q1A, q1E and q53A from the reconstructed grids. block2's
// q53A is omitted when block2 did not survive clustering. Anchors are only
// emitted when the spacing-regularity gate passes on both axes.
func Emit(grids []model.Grid) model.Anchors {
	var out model.Anchors
	if len(grids) == 0 {
		return out
	}

	g1 := grids[0]
	if len(g1.XCenters) != 5 || len(g1.YCenters) == 0 {
		return out
	}
	if !regular(g1.XCenters) || !regular(g1.YCenters) {
		return out
	}

	q1A := geometry.Point2D{X: g1.XCenters[0], Y: g1.YCenters[0]}
	q1E := geometry.Point2D{X: g1.XCenters[4], Y: g1.YCenters[0]}
	out.Q1A = &q1A
	out.Q1E = &q1E

	if len(grids) > 1 {
		g2 := grids[1]
		if len(g2.XCenters) == 5 && len(g2.YCenters) > 0 && regular(g2.XCenters) {
			q53A := geometry.Point2D{X: g2.XCenters[0], Y: g2.YCenters[0]}
			out.Q53A = &q53A
		}
	}

	return out
}

// regular reports whether the std/mean of consecutive differences along
// values is below spacingRegularityLimit.
func regular(values []float64) bool {
	if len(values) < 2 {
		return true
	}
	diffs := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		diffs = append(diffs, values[i]-values[i-1])
	}

	var sum float64
	for _, d := range diffs {
		sum += d
	}
	mean := sum / float64(len(diffs))
	if mean == 0 {
		return false
	}

	var sumSq float64
	for _, d := range diffs {
		dd := d - mean
		sumSq += dd * dd
	}
	std := math.Sqrt(sumSq / float64(len(diffs)))

	return math.Abs(std/mean) < spacingRegularityLimit
}

// Export converts an Anchors value to the [x,y] pair form used in
// result.json.
func Export(a model.Anchors) model.AnchorsExport {
	var out model.AnchorsExport
	if a.Q1A != nil {
		out.Q1A = &[2]float64{a.Q1A.X, a.Q1A.Y}
	}
	if a.Q1E != nil {
		out.Q1E = &[2]float64{a.Q1E.X, a.Q1E.Y}
	}
	if a.Q53A != nil {
		out.Q53A = &[2]float64{a.Q53A.X, a.Q53A.Y}
	}
	return out
}
