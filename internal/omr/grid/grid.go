// Package grid reconstructs the choice layout for each block: five
// choice-column x-centers and one y-center per question row, including
// column completion for blocks where fewer than 5 columns were detected.
package grid

import (
	"math"
	"sort"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"

	"github.com/scanmark/omreader/internal/omr/model"
	"github.com/scanmark/omreader/internal/omr/score"
	"github.com/scanmark/omreader/pkg/geometry"
)

const defaultRadius = 10.0

// Build reconstructs grids for every block. anchors may be nil.
func Build(blocks []model.Block, anchors *model.Anchors, pageW float64, rowsPerBlock int, binary gocv.Mat) []model.Grid {
	grids := make([]model.Grid, len(blocks))

	var block1XCenters []float64
	for i, b := range blocks {
		radius := medianRadius(b.Circles, defaultRadius)

		if anchors != nil && anchors.Q1A != nil && anchors.Q1E != nil {
			xc := anchorXCenters(*anchors.Q1A, *anchors.Q1E)
			if i == 0 {
				block1XCenters = xc
			} else if anchors.Q53A != nil && block1XCenters != nil {
				delta := anchors.Q53A.X - anchors.Q1A.X
				xc = shift(block1XCenters, delta)
			}
			yc := anchorYCenters(b.Circles, *anchors.Q1A, radius, rowsPerBlock)
			grids[i] = model.Grid{XCenters: xc, YCenters: yc, Radius: radius, AnchorUsed: true}
			continue
		}

		xc := clusterXCenters(b.Circles, radius)
		if len(xc) < 5 {
			xc = completeColumns(xc, b, pageW, radius, binary, rowsPerBlock)
		}
		yc := clusterYCenters(b, radius, rowsPerBlock)
		grids[i] = model.Grid{XCenters: xc, YCenters: yc, Radius: radius}
	}
	return grids
}

func medianRadius(circles []model.Circle, fallback float64) float64 {
	if len(circles) == 0 {
		return fallback
	}
	rs := make([]float64, len(circles))
	for i, c := range circles {
		rs[i] = c.R
	}
	sort.Float64s(rs)
	return medianOf(rs)
}

func medianOf(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func anchorXCenters(q1A, q1E geometry.Point2D) []float64 {
	xc := make([]float64, 5)
	step := (q1E.X - q1A.X) / 4
	for i := 0; i < 5; i++ {
		xc[i] = q1A.X + float64(i)*step
	}
	return xc
}

func shift(xc []float64, delta float64) []float64 {
	out := make([]float64, len(xc))
	for i, x := range xc {
		out[i] = x + delta
	}
	return out
}

func anchorYCenters(circles []model.Circle, q1A geometry.Point2D, radius float64, rowsPerBlock int) []float64 {
	tol := math.Max(1.2*radius, 10)
	clusters := cluster1D(ys(circles), tol)

	minClusters := rowsPerBlock - 6
	if minClusters < 8 {
		minClusters = 8
	}

	if len(clusters) >= minClusters {
		sort.Float64s(clusters)
		nearestIdx := 0
		for i, c := range clusters {
			if math.Abs(c-q1A.Y) < math.Abs(clusters[nearestIdx]-q1A.Y) {
				nearestIdx = i
			}
		}
		// Align the cluster nearest q1A to row 1. When the remaining tail
		// is too short for a full block, keep the unshifted list instead,
		// and fall through to linear interpolation if even that is short.
		if len(clusters)-nearestIdx >= rowsPerBlock {
			return clusters[nearestIdx : nearestIdx+rowsPerBlock]
		}
		if len(clusters) >= rowsPerBlock {
			return clusters[:rowsPerBlock]
		}
	}

	yMax := q1A.Y
	for _, y := range ys(circles) {
		if y > yMax {
			yMax = y
		}
	}
	return linspace(q1A.Y, yMax, rowsPerBlock)
}

func ys(circles []model.Circle) []float64 {
	out := make([]float64, len(circles))
	for i, c := range circles {
		out[i] = c.CY
	}
	return out
}

func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = lo
		return out
	}
	step := (hi - lo) / float64(n-1)
	for i := 0; i < n; i++ {
		out[i] = lo + float64(i)*step
	}
	return out
}

// cluster1D greedily buckets sorted values whose consecutive gap is
// within tol, returning each bucket's mean.
func cluster1D(values []float64, tol float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)

	var clusters []float64
	bucket := []float64{sorted[0]}
	for _, v := range sorted[1:] {
		if v-bucket[len(bucket)-1] <= tol {
			bucket = append(bucket, v)
		} else {
			clusters = append(clusters, mean(bucket))
			bucket = []float64{v}
		}
	}
	clusters = append(clusters, mean(bucket))
	return clusters
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

type clusterInfo struct {
	center float64
	count  int
}

// clusterXCenters clusters circle x-values with tolerance 1.5·radius,
// keeps the 5 most populous clusters, sorted ascending.
func clusterXCenters(circles []model.Circle, radius float64) []float64 {
	xs := make([]float64, len(circles))
	for i, c := range circles {
		xs[i] = c.CX
	}
	if len(xs) == 0 {
		return nil
	}
	sort.Float64s(xs)

	tol := 1.5 * radius
	var infos []clusterInfo
	bucket := []float64{xs[0]}
	for _, v := range xs[1:] {
		if v-bucket[len(bucket)-1] <= tol {
			bucket = append(bucket, v)
		} else {
			infos = append(infos, clusterInfo{mean(bucket), len(bucket)})
			bucket = []float64{v}
		}
	}
	infos = append(infos, clusterInfo{mean(bucket), len(bucket)})

	sort.Slice(infos, func(i, j int) bool { return infos[i].count > infos[j].count })
	if len(infos) > 5 {
		infos = infos[:5]
	}

	out := make([]float64, len(infos))
	for i, c := range infos {
		out[i] = c.center
	}
	sort.Float64s(out)
	return out
}

// clusterYCenters clusters circle y-values with tolerance 1.2·radius,
// extrapolates upward to account for a possibly missing top row, and
// spans rowsPerBlock rows uniformly. With fewer than 2 clusters it spans
// the block's y-extent instead.
func clusterYCenters(b model.Block, radius float64, rowsPerBlock int) []float64 {
	ys := ys(b.Circles)
	if len(ys) == 0 {
		return linspace(b.YMin, b.YMax, rowsPerBlock)
	}
	clusters := cluster1D(ys, 1.2*radius)
	sort.Float64s(clusters)

	if len(clusters) >= 2 {
		yMax := clusters[len(clusters)-1]
		extrap := clip(2*fitPitch(clusters), 30, 90)
		yTop := clusters[0] - extrap
		return linspace(yTop, yMax, rowsPerBlock)
	}

	return linspace(b.YMin, b.YMax, rowsPerBlock)
}

// fitPitch estimates the row-to-row spacing of a cluster sequence as the
// ordinary least squares slope of cluster position over cluster index. A
// missing row inside the sequence widens one gap and raises the slope
// (clusters 0,10,20,40,50 give 13).
func fitPitch(clusters []float64) float64 {
	idx := make([]float64, len(clusters))
	for i := range idx {
		idx[i] = float64(i)
	}
	_, beta := stat.LinearRegression(idx, clusters, nil, false)
	return math.Abs(beta)
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// completeColumns infers the missing choice columns for a block that
// yielded k<5 x-centers.
func completeColumns(xc []float64, b model.Block, pageW, radius float64, binary gocv.Mat, rowsPerBlock int) []float64 {
	k := len(xc)
	blockCenter := b.MeanCX()
	preferLeft := blockCenter < 0.68*pageW

	spacing := candidateSpacing(xc, radius)

	switch k {
	case 0:
		start := 0.55 * pageW
		out := make([]float64, 5)
		for i := range out {
			out[i] = start + float64(i)*spacing
		}
		return out
	case 1:
		x0 := xc[0]
		return []float64{x0 - 2*spacing, x0 - spacing, x0, x0 + spacing, x0 + 2*spacing}
	case 4:
		left := append([]float64{xc[0] - spacing}, xc...)
		right := append(append([]float64{}, xc...), xc[3]+spacing)
		if len(b.Circles) > 0 {
			if preferLeft {
				return left
			}
			return right
		}
		leftScore, rightScore := pickByInkScore(left, right, b, radius, binary, rowsPerBlock)
		if rightScore > leftScore {
			return right
		}
		return left
	default:
		return growOutward(xc, spacing, pageW)
	}
}

func candidateSpacing(xc []float64, radius float64) float64 {
	s := 2.2 * radius
	if s < 24 {
		s = 24
	}
	if len(xc) >= 2 {
		diffs := make([]float64, 0, len(xc)-1)
		for i := 1; i < len(xc); i++ {
			diffs = append(diffs, xc[i]-xc[i-1])
		}
		sort.Float64s(diffs)
		md := medianOf(diffs)
		if md > s {
			s = md
		}
	}
	return s
}

func growOutward(xc []float64, spacing, pageW float64) []float64 {
	out := append([]float64{}, xc...)
	left := true
	for len(out) < 5 {
		if left && out[0]-spacing >= 0 {
			out = append([]float64{out[0] - spacing}, out...)
		} else if out[len(out)-1]+spacing <= pageW {
			out = append(out, out[len(out)-1]+spacing)
		} else if out[0]-spacing >= 0 {
			out = append([]float64{out[0] - spacing}, out...)
		} else {
			out = append(out, out[len(out)-1]+spacing)
		}
		left = !left
	}
	return out
}

// pickByInkScore scores the left and right candidate by summed ring-ink
// ratio over up to 12 rows × 5 columns against the binary mask.
func pickByInkScore(left, right []float64, b model.Block, radius float64, binary gocv.Mat, rowsPerBlock int) (leftScore, rightScore float64) {
	yc := clusterYCenters(b, radius, rowsPerBlock)
	rows := 12
	if len(yc) < rows {
		rows = len(yc)
	}

	scoreCandidate := func(xs []float64) float64 {
		var sum float64
		for r := 0; r < rows; r++ {
			for _, x := range xs {
				sum += score.InkRatio(binary, x, yc[r], radius)
			}
		}
		return sum
	}

	return scoreCandidate(left), scoreCandidate(right)
}
