// Package bubble detects answer-bubble candidates with Hough circle
// detection, isolates the answer columns and clusters the survivors into
// vertical question blocks.
package bubble

import (
	"fmt"
	"image"
	"math"
	"sort"

	"gocv.io/x/gocv"

	"github.com/scanmark/omreader/internal/omr/model"
)

const (
	downscaleWidth = 1200
	minClusterSize = 10
)

// Find runs Hough circle detection over gray (full-resolution), isolates
// the answer columns, and clusters the survivors into left-to-right
// blocks of rowsPerBlock questions each.
func Find(gray gocv.Mat, rowsPerBlock int) ([]model.Circle, []model.Block) {
	circles := houghCircles(gray)
	circles = isolateAnswerColumns(circles, float64(gray.Cols()))
	blocks := clusterBlocks(circles, rowsPerBlock)
	return circles, blocks
}

func houghCircles(gray gocv.Mat) []model.Circle {
	w := gray.Cols()
	s := float64(downscaleWidth) / float64(w)

	small := gocv.NewMat()
	defer small.Close()
	h := int(float64(gray.Rows()) * s)
	gocv.Resize(gray, &small, image.Pt(downscaleWidth, h), 0, 0, gocv.InterpolationLinear)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(small, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	dp := 1.2
	minDist := math.Max(16*s, 8)
	param1 := 120.0
	minR := int(math.Max(6*s, 4))
	maxR := int(math.Max(16*s, 10))

	circles := detectAt(blurred, dp, minDist, param1, 22, minR, maxR)
	if len(circles) < 300 {
		circles = detectAt(blurred, dp, minDist, param1, math.Max(10, math.Floor(0.7*22)), minR, maxR)
	}

	out := make([]model.Circle, len(circles))
	for i, c := range circles {
		out[i] = model.Circle{CX: c.CX / s, CY: c.CY / s, R: c.R / s}
	}
	return out
}

func detectAt(blurred gocv.Mat, dp, minDist, param1, param2 float64, minR, maxR int) []model.Circle {
	res := gocv.NewMat()
	defer res.Close()
	gocv.HoughCirclesWithParams(blurred, &res, gocv.HoughGradient, dp, minDist, param1, param2, minR, maxR)
	if res.Empty() || res.Cols() == 0 {
		return nil
	}
	out := make([]model.Circle, res.Cols())
	for i := 0; i < res.Cols(); i++ {
		out[i] = model.Circle{
			CX: float64(res.GetFloatAt(0, i*3)),
			CY: float64(res.GetFloatAt(0, i*3+1)),
			R:  float64(res.GetFloatAt(0, i*3+2)),
		}
	}
	return out
}

// isolateAnswerColumns keeps circles right of 0.52W, widening to 0.45W if
// fewer than 50 survive.
func isolateAnswerColumns(circles []model.Circle, w float64) []model.Circle {
	filtered := filterCX(circles, 0.52*w)
	if len(filtered) < 50 {
		filtered = filterCX(circles, 0.45*w)
	}
	return filtered
}

func filterCX(circles []model.Circle, minX float64) []model.Circle {
	var out []model.Circle
	for _, c := range circles {
		if c.CX > minX {
			out = append(out, c)
		}
	}
	return out
}

// clusterBlocks seeds three centers from the thirds of sorted x-values,
// assigns each circle to its nearest seed, drops clusters smaller than
// minClusterSize, then re-sorts and relabels left to right.
func clusterBlocks(circles []model.Circle, rowsPerBlock int) []model.Block {
	if len(circles) == 0 {
		return nil
	}

	xs := make([]float64, len(circles))
	for i, c := range circles {
		xs[i] = c.CX
	}
	sort.Float64s(xs)

	n := len(xs)
	third := n / 3
	seeds := [3]float64{
		median(xs[0:third]),
		median(xs[third : 2*third]),
		median(xs[2*third:]),
	}

	raw := make([][]model.Circle, 3)
	for _, c := range circles {
		best, bestD := 0, math.Abs(c.CX-seeds[0])
		for i := 1; i < 3; i++ {
			if d := math.Abs(c.CX - seeds[i]); d < bestD {
				best, bestD = i, d
			}
		}
		raw[best] = append(raw[best], c)
	}

	var survivors [][]model.Circle
	for _, cl := range raw {
		if len(cl) >= minClusterSize {
			survivors = append(survivors, cl)
		}
	}

	sort.Slice(survivors, func(i, j int) bool {
		return meanCX(survivors[i]) < meanCX(survivors[j])
	})

	blocks := make([]model.Block, len(survivors))
	for i, cl := range survivors {
		b := model.Block{
			Name:    blockName(i + 1),
			QStart:  1 + i*rowsPerBlock,
			QEnd:    (i + 1) * rowsPerBlock,
			Circles: cl,
		}
		b.XMin, b.XMax, b.YMin, b.YMax = extent(cl)
		blocks[i] = b
	}
	return blocks
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func meanCX(cl []model.Circle) float64 {
	var sum float64
	for _, c := range cl {
		sum += c.CX
	}
	return sum / float64(len(cl))
}

func extent(cl []model.Circle) (xMin, xMax, yMin, yMax float64) {
	xMin, yMin = math.Inf(1), math.Inf(1)
	xMax, yMax = math.Inf(-1), math.Inf(-1)
	for _, c := range cl {
		xMin = math.Min(xMin, c.CX)
		xMax = math.Max(xMax, c.CX)
		yMin = math.Min(yMin, c.CY)
		yMax = math.Max(yMax, c.CY)
	}
	return
}

func blockName(i int) string {
	return fmt.Sprintf("block%d", i)
}
