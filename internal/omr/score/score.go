// Package score samples the grayscale page at each reconstructed cell:
// ring-contrast, ink-ratio and noise-at-midpoint statistics.
package score

import (
	"math"
	"sort"

	"gocv.io/x/gocv"

	"github.com/scanmark/omreader/internal/omr/model"
	"github.com/scanmark/omreader/pkg/geometry"
)

const eps = 1e-6

// annulusStats samples gray at (cx,cy) over the pixel square bounding
// radius rOuter, keeping samples whose distance from center falls in
// [rInner, rOuter], and returns their mean and population std-dev.
func annulusStats(gray gocv.Mat, cx, cy, rInner, rOuter float64) (mean, std float64, n int) {
	w, h := gray.Cols(), gray.Rows()
	x0, x1 := int(cx-rOuter), int(cx+rOuter)+1
	y0, y1 := int(cy-rOuter), int(cy+rOuter)+1
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > w {
		x1 = w
	}
	if y1 > h {
		y1 = h
	}

	var sum, sumSq float64
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			d := math.Sqrt(dx*dx + dy*dy)
			if d < rInner || d > rOuter {
				continue
			}
			v := float64(gray.GetUCharAt(y, x))
			sum += v
			sumSq += v * v
			n++
		}
	}
	if n == 0 {
		return 0, 0, 0
	}
	mean = sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	std = math.Sqrt(variance)
	return mean, std, n
}

// Bubble computes the ring-contrast score at (cx,cy,r): inner ink ring
// 0.35r-0.85r vs background ring 1.05r-1.35r.
func Bubble(gray gocv.Mat, cx, cy, r float64) float64 {
	meanInner, _, _ := annulusStats(gray, cx, cy, 0.35*r, 0.85*r)
	meanBg, _, _ := annulusStats(gray, cx, cy, 1.05*r, 1.35*r)
	v := (meanBg - meanInner) / 255.0
	if v < 0 {
		return 0
	}
	return v
}

// InkRatio computes the fraction of pixels in the 0.28r-0.75r ring darker
// than meanBg-stdBg of the 1.05r-1.35r background ring.
func InkRatio(gray gocv.Mat, cx, cy, r float64) float64 {
	meanBg, stdBg, _ := annulusStats(gray, cx, cy, 1.05*r, 1.35*r)
	thresh := meanBg - stdBg

	w, h := gray.Cols(), gray.Rows()
	rOuter := 0.75 * r
	x0, x1 := int(cx-rOuter), int(cx+rOuter)+1
	y0, y1 := int(cy-rOuter), int(cy+rOuter)+1
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > w {
		x1 = w
	}
	if y1 > h {
		y1 = h
	}

	var countInner, countInk int
	rInner := 0.28 * r
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			d := math.Sqrt(dx*dx + dy*dy)
			if d < rInner || d > rOuter {
				continue
			}
			countInner++
			if float64(gray.GetUCharAt(y, x)) < thresh {
				countInk++
			}
		}
	}
	if countInner == 0 {
		return 0
	}
	return float64(countInk) / float64(countInner)
}

// NoiseAtMidpoint samples the point halfway between two adjacent choice
// centers: disk ρ≤0.22r and ring 0.95r-1.20r, each compared against the
// background ring 1.20r-2.0r; returns the larger normalized contrast.
func NoiseAtMidpoint(gray gocv.Mat, a, b geometry.Point2D, r float64) float64 {
	mx, my := (a.X+b.X)/2, (a.Y+b.Y)/2

	meanBg, _, _ := annulusStats(gray, mx, my, 1.20*r, 2.0*r)
	meanDisk, _, nDisk := annulusStats(gray, mx, my, 0, 0.22*r)
	meanRing, _, nRing := annulusStats(gray, mx, my, 0.95*r, 1.20*r)

	var cDisk, cRing float64
	if nDisk > 0 {
		cDisk = (meanBg - meanDisk) / 255.0
	}
	if nRing > 0 {
		cRing = (meanBg - meanRing) / 255.0
	}
	if cDisk < 0 {
		cDisk = 0
	}
	if cRing < 0 {
		cRing = 0
	}
	return math.Max(cDisk, cRing)
}

// Row scores one question row: the 5 choice centers in coords, radius r,
// and the 4 adjacent midpoints for noise.
func Row(gray gocv.Mat, question int, blockName string, coords [5]geometry.Point2D, r float64) model.RowResult {
	row := model.RowResult{Question: question, Block: blockName, Coords: coords}

	for i, c := range coords {
		row.Scores[i] = Bubble(gray, c.X, c.Y, r)
	}

	best, second, bestIdx := -1.0, -1.0, -1
	for i, s := range row.Scores {
		if s > best {
			second = best
			best = s
			bestIdx = i
		} else if s > second {
			second = s
		}
	}
	if second < 0 {
		second = 0
	}
	row.Best = best
	row.Second = second
	row.Delta = best - second

	sorted := append([]float64{}, row.Scores[:]...)
	sort.Float64s(sorted)
	row.RowMedian = median(sorted)
	row.RowStd = stdDev(sorted, mean(sorted))
	row.Z = (row.Best - row.RowMedian) / (row.RowStd + eps)

	var noiseMax float64
	for i := 0; i < 4; i++ {
		n := NoiseAtMidpoint(gray, coords[i], coords[i+1], r)
		if n > noiseMax {
			noiseMax = n
		}
	}
	row.NoiseMax = noiseMax
	row.NoiseGap = row.Best - noiseMax

	if bestIdx >= 0 {
		row.InkRatio = InkRatio(gray, coords[bestIdx].X, coords[bestIdx].Y, r)
	}

	return row
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
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

func stdDev(xs []float64, m float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

// dyCandidates are the vertical offsets probed by Block1DySweep, including
// the no-correction baseline.
var dyCandidates = []float64{-22, -18, -14, -10, -6, -2, 0, 2, 6, 10, 14, 18, 22}

// Block1DySweep probes each candidate vertical offset over the first
// topRows rows of block1 and returns the dy that maximizes the summed
// per-row max bubble score, applying it only if that sum reaches 0.3.
func Block1DySweep(gray gocv.Mat, rowGrids [][5]geometry.Point2D, r float64, topRows int) float64 {
	if topRows > len(rowGrids) {
		topRows = len(rowGrids)
	}
	bestDy, bestSum := 0.0, -1.0
	for _, dy := range dyCandidates {
		var sum float64
		for i := 0; i < topRows; i++ {
			rowBest := 0.0
			for _, c := range rowGrids[i] {
				s := Bubble(gray, c.X, c.Y+dy, r)
				if s > rowBest {
					rowBest = s
				}
			}
			sum += rowBest
		}
		if sum > bestSum {
			bestSum, bestDy = sum, dy
		}
	}
	if bestSum >= 0.3 {
		return bestDy
	}
	return 0
}
