// Package gridreader implements the OMR_USE_GRID alternative reading path:
// a fixed-percentage cell grid derived straight from the template's
// columnRanges, read off the binary mask rather than from Hough-detected
// circles. It shares no code with the circle-model pipeline and carries its
// own small tier set.
package gridreader

import (
	"math"

	"gocv.io/x/gocv"

	"github.com/scanmark/omreader/internal/omr/model"
)

// Tier is the grid-reader's independent, smaller tier set.
type Tier int

const (
	TierOK Tier = iota
	TierMulti
	TierBlank
	TierEmptyBlock
)

func (t Tier) String() string {
	switch t {
	case TierOK:
		return "OK"
	case TierMulti:
		return "MULTI"
	case TierEmptyBlock:
		return "EMPTY_BLOCK"
	default:
		return "BLANK"
	}
}

// Row is one question's grid-reader result.
type Row struct {
	Question int
	Answer   string
	Tier     Tier
	Scores   [5]float64
}

// Params are the template-supplied knobs for this path. BaseThreshold is
// the template's `threshold` field (floor for the per-band dynamic
// threshold) and MinFillDelta the required winner margin before a row is
// called MULTI; both may be zero, in which case the per-band statistics
// alone drive the decision.
type Params struct {
	BaseThreshold float64
	MinFillDelta  float64
}

// Read evaluates every columnRange against the binary mask, splitting each
// band into rowsPerBlock rows and 5 equal-width choice cells, and classifies
// each row by a per-band dynamic threshold.
func Read(binary gocv.Mat, ranges []model.ColumnRange, rowsPerBlock int, pageW, pageH float64, params Params) []Row {
	var rows []Row
	question := 1
	for _, cr := range ranges {
		rows = append(rows, readBand(binary, cr, rowsPerBlock, pageW, pageH, params, &question)...)
	}
	return rows
}

func readBand(binary gocv.Mat, cr model.ColumnRange, rowsPerBlock int, pageW, pageH float64, params Params, question *int) []Row {
	x0, x1 := cr.Start*pageW, cr.End*pageW
	y0, y1 := cr.Top*pageH, cr.Bottom*pageH
	colW := (x1 - x0) / 5
	rowH := (y1 - y0) / float64(rowsPerBlock)

	// The baseline is every cell except each row's fullest one, so the
	// marks themselves do not raise the threshold they are compared with.
	fills := make([][5]float64, rowsPerBlock)
	var baseline []float64
	for r := 0; r < rowsPerBlock; r++ {
		top := 0
		for c := 0; c < 5; c++ {
			cx0 := x0 + float64(c)*colW
			cy0 := y0 + float64(r)*rowH
			fill := cellFill(binary, cx0, cy0, colW, rowH)
			fills[r][c] = fill
			if fill > fills[r][top] {
				top = c
			}
		}
		for c, f := range fills[r] {
			if c != top {
				baseline = append(baseline, f)
			}
		}
	}

	baseMean, baseStd := meanStd(baseline)
	threshold := math.Max(params.BaseThreshold, baseMean+2*baseStd)

	multiMargin := params.MinFillDelta
	if multiMargin <= 0 {
		multiMargin = threshold * 0.5
	}

	rows := make([]Row, rowsPerBlock)
	strong := 0
	for r := 0; r < rowsPerBlock; r++ {
		best, bestIdx, second := -1.0, -1, -1.0
		for c, f := range fills[r] {
			if f > best {
				second = best
				best, bestIdx = f, c
			} else if f > second {
				second = f
			}
		}
		tier := TierBlank
		answer := ""
		if best > 0 && best >= threshold {
			if best-second < multiMargin {
				tier = TierMulti
			} else {
				tier = TierOK
				answer = model.ChoiceLabels()[bestIdx]
				strong++
			}
		}
		rows[r] = Row{Question: *question, Answer: answer, Tier: tier, Scores: fills[r]}
		*question++
	}

	if strong < 5 {
		for r := range rows {
			rows[r].Tier = TierEmptyBlock
			rows[r].Answer = ""
		}
	}
	return rows
}

// cellFill returns the fraction of ink (255) pixels inside the given
// pixel-space cell.
func cellFill(binary gocv.Mat, x0, y0, w, h float64) float64 {
	ix0, iy0 := int(x0), int(y0)
	ix1, iy1 := int(x0+w), int(y0+h)
	bw, bh := binary.Cols(), binary.Rows()
	if ix0 < 0 {
		ix0 = 0
	}
	if iy0 < 0 {
		iy0 = 0
	}
	if ix1 > bw {
		ix1 = bw
	}
	if iy1 > bh {
		iy1 = bh
	}
	if ix1 <= ix0 || iy1 <= iy0 {
		return 0
	}

	var ink, total int
	for y := iy0; y < iy1; y++ {
		for x := ix0; x < ix1; x++ {
			total++
			if binary.GetUCharAt(y, x) > 0 {
				ink++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(ink) / float64(total)
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	std = math.Sqrt(sumSq / float64(len(xs)))
	return
}
