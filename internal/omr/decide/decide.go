// Package decide turns per-row pixel statistics into final answers:
// per-block thresholds, the tiered classification table, the stability
// recheck, the noise veto and the ink-relative check.
package decide

import (
	"sort"

	"gocv.io/x/gocv"

	"github.com/scanmark/omreader/internal/omr/model"
	"github.com/scanmark/omreader/internal/omr/score"
)

// Options carries the environment-driven toggles this stage consults.
type Options struct {
	Strict bool
	Faint  bool
}

// Block classifies every row of one block, given its pre-scored rows, the
// gray buffer (for the stability recheck's rescoring) and the grid used to
// build coords/radius.
func Block(gray gocv.Mat, rows []model.RowResult, grid model.Grid, blockIndex int, opts Options) []model.RowResult {
	th := thresholds(rows, opts.Faint)

	strongCount := 0
	for _, r := range rows {
		if r.Best >= th.MarkTh && r.Delta >= th.Margin && r.Z >= 1.1 {
			strongCount++
		}
	}

	if strongCount < 5 && blockIndex != 0 {
		for i := range rows {
			rows[i].Tier = model.TierEmptyBlock
			rows[i].Answer = ""
			rows[i].Confidence = 0
			rows[i].Flags = []string{"EMPTY_BLOCK"}
		}
		return rows
	}

	medianInk, haveInk := inkCalibration(rows, th)

	for i := range rows {
		classifyRow(&rows[i], th, strongCount, opts)
		stabilityRecheck(&rows[i], gray, grid, th)
		applyGates(&rows[i], th, medianInk, haveInk)
		finalizeAnswer(&rows[i], opts)
	}
	return rows
}

type thresh struct {
	MarkTh  float64
	BlankTh float64
	Margin  float64
}

func thresholds(rows []model.RowResult, faint bool) thresh {
	if faint {
		return thresh{MarkTh: 0.03, BlankTh: 0.02, Margin: max(0.01, 0.006)}
	}

	bs := make([]float64, len(rows))
	for i, r := range rows {
		bs[i] = clip(r.Best, 0, 1)
	}
	otsu := otsuThreshold(bs) // returns a value in [0,1]
	markTh := clip(otsu, 0.03, 0.18)
	blankTh := max(markTh*0.45, 0.025)

	var margin float64
	if len(rows) > 5 {
		deltas := make([]float64, len(rows))
		for i, r := range rows {
			deltas[i] = r.Delta
		}
		margin = percentile(deltas, 15)
	} else {
		margin = 0.018
	}
	margin = clip(margin, 0.01, 0.08)

	return thresh{MarkTh: markTh, BlankTh: blankTh, Margin: margin}
}

// otsuThreshold runs gocv's Otsu implementation over an 8-bit histogram
// built from the [0,1] best-scores, returning the threshold back in
// [0,1]. Using gocv.Threshold here (rather than a hand-rolled histogram
// scan) keeps this on the same library the rest of the pipeline uses.
func otsuThreshold(vals []float64) float64 {
	if len(vals) == 0 {
		return 0.1
	}
	mat := gocv.NewMatWithSize(1, len(vals), gocv.MatTypeCV8UC1)
	defer mat.Close()
	for i, v := range vals {
		mat.SetUCharAt(0, i, uint8(clip(v, 0, 1)*255))
	}
	dst := gocv.NewMat()
	defer dst.Close()
	t := gocv.Threshold(mat, &dst, 0, 255, gocv.ThresholdBinary+gocv.ThresholdOtsu)
	return float64(t) / 255.0
}

func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64{}, xs...)
	sort.Float64s(sorted)
	idx := p / 100.0 * float64(len(sorted)-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func inkCalibration(rows []model.RowResult, th thresh) (float64, bool) {
	var inks []float64
	for _, r := range rows {
		if r.Best >= th.MarkTh+0.03 && r.Delta >= 2.5*th.Margin {
			inks = append(inks, r.InkRatio)
		}
	}
	if len(inks) < 3 {
		return 0, false
	}
	sort.Float64s(inks)
	return medianOf(inks), true
}

func medianOf(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func classifyRow(r *model.RowResult, th thresh, strongCount int, opts Options) {
	switch {
	case r.Best >= th.MarkTh && r.Delta >= th.Margin && r.Z >= 1.1:
		r.Tier = model.TierOK
	case opts.Faint && strongCount >= 1 &&
		r.Best >= th.BlankTh && r.Delta >= max(1.5*th.Margin, 0.02) && r.Z >= 1.6:
		r.Tier = model.TierFaintOK
	case r.Best >= th.BlankTh && r.Delta < th.Margin:
		r.Tier = model.TierMulti
		r.VetoReason = "BELOW_THRESH"
	case r.Best >= th.BlankTh && r.Z < 1.1:
		r.Tier = model.TierLowConf
		r.VetoReason = "BELOW_THRESH"
	default:
		r.Tier = model.TierBlank
		r.VetoReason = "BELOW_THRESH"
	}
}

func isSO(r *model.RowResult, th thresh) bool {
	return r.Best >= th.MarkTh+0.04 && r.Delta >= 3.5*th.Margin && r.Z >= 2.6
}

func isSS(r *model.RowResult, th thresh) bool {
	return r.Z >= 2.5 || r.Delta >= 3.2*th.Margin
}

// stabilityRecheck rescores the row at dy∈{0,+2,-2} and requires the
// majority argmax choice to appear at least twice.
func stabilityRecheck(r *model.RowResult, gray gocv.Mat, grid model.Grid, th thresh) {
	if r.Tier != model.TierOK && r.Tier != model.TierFaintOK {
		return
	}

	votes := map[int]int{}
	for _, dy := range []float64{0, 2, -2} {
		var scores [5]float64
		for i, c := range r.Coords {
			scores[i] = score.Bubble(gray, c.X, c.Y+dy, grid.Radius)
		}
		best, bestIdx := -1.0, 0
		for i, s := range scores {
			if s > best {
				best, bestIdx = s, i
			}
		}
		votes[bestIdx]++
	}

	majority := 0
	for _, v := range votes {
		if v > majority {
			majority = v
		}
	}
	if majority >= 2 {
		return
	}

	if isSO(r, th) || (r.Best >= th.MarkTh+2*th.Margin && r.Delta >= 3*th.Margin) {
		if r.Tier == model.TierOK {
			r.Tier = model.TierOKStabOverride
		}
		return
	}
	r.Tier = model.TierStabilityFail
	r.VetoReason = "STAB_FAIL"
}

// applyGates runs the noise veto and ink-relative check on rows that are
// still in a winning tier.
func applyGates(r *model.RowResult, th thresh, medianInk float64, haveInk bool) {
	if !winning(r.Tier) {
		return
	}

	so := isSO(r, th)
	ss := isSS(r, th)

	nvMargin := max(0.006, 0.25*th.Margin)
	if !so && !ss && r.NoiseGap < nvMargin {
		r.Tier = model.TierNV
		r.VetoReason = "NV"
		r.Tags = append(r.Tags, "NV")
		return
	}
	if ss && r.NoiseGap < nvMargin {
		r.Tags = append(r.Tags, "NV*")
	}

	if haveInk && !so {
		if r.InkRatio < max(0.004, 0.35*medianInk) {
			r.Tier = model.TierInkRelFail
			r.VetoReason = "INK_REL_FAIL"
			r.Tags = append(r.Tags, "INK_REL_FAIL")
			return
		}
	}
}

func winning(t model.Tier) bool {
	switch t {
	case model.TierOK, model.TierOKStabOverride, model.TierFaintOK:
		return true
	default:
		return false
	}
}

func finalizeAnswer(r *model.RowResult, opts Options) {
	bestIdx := 0
	for i, s := range r.Scores {
		if s > r.Scores[bestIdx] {
			bestIdx = i
		}
	}
	labels := model.ChoiceLabels()

	switch r.Tier {
	case model.TierOK, model.TierOKStabOverride, model.TierFaintOK:
		r.Answer = labels[bestIdx]
		r.Confidence = confidence(r.Delta, r.Best)
		if r.Tier == model.TierFaintOK {
			r.Flags = []string{"FAINT_OK"}
		} else if r.Tier == model.TierOKStabOverride {
			r.Flags = []string{"OK_STAB_OVERRIDE"}
		}
		r.VetoReason = ""
	case model.TierNV, model.TierInkRelFail:
		r.Answer = ""
		r.Confidence = confidence(r.Delta, r.Best)
		r.Flags = []string{r.Tier.String()}
	case model.TierStabilityFail:
		r.Answer = ""
		r.Confidence = confidence(r.Delta, r.Best)
		r.Flags = []string{"STABILITY_FAIL"}
	case model.TierMulti:
		if opts.Strict {
			r.Answer = ""
		} else {
			r.Answer = labels[bestIdx]
		}
		r.Confidence = confidence(r.Delta, r.Best)
		r.Flags = []string{"MULTI_MARK"}
	case model.TierLowConf:
		if opts.Strict {
			r.Answer = ""
		} else {
			r.Answer = labels[bestIdx]
		}
		r.Confidence = confidence(r.Delta, r.Best)
		r.Flags = []string{"LOW_CONFIDENCE"}
	default:
		r.Answer = ""
		r.Confidence = 0
		r.Flags = []string{"BLANK"}
	}
}

func confidence(delta, best float64) int {
	const eps = 1e-6
	v := int((delta / max(best, eps)) * 100)
	if v > 100 {
		return 100
	}
	if v < 0 {
		return 0
	}
	return v
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

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

