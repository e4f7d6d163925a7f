package decide

import (
	"testing"

	"github.com/scanmark/omreader/internal/omr/model"
)

func TestThresholdsFaintMode(t *testing.T) {
	th := thresholds(nil, true)
	if th.MarkTh != 0.03 || th.BlankTh != 0.02 || th.Margin != 0.01 {
		t.Errorf("faint thresholds = %+v, want {0.03 0.02 0.01}", th)
	}
}

func TestPercentile(t *testing.T) {
	xs := []float64{0.01, 0.02, 0.03, 0.04, 0.05, 0.06, 0.07, 0.08, 0.09, 0.10}
	got := percentile(xs, 15)
	if got < 0.015 || got > 0.03 {
		t.Errorf("percentile(15) = %v, out of expected range", got)
	}
}

func TestClassifyRowOK(t *testing.T) {
	th := thresh{MarkTh: 0.1, BlankTh: 0.045, Margin: 0.02}
	r := model.RowResult{Best: 0.15, Delta: 0.05, Z: 1.5}
	classifyRow(&r, th, 10, Options{})
	if r.Tier != model.TierOK {
		t.Errorf("Tier = %v, want OK", r.Tier)
	}
}

func TestClassifyRowMulti(t *testing.T) {
	th := thresh{MarkTh: 0.1, BlankTh: 0.045, Margin: 0.02}
	r := model.RowResult{Best: 0.12, Delta: 0.005, Z: 2.0}
	classifyRow(&r, th, 10, Options{})
	if r.Tier != model.TierMulti {
		t.Errorf("Tier = %v, want MULTI", r.Tier)
	}
	if r.VetoReason != "BELOW_THRESH" {
		t.Errorf("VetoReason = %q, want BELOW_THRESH", r.VetoReason)
	}
}

func TestClassifyRowLowConf(t *testing.T) {
	th := thresh{MarkTh: 0.1, BlankTh: 0.045, Margin: 0.02}
	r := model.RowResult{Best: 0.06, Delta: 0.03, Z: 0.5}
	classifyRow(&r, th, 10, Options{})
	if r.Tier != model.TierLowConf {
		t.Errorf("Tier = %v, want LOW_CONF", r.Tier)
	}
}

func TestClassifyRowBlank(t *testing.T) {
	th := thresh{MarkTh: 0.1, BlankTh: 0.045, Margin: 0.02}
	r := model.RowResult{Best: 0.01, Delta: 0.005, Z: 0.1}
	classifyRow(&r, th, 10, Options{})
	if r.Tier != model.TierBlank {
		t.Errorf("Tier = %v, want BLANK", r.Tier)
	}
	if r.VetoReason != "BELOW_THRESH" {
		t.Errorf("VetoReason = %q, want BELOW_THRESH", r.VetoReason)
	}
}

func TestClassifyRowFaintOK(t *testing.T) {
	th := thresh{MarkTh: 0.1, BlankTh: 0.045, Margin: 0.02}
	r := model.RowResult{Best: 0.06, Delta: 0.04, Z: 2.0}
	classifyRow(&r, th, 1, Options{Faint: true})
	if r.Tier != model.TierFaintOK {
		t.Errorf("Tier = %v, want FAINT_OK", r.Tier)
	}
}

func TestIsSOAndIsSS(t *testing.T) {
	th := thresh{MarkTh: 0.1, Margin: 0.02}
	so := model.RowResult{Best: 0.2, Delta: 0.1, Z: 3.0}
	if !isSO(&so, th) {
		t.Error("expected strong-override to trigger")
	}
	notSO := model.RowResult{Best: 0.12, Delta: 0.03, Z: 1.2}
	if isSO(&notSO, th) {
		t.Error("did not expect strong-override")
	}

	ss := model.RowResult{Z: 2.6}
	if !isSS(&ss, th) {
		t.Error("expected signal-strong-enough via z")
	}
	ss2 := model.RowResult{Delta: 0.1}
	if !isSS(&ss2, th) {
		t.Error("expected signal-strong-enough via delta")
	}
}

func TestFinalizeAnswerStrictNullsMulti(t *testing.T) {
	r := model.RowResult{Tier: model.TierMulti, Scores: [5]float64{0.1, 0.2, 0.05, 0, 0}}
	finalizeAnswer(&r, Options{Strict: true})
	if r.Answer != "" {
		t.Errorf("strict MULTI must null the answer, got %q", r.Answer)
	}
	if len(r.Flags) != 1 || r.Flags[0] != "MULTI_MARK" {
		t.Errorf("Flags = %v, want [MULTI_MARK]", r.Flags)
	}
}

func TestFinalizeAnswerNonStrictMulti(t *testing.T) {
	r := model.RowResult{Tier: model.TierMulti, Delta: 0.05, Best: 0.2, Scores: [5]float64{0.1, 0.2, 0.05, 0, 0}}
	finalizeAnswer(&r, Options{Strict: false})
	if r.Answer != "B" {
		t.Errorf("non-strict MULTI should pick argmax choice, got %q", r.Answer)
	}
}

func TestFinalizeAnswerOK(t *testing.T) {
	r := model.RowResult{Tier: model.TierOK, Delta: 0.1, Best: 0.2, Scores: [5]float64{0.2, 0.05, 0, 0, 0}}
	finalizeAnswer(&r, Options{Strict: true})
	if r.Answer != "A" {
		t.Errorf("Answer = %q, want A", r.Answer)
	}
	if r.Confidence != 50 {
		t.Errorf("Confidence = %d, want 50", r.Confidence)
	}
	if len(r.Flags) != 0 {
		t.Errorf("Flags = %v, want empty for OK", r.Flags)
	}
}

func TestFinalizeAnswerPerTierFlags(t *testing.T) {
	cases := []struct {
		tier      model.Tier
		wantFlags []string
	}{
		{model.TierFaintOK, []string{"FAINT_OK"}},
		{model.TierNV, []string{"NV"}},
		{model.TierInkRelFail, []string{"INK_REL_FAIL"}},
		{model.TierStabilityFail, []string{"STABILITY_FAIL"}},
		{model.TierLowConf, []string{"LOW_CONFIDENCE"}},
		{model.TierBlank, []string{"BLANK"}},
	}
	for _, c := range cases {
		r := model.RowResult{Tier: c.tier, Delta: 0.05, Best: 0.1, Scores: [5]float64{0.1, 0, 0, 0, 0}}
		finalizeAnswer(&r, Options{Strict: true})
		if len(r.Flags) != 1 || r.Flags[0] != c.wantFlags[0] {
			t.Errorf("%v: Flags = %v, want %v", c.tier, r.Flags, c.wantFlags)
		}
	}
}

func TestFinalizeAnswerWinningClearsVetoReason(t *testing.T) {
	r := model.RowResult{Tier: model.TierOK, VetoReason: "BELOW_THRESH", Delta: 0.1, Best: 0.2, Scores: [5]float64{0.2, 0, 0, 0, 0}}
	finalizeAnswer(&r, Options{Strict: true})
	if r.VetoReason != "" {
		t.Errorf("VetoReason = %q, want empty for a winning row", r.VetoReason)
	}
}

func TestApplyGatesNoiseVeto(t *testing.T) {
	th := thresh{MarkTh: 0.1, Margin: 0.02}
	r := model.RowResult{Tier: model.TierOK, Best: 0.12, Delta: 0.03, Z: 1.5, NoiseGap: 0.001}
	applyGates(&r, th, 0, false)
	if r.Tier != model.TierNV {
		t.Errorf("Tier = %v, want NV", r.Tier)
	}
	if r.VetoReason != "NV" {
		t.Errorf("VetoReason = %q, want NV", r.VetoReason)
	}
	if len(r.Tags) != 1 || r.Tags[0] != "NV" {
		t.Errorf("Tags = %v, want [NV]", r.Tags)
	}
}

func TestApplyGatesNearVetoTagOnStrongSignal(t *testing.T) {
	th := thresh{MarkTh: 0.1, Margin: 0.02}
	// Signal-strong-enough row with a noise gap below the veto margin:
	// not demoted, but tagged NV*.
	r := model.RowResult{Tier: model.TierOK, Best: 0.13, Delta: 0.07, Z: 1.5, NoiseGap: 0.001}
	applyGates(&r, th, 0, false)
	if r.Tier != model.TierOK {
		t.Errorf("Tier = %v, want OK (strong signal must survive)", r.Tier)
	}
	if len(r.Tags) != 1 || r.Tags[0] != "NV*" {
		t.Errorf("Tags = %v, want [NV*]", r.Tags)
	}
}

func TestApplyGatesInkRelFail(t *testing.T) {
	th := thresh{MarkTh: 0.1, Margin: 0.02}
	r := model.RowResult{Tier: model.TierOK, Best: 0.12, Delta: 0.03, Z: 1.5, NoiseGap: 1.0, InkRatio: 0.01}
	applyGates(&r, th, 0.2, true)
	if r.Tier != model.TierInkRelFail {
		t.Errorf("Tier = %v, want INK_REL_FAIL", r.Tier)
	}
	if r.VetoReason != "INK_REL_FAIL" {
		t.Errorf("VetoReason = %q, want INK_REL_FAIL", r.VetoReason)
	}
	if len(r.Tags) != 1 || r.Tags[0] != "INK_REL_FAIL" {
		t.Errorf("Tags = %v, want [INK_REL_FAIL]", r.Tags)
	}
}

func TestApplyGatesStrongOverridePassesInkCheck(t *testing.T) {
	th := thresh{MarkTh: 0.1, Margin: 0.02}
	r := model.RowResult{Tier: model.TierOK, Best: 0.2, Delta: 0.1, Z: 3.0, NoiseGap: 1.0, InkRatio: 0.001}
	applyGates(&r, th, 0.5, true)
	if r.Tier != model.TierOK {
		t.Errorf("strong-override row must survive ink-relative check, got %v", r.Tier)
	}
}

func TestInkCalibrationRequiresThreeSamples(t *testing.T) {
	th := thresh{MarkTh: 0.1, Margin: 0.02}
	rows := []model.RowResult{
		{Best: 0.2, Delta: 0.1, InkRatio: 0.3},
		{Best: 0.2, Delta: 0.1, InkRatio: 0.4},
	}
	_, have := inkCalibration(rows, th)
	if have {
		t.Error("expected inkCalibration to require >= 3 qualifying samples")
	}

	rows = append(rows, model.RowResult{Best: 0.2, Delta: 0.1, InkRatio: 0.5})
	median, have := inkCalibration(rows, th)
	if !have {
		t.Fatal("expected inkCalibration to succeed with 3 samples")
	}
	if median != 0.4 {
		t.Errorf("median ink = %v, want 0.4", median)
	}
}
