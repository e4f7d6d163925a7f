package bubble

import (
	"testing"

	"github.com/scanmark/omreader/internal/omr/model"
)

func syntheticCircles() []model.Circle {
	var out []model.Circle
	// Three well-separated columns of 12 circles each; clusterBlocks
	// should recover exactly these three blocks.
	for col, cx := range []float64{100, 400, 700} {
		for row := 0; row < 12; row++ {
			out = append(out, model.Circle{CX: cx + float64(col%2), CY: float64(row * 40), R: 10})
		}
	}
	return out
}

func TestClusterBlocksRecoversThreeColumns(t *testing.T) {
	circles := syntheticCircles()
	blocks := clusterBlocks(circles, 12)

	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(blocks))
	}
	for i, b := range blocks {
		if b.Name != blockName(i+1) {
			t.Errorf("block %d name = %q, want %q", i, b.Name, blockName(i+1))
		}
		if len(b.Circles) != 12 {
			t.Errorf("block %d has %d circles, want 12", i, len(b.Circles))
		}
	}
	if blocks[0].MeanCX() >= blocks[1].MeanCX() || blocks[1].MeanCX() >= blocks[2].MeanCX() {
		t.Error("blocks must be ordered left to right by mean cx")
	}
	if blocks[0].QStart != 1 || blocks[1].QStart != 13 || blocks[2].QStart != 25 {
		t.Errorf("unexpected QStart sequence: %d %d %d", blocks[0].QStart, blocks[1].QStart, blocks[2].QStart)
	}
}

func TestClusterBlocksDropsTinyClusters(t *testing.T) {
	// Two real columns plus a spurious 9-circle cluster far to the right.
	// The rightmost third of the sorted x-values seeds on that cluster, and
	// it must be dropped since it falls below minClusterSize.
	circles := syntheticCircles()[:24]
	for i := 0; i < 9; i++ {
		circles = append(circles, model.Circle{CX: 1500, CY: float64(i * 10), R: 10})
	}

	blocks := clusterBlocks(circles, 12)
	for _, b := range blocks {
		if b.MeanCX() > 1000 {
			t.Errorf("spurious small cluster at cx=%v should have been dropped", b.MeanCX())
		}
	}
}

func TestIsolateAnswerColumnsWidensWhenSparse(t *testing.T) {
	w := 1000.0
	// Only 20 circles beyond 0.52w, but 60 beyond 0.45w: must widen.
	var circles []model.Circle
	for i := 0; i < 20; i++ {
		circles = append(circles, model.Circle{CX: 0.6 * w})
	}
	for i := 0; i < 40; i++ {
		circles = append(circles, model.Circle{CX: 0.47 * w})
	}

	got := isolateAnswerColumns(circles, w)
	if len(got) != 60 {
		t.Errorf("expected widened filter to keep 60 circles, got %d", len(got))
	}
}

func TestIsolateAnswerColumnsKeepsNarrowWhenEnough(t *testing.T) {
	w := 1000.0
	var circles []model.Circle
	for i := 0; i < 60; i++ {
		circles = append(circles, model.Circle{CX: 0.6 * w})
	}

	got := isolateAnswerColumns(circles, w)
	if len(got) != 60 {
		t.Errorf("expected all 60 circles kept without widening, got %d", len(got))
	}
}

func TestMedianOddAndEven(t *testing.T) {
	if m := median([]float64{1, 2, 3}); m != 2 {
		t.Errorf("median of 3 values = %v, want 2", m)
	}
	if m := median([]float64{1, 2, 3, 4}); m != 2.5 {
		t.Errorf("median of 4 values = %v, want 2.5", m)
	}
}
