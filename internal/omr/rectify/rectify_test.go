package rectify

import (
	"testing"

	"github.com/scanmark/omreader/pkg/geometry"
)

func TestOrderCornersCanonicalRule(t *testing.T) {
	// A simple 100x100 square presented out of order.
	pts := []geometry.Point2D{
		{X: 100, Y: 100}, // BR
		{X: 0, Y: 0},     // TL
		{X: 100, Y: 0},   // TR
		{X: 0, Y: 100},   // BL
	}

	got := orderCorners(pts)

	want := [4]geometry.Point2D{
		{X: 0, Y: 0},
		{X: 100, Y: 0},
		{X: 100, Y: 100},
		{X: 0, Y: 100},
	}
	if got != want {
		t.Errorf("orderCorners() = %+v, want %+v", got, want)
	}
}

func TestOrderCornersWrongCount(t *testing.T) {
	got := orderCorners([]geometry.Point2D{{X: 0, Y: 0}})
	var zero [4]geometry.Point2D
	if got != zero {
		t.Errorf("orderCorners with wrong count should return zero value, got %+v", got)
	}
}

func TestImageCornersQuad(t *testing.T) {
	got := imageCornersQuad(800, 1000)
	want := [4]geometry.Point2D{{X: 0, Y: 0}, {X: 800, Y: 0}, {X: 800, Y: 1000}, {X: 0, Y: 1000}}
	if got != want {
		t.Errorf("imageCornersQuad() = %+v, want %+v", got, want)
	}
}
