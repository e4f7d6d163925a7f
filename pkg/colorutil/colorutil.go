// Package colorutil provides the overlay colors used by the preview renderer.
package colorutil

import "image/color"

// Overlay colors used by the preview renderer to distinguish row outcomes.
var (
	Green   = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	Yellow  = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	Magenta = color.RGBA{R: 255, G: 0, B: 255, A: 255}
)
