// Package imageio is the boundary between the reading pipeline and the
// filesystem: decoding input scans (png, jpeg, tiff) and converting
// between Go's image.Image and gocv.Mat.
package imageio

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"gocv.io/x/gocv"

	_ "golang.org/x/image/tiff"
)

// Load decodes an image file in png, jpeg or tiff format.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("image_decode_failed: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("image_decode_failed: %w", err)
	}
	return img, nil
}

// ToMat converts a decoded Go image into a 3-channel BGR gocv.Mat, the
// layout every OpenCV call in this pipeline expects.
func ToMat(src image.Image) (gocv.Mat, error) {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return gocv.Mat{}, fmt.Errorf("image_decode_failed: empty image")
	}

	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			mat.SetUCharAt(y, x*3+0, uint8(b>>8))
			mat.SetUCharAt(y, x*3+1, uint8(g>>8))
			mat.SetUCharAt(y, x*3+2, uint8(r>>8))
		}
	}
	return mat, nil
}

// SavePNG writes a Mat to disk as PNG, used for warped.png/preview.png.
func SavePNG(path string, mat gocv.Mat) error {
	if ok := gocv.IMWrite(path, mat); !ok {
		return fmt.Errorf("failed to write %s", path)
	}
	return nil
}

// MatToGoImage converts a single-channel or 3-channel Mat back to an
// image.Image for callers that need to re-encode outside gocv (kept thin;
// the debug dumper writes Mats with gocv.IMWrite and does not call it).
func MatToGoImage(mat gocv.Mat) (image.Image, error) {
	buf, err := gocv.IMEncode(".png", mat)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	img, _, err := image.Decode(bytes.NewReader(buf.GetBytes()))
	return img, err
}
