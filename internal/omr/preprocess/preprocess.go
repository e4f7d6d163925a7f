// Package preprocess derives the gray, binary and CLAHE-enhanced buffers
// every downstream stage reads. It is a pure function of the rectified
// page.
package preprocess

import (
	"image"

	"gocv.io/x/gocv"
)

// Buffers holds the three read-only views of the rectified page. The
// caller owns their lifetime and must Close them.
type Buffers struct {
	Gray      gocv.Mat
	Binary    gocv.Mat
	GrayCLAHE gocv.Mat
}

// Close releases all three Mats.
func (b *Buffers) Close() {
	b.Gray.Close()
	b.Binary.Close()
	b.GrayCLAHE.Close()
}

// Build derives gray, binary and gray_clahe from a rectified BGR page.
func Build(warped gocv.Mat) Buffers {
	gray := gocv.NewMat()
	gocv.CvtColor(warped, &gray, gocv.ColorBGRToGray)

	binary := gocv.NewMat()
	gocv.AdaptiveThreshold(gray, &binary, 255, gocv.AdaptiveThresholdMean, gocv.ThresholdBinaryInv, 25, 10)

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(3, 3))
	defer kernel.Close()
	gocv.MorphologyEx(binary, &binary, gocv.MorphOpen, kernel)

	clahe := gocv.NewCLAHEWithParams(2.0, image.Pt(8, 8))
	defer clahe.Close()
	grayClahe := gocv.NewMat()
	clahe.Apply(gray, &grayClahe)

	return Buffers{Gray: gray, Binary: binary, GrayCLAHE: grayClahe}
}
