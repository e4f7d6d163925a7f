// Package rectify warps the photographed sheet into the canonical page
// coordinate system, choosing corners from an explicit override, a rough
// contour pass, or a fine fiducial search.
package rectify

import (
	"fmt"
	"image"
	"sort"

	"gocv.io/x/gocv"

	"github.com/scanmark/omreader/internal/omr/config"
	"github.com/scanmark/omreader/internal/omr/pipelineerr"
	"github.com/scanmark/omreader/pkg/geometry"
)

// Strategy tags which corner source ultimately produced the warp.
type Strategy int

const (
	StrategyOverride Strategy = iota
	StrategyRoughThenFine
	StrategyRoughOnly
)

func (s Strategy) String() string {
	switch s {
	case StrategyOverride:
		return "override"
	case StrategyRoughThenFine:
		return "rough_then_fine"
	default:
		return "rough_only"
	}
}

// Result is the Rectifier's output.
type Result struct {
	Warped        gocv.Mat
	CornersFound  bool
	Strategy      Strategy
	Warnings      []string
}

// insetFraction is the 3% destination inset. warpQuad applies it to every
// warp it performs: the override, the fine pass and the rough pass too, so
// a rough-only result also carries the 3% margin.
const insetFraction = 0.03

// Rectify produces a W×H canonical page image from src.
func Rectify(src gocv.Mat, cfg *config.Config, width, height int) (*Result, error) {
	if src.Empty() {
		return nil, fmt.Errorf("%w: empty source image", pipelineerr.ErrImageDecodeFailed)
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	var warnings []string

	if quad, ok := overrideQuad(cfg, float64(src.Cols()), float64(src.Rows())); ok {
		if geometry.IsConvex(quad[:]) {
			warped := warpQuad(src, quad, width, height)
			return &Result{Warped: warped, CornersFound: true, Strategy: StrategyOverride}, nil
		}
		warnings = append(warnings, "corner_override_failed: override quad is degenerate, falling back to detection")
	}

	rough, roughOK := roughQuad(gray)
	if !roughOK || !geometry.IsConvex(rough[:]) {
		rough = imageCornersQuad(float64(src.Cols()), float64(src.Rows()))
		warnings = append(warnings, "corners_missing: rough pass fell back to image corners")
	}

	roughWarped := warpQuad(src, rough, width, height)

	fine, fineOK := fineQuad(roughWarped, width, height)
	if !fineOK || !geometry.IsConvex(fine[:]) {
		warnings = append(warnings, "corners_missing: fine warp failed, using rough warp")
		return &Result{Warped: roughWarped, CornersFound: false, Strategy: StrategyRoughOnly, Warnings: warnings}, nil
	}

	final := warpQuad(roughWarped, fine, width, height)
	roughWarped.Close()

	return &Result{Warped: final, CornersFound: true, Strategy: StrategyRoughThenFine, Warnings: warnings}, nil
}

// overrideQuad reads OMR_CORNERS: four points, absolute pixels or
// normalized [0,1] (treated as normalized when every coordinate is ≤ 1.5).
func overrideQuad(cfg *config.Config, w, h float64) ([4]geometry.Point2D, bool) {
	if cfg == nil || len(cfg.Corners) != 4 {
		return [4]geometry.Point2D{}, false
	}

	normalized := true
	for _, p := range cfg.Corners {
		if p.X > 1.5 || p.Y > 1.5 {
			normalized = false
			break
		}
	}

	var pts []geometry.Point2D
	for _, p := range cfg.Corners {
		x, y := p.X, p.Y
		if normalized {
			x *= w
			y *= h
		}
		pts = append(pts, geometry.Point2D{X: x, Y: y})
	}
	return orderCorners(pts), true
}

func imageCornersQuad(w, h float64) [4]geometry.Point2D {
	return [4]geometry.Point2D{
		{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: h}, {X: 0, Y: h},
	}
}

// roughQuad runs Canny → dilate → external contours → largest 4-vertex
// quadrilateral among the top 5 by area.
func roughQuad(gray gocv.Mat) ([4]geometry.Point2D, bool) {
	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 50, 150)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()
	for i := 0; i < 2; i++ {
		gocv.Dilate(edges, &edges, kernel)
	}

	contours := gocv.FindContours(edges, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	type cand struct {
		area float64
		pts  gocv.PointVector
	}
	var cands []cand
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		cands = append(cands, cand{area: gocv.ContourArea(c), pts: c})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].area > cands[j].area })
	if len(cands) > 5 {
		cands = cands[:5]
	}

	for _, c := range cands {
		peri := gocv.ArcLength(c.pts, true)
		approx := gocv.ApproxPolyDP(c.pts, 0.02*peri, true)
		if approx.Size() == 4 {
			pts := make([]geometry.Point2D, 4)
			for i := 0; i < 4; i++ {
				p := approx.At(i)
				pts[i] = geometry.Point2D{X: float64(p.X), Y: float64(p.Y)}
			}
			approx.Close()
			return orderCorners(pts), true
		}
		approx.Close()
	}
	return [4]geometry.Point2D{}, false
}

// fineQuad prefers corner-square detection; falls back to inner-marker
// search.
func fineQuad(img gocv.Mat, w, h int) ([4]geometry.Point2D, bool) {
	if quad, ok := cornerSquares(img, float64(w), float64(h)); ok {
		return quad, true
	}
	return innerMarkers(img, float64(w), float64(h))
}

func cornerSquares(img gocv.Mat, w, h float64) ([4]geometry.Point2D, bool) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	bin := gocv.NewMat()
	defer bin.Close()
	gocv.Threshold(gray, &bin, 0, 255, gocv.ThresholdBinaryInv+gocv.ThresholdOtsu)

	contours := gocv.FindContours(bin, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	type quadrant struct {
		xLo, xHi, yLo, yHi float64
	}
	quads := map[string]quadrant{
		"TL": {0, 0.35 * w, 0, 0.35 * h},
		"TR": {0.65 * w, w, 0, 0.35 * h},
		"BR": {0.65 * w, w, 0.65 * h, h},
		"BL": {0, 0.35 * w, 0.65 * h, h},
	}
	best := map[string]struct {
		area   float64
		center geometry.Point2D
	}{}

	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		area := gocv.ContourArea(c)
		if area < 300 {
			continue
		}
		rect := gocv.BoundingRect(c)
		aspect := float64(rect.Dx()) / float64(rect.Dy())
		if aspect < 0.7 || aspect > 1.3 {
			continue
		}
		cx := float64(rect.Min.X) + float64(rect.Dx())/2
		cy := float64(rect.Min.Y) + float64(rect.Dy())/2
		for name, q := range quads {
			if cx >= q.xLo && cx < q.xHi && cy >= q.yLo && cy < q.yHi {
				if area > best[name].area {
					best[name] = struct {
						area   float64
						center geometry.Point2D
					}{area, geometry.Point2D{X: cx, Y: cy}}
				}
			}
		}
	}

	if len(best) != 4 {
		return [4]geometry.Point2D{}, false
	}
	return [4]geometry.Point2D{best["TL"].center, best["TR"].center, best["BR"].center, best["BL"].center}, true
}

func innerMarkers(img gocv.Mat, w, h float64) ([4]geometry.Point2D, bool) {
	stripW := int(0.15 * w)
	stripH := int(0.12 * h)

	type strip struct {
		name       string
		ox, oy     int
		toCorner   geometry.Point2D
	}
	strips := []strip{
		{"TL", 0, 0, geometry.Point2D{X: 0, Y: 0}},
		{"TR", int(w) - stripW, 0, geometry.Point2D{X: w, Y: 0}},
		{"BR", int(w) - stripW, int(h) - stripH, geometry.Point2D{X: w, Y: h}},
		{"BL", 0, int(h) - stripH, geometry.Point2D{X: 0, Y: h}},
	}

	found := map[string]geometry.Point2D{}
	for _, s := range strips {
		roi := img.Region(image.Rect(s.ox, s.oy, s.ox+stripW, s.oy+stripH))
		gray := gocv.NewMat()
		gocv.CvtColor(roi, &gray, gocv.ColorBGRToGray)
		roi.Close()

		bin := gocv.NewMat()
		gocv.Threshold(gray, &bin, 80, 255, gocv.ThresholdBinaryInv)
		gray.Close()

		contours := gocv.FindContours(bin, gocv.RetrievalExternal, gocv.ChainApproxSimple)
		bin.Close()

		var bestScore = -1.0
		var bestPt geometry.Point2D
		for i := 0; i < contours.Size(); i++ {
			c := contours.At(i)
			area := gocv.ContourArea(c)
			if area < 500 {
				continue
			}
			rect := gocv.BoundingRect(c)
			aspect := float64(rect.Dx()) / float64(rect.Dy())
			if aspect <= 0.7 || aspect >= 1.4 {
				continue
			}
			pts := make([]geometry.Point2D, c.Size())
			for j := 0; j < c.Size(); j++ {
				p := c.At(j)
				pts[j] = geometry.Point2D{X: float64(p.X), Y: float64(p.Y)}
			}
			hullArea := geometry.PolygonArea(geometry.ConvexHull(pts))
			if hullArea <= 0 || area/hullArea < 0.75 {
				continue
			}
			cx := float64(s.ox+rect.Min.X) + float64(rect.Dx())/2
			cy := float64(s.oy+rect.Min.Y) + float64(rect.Dy())/2
			d := geometry.Point2D{X: cx, Y: cy}.Distance(s.toCorner)
			score := 1.0 / (1.0 + d)
			if score > bestScore {
				bestScore = score
				bestPt = geometry.Point2D{X: cx, Y: cy}
			}
		}
		contours.Close()
		if bestScore >= 0 {
			found[s.name] = bestPt
		}
	}

	if len(found) != 4 {
		return [4]geometry.Point2D{}, false
	}
	return [4]geometry.Point2D{found["TL"], found["TR"], found["BR"], found["BL"]}, true
}

// orderCorners applies the canonical rule: TL=argmin(x+y), BR=argmax(x+y),
// TR=argmin(x−y), BL=argmax(x−y).
func orderCorners(pts []geometry.Point2D) [4]geometry.Point2D {
	if len(pts) != 4 {
		var zero [4]geometry.Point2D
		return zero
	}

	tl, br, tr, bl := pts[0], pts[0], pts[0], pts[0]
	minSum, maxSum := pts[0].X+pts[0].Y, pts[0].X+pts[0].Y
	minDiff, maxDiff := pts[0].X-pts[0].Y, pts[0].X-pts[0].Y

	for _, p := range pts[1:] {
		sum := p.X + p.Y
		diff := p.X - p.Y
		if sum < minSum {
			minSum, tl = sum, p
		}
		if sum > maxSum {
			maxSum, br = sum, p
		}
		if diff < minDiff {
			minDiff, tr = diff, p
		}
		if diff > maxDiff {
			maxDiff, bl = diff, p
		}
	}
	return [4]geometry.Point2D{tl, tr, br, bl}
}

// warpQuad perspective-warps src so that quad maps onto the destination
// rectangle inset by insetFraction.
func warpQuad(src gocv.Mat, quad [4]geometry.Point2D, width, height int) gocv.Mat {
	w, h := float64(width), float64(height)
	dx, dy := w*insetFraction, h*insetFraction

	srcPts := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: float32(quad[0].X), Y: float32(quad[0].Y)},
		{X: float32(quad[1].X), Y: float32(quad[1].Y)},
		{X: float32(quad[2].X), Y: float32(quad[2].Y)},
		{X: float32(quad[3].X), Y: float32(quad[3].Y)},
	})
	defer srcPts.Close()

	dstPts := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: float32(dx), Y: float32(dy)},
		{X: float32(w - dx), Y: float32(dy)},
		{X: float32(w - dx), Y: float32(h - dy)},
		{X: float32(dx), Y: float32(h - dy)},
	})
	defer dstPts.Close()

	m := gocv.GetPerspectiveTransform2f(srcPts, dstPts)
	defer m.Close()

	dst := gocv.NewMat()
	gocv.WarpPerspective(src, &dst, m, image.Pt(width, height))
	return dst
}
