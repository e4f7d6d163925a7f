// Package pipeline wires the reading stages together into one synchronous
// call: one image in, one Output out, no shared mutable state. Blocks are
// scored independently (read-only inputs, row-disjoint outputs) so Run
// scores them concurrently while keeping the result deterministic.
package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"gocv.io/x/gocv"

	"github.com/scanmark/omreader/internal/omr/anchor"
	"github.com/scanmark/omreader/internal/omr/bubble"
	"github.com/scanmark/omreader/internal/omr/config"
	"github.com/scanmark/omreader/internal/omr/decide"
	"github.com/scanmark/omreader/internal/omr/grid"
	"github.com/scanmark/omreader/internal/omr/gridreader"
	"github.com/scanmark/omreader/internal/omr/model"
	"github.com/scanmark/omreader/internal/omr/pipelineerr"
	"github.com/scanmark/omreader/internal/omr/preprocess"
	"github.com/scanmark/omreader/internal/omr/rectify"
	"github.com/scanmark/omreader/internal/omr/score"
	"github.com/scanmark/omreader/internal/version"
	"github.com/scanmark/omreader/pkg/geometry"
)

// topRowsCount is the number of leading block1 rows eligible for the
// vertical dy sweep.
const topRowsCount = 16

// Output bundles the exported result document with the image buffers a
// caller (cmd/omrread) may want to persist as warped.png/preview.png/debug
// images. The pipeline itself never touches the filesystem.
type Output struct {
	Result model.Result
	Warped gocv.Mat
	Gray   gocv.Mat
	Binary gocv.Mat
	CLAHE  gocv.Mat
	Rows   []model.RowResult // flattened, in question order; empty if PreviewOnly or UseGrid
}

// Run executes the full reading pipeline over a decoded BGR source image.
// The caller owns src and must Close the returned Output's Mats.
func Run(src gocv.Mat, tmpl *model.Template, cfg *config.Config, cfgWarnings []string) (*Output, error) {
	var warnings []string
	warnings = append(warnings, cfgWarnings...)

	rect, err := rectify.Rectify(src, cfg, tmpl.Page.Width, tmpl.Page.Height)
	if err != nil {
		return nil, fmt.Errorf("rectify: %w", err)
	}
	warnings = append(warnings, rect.Warnings...)

	bufs := preprocess.Build(rect.Warped)

	if cfg.PreviewOnly {
		circles, blocks := bubble.Find(bufs.Gray, tmpl.RowsPerBlock)
		grids := grid.Build(blocks, resolveAnchors(cfg, tmpl, &warnings), float64(tmpl.Page.Width), tmpl.RowsPerBlock, bufs.Binary)
		anchors := anchor.Emit(grids)
		result := model.Result{
			TemplateKey: tmpl.Key,
			Meta: model.Meta{
				TemplateKey:           tmpl.Key,
				ExpectedQuestionCount: tmpl.ExpectedQuestionCount,
				PageSize:              [2]int{tmpl.Page.Width, tmpl.Page.Height},
				StrictMode:            cfg.Strict,
				Version:               version.Version,
				CornerMarkersFound:    rect.CornersFound,
				TotalCircles:          len(circles),
				BlocksDetected:        len(blocks),
				Warnings:              warnings,
			},
			Anchors: anchor.Export(anchors),
		}
		return &Output{Result: result, Warped: rect.Warped, Gray: bufs.Gray, Binary: bufs.Binary, CLAHE: bufs.GrayCLAHE}, nil
	}

	if cfg.UseGrid {
		return runGridReader(rect, bufs, tmpl, cfg, warnings)
	}

	circles, blocks := bubble.Find(bufs.Gray, tmpl.RowsPerBlock)
	blocksDetected := len(blocks)
	if len(circles) == 0 {
		warnings = append(warnings, pipelineerr.ErrNoCircles.Error())
	} else if len(circles) < 5*tmpl.RowsPerBlock {
		warnings = append(warnings, pipelineerr.ErrTooFewCircles.Error())
		blocks = nil
	}

	anchors := resolveAnchors(cfg, tmpl, &warnings)
	grids := grid.Build(blocks, anchors, float64(tmpl.Page.Width), tmpl.RowsPerBlock, bufs.Binary)

	rowsByBlock := make([][]model.RowResult, len(blocks))
	var wg sync.WaitGroup
	for i := range blocks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rowsByBlock[i] = scoreAndDecideBlock(bufs.Gray, blocks[i], grids[i], i, cfg)
		}(i)
	}
	wg.Wait()

	var rows []model.RowResult
	for _, br := range rowsByBlock {
		rows = append(rows, br...)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Question < rows[j].Question })

	rows = fillMissing(rows, tmpl.ExpectedQuestionCount)

	if cfg.LimitFirstBlock && len(blocks) > 0 {
		rows = rows[:min(len(rows), blocks[0].QEnd)]
	}
	if cfg.MaxQuestions > 0 && len(rows) > cfg.MaxQuestions {
		rows = rows[:cfg.MaxQuestions]
	}

	exportAnchors := anchor.Export(resolvedOrEmitted(cfg, anchors, grids))

	result := buildResult(tmpl, cfg, rect, len(circles), blocksDetected, rows, warnings, exportAnchors)

	return &Output{
		Result: result,
		Warped: rect.Warped,
		Gray:   bufs.Gray,
		Binary: bufs.Binary,
		CLAHE:  bufs.GrayCLAHE,
		Rows:   rows,
	}, nil
}

// resolvedOrEmitted re-derives anchors from the grids when the caller did
// not supply an override, otherwise echoes the supplied anchors back.
func resolvedOrEmitted(cfg *config.Config, supplied *model.Anchors, grids []model.Grid) model.Anchors {
	if supplied != nil {
		return *supplied
	}
	return anchor.Emit(grids)
}

func resolveAnchors(cfg *config.Config, tmpl *model.Template, warnings *[]string) *model.Anchors {
	if cfg.Anchors == nil {
		return nil
	}
	w, h := float64(tmpl.Page.Width), float64(tmpl.Page.Height)

	convert := func(p *config.CornerPoint) *geometry.Point2D {
		if p == nil {
			return nil
		}
		x, y := p.X, p.Y
		if x <= 1.5 && y <= 1.5 {
			x *= w
			y *= h
		}
		return &geometry.Point2D{X: x, Y: y}
	}

	a := &model.Anchors{
		Q1A:  convert(cfg.Anchors.Q1A),
		Q1E:  convert(cfg.Anchors.Q1E),
		Q53A: convert(cfg.Anchors.Q53A),
	}
	if a.Q1A == nil || a.Q1E == nil {
		*warnings = append(*warnings, "anchor_parse_failed: OMR_ANCHORS missing q1A/q1E, ignoring")
		return nil
	}
	return a
}

// scoreAndDecideBlock scores every row of one block and classifies it.
// Reads only gray/blocks/grids; writes only its own slice, so concurrent
// callers never share mutable state.
func scoreAndDecideBlock(gray gocv.Mat, b model.Block, g model.Grid, blockIndex int, cfg *config.Config) []model.RowResult {
	n := len(g.YCenters)
	if n == 0 {
		return nil
	}

	rowCoords := make([][5]geometry.Point2D, n)
	for r := 0; r < n; r++ {
		for c := 0; c < 5; c++ {
			rowCoords[r][c] = geometry.Point2D{X: g.XCenters[c], Y: g.YCenters[r]}
		}
	}

	var dy float64
	if blockIndex == 0 {
		dy = score.Block1DySweep(gray, rowCoords, g.Radius, topRowsCount)
	}

	rows := make([]model.RowResult, n)
	for r := 0; r < n; r++ {
		coords := rowCoords[r]
		if blockIndex == 0 && r < topRowsCount && dy != 0 {
			for c := range coords {
				coords[c].Y += dy
			}
		}
		rows[r] = score.Row(gray, b.QStart+r, b.Name, coords, g.Radius)
	}

	return decide.Block(gray, rows, g, blockIndex, decide.Options{Strict: cfg.Strict, Faint: cfg.Faint})
}

// fillMissing inserts NOT_DETECTED placeholder rows for any question number
// in [1, expected] that no block produced, so the answer list always has
// exactly one entry per expected question.
func fillMissing(rows []model.RowResult, expected int) []model.RowResult {
	have := make(map[int]bool, len(rows))
	for _, r := range rows {
		have[r.Question] = true
	}
	out := append([]model.RowResult{}, rows...)
	for q := 1; q <= expected; q++ {
		if !have[q] {
			out = append(out, model.RowResult{Question: q, Tier: model.TierNotDetected})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Question < out[j].Question })
	return out
}

func buildResult(tmpl *model.Template, cfg *config.Config, rect *rectify.Result, totalCircles, blocksDetected int, rows []model.RowResult, warnings []string, anchors model.AnchorsExport) model.Result {
	answers := make([]model.AnswerEntry, len(rows))
	answered, ok := 0, 0
	labels := model.ChoiceLabels()

	for i, r := range rows {
		var ansPtr *string
		if r.Answer != "" {
			a := r.Answer
			ansPtr = &a
			answered++
		}
		if r.Tier.IsOKFamily() {
			ok++
		}
		scores := make(map[string]float64, 5)
		for ci, lbl := range labels {
			if ci < len(r.Scores) {
				scores[lbl] = r.Scores[ci]
			}
		}
		answers[i] = model.AnswerEntry{
			Question:   r.Question,
			Answer:     ansPtr,
			Confidence: r.Confidence,
			Scores:     scores,
			Flags:      r.Flags,
			Block:      r.Block,
			Status:     r.Status(),
			Best:       r.Best,
			Delta:      r.Delta,
			Z:          r.Z,
			NoiseGap:   r.NoiseGap,
			InkRatio:   r.InkRatio,
			Tier:       r.Tier.String(),
			VetoReason: r.VetoReason,
			Tags:       r.Tags,
		}
	}

	return model.Result{
		TemplateKey: tmpl.Key,
		Answers:     answers,
		Summary:     model.Summary{Total: len(answers), Answered: answered, OK: ok},
		Meta: model.Meta{
			TemplateKey:           tmpl.Key,
			ExpectedQuestionCount: tmpl.ExpectedQuestionCount,
			PageSize:              [2]int{tmpl.Page.Width, tmpl.Page.Height},
			StrictMode:            cfg.Strict,
			Version:               version.Version,
			CornerMarkersFound:    rect.CornersFound,
			TotalCircles:          totalCircles,
			BlocksDetected:        blocksDetected,
			Warnings:              warnings,
		},
		Anchors: anchors,
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// runGridReader executes the OMR_USE_GRID alternative path:
// fixed-percentage cells over the binary mask, independent tier set, no
// circle detection at all. It requires the template to carry columnRanges.
func runGridReader(rect *rectify.Result, bufs preprocess.Buffers, tmpl *model.Template, cfg *config.Config, warnings []string) (*Output, error) {
	if len(tmpl.ColumnRanges) == 0 {
		return nil, fmt.Errorf("OMR_USE_GRID requires template.columnRanges")
	}

	gridRows := gridreader.Read(bufs.Binary, tmpl.ColumnRanges, tmpl.RowsPerBlock, float64(tmpl.Page.Width), float64(tmpl.Page.Height), gridreader.Params{BaseThreshold: tmpl.Threshold, MinFillDelta: tmpl.MinFillDelta})

	answers := make([]model.AnswerEntry, len(gridRows))
	answered, ok := 0, 0
	labels := model.ChoiceLabels()
	for i, r := range gridRows {
		var ansPtr *string
		if r.Answer != "" {
			a := r.Answer
			ansPtr = &a
			answered++
		}
		if r.Tier == gridreader.TierOK {
			ok++
		}
		scores := make(map[string]float64, 5)
		for ci, lbl := range labels {
			scores[lbl] = r.Scores[ci]
		}
		answers[i] = model.AnswerEntry{
			Question: r.Question,
			Answer:   ansPtr,
			Scores:   scores,
			Status:   r.Tier.String(),
			Tier:     r.Tier.String(),
		}
	}

	if cfg.MaxQuestions > 0 && len(answers) > cfg.MaxQuestions {
		answers = answers[:cfg.MaxQuestions]
	}

	result := model.Result{
		TemplateKey: tmpl.Key,
		Answers:     answers,
		Summary:     model.Summary{Total: len(answers), Answered: answered, OK: ok},
		Meta: model.Meta{
			TemplateKey:           tmpl.Key,
			ExpectedQuestionCount: tmpl.ExpectedQuestionCount,
			PageSize:              [2]int{tmpl.Page.Width, tmpl.Page.Height},
			StrictMode:            cfg.Strict,
			Version:               version.Version,
			CornerMarkersFound:    rect.CornersFound,
			Warnings:              warnings,
		},
	}

	return &Output{Result: result, Warped: rect.Warped, Gray: bufs.Gray, Binary: bufs.Binary, CLAHE: bufs.GrayCLAHE}, nil
}
