// Package model holds the shared data types that flow between pipeline
// stages: detected circles, blocks, reconstructed grids, per-row scoring
// results and the final exported answer list.
package model

import "github.com/scanmark/omreader/pkg/geometry"

// Circle is a detected bubble candidate in page pixel coordinates.
type Circle struct {
	CX, CY, R float64
}

// Block is a cluster of circles belonging to one vertical question column.
type Block struct {
	Name    string
	QStart  int
	QEnd    int
	Circles []Circle

	XMin, XMax, YMin, YMax float64
}

// MeanCX returns the mean x of the block's circles, used to order blocks
// left-to-right.
func (b *Block) MeanCX() float64 {
	if len(b.Circles) == 0 {
		return 0
	}
	var sum float64
	for _, c := range b.Circles {
		sum += c.CX
	}
	return sum / float64(len(b.Circles))
}

// Grid is the reconstructed choice layout for one block: 5 column centers
// and rowsPerBlock row centers.
type Grid struct {
	XCenters   []float64
	YCenters   []float64
	Radius     float64
	AnchorUsed bool
}

// Anchors are the three reference bubble centers used to constrain grid
// reconstruction, expressed in page pixels.
type Anchors struct {
	Q1A  *geometry.Point2D
	Q1E  *geometry.Point2D
	Q53A *geometry.Point2D
}

// Thresholds are the per-block decision thresholds computed from row
// statistics.
type Thresholds struct {
	MarkTh  float64
	BlankTh float64
	Margin  float64
}

// RowResult holds every per-question diagnostic and the final answer.
type RowResult struct {
	Question int
	Block    string

	Scores [5]float64
	Coords [5]geometry.Point2D

	Best       float64
	Second     float64
	Delta      float64
	RowMedian  float64
	RowStd     float64
	Z          float64
	NoiseMax   float64
	NoiseGap   float64
	InkRatio   float64

	Answer     string // "" when no answer (∅)
	Confidence int

	Tier       Tier
	VetoReason string
	Flags      []string
	Tags       []string
}

// Status is the status string exported in result.json: the tier name.
// OK_STAB_OVERRIDE keeps its own name, which still satisfies the
// "startswith OK" rule used by summary.ok; the override is also listed in
// Flags.
func (r *RowResult) Status() string {
	return r.Tier.String()
}

// ChoiceLabels returns the default five answer labels.
func ChoiceLabels() []string {
	return []string{"A", "B", "C", "D", "E"}
}

// Template describes the layout of one answer sheet, loaded from the
// caller-supplied JSON file. Template loading itself lives outside the
// reading pipeline; this struct is the shared contract.
type Template struct {
	Key     string   `json:"key"`
	Choices []string `json:"choices"`

	Page struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"page"`

	QuestionColumns       int `json:"questionColumns"`
	RowsPerBlock          int `json:"rowsPerBlock"`
	ExpectedQuestionCount int `json:"expectedQuestionCount"`

	Threshold    float64 `json:"threshold"`
	MinFillDelta float64 `json:"minFillDelta"`

	ROIX float64 `json:"roiX"`
	ROIY float64 `json:"roiY"`
	ROIW float64 `json:"roiW"`
	ROIH float64 `json:"roiH"`

	ColumnRanges []ColumnRange `json:"columnRanges"`
}

// ColumnRange is one grid-reader column band (used only by the
// OMR_USE_GRID alternative path).
type ColumnRange struct {
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// WithDefaults fills in defaults for any field the caller omitted.
func (t *Template) WithDefaults() {
	if len(t.Choices) == 0 {
		t.Choices = ChoiceLabels()
	}
	if t.Page.Width == 0 {
		t.Page.Width = 1700
	}
	if t.Page.Height == 0 {
		t.Page.Height = 2200
	}
	if t.QuestionColumns == 0 {
		t.QuestionColumns = 3
	}
	if t.RowsPerBlock == 0 {
		t.RowsPerBlock = 52
	}
	if t.ExpectedQuestionCount == 0 {
		t.ExpectedQuestionCount = 156
	}
}

// AnswerEntry is one row of the exported result.json "answers" array.
type AnswerEntry struct {
	Question   int             `json:"question"`
	Answer     *string         `json:"answer"`
	Confidence int             `json:"confidence"`
	Scores     map[string]float64 `json:"scores"`
	Flags      []string        `json:"flags"`
	Block      string          `json:"block"`
	Status     string          `json:"status"`
	Best       float64         `json:"best"`
	Delta      float64         `json:"delta"`
	Z          float64         `json:"z"`
	NoiseGap   float64         `json:"noise_gap"`
	InkRatio   float64         `json:"ink_ratio"`
	Tier       string          `json:"tier"`
	VetoReason string          `json:"veto_reason,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
}

// Summary aggregates the answer list for result.json.
type Summary struct {
	Total    int `json:"total"`
	Answered int `json:"answered"`
	OK       int `json:"ok"`
}

// Meta carries pipeline diagnostics for result.json.
type Meta struct {
	TemplateKey           string  `json:"templateKey"`
	ExpectedQuestionCount int     `json:"expectedQuestionCount"`
	PageSize              [2]int  `json:"pageSize"`
	StrictMode            bool    `json:"strictMode"`
	Version               string  `json:"version"`
	CornerMarkersFound    bool    `json:"cornerMarkersFound"`
	TotalCircles          int     `json:"totalCircles"`
	BlocksDetected        int     `json:"blocksDetected"`
	Warnings              []string `json:"warnings,omitempty"`
}

// AnchorsExport is the [x,y] pair form used in result.json.
type AnchorsExport struct {
	Q1A  *[2]float64 `json:"q1A,omitempty"`
	Q1E  *[2]float64 `json:"q1E,omitempty"`
	Q53A *[2]float64 `json:"q53A,omitempty"`
}

// Result is the full result.json document.
type Result struct {
	TemplateKey string          `json:"templateKey"`
	Answers     []AnswerEntry   `json:"answers"`
	Summary     Summary         `json:"summary"`
	Meta        Meta            `json:"meta"`
	Anchors     AnchorsExport   `json:"anchors"`
}
