// Package pipelineerr defines the sentinel error tags used across the
// reading pipeline. rectify.Rectify wraps ErrImageDecodeFailed with %w, so
// callers can use errors.Is against it; elsewhere a tag appears as the text
// of an error or of a meta.warnings entry, not as a wrapped sentinel.
package pipelineerr

import "errors"

var (
	// ErrImageDecodeFailed means the input file could not be read as an
	// image. Fatal: aborts the call.
	ErrImageDecodeFailed = errors.New("image_decode_failed")

	// ErrCornerOverrideFailed means the caller-supplied override corners
	// were invalid. Recoverable: downgrade to the detection path.
	ErrCornerOverrideFailed = errors.New("corner_override_failed")

	// ErrAnchorParseFailed means OMR_ANCHORS could not be parsed.
	// Recoverable: continue without anchors.
	ErrAnchorParseFailed = errors.New("anchor_parse_failed")

	// ErrCornersMissing means the fine-warp corner search failed.
	// Recoverable: continue with the rough warp.
	ErrCornersMissing = errors.New("corners_missing")

	// ErrNoCircles means BubbleFinder found zero circles.
	// Recoverable: produce a full-blank result.
	ErrNoCircles = errors.New("no_circles")

	// ErrTooFewCircles means BubbleFinder found too few circles to form
	// blocks reliably. Recoverable: produce a full-blank result.
	ErrTooFewCircles = errors.New("too_few_circles")

	// ErrBlockEmpty flags a per-block empty-block guard trip.
	// Recoverable: row answers are nulled for that block only.
	ErrBlockEmpty = errors.New("block_empty")
)
