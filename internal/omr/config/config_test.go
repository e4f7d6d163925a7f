package config

import (
	"os"
	"testing"
)

func clearOMREnv(t *testing.T) {
	t.Helper()
	names := []string{
		"OMR_DEBUG", "OMR_STRICT", "OMR_PREVIEW_ONLY", "OMR_USE_GRID",
		"OMR_FAINT", "OMR_LIMIT_FIRST_BLOCK", "OMR_MAX_QUESTIONS",
		"OMR_CORNERS", "OMR_ANCHORS",
	}
	for _, n := range names {
		os.Unsetenv(n)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearOMREnv(t)
	cfg, warnings := FromEnv()
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings on clean env: %v", warnings)
	}
	if !cfg.Strict {
		t.Error("OMR_STRICT must default to true")
	}
	if cfg.Debug || cfg.PreviewOnly || cfg.UseGrid || cfg.Faint || cfg.LimitFirstBlock {
		t.Error("all other toggles must default to false")
	}
	if cfg.MaxQuestions != 0 {
		t.Errorf("MaxQuestions default = %d, want 0 (unlimited)", cfg.MaxQuestions)
	}
}

func TestFromEnvStrictCanBeDisabled(t *testing.T) {
	clearOMREnv(t)
	os.Setenv("OMR_STRICT", "false")
	defer os.Unsetenv("OMR_STRICT")

	cfg, _ := FromEnv()
	if cfg.Strict {
		t.Error("OMR_STRICT=false must disable strict mode")
	}
}

func TestFromEnvInvalidCornersWarns(t *testing.T) {
	clearOMREnv(t)
	os.Setenv("OMR_CORNERS", "not-json")
	defer os.Unsetenv("OMR_CORNERS")

	cfg, warnings := FromEnv()
	if cfg.Corners != nil {
		t.Error("invalid OMR_CORNERS must leave Corners nil")
	}
	if len(warnings) == 0 {
		t.Error("invalid OMR_CORNERS must produce a warning")
	}
}

func TestFromEnvValidCorners(t *testing.T) {
	clearOMREnv(t)
	os.Setenv("OMR_CORNERS", `[{"x":0,"y":0},{"x":1,"y":0},{"x":1,"y":1},{"x":0,"y":1}]`)
	defer os.Unsetenv("OMR_CORNERS")

	cfg, warnings := FromEnv()
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if len(cfg.Corners) != 4 {
		t.Fatalf("got %d corners, want 4", len(cfg.Corners))
	}
}

func TestFromEnvMaxQuestionsInvalidIgnored(t *testing.T) {
	clearOMREnv(t)
	os.Setenv("OMR_MAX_QUESTIONS", "not-a-number")
	defer os.Unsetenv("OMR_MAX_QUESTIONS")

	cfg, warnings := FromEnv()
	if cfg.MaxQuestions != 0 {
		t.Errorf("invalid OMR_MAX_QUESTIONS must be ignored, got %d", cfg.MaxQuestions)
	}
	if len(warnings) == 0 {
		t.Error("invalid OMR_MAX_QUESTIONS must produce a warning")
	}
}

func TestFromEnvAnchors(t *testing.T) {
	clearOMREnv(t)
	os.Setenv("OMR_ANCHORS", `{"q1A":{"x":100,"y":200},"q1E":{"x":500,"y":200}}`)
	defer os.Unsetenv("OMR_ANCHORS")

	cfg, warnings := FromEnv()
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if cfg.Anchors == nil || cfg.Anchors.Q1A == nil || cfg.Anchors.Q1A.X != 100 {
		t.Errorf("Anchors not parsed correctly: %+v", cfg.Anchors)
	}
}
