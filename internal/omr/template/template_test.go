package template

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "template.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write temp template: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTemp(t, `{"key":"midterm-a"}`)

	tmpl, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if tmpl.Key != "midterm-a" {
		t.Errorf("Key = %q, want midterm-a", tmpl.Key)
	}
	if tmpl.RowsPerBlock != 52 {
		t.Errorf("RowsPerBlock = %d, want default 52", tmpl.RowsPerBlock)
	}
	if tmpl.ExpectedQuestionCount != 156 {
		t.Errorf("ExpectedQuestionCount = %d, want default 156", tmpl.ExpectedQuestionCount)
	}
}

func TestLoadRejectsOutOfRangeColumns(t *testing.T) {
	path := writeTemp(t, `{"key":"bad","questionColumns":9}`)
	if _, err := Load(path); err == nil {
		t.Error("expected an error for questionColumns out of [1,6]")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/template.json"); err == nil {
		t.Error("expected an error for a missing template file")
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := writeTemp(t, `{not json`)
	if _, err := Load(path); err == nil {
		t.Error("expected an error for invalid JSON")
	}
}
