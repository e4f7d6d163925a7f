// Package template loads the JSON sheet-layout description supplied by
// the caller.
package template

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/scanmark/omreader/internal/omr/model"
)

// Load reads and validates a template JSON file, filling in defaults for
// any field the caller omitted.
func Load(path string) (*model.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", path, err)
	}

	var t model.Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", path, err)
	}

	t.WithDefaults()

	if t.QuestionColumns < 1 || t.QuestionColumns > 6 {
		return nil, fmt.Errorf("template %s: questionColumns out of range [1,6]: %d", path, t.QuestionColumns)
	}

	return &t, nil
}
