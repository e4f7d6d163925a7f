// Package debugdump writes intermediate pipeline buffers to disk when
// OMR_DEBUG is set.
package debugdump

import (
	"fmt"
	"path/filepath"

	"gocv.io/x/gocv"
)

// Dump writes each named Mat as "<dir>/debug_<name>.png". Write failures are
// collected as warnings rather than aborting the call.
func Dump(dir string, mats map[string]gocv.Mat) []string {
	var warnings []string
	for name, mat := range mats {
		if mat.Empty() {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("debug_%s.png", name))
		if ok := gocv.IMWrite(path, mat); !ok {
			warnings = append(warnings, fmt.Sprintf("failed to write debug image %s", path))
		}
	}
	return warnings
}
