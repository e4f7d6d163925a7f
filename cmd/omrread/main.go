// Command omrread reads a scanned answer sheet against a layout template
// and writes result.json, warped.png and preview.png to the output
// directory. It prints a single-line JSON document on success and on
// failure rather than a Go stack trace; missing flags print a plain usage
// line instead.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/scanmark/omreader/internal/omr/config"
	"github.com/scanmark/omreader/internal/omr/debugdump"
	"github.com/scanmark/omreader/internal/omr/imageio"
	"github.com/scanmark/omreader/internal/omr/pipeline"
	"github.com/scanmark/omreader/internal/omr/preview"
	"github.com/scanmark/omreader/internal/omr/template"
)

// runResult is the single-line JSON document printed on both success and
// failure.
type runResult struct {
	Success     bool   `json:"success"`
	ResultPath  string `json:"result_path,omitempty"`
	PreviewPath string `json:"preview_path,omitempty"`
	Error       string `json:"error,omitempty"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	imagePath := flag.String("image", "", "path to the scanned answer sheet")
	templatePath := flag.String("template", "", "path to the template JSON file")
	outDir := flag.String("out", "", "output directory for result.json/warped.png/preview.png")
	flag.Parse()

	if *imagePath == "" || *templatePath == "" || *outDir == "" {
		fmt.Fprintln(os.Stderr, "usage: omrread -image PATH -template PATH -out DIR")
		os.Exit(1)
	}

	res, err := run(*imagePath, *templatePath, *outDir)
	enc, _ := json.Marshal(res)
	fmt.Println(string(enc))
	if err != nil {
		os.Exit(1)
	}
}

func run(imagePath, templatePath, outDir string) (runResult, error) {
	tmpl, err := template.Load(templatePath)
	if err != nil {
		return runResult{Success: false, Error: err.Error()}, err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return runResult{Success: false, Error: err.Error()}, err
	}

	cfg, cfgWarnings := config.FromEnv()

	img, err := imageio.Load(imagePath)
	if err != nil {
		return runResult{Success: false, Error: err.Error()}, err
	}

	src, err := imageio.ToMat(img)
	if err != nil {
		return runResult{Success: false, Error: err.Error()}, err
	}
	defer src.Close()

	out, err := pipeline.Run(src, tmpl, cfg, cfgWarnings)
	if err != nil {
		return runResult{Success: false, Error: err.Error()}, err
	}
	defer out.Warped.Close()
	defer out.Gray.Close()
	defer out.Binary.Close()
	defer out.CLAHE.Close()

	warpedPath := filepath.Join(outDir, "warped.png")
	if err := imageio.SavePNG(warpedPath, out.Warped); err != nil {
		log.Printf("warning: %v", err)
	}

	previewPath := filepath.Join(outDir, "preview.png")
	radius := 10.0
	if len(out.Rows) > 0 {
		radius = out.Rows[0].Coords[0].Distance(out.Rows[0].Coords[1]) / 4
	}
	previewMat := preview.Render(out.Warped, out.Rows, radius)
	defer previewMat.Close()
	if err := imageio.SavePNG(previewPath, previewMat); err != nil {
		log.Printf("warning: %v", err)
	}

	if cfg.Debug {
		warns := debugdump.Dump(outDir, map[string]gocv.Mat{
			"gray":   out.Gray,
			"binary": out.Binary,
			"clahe":  out.CLAHE,
		})
		for _, w := range warns {
			log.Printf("warning: %s", w)
		}
	}

	resultPath := filepath.Join(outDir, "result.json")
	data, err := json.MarshalIndent(out.Result, "", "  ")
	if err != nil {
		return runResult{Success: false, Error: err.Error()}, err
	}
	if err := os.WriteFile(resultPath, data, 0o644); err != nil {
		return runResult{Success: false, Error: err.Error()}, err
	}

	return runResult{Success: true, ResultPath: resultPath, PreviewPath: previewPath}, nil
}
