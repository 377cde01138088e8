package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"leaffliction/internal/catalog"
	"leaffliction/internal/codec"
	"leaffliction/internal/fsutil"
	"leaffliction/internal/logging"
	"leaffliction/internal/morph"
	"leaffliction/internal/pixbuf"
	"leaffliction/internal/segment"
	"leaffliction/internal/transform"
)

// View tags written by SaveTransformations, in output order.
var ViewTags = []string{"Original", "GaussianBlur", "Mask", "RoiObjects", "AnalyzeObject", "Pseudolandmarks"}

// viewTagOf maps analysis catalog names to the file tag of their view.
var viewTagOf = map[string]string{
	"Gaussian Blur":   "GaussianBlur",
	"Mask":            "Mask",
	"ROI Objects":     "RoiObjects",
	"Analyze Object":  "AnalyzeObject",
	"Pseudolandmarks": "Pseudolandmarks",
}

// HistogramTag names the histogram CSV written next to the views.
const HistogramTag = "ColorHistogram"

// TransformRequest selects images and where their analysis views go.
type TransformRequest struct {
	// JobID tags the per-view log lines.
	JobID     string
	Inputs    []string
	OutputDir string
	// Views limits the written views to these analysis names; empty writes all.
	Views []string
	// SkipHistogram disables the CSV.
	SkipHistogram bool
}

// TransformBatch writes the analysis views of every input image, one file at
// a time. Unreadable images are counted and skipped.
func TransformBatch(ctx context.Context, log *slog.Logger, req TransformRequest) (Summary, error) {
	files, err := fsutil.ExpandInputs(req.Inputs)
	if err != nil {
		return Summary{}, err
	}
	keep, err := viewFilter(req.Views)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		log.Info("transforming", "index", i+1, "total", len(files), "path", path)
		outputs, err := saveTransformations(log, req.JobID, path, req.OutputDir, keep, !req.SkipHistogram)
		if err != nil {
			sum.fail(log, path, err)
			continue
		}
		sum.ok(outputs...)
	}
	logging.LogBatchSummary(log, "transform", sum.Processed, sum.Succeeded, sum.Failed)
	return sum, nil
}

// SaveTransformations writes every view of one image and its histogram CSV.
func SaveTransformations(log *slog.Logger, path, outDir string) ([]string, error) {
	return saveTransformations(log, "", path, outDir, nil, true)
}

func viewFilter(names []string) (map[string]bool, error) {
	if len(names) == 0 {
		return nil, nil
	}
	sub, err := catalog.Analyses().Subset(names...)
	if err != nil {
		return nil, err
	}
	keep := map[string]bool{}
	for i := 0; i < sub.Len(); i++ {
		tag, ok := viewTagOf[sub.At(i).Name]
		if !ok {
			return nil, fmt.Errorf("analysis %q has no view", sub.At(i).Name)
		}
		keep[tag] = true
	}
	return keep, nil
}

// RenderViews computes the analysis views of img with one shared mask.
func RenderViews(img pixbuf.Buffer) (map[string]pixbuf.Buffer, morph.Histogram, error) {
	report, err := morph.Analyze(img, nil)
	if err != nil {
		return nil, morph.Histogram{}, err
	}
	blurred, err := transform.GaussianBlur(img)
	if err != nil {
		return nil, morph.Histogram{}, err
	}
	masked, err := segment.ApplyMask(img, report.Mask)
	if err != nil {
		return nil, morph.Histogram{}, err
	}
	return map[string]pixbuf.Buffer{
		"Original":        img,
		"GaussianBlur":    blurred,
		"Mask":            masked,
		"RoiObjects":      report.ROI,
		"AnalyzeObject":   report.Object,
		"Pseudolandmarks": report.Pseudolandmarks,
	}, report.Histogram, nil
}

func saveTransformations(log *slog.Logger, jobID, path, outDir string, keep map[string]bool, withHistogram bool) ([]string, error) {
	img, err := codec.Decode(path)
	if err != nil {
		return nil, err
	}
	views, hist, err := RenderViews(img)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", path, err)
	}

	var written []string
	for _, tag := range ViewTags {
		if keep != nil && tag != "Original" && !keep[tag] {
			continue
		}
		dst := outputPath(path, outDir, tag, "")
		if err := codec.Encode(views[tag], dst); err != nil {
			return written, err
		}
		logging.LogProcessingStep(log, jobID, "save view", "done", map[string]any{"view": tag, "path": dst})
		written = append(written, dst)
	}

	if withHistogram {
		dst := outputPath(path, outDir, HistogramTag, ".csv")
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return written, err
		}
		if err := WriteHistogramCSV(dst, hist); err != nil {
			return written, err
		}
		logging.LogProcessingStep(log, jobID, "save histogram", "done", map[string]any{"path": dst})
		written = append(written, dst)
	}
	return written, nil
}
