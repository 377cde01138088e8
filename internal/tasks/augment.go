package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"leaffliction/internal/catalog"
	"leaffliction/internal/codec"
	"leaffliction/internal/fsutil"
	"leaffliction/internal/logging"
)

// AugmentRequest selects images to expand with every augmentation.
type AugmentRequest struct {
	Inputs    []string
	OutputDir string
	// Transforms limits the augmentations applied; empty applies all.
	Transforms []string
}

// AugmentFiles writes <base>_<Name><ext> for each augmentation of every input.
func AugmentFiles(ctx context.Context, log *slog.Logger, req AugmentRequest) (Summary, error) {
	cat := catalog.Augmentations()
	if len(req.Transforms) > 0 {
		sub, err := cat.Subset(req.Transforms...)
		if err != nil {
			return Summary{}, err
		}
		cat = sub
	}

	files, err := fsutil.ExpandInputs(req.Inputs)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		outputs, err := augmentOne(cat, path, req.OutputDir)
		if err != nil {
			sum.fail(log, path, err)
			continue
		}
		log.Debug("augmented image", "path", path, "outputs", len(outputs))
		sum.ok(outputs...)
	}
	logging.LogBatchSummary(log, "augment", sum.Processed, sum.Succeeded, sum.Failed)
	return sum, nil
}

func augmentOne(cat catalog.Catalog, path, outDir string) ([]string, error) {
	img, err := codec.Decode(path)
	if err != nil {
		return nil, err
	}
	var written []string
	for i := 0; i < cat.Len(); i++ {
		rec := cat.At(i)
		out, err := rec.Fn(img)
		if err != nil {
			return written, fmt.Errorf("%s: %w", rec.Name, err)
		}
		dst := outputPath(path, outDir, rec.Tag(), "")
		if err := codec.Encode(out, dst); err != nil {
			return written, err
		}
		written = append(written, dst)
	}
	return written, nil
}
