package tasks

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"leaffliction/internal/catalog"
	"leaffliction/internal/codec"
	"leaffliction/internal/dataset"
	"leaffliction/internal/fsutil"
)

// BalanceRequest describes a class directory tree to even out.
type BalanceRequest struct {
	Root string
	// Target is the per-class size; zero means the largest class.
	Target int
	// Seed fixes the random choices; zero picks one from the clock.
	Seed int64
	// Transforms limits the augmentations sampled; empty uses all.
	Transforms []string
}

// ClassBalance reports what happened to one class.
type ClassBalance struct {
	Class       string              `json:"class"`
	Before      int                 `json:"before"`
	After       int                 `json:"after"`
	Unreadable  int                 `json:"unreadable"`
	Synthesized []dataset.Synthesis `json:"synthesized,omitempty"`
	Failed      int                 `json:"failed"`
}

// BalanceResult is the outcome of BalanceDataset.
type BalanceResult struct {
	Root    string         `json:"root"`
	Seed    int64          `json:"seed"`
	Classes []ClassBalance `json:"classes"`
}

// Meta flattens the result for job records.
func (r BalanceResult) Meta() map[string]any {
	created, failed := 0, 0
	for _, c := range r.Classes {
		created += len(c.Synthesized)
		failed += c.Failed
	}
	return map[string]any{"root": r.Root, "seed": r.Seed, "classes": len(r.Classes), "synthesized": created, "failed": failed}
}

// BalanceDataset grows every class under req.Root to the same size by
// writing augmented copies next to the originals.
func BalanceDataset(ctx context.Context, log *slog.Logger, req BalanceRequest) (BalanceResult, error) {
	classes, err := fsutil.ListClasses(req.Root)
	if err != nil {
		return BalanceResult{}, err
	}

	cat := catalog.Augmentations()
	if len(req.Transforms) > 0 {
		if cat, err = cat.Subset(req.Transforms...); err != nil {
			return BalanceResult{}, err
		}
	}

	seed := req.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	gen := dataset.NewGenerator(cat, rand.New(rand.NewSource(seed)), codec.Saver{}, log)

	counts := make(map[string]int, len(classes))
	for class, files := range classes {
		counts[class] = len(files)
	}
	plan := dataset.BalanceTargets(counts, req.Target)

	names := make([]string, 0, len(classes))
	for class := range classes {
		names = append(names, class)
	}
	sort.Strings(names)

	res := BalanceResult{Root: req.Root, Seed: seed}
	for _, class := range names {
		files := classes[class]
		cb := ClassBalance{Class: class, Before: len(files), After: len(files)}
		target, needed := plan[class]
		if !needed {
			res.Classes = append(res.Classes, cb)
			continue
		}

		entries := make([]dataset.Entry, 0, len(files))
		for _, path := range files {
			buf, err := codec.Decode(path)
			if err != nil {
				cb.Unreadable++
				log.Warn("skipping unreadable image", "class", class, "path", path, "error", err)
				continue
			}
			entries = append(entries, dataset.Entry{Buffer: buf, OriginPath: path})
		}

		// unreadable files still count toward the class size on disk
		grown, rep, err := gen.Generate(ctx, entries, target-cb.Unreadable)
		cb.Synthesized = rep.Synthesized
		cb.Failed = len(rep.Failures)
		cb.After = len(grown) + cb.Unreadable
		res.Classes = append(res.Classes, cb)
		if err != nil {
			log.Error("class balancing stopped", "class", class, "error", err)
			if ctx.Err() != nil {
				return res, err
			}
			continue
		}
		log.Info("class balanced", "class", class, "before", cb.Before, "after", cb.After, "failed", cb.Failed)
	}
	return res, nil
}
