package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"leaffliction/internal/storage"
	"leaffliction/internal/tasks"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log         *slog.Logger
	store       *storage.Store
	transformFn func(ctx context.Context, log *slog.Logger, req tasks.TransformRequest) (tasks.Summary, error)
	augmentFn   func(ctx context.Context, log *slog.Logger, req tasks.AugmentRequest) (tasks.Summary, error)
	balanceFn   func(ctx context.Context, log *slog.Logger, req tasks.BalanceRequest) (tasks.BalanceResult, error)
	scanFn      func(root string) (tasks.ScanResult, error)
}

func newRouter(logger *slog.Logger, store *storage.Store) Processor {
	return &router{
		log:         logger,
		store:       store,
		transformFn: tasks.TransformBatch,
		augmentFn:   tasks.AugmentFiles,
		balanceFn:   tasks.BalanceDataset,
		scanFn:      tasks.Scan,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobTransform:
		return r.handleTransform(ctx, job)
	case JobAugment:
		return r.handleAugment(ctx, job)
	case JobBalance:
		return r.handleBalance(ctx, job)
	case JobDistribution:
		return r.handleDistribution(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

// jobInputs returns the "inputs" option, falling back to the job's input path.
func jobInputs(job Job) []string {
	if in := getStringsOption(job.Options, "inputs"); len(in) > 0 {
		return in
	}
	if job.InputPath == "" {
		return nil
	}
	return []string{job.InputPath}
}

func (r *router) handleTransform(ctx context.Context, job Job) Result {
	inputs := jobInputs(job)
	if len(inputs) == 0 {
		return Result{Job: job, Error: fmt.Errorf("transform needs at least one input")}
	}
	req := tasks.TransformRequest{
		JobID:         job.ID,
		Inputs:        inputs,
		OutputDir:     job.Output,
		Views:         getStringsOption(job.Options, "views"),
		SkipHistogram: getBoolOption(job.Options, "noHistogram"),
	}
	sum, err := r.transformFn(ctx, r.log, req)
	return Result{Job: job, Error: err, Meta: sum.Meta()}
}

func (r *router) handleAugment(ctx context.Context, job Job) Result {
	inputs := jobInputs(job)
	if len(inputs) == 0 {
		return Result{Job: job, Error: fmt.Errorf("augment needs at least one input")}
	}
	req := tasks.AugmentRequest{
		Inputs:     inputs,
		OutputDir:  job.Output,
		Transforms: getStringsOption(job.Options, "transforms"),
	}
	sum, err := r.augmentFn(ctx, r.log, req)
	return Result{Job: job, Error: err, Meta: sum.Meta()}
}

func (r *router) handleBalance(ctx context.Context, job Job) Result {
	if job.InputPath == "" {
		return Result{Job: job, Error: fmt.Errorf("balance needs a dataset directory")}
	}
	req := tasks.BalanceRequest{
		Root:       job.InputPath,
		Target:     getIntOption(job.Options, "target"),
		Seed:       int64(getIntOption(job.Options, "seed")),
		Transforms: getStringsOption(job.Options, "transforms"),
	}
	res, err := r.balanceFn(ctx, r.log, req)
	meta := res.Meta()

	var ledger []storage.AugmentationRecord
	for _, c := range res.Classes {
		for _, s := range c.Synthesized {
			ledger = append(ledger, storage.AugmentationRecord{
				JobID:      job.ID,
				Class:      c.Class,
				SampleID:   s.ID,
				SourcePath: s.Source,
				Transform:  s.Transform,
				OutputPath: s.Path,
			})
		}
	}
	if err := r.store.RecordAugmentations(ledger); err != nil {
		r.log.Warn("failed to record augmentations", "job", job.ID, "error", err)
	}
	if err != nil {
		return Result{Job: job, Error: err, Meta: meta}
	}

	manifest := filepath.Join(job.InputPath, ".leaffliction", job.ID+".txt")
	if err := tasks.TouchManifest(manifest, fmt.Sprintf("seed=%d\nsynthesized=%v", res.Seed, meta["synthesized"])); err != nil {
		r.log.Warn("failed to write balance manifest", "path", manifest, "error", err)
	}

	// snapshot the balanced layout
	if after, err := r.scanFn(job.InputPath); err == nil {
		r.recordDistribution(job.ID, after)
		meta["total"] = after.Total
	}
	return Result{Job: job, Meta: meta}
}

func (r *router) handleDistribution(ctx context.Context, job Job) Result {
	if job.InputPath == "" {
		return Result{Job: job, Error: fmt.Errorf("distribution needs a dataset directory")}
	}
	res, err := r.scanFn(job.InputPath)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	r.recordDistribution(job.ID, res)
	return Result{Job: job, Meta: res.Meta()}
}

func (r *router) recordDistribution(jobID string, res tasks.ScanResult) {
	counts := make([]storage.ClassCountRecord, 0, len(res.Classes))
	for _, c := range res.Classes {
		counts = append(counts, storage.ClassCountRecord{Class: c.Class, Count: c.Count, Percent: c.Percent})
	}
	if err := r.store.RecordDistribution(jobID, res.Root, counts); err != nil {
		r.log.Warn("failed to record distribution", "job", jobID, "error", err)
	}
}

func getBoolOption(options map[string]any, key string) bool {
	if val, ok := options[key].(bool); ok {
		return val
	}
	return false
}

// getIntOption accepts the integer shapes produced by flags and by JSON.
func getIntOption(options map[string]any, key string) int {
	switch v := options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// getStringsOption accepts []string, []any of strings, or a comma list.
func getStringsOption(options map[string]any, key string) []string {
	switch v := options[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
