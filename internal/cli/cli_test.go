package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"leaffliction/internal/config"
	"leaffliction/internal/pipeline"
	"leaffliction/internal/storage"
)

func TestCommandsSubmitJobs(t *testing.T) {
	temp := t.TempDir()

	cases := []struct {
		name       string
		args       []string
		expectType pipeline.JobType
	}{
		{"transform", []string{"transform", temp, "--dst", filepath.Join(temp, "out"), "--views", "Mask"}, pipeline.JobTransform},
		{"augment", []string{"augment", filepath.Join(temp, "leaf.jpg"), "--transforms", "Flip,Crop"}, pipeline.JobAugment},
		{"balance", []string{"balance", temp, "--seed", "3"}, pipeline.JobBalance},
		{"distribution", []string{"distribution", temp}, pipeline.JobDistribution},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root, fakePipe := newTestRoot(t)
			if _, err := execute(root, tc.args...); err != nil {
				t.Fatalf("run failed: %v", err)
			}
			if len(fakePipe.jobs) != 1 {
				t.Fatalf("expected one job, got %d", len(fakePipe.jobs))
			}
			if fakePipe.jobs[0].Type != tc.expectType {
				t.Fatalf("expected type %s, got %s", tc.expectType, fakePipe.jobs[0].Type)
			}
		})
	}
}

func TestTransformOptions(t *testing.T) {
	root, fakePipe := newTestRoot(t)
	if _, err := execute(root, "transform", "a.jpg", "b.jpg", "--views", "Mask,RoiObjects", "--no-histogram"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	job := fakePipe.jobs[0]
	inputs, _ := job.Options["inputs"].([]string)
	views, _ := job.Options["views"].([]string)
	if len(inputs) != 2 || len(views) != 2 || job.Options["noHistogram"] != true {
		t.Fatalf("unexpected options %v", job.Options)
	}
}

func TestBalanceUsesConfigDefaults(t *testing.T) {
	root, fakePipe := newTestRoot(t)
	root.cfg.Augmentation.Seed = 99
	root.cfg.Augmentation.Target = 40
	root.cfg.Augmentation.Transforms = []string{"Skew"}

	if _, err := execute(root, "balance", t.TempDir()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	opts := fakePipe.jobs[0].Options
	if opts["seed"] != int64(99) || opts["target"] != 40 {
		t.Fatalf("expected config defaults, got %v", opts)
	}
	if tr, _ := opts["transforms"].([]string); len(tr) != 1 || tr[0] != "Skew" {
		t.Fatalf("expected config transforms, got %v", opts["transforms"])
	}

	fakePipe.reset()
	if _, err := execute(root, "balance", t.TempDir(), "--seed", "5", "--target", "10"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	opts = fakePipe.jobs[0].Options
	if opts["seed"] != int64(5) || opts["target"] != 10 {
		t.Fatalf("expected flags to win, got %v", opts)
	}
}

func TestCommandsUseConfigPaths(t *testing.T) {
	root, fakePipe := newTestRoot(t)
	dataset := t.TempDir()
	root.cfg.Paths.DefaultInput = dataset

	if _, err := execute(root, "augment", "leaf.jpg"); err != nil {
		t.Fatalf("augment: %v", err)
	}
	if _, err := execute(root, "transform", "leaf.jpg", "--dst", "/explicit"); err != nil {
		t.Fatalf("transform: %v", err)
	}
	for _, cmd := range []string{"balance", "distribution"} {
		if _, err := execute(root, cmd); err != nil {
			t.Fatalf("%s: %v", cmd, err)
		}
	}

	if got := fakePipe.jobs[0].Output; got != root.cfg.Paths.DefaultOutput {
		t.Fatalf("expected augment to write to %s, got %q", root.cfg.Paths.DefaultOutput, got)
	}
	if got := fakePipe.jobs[1].Output; got != "/explicit" {
		t.Fatalf("expected --dst to win, got %q", got)
	}
	for _, job := range fakePipe.jobs[2:] {
		if job.InputPath != dataset {
			t.Fatalf("expected %s to read %s, got %q", job.Type, dataset, job.InputPath)
		}
	}
}

func TestCommandsValidateArguments(t *testing.T) {
	root, _ := newTestRoot(t)
	for _, args := range [][]string{
		{"transform"},
		{"balance"},
		{"balance", "a", "b"},
		{"distribution"},
		{"balance", "dir", "--target", "-1"},
	} {
		if _, err := execute(root, args...); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}

func TestDistributionPrintsTable(t *testing.T) {
	root, fakePipe := newTestRoot(t)
	fakePipe.meta = map[string]any{
		"total":   4,
		"classes": map[string]any{"Apple_scab": 1, "Apple_healthy": 3},
	}
	out, err := execute(root, "distribution", t.TempDir())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	healthy := strings.Index(out, "Apple_healthy")
	scab := strings.Index(out, "Apple_scab")
	if healthy < 0 || scab < healthy {
		t.Fatalf("expected sorted classes, got %q", out)
	}
	if !strings.Contains(out, "75.0%") || !strings.Contains(out, "25.0%") {
		t.Fatalf("expected percentages, got %q", out)
	}
}

func TestTransformsListsCatalogs(t *testing.T) {
	root, _ := newTestRoot(t)
	out, err := execute(root, "transforms")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for _, name := range []string{"Flip", "Distortion", "Gaussian Blur", "Pseudolandmarks"} {
		if !strings.Contains(out, name) {
			t.Fatalf("expected %s listed, got %q", name, out)
		}
	}
}

func TestServeCommandUsesInjectedFunction(t *testing.T) {
	root, _ := newTestRoot(t)
	var called bool
	root.serveFn = func(ctx context.Context, addr string, watch config.Watch, store *storage.Store, pipe pipelineClient, log *slog.Logger) error {
		called = true
		if addr != ":9999" {
			t.Fatalf("unexpected addr %s", addr)
		}
		if len(watch.Paths) != 1 || watch.Paths[0] != "/incoming" {
			t.Fatalf("unexpected watch paths %v", watch.Paths)
		}
		return nil
	}
	if _, err := execute(root, "serve", "--addr", ":9999", "--watch", "/incoming"); err != nil {
		t.Fatalf("serve failed: %v", err)
	}
	if !called {
		t.Fatalf("serve function was not invoked")
	}
}

func TestWatchRequiresDirectories(t *testing.T) {
	root, _ := newTestRoot(t)
	root.cfg.Watch.Paths = nil
	if _, err := execute(root, "watch"); err == nil {
		t.Fatalf("expected error without directories")
	}
}

func TestConfigCommands(t *testing.T) {
	root, _ := newTestRoot(t)

	out, err := execute(root, "config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(out, "Current configuration") || !strings.Contains(out, `"addr": ":8080"`) {
		t.Fatalf("expected configuration output, got %q", out)
	}

	if out, err := execute(root, "config", "validate"); err != nil || !strings.Contains(out, "valid") {
		t.Fatalf("config validate failed: %v %q", err, out)
	}

	root.cfg.Logging.Level = "chatty"
	if _, err := execute(root, "config", "validate"); err == nil {
		t.Fatalf("expected invalid level to fail validation")
	}

	if out, _ := execute(root, "version"); !strings.Contains(out, "Leaffliction v1.0.0-dev") {
		t.Fatalf("expected version string, got %q", out)
	}
}

func TestEnqueueAndWaitPropagatesErrors(t *testing.T) {
	root, fakePipe := newTestRoot(t)
	job := pipeline.Job{ID: "err-job", Type: pipeline.JobDistribution}
	fakePipe.jobErrors["err-job"] = context.DeadlineExceeded
	if _, err := root.enqueueAndWait(context.Background(), job); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected error from pipeline result, got %v", err)
	}
}

// Test helpers

func execute(root *Root, args ...string) (string, error) {
	cmd := newRootCmd(root)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func newTestRoot(t *testing.T) (*Root, *fakePipeline) {
	t.Helper()

	t.Setenv("LEAFFLICTION_CONFIG", filepath.Join(t.TempDir(), "missing.json"))
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	tmp := t.TempDir()
	cfg.Paths.DefaultOutput = filepath.Join(tmp, "output")
	cfg.Paths.DatabasePath = filepath.Join(tmp, "leaffliction.db")

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
	pipe := newFakePipeline()

	root := &Root{
		pipeline: pipe,
		cfg:      cfg,
		log:      logger,
		store:    nil,
		serveFn:  defaultServe,
	}
	return root, pipe
}

type fakePipeline struct {
	mu        sync.Mutex
	jobs      []pipeline.Job
	subs      map[int]chan pipeline.Result
	nextSubID int
	jobErrors map[string]error
	meta      map[string]any
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		subs:      make(map[int]chan pipeline.Result),
		jobErrors: make(map[string]error),
	}
}

func (f *fakePipeline) Submit(job pipeline.Job) error {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	subs := make([]chan pipeline.Result, 0, len(f.subs))
	for _, ch := range f.subs {
		subs = append(subs, ch)
	}
	err := f.errorFor(job)
	meta := f.meta
	if meta == nil {
		meta = map[string]any{"ok": true}
	}
	f.mu.Unlock()

	res := pipeline.Result{Job: job, Error: err, Meta: meta}
	for _, ch := range subs {
		ch <- res
	}
	return nil
}

func (f *fakePipeline) Subscribe() (<-chan pipeline.Result, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSubID
	f.nextSubID++
	ch := make(chan pipeline.Result, 2)
	f.subs[id] = ch
	unsub := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			close(c)
			delete(f.subs, id)
		}
	}
	return ch, unsub
}

func (f *fakePipeline) errorFor(job pipeline.Job) error {
	if err, ok := f.jobErrors[job.ID]; ok {
		return err
	}
	if err, ok := f.jobErrors[string(job.Type)]; ok {
		return err
	}
	return nil
}

func (f *fakePipeline) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = nil
	f.jobErrors = make(map[string]error)
}
