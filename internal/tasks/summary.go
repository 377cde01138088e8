package tasks

import (
	"log/slog"
	"path/filepath"
	"strings"
)

// FileError records why one input was skipped.
type FileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Summary counts the outcome of a batch. A failed file never stops the batch.
type Summary struct {
	Processed int         `json:"processed"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Outputs   []string    `json:"outputs,omitempty"`
	Errors    []FileError `json:"errors,omitempty"`
}

func (s *Summary) ok(outputs ...string) {
	s.Processed++
	s.Succeeded++
	s.Outputs = append(s.Outputs, outputs...)
}

func (s *Summary) fail(log *slog.Logger, path string, err error) {
	s.Processed++
	s.Failed++
	s.Errors = append(s.Errors, FileError{Path: path, Error: err.Error()})
	log.Warn("skipping image", "path", path, "error", err)
}

// Meta flattens the summary for job results.
func (s Summary) Meta() map[string]any {
	return map[string]any{
		"processed": s.Processed,
		"succeeded": s.Succeeded,
		"failed":    s.Failed,
		"outputs":   len(s.Outputs),
	}
}

// outputPath names a derived file <base>_<tag><ext>, placed in outDir or
// beside src when outDir is empty.
func outputPath(src, outDir, tag, ext string) string {
	dir := outDir
	if dir == "" {
		dir = filepath.Dir(src)
	}
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	if ext == "" {
		ext = filepath.Ext(src)
	}
	return filepath.Join(dir, base+"_"+tag+ext)
}
