package tasks

import (
	"os"
	"path/filepath"
	"time"

	"leaffliction/internal/dataset"
	"leaffliction/internal/fsutil"
)

// ScanResult captures the class layout of a dataset directory.
type ScanResult struct {
	Root    string               `json:"root"`
	Total   int                  `json:"total"`
	Classes []dataset.ClassCount `json:"classes"`
}

// Meta flattens the result for job records.
func (r ScanResult) Meta() map[string]any {
	counts := make(map[string]any, len(r.Classes))
	for _, c := range r.Classes {
		counts[c.Class] = c.Count
	}
	return map[string]any{"root": r.Root, "total": r.Total, "classes": counts}
}

// Scan counts the images of every class (sub-directory) under root.
func Scan(root string) (ScanResult, error) {
	classes, err := fsutil.ListClasses(root)
	if err != nil {
		return ScanResult{}, err
	}
	counts := make(map[string]int, len(classes))
	total := 0
	for class, files := range classes {
		counts[class] = len(files)
		total += len(files)
	}
	return ScanResult{Root: root, Total: total, Classes: dataset.Distribution(counts)}, nil
}

// TouchManifest writes a small timestamped manifest file for downstream steps.
func TouchManifest(path string, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"+content+"\n"), 0o644)
}
