// Package dataset grows an image corpus with randomly transformed copies of
// its own entries until it reaches a requested size.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"leaffliction/internal/catalog"
	"leaffliction/internal/pixbuf"
)

var (
	// ErrEmptyCorpus is returned when samples are requested from no entries.
	ErrEmptyCorpus = errors.New("empty corpus")
	// ErrNoTransforms is returned when the generator's catalog is empty.
	ErrNoTransforms = errors.New("no transforms to sample")
)

var augSuffix = regexp.MustCompile(`(_aug_\d+_[A-Za-z]+)+$`)

// Entry is one image of the corpus and the path it came from (or will be
// written to, for synthesized entries).
type Entry struct {
	Buffer     pixbuf.Buffer
	OriginPath string
}

// Source is the subset of *rand.Rand the generator draws from.
type Source interface {
	Intn(n int) int
}

// Sink persists a synthesized image.
type Sink interface {
	Save(buf pixbuf.Buffer, path string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(buf pixbuf.Buffer, path string) error

// Save calls f.
func (f SinkFunc) Save(buf pixbuf.Buffer, path string) error { return f(buf, path) }

// Synthesis describes one generated sample.
type Synthesis struct {
	ID        int
	Source    string
	Transform string
	Path      string
}

// Failure describes a sample that could not be produced.
type Failure struct {
	ID        int
	Source    string
	Transform string
	Err       error
}

// Report summarizes one Generate call.
type Report struct {
	Requested   int
	Synthesized []Synthesis
	Failures    []Failure
}

// Generator draws (entry, transform) pairs uniformly at random.
type Generator struct {
	catalog catalog.Catalog
	rnd     Source
	sink    Sink
	log     *slog.Logger
}

// NewGenerator wires a generator. sink may be nil to keep results in memory.
func NewGenerator(c catalog.Catalog, rnd Source, sink Sink, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{catalog: c, rnd: rnd, sink: sink, log: log}
}

// Generate appends target-len(entries) synthesized entries and returns the
// grown slice. A target at or below the current size is a no-op. Each new
// sample gets a unique id starting at len(entries). A unit that fails is
// recorded in the report and skipped; the run continues.
//
// The returned slice can therefore be shorter than target. On a nil error
// len(Report.Failures) accounts for the whole shortfall.
func (g *Generator) Generate(ctx context.Context, entries []Entry, target int) ([]Entry, Report, error) {
	if target <= len(entries) {
		return entries, Report{}, nil
	}
	if len(entries) == 0 {
		return entries, Report{}, fmt.Errorf("%w: need %d samples", ErrEmptyCorpus, target)
	}
	if g.catalog.Len() == 0 {
		return entries, Report{}, ErrNoTransforms
	}

	base := len(entries)
	rep := Report{Requested: target - base}
	out := entries

	for i := 0; i < rep.Requested; i++ {
		if err := ctx.Err(); err != nil {
			return out, rep, err
		}

		src := out[g.rnd.Intn(len(out))]
		rec := g.catalog.At(g.rnd.Intn(g.catalog.Len()))
		id := base + i
		path := AugmentedName(src.OriginPath, id, rec.Tag())

		buf, err := rec.Fn(src.Buffer)
		if err == nil && g.sink != nil {
			err = g.sink.Save(buf, path)
		}
		if err != nil {
			g.log.Warn("augmentation failed",
				"id", id,
				"source", src.OriginPath,
				"transform", rec.Name,
				"error", err,
			)
			rep.Failures = append(rep.Failures, Failure{ID: id, Source: src.OriginPath, Transform: rec.Name, Err: err})
			continue
		}

		out = append(out, Entry{Buffer: buf, OriginPath: path})
		rep.Synthesized = append(rep.Synthesized, Synthesis{ID: id, Source: src.OriginPath, Transform: rec.Name, Path: path})
		g.log.Debug("augmented", "id", id, "source", src.OriginPath, "transform", rec.Name, "path", path)
	}
	return out, rep, nil
}

// AugmentedName derives the path of a synthesized sample from its origin:
// earlier _aug_<id>_<name> suffixes are dropped so names never stack.
func AugmentedName(origin string, id int, tag string) string {
	dir, file := filepath.Split(origin)
	ext := filepath.Ext(file)
	stem := augSuffix.ReplaceAllString(strings.TrimSuffix(file, ext), "")
	return filepath.Join(dir, fmt.Sprintf("%s_aug_%d_%s%s", stem, id, tag, ext))
}
