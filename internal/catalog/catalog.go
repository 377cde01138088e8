// Package catalog holds named, ordered collections of image transforms.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"leaffliction/internal/morph"
	"leaffliction/internal/pixbuf"
	"leaffliction/internal/segment"
	"leaffliction/internal/transform"
)

// ErrUnknownTransform is returned when a name is not in the catalog.
var ErrUnknownTransform = errors.New("unknown transform")

// Record pairs a display name with its transform.
type Record struct {
	Name string
	Fn   transform.Func
}

// Tag is the name with spaces removed, used in output filenames.
func (r Record) Tag() string {
	return strings.ReplaceAll(r.Name, " ", "")
}

// Catalog is an immutable ordered list of records. The zero value is empty.
type Catalog struct {
	records []Record
}

// New builds a catalog in the given order. Names must be unique.
func New(records ...Record) (Catalog, error) {
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		if r.Name == "" || r.Fn == nil {
			return Catalog{}, fmt.Errorf("catalog record %q is incomplete", r.Name)
		}
		if seen[r.Name] {
			return Catalog{}, fmt.Errorf("duplicate catalog record %q", r.Name)
		}
		seen[r.Name] = true
	}
	return Catalog{records: append([]Record(nil), records...)}, nil
}

func mustNew(records ...Record) Catalog {
	c, err := New(records...)
	if err != nil {
		panic(err)
	}
	return c
}

// Augmentations returns the transforms eligible for synthetic samples.
func Augmentations() Catalog {
	return mustNew(
		Record{Name: "Flip", Fn: transform.Flip},
		Record{Name: "Rotate", Fn: transform.Rotate90},
		Record{Name: "Skew", Fn: transform.Skew},
		Record{Name: "Shear", Fn: transform.Shear},
		Record{Name: "Crop", Fn: transform.Crop},
		Record{Name: "Distortion", Fn: transform.Distortion},
	)
}

// Analyses returns the display transforms. Each derives its own mask; use
// morph.Analyze to share one mask across several.
func Analyses() Catalog {
	return mustNew(
		Record{Name: "Gaussian Blur", Fn: transform.GaussianBlur},
		Record{Name: "Mask", Fn: masked(segment.ApplyMask)},
		Record{Name: "ROI Objects", Fn: masked(morph.ROIBox)},
		Record{Name: "Analyze Object", Fn: masked(morph.AnalyzeObject)},
		Record{Name: "Pseudolandmarks", Fn: masked(morph.Pseudolandmarks)},
	)
}

func masked(fn func(img, mask pixbuf.Buffer) (pixbuf.Buffer, error)) transform.Func {
	return func(img pixbuf.Buffer) (pixbuf.Buffer, error) {
		mask, err := segment.DeriveMask(img)
		if err != nil {
			return pixbuf.Buffer{}, err
		}
		return fn(img, mask)
	}
}

// Len returns the number of records.
func (c Catalog) Len() int { return len(c.records) }

// At returns the i-th record.
func (c Catalog) At(i int) Record { return c.records[i] }

// Names lists the record names in order.
func (c Catalog) Names() []string {
	names := make([]string, len(c.records))
	for i, r := range c.records {
		names[i] = r.Name
	}
	return names
}

// Lookup finds a record by name, ignoring case.
func (c Catalog) Lookup(name string) (Record, error) {
	for _, r := range c.records {
		if strings.EqualFold(r.Name, name) || strings.EqualFold(r.Tag(), name) {
			return r, nil
		}
	}
	return Record{}, fmt.Errorf("%w: %q", ErrUnknownTransform, name)
}

// Apply runs the named transform.
func (c Catalog) Apply(name string, img pixbuf.Buffer) (pixbuf.Buffer, error) {
	r, err := c.Lookup(name)
	if err != nil {
		return pixbuf.Buffer{}, err
	}
	return r.Fn(img)
}

// Subset returns a catalog restricted to names, in catalog order.
func (c Catalog) Subset(names ...string) (Catalog, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		r, err := c.Lookup(n)
		if err != nil {
			return Catalog{}, err
		}
		want[r.Name] = true
	}
	var kept []Record
	for _, r := range c.records {
		if want[r.Name] {
			kept = append(kept, r)
		}
	}
	return Catalog{records: kept}, nil
}
