package morph

import (
	"fmt"

	"leaffliction/internal/pixbuf"
	"leaffliction/internal/segment"
)

// Report bundles every descriptor computed for one image.
type Report struct {
	Mask            pixbuf.Buffer
	ROI             pixbuf.Buffer
	Object          pixbuf.Buffer
	Pseudolandmarks pixbuf.Buffer
	Histogram       Histogram
}

// Analyze runs ROIBox, AnalyzeObject, Pseudolandmarks and ColorHistogram
// against one shared mask. A nil mask is derived from img once.
func Analyze(img pixbuf.Buffer, mask *pixbuf.Buffer) (Report, error) {
	if err := img.Validate(); err != nil {
		return Report{}, err
	}
	m, err := segment.Resolve(img, mask)
	if err != nil {
		return Report{}, fmt.Errorf("mask: %w", err)
	}

	r := Report{Mask: m}
	if r.ROI, err = ROIBox(img, m); err != nil {
		return Report{}, fmt.Errorf("roi: %w", err)
	}
	if r.Object, err = AnalyzeObject(img, m); err != nil {
		return Report{}, fmt.Errorf("analyze object: %w", err)
	}
	if r.Pseudolandmarks, err = Pseudolandmarks(img, m); err != nil {
		return Report{}, fmt.Errorf("pseudolandmarks: %w", err)
	}
	if r.Histogram, err = ColorHistogram(img, m); err != nil {
		return Report{}, fmt.Errorf("histogram: %w", err)
	}
	return r, nil
}
