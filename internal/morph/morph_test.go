package morph

import (
	"errors"
	"math"
	"testing"

	"gocv.io/x/gocv"

	"leaffliction/internal/pixbuf"
)

var on = [3]byte{255, 255, 255}

func blank(t *testing.T, h, w, c int) pixbuf.Buffer {
	t.Helper()
	b, err := pixbuf.New(h, w, c)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return b
}

func TestExtractContours(t *testing.T) {
	mask := blank(t, 100, 100, 1)
	got, err := ExtractContours(mask)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no contours for empty mask, got %d", len(got))
	}

	mask.FillRect(10, 10, 30, 30, on)
	mask.FillRect(60, 60, 90, 95, on)
	got, err = ExtractContours(mask)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected two contours, got %d", len(got))
	}
	big, ok := Largest(got)
	if !ok {
		t.Fatalf("expected a largest contour")
	}
	if r := big.Bounds(); r.Min.X != 60 || r.Min.Y != 60 {
		t.Fatalf("expected the larger square, got bounds %v", r)
	}

	if _, err := ExtractContours(blank(t, 10, 10, 3)); !errors.Is(err, pixbuf.ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage for color mask, got %v", err)
	}
}

func TestROIBoxWithoutRegionIsNoOp(t *testing.T) {
	img, _ := pixbuf.Solid(50, 50, 3, [3]byte{1, 2, 3})
	out, err := ROIBox(img, blank(t, 50, 50, 1))
	if err != nil {
		t.Fatalf("roi: %v", err)
	}
	if !out.Equal(img) {
		t.Fatalf("expected unchanged copy")
	}
}

func TestROIBoxDrawsAroundLargestRegion(t *testing.T) {
	img := blank(t, 100, 100, 3)
	mask := blank(t, 100, 100, 1)
	mask.FillRect(30, 30, 70, 70, on)

	out, err := ROIBox(img, mask)
	if err != nil {
		t.Fatalf("roi: %v", err)
	}
	if out.At(30, 50, 0) != 255 || out.At(30, 50, 2) != 0 {
		t.Fatalf("expected blue box edge at left side")
	}
	if out.At(50, 50, 0) != 0 {
		t.Fatalf("expected box interior untouched")
	}
	if img.CountNonZero() != 0 {
		t.Fatalf("input was modified")
	}
}

func TestAnalyzeObjectOnBlackImageIsNoOp(t *testing.T) {
	img := blank(t, 80, 80, 3)
	report, err := Analyze(img, nil)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !report.Object.Equal(img) {
		t.Fatalf("expected unmodified image when nothing is segmented")
	}
	if !report.ROI.Equal(img) || !report.Pseudolandmarks.Equal(img) {
		t.Fatalf("expected unmodified renders when nothing is segmented")
	}
	if report.Histogram.Pixels != 0 {
		t.Fatalf("expected empty histogram, got %d pixels", report.Histogram.Pixels)
	}
}

func TestAnalyzeObjectMarksCentroidAndSkipsSpecks(t *testing.T) {
	img := blank(t, 100, 100, 3)
	mask := blank(t, 100, 100, 1)
	mask.FillRect(20, 20, 60, 60, on)
	mask.FillRect(85, 85, 90, 90, on) // 16 px² contour, below the threshold

	out, err := AnalyzeObject(img, mask)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if out.At(39, 39, 2) != 255 || out.At(39, 39, 0) != 0 {
		t.Fatalf("expected red centroid marker at the square center")
	}
	if out.At(20, 40, 0) != 255 {
		t.Fatalf("expected blue bounding box on the square")
	}
	for y := 80; y < 95; y++ {
		for x := 80; x < 95; x++ {
			if out.At(x, y, 0) != 0 || out.At(x, y, 2) != 0 {
				t.Fatalf("expected small region to be ignored, found mark at (%d,%d)", x, y)
			}
		}
	}
}

func TestPseudolandmarksOnCircle(t *testing.T) {
	mask := blank(t, 300, 300, 1)
	mask.FillCircle(150, 150, 100, on)

	lm, ok, err := FindLandmarks(mask)
	if err != nil {
		t.Fatalf("landmarks: %v", err)
	}
	if !ok {
		t.Fatalf("expected a leaf contour")
	}
	if n := len(lm.Vertices); n < 3 || n >= 20 {
		t.Fatalf("expected a small vertex set, got %d", n)
	}
	if len(lm.Hull) < 3 {
		t.Fatalf("expected a hull, got %d points", len(lm.Hull))
	}

	img := blank(t, 300, 300, 3)
	out, err := Pseudolandmarks(img, mask)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	v := lm.Vertices[0]
	if out.At(v.X, v.Y, 1) != 255 || out.At(v.X, v.Y, 2) != 255 {
		t.Fatalf("expected yellow vertex marker at %v", v)
	}
}

func TestPseudolandmarksWithoutRegionIsNoOp(t *testing.T) {
	img, _ := pixbuf.Solid(40, 40, 3, [3]byte{5, 5, 5})
	out, err := Pseudolandmarks(img, blank(t, 40, 40, 1))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !out.Equal(img) {
		t.Fatalf("expected unchanged copy")
	}
}

func TestColorHistogram(t *testing.T) {
	img, _ := pixbuf.Solid(20, 20, 3, [3]byte{10, 20, 30})
	mask := blank(t, 20, 20, 1)
	mask.FillRect(0, 0, 10, 20, on)

	h, err := ColorHistogram(img, mask)
	if err != nil {
		t.Fatalf("histogram: %v", err)
	}
	if h.Pixels != 200 {
		t.Fatalf("expected 200 masked pixels, got %d", h.Pixels)
	}
	if len(h.Series) != len(SeriesNames) {
		t.Fatalf("expected %d series, got %d", len(SeriesNames), len(h.Series))
	}

	blue, _ := h.Lookup("blue")
	if blue.Percent[10] != 100 {
		t.Fatalf("expected every masked pixel at blue=10, got %v%%", blue.Percent[10])
	}
	if blue.Mean != 10 || blue.StdDev != 0 {
		t.Fatalf("unexpected blue stats mean=%v std=%v", blue.Mean, blue.StdDev)
	}
	red, _ := h.Lookup("red")
	if red.Percent[30] != 100 {
		t.Fatalf("expected every masked pixel at red=30")
	}

	for _, s := range h.Series {
		sum := 0.0
		for _, p := range s.Percent {
			sum += p
		}
		if math.Abs(sum-100) > 1e-6 {
			t.Fatalf("series %s sums to %v", s.Name, sum)
		}
	}
}

func TestColorHistogramEmptyMask(t *testing.T) {
	img, _ := pixbuf.Solid(20, 20, 3, [3]byte{10, 20, 30})
	h, err := ColorHistogram(img, blank(t, 20, 20, 1))
	if err != nil {
		t.Fatalf("histogram: %v", err)
	}
	for _, s := range h.Series {
		for _, p := range s.Percent {
			if p != 0 {
				t.Fatalf("expected zero series for empty mask, %s has %v", s.Name, p)
			}
		}
	}
}

func TestDimensionMismatch(t *testing.T) {
	img := blank(t, 30, 30, 3)
	mask := blank(t, 30, 31, 1)
	calls := map[string]func() error{
		"roi":       func() error { _, err := ROIBox(img, mask); return err },
		"object":    func() error { _, err := AnalyzeObject(img, mask); return err },
		"landmarks": func() error { _, err := Pseudolandmarks(img, mask); return err },
		"histogram": func() error { _, err := ColorHistogram(img, mask); return err },
		"analyze":   func() error { _, err := Analyze(img, &mask); return err },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			if err := call(); !errors.Is(err, pixbuf.ErrDimensionMismatch) {
				t.Fatalf("expected ErrDimensionMismatch, got %v", err)
			}
		})
	}
}

func TestDrawErrorsPropagate(t *testing.T) {
	failed := errors.New("circle failed")
	_, err := draw(blank(t, 20, 20, 3), func(canvas *gocv.Mat) error {
		return failed
	})
	if !errors.Is(err, failed) {
		t.Fatalf("expected the paint error, got %v", err)
	}
}

func TestCentroidAndHullOfSquare(t *testing.T) {
	square := Contour{{10, 10}, {10, 30}, {30, 30}, {30, 10}}
	c, ok, err := square.Centroid()
	if err != nil || !ok {
		t.Fatalf("centroid: ok=%v err=%v", ok, err)
	}
	if c.X < 19 || c.X > 21 || c.Y < 19 || c.Y > 21 {
		t.Fatalf("expected centroid near (20,20), got %v", c)
	}
	hull, err := square.Hull()
	if err != nil {
		t.Fatalf("hull: %v", err)
	}
	if len(hull) != 4 {
		t.Fatalf("expected the four corners, got %v", hull)
	}
}
