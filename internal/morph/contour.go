// Package morph derives shape and color descriptors of the leaf from a
// segmentation mask and renders them onto copies of the source image.
package morph

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"leaffliction/internal/pixbuf"
)

// Contour is a closed polygon in image coordinates.
type Contour []image.Point

// MinObjectArea is the smallest contour area, in px², AnalyzeObject annotates.
const MinObjectArea = 100.0

// LandmarkTolerance is the polygon simplification tolerance as a fraction
// of the contour perimeter.
const LandmarkTolerance = 0.02

var (
	boxColor      = color.RGBA{B: 255, A: 255}
	centroidColor = color.RGBA{R: 255, A: 255}
	vertexColor   = color.RGBA{R: 255, G: 255, A: 255}
	hullColor     = color.RGBA{G: 255, B: 255, A: 255}
)

// ExtractContours returns the outer boundary of every connected region of mask.
func ExtractContours(mask pixbuf.Buffer) ([]Contour, error) {
	if err := mask.Validate(); err != nil {
		return nil, err
	}
	if mask.Channels != 1 {
		return nil, fmt.Errorf("%w: mask has %d channels", pixbuf.ErrInvalidImage, mask.Channels)
	}

	m, err := mask.Mat()
	if err != nil {
		return nil, err
	}
	defer m.Close()

	found := gocv.FindContours(m, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer found.Close()

	contours := make([]Contour, 0, found.Size())
	for i := 0; i < found.Size(); i++ {
		contours = append(contours, Contour(found.At(i).ToPoints()))
	}
	return contours, nil
}

// Area returns the enclosed area of c.
func (c Contour) Area() float64 {
	if len(c) < 3 {
		return 0
	}
	pv := gocv.NewPointVectorFromPoints(c)
	defer pv.Close()
	return gocv.ContourArea(pv)
}

// Perimeter returns the closed arc length of c.
func (c Contour) Perimeter() float64 {
	pv := gocv.NewPointVectorFromPoints(c)
	defer pv.Close()
	return gocv.ArcLength(pv, true)
}

// Bounds returns the upright bounding rectangle of c.
func (c Contour) Bounds() image.Rectangle {
	pv := gocv.NewPointVectorFromPoints(c)
	defer pv.Close()
	return gocv.BoundingRect(pv)
}

// Centroid returns the center of mass of the region enclosed by c. ok is
// false when the region has zero mass.
func (c Contour) Centroid() (image.Point, bool, error) {
	r := c.Bounds()
	if r.Empty() {
		return image.Point{}, false, nil
	}

	local := make([]image.Point, len(c))
	for i, p := range c {
		local[i] = p.Sub(r.Min)
	}
	filled := gocv.Zeros(r.Dy(), r.Dx(), gocv.MatTypeCV8UC1)
	defer filled.Close()
	pvs := gocv.NewPointsVectorFromPoints([][]image.Point{local})
	defer pvs.Close()
	if err := gocv.DrawContours(&filled, pvs, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1); err != nil {
		return image.Point{}, false, fmt.Errorf("fill contour: %w", err)
	}

	// Raster moments, not polygon moments: a line-shaped contour still has
	// pixel mass, and the centre can differ from the polygon's by half a pixel.
	moments := gocv.Moments(filled, true)
	m00 := moments["m00"]
	if m00 == 0 {
		return image.Point{}, false, nil
	}
	cx := moments["m10"] / m00
	cy := moments["m01"] / m00
	return image.Pt(r.Min.X+int(cx), r.Min.Y+int(cy)), true, nil
}

// Largest returns the contour with the greatest area.
func Largest(contours []Contour) (Contour, bool) {
	var best Contour
	bestArea := -1.0
	for _, c := range contours {
		if a := c.Area(); a > bestArea {
			best, bestArea = c, a
		}
	}
	return best, bestArea >= 0
}

// Simplify reduces c to a polygon within tolerance*perimeter of the original.
func (c Contour) Simplify(tolerance float64) Contour {
	pv := gocv.NewPointVectorFromPoints(c)
	defer pv.Close()
	approx := gocv.ApproxPolyDP(pv, tolerance*gocv.ArcLength(pv, true), true)
	defer approx.Close()
	return Contour(approx.ToPoints())
}

// Hull returns the convex hull of c.
func (c Contour) Hull() (Contour, error) {
	pv := gocv.NewPointVectorFromPoints(c)
	defer pv.Close()
	hull := gocv.NewMat()
	defer hull.Close()
	if err := gocv.ConvexHull(pv, &hull, false, true); err != nil {
		return nil, fmt.Errorf("convex hull: %w", err)
	}
	points := gocv.NewPointVectorFromMat(hull)
	defer points.Close()
	return Contour(points.ToPoints()), nil
}

// largestFor extracts the dominant contour of mask, if any.
func largestFor(mask pixbuf.Buffer) (Contour, bool, error) {
	contours, err := ExtractContours(mask)
	if err != nil {
		return nil, false, err
	}
	if len(contours) == 0 {
		return nil, false, nil
	}
	c, ok := Largest(contours)
	return c, ok, nil
}
