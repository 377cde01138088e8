package morph

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"leaffliction/internal/pixbuf"
)

// draw renders onto a copy of img.
func draw(img pixbuf.Buffer, paint func(canvas *gocv.Mat) error) (pixbuf.Buffer, error) {
	canvas, err := img.Mat()
	if err != nil {
		return pixbuf.Buffer{}, err
	}
	defer canvas.Close()
	if err := paint(&canvas); err != nil {
		return pixbuf.Buffer{}, err
	}
	return pixbuf.FromMat(canvas)
}

// ROIBox outlines the bounding rectangle of the largest region in mask.
// Without any region the image is returned unchanged.
func ROIBox(img, mask pixbuf.Buffer) (pixbuf.Buffer, error) {
	if err := pixbuf.ValidatePair(img, mask); err != nil {
		return pixbuf.Buffer{}, err
	}
	leaf, ok, err := largestFor(mask)
	if err != nil {
		return pixbuf.Buffer{}, err
	}
	if !ok {
		return img.Clone(), nil
	}
	box := leaf.Bounds()
	return draw(img, func(canvas *gocv.Mat) error {
		if err := gocv.Rectangle(canvas, box, boxColor, 3); err != nil {
			return fmt.Errorf("draw roi box: %w", err)
		}
		return nil
	})
}

// AnalyzeObject boxes every region of at least MinObjectArea and marks its
// centroid. Regions with zero mass get no centroid.
func AnalyzeObject(img, mask pixbuf.Buffer) (pixbuf.Buffer, error) {
	if err := pixbuf.ValidatePair(img, mask); err != nil {
		return pixbuf.Buffer{}, err
	}
	contours, err := ExtractContours(mask)
	if err != nil {
		return pixbuf.Buffer{}, err
	}

	type mark struct {
		box      image.Rectangle
		centroid image.Point
		hasMass  bool
	}
	var marks []mark
	for _, c := range contours {
		if c.Area() < MinObjectArea {
			continue
		}
		m := mark{box: c.Bounds()}
		m.centroid, m.hasMass, err = c.Centroid()
		if err != nil {
			return pixbuf.Buffer{}, err
		}
		marks = append(marks, m)
	}
	if len(marks) == 0 {
		return img.Clone(), nil
	}

	return draw(img, func(canvas *gocv.Mat) error {
		for _, m := range marks {
			if err := gocv.Rectangle(canvas, m.box, boxColor, 2); err != nil {
				return fmt.Errorf("draw object box: %w", err)
			}
			if !m.hasMass {
				continue
			}
			if err := gocv.Circle(canvas, m.centroid, 5, centroidColor, -1); err != nil {
				return fmt.Errorf("draw centroid: %w", err)
			}
		}
		return nil
	})
}

// Landmarks holds the simplified outline of the leaf and its convex hull.
type Landmarks struct {
	Vertices Contour
	Hull     Contour
}

// FindLandmarks simplifies the largest region of mask. ok is false when the
// mask has no region.
func FindLandmarks(mask pixbuf.Buffer) (Landmarks, bool, error) {
	leaf, ok, err := largestFor(mask)
	if err != nil || !ok {
		return Landmarks{}, false, err
	}
	hull, err := leaf.Hull()
	if err != nil {
		return Landmarks{}, false, err
	}
	return Landmarks{
		Vertices: leaf.Simplify(LandmarkTolerance),
		Hull:     hull,
	}, true, nil
}

// Pseudolandmarks marks the simplified outline vertices of the leaf and
// overlays its convex hull.
func Pseudolandmarks(img, mask pixbuf.Buffer) (pixbuf.Buffer, error) {
	if err := pixbuf.ValidatePair(img, mask); err != nil {
		return pixbuf.Buffer{}, err
	}
	lm, ok, err := FindLandmarks(mask)
	if err != nil {
		return pixbuf.Buffer{}, err
	}
	if !ok {
		return img.Clone(), nil
	}

	return draw(img, func(canvas *gocv.Mat) error {
		hull := gocv.NewPointsVectorFromPoints([][]image.Point{lm.Hull})
		defer hull.Close()
		if err := gocv.DrawContours(canvas, hull, 0, hullColor, 2); err != nil {
			return fmt.Errorf("draw hull: %w", err)
		}
		// vertices go on top so the hull never hides them
		for _, p := range lm.Vertices {
			if err := gocv.Circle(canvas, p, 8, vertexColor, -1); err != nil {
				return fmt.Errorf("draw vertex: %w", err)
			}
		}
		return nil
	})
}
