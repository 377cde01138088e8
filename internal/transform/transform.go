// Package transform implements the geometric and photometric variants used
// for augmentation. Every function leaves its input untouched and returns a
// freshly allocated buffer.
package transform

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"leaffliction/internal/pixbuf"
)

const (
	// SkewRatio is the fraction of the width the top-right corner moves inward.
	SkewRatio = 0.2
	// ShearFactor is the horizontal shear applied by Shear.
	ShearFactor = 0.2
	// CropRatio is the kept fraction per dimension before resizing back.
	CropRatio = 0.8
	// MinCropSide is the smallest side length Crop will touch.
	MinCropSide = 100
	// WaveAmplitude and WavePeriod shape the sinusoidal distortion, in pixels.
	WaveAmplitude = 20.0
	WavePeriod    = 150.0
	// BlurKernel is the Gaussian kernel side length.
	BlurKernel = 15
)

// Func is the signature shared by all transforms.
type Func func(pixbuf.Buffer) (pixbuf.Buffer, error)

// AffineMatrix is a 2x3 matrix [[a b c] [d e f]] mapping (x, y) to
// (a*x + b*y + c, d*x + e*y + f).
type AffineMatrix [2][3]float64

// ShearMatrix returns the horizontal shear matrix for factor.
func ShearMatrix(factor float64) AffineMatrix {
	return AffineMatrix{{1, factor, 0}, {0, 1, 0}}
}

// Apply maps a point through the matrix.
func (a AffineMatrix) Apply(x, y float64) (float64, float64) {
	return a[0][0]*x + a[0][1]*y + a[0][2], a[1][0]*x + a[1][1]*y + a[1][2]
}

func (a AffineMatrix) mat() gocv.Mat {
	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			m.SetDoubleAt(r, c, a[r][c])
		}
	}
	return m
}

// run converts src to a Mat, lets op fill dst and converts the result back.
func run(src pixbuf.Buffer, op func(in gocv.Mat, out *gocv.Mat) error) (pixbuf.Buffer, error) {
	in, err := src.Mat()
	if err != nil {
		return pixbuf.Buffer{}, err
	}
	defer in.Close()

	out := gocv.NewMat()
	defer out.Close()

	if err := op(in, &out); err != nil {
		return pixbuf.Buffer{}, err
	}
	return pixbuf.FromMat(out)
}

// Flip mirrors the image top to bottom.
func Flip(src pixbuf.Buffer) (pixbuf.Buffer, error) {
	return run(src, func(in gocv.Mat, out *gocv.Mat) error {
		if err := gocv.Flip(in, out, 0); err != nil {
			return fmt.Errorf("flip: %w", err)
		}
		return nil
	})
}

// Rotate90 rotates the image a quarter turn clockwise.
func Rotate90(src pixbuf.Buffer) (pixbuf.Buffer, error) {
	return run(src, func(in gocv.Mat, out *gocv.Mat) error {
		if err := gocv.Rotate(in, out, gocv.Rotate90Clockwise); err != nil {
			return fmt.Errorf("rotate: %w", err)
		}
		return nil
	})
}

// Skew pulls the top-right corner toward the left by SkewRatio of the width.
// Uncovered pixels are black.
func Skew(src pixbuf.Buffer) (pixbuf.Buffer, error) {
	return run(src, func(in gocv.Mat, out *gocv.Mat) error {
		w, h := float32(src.Width), float32(src.Height)
		from := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
			{X: 0, Y: 0}, {X: w, Y: 0}, {X: 0, Y: h}, {X: w, Y: h},
		})
		defer from.Close()
		to := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
			{X: 0, Y: 0}, {X: w - SkewRatio*w, Y: 0}, {X: 0, Y: h}, {X: w, Y: h},
		})
		defer to.Close()

		m := gocv.GetPerspectiveTransform2f(from, to)
		defer m.Close()

		if err := gocv.WarpPerspectiveWithParams(in, out, m, image.Pt(src.Width, src.Height),
			gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{}); err != nil {
			return fmt.Errorf("skew: %w", err)
		}
		return nil
	})
}

// Shear applies ShearMatrix(ShearFactor), keeping the original size and
// reflecting the image into the uncovered area.
func Shear(src pixbuf.Buffer) (pixbuf.Buffer, error) {
	return Affine(src, ShearMatrix(ShearFactor))
}

// Affine warps src by a into a canvas of the same size.
func Affine(src pixbuf.Buffer, a AffineMatrix) (pixbuf.Buffer, error) {
	return run(src, func(in gocv.Mat, out *gocv.Mat) error {
		m := a.mat()
		defer m.Close()
		if err := gocv.WarpAffineWithParams(in, out, m, image.Pt(src.Width, src.Height),
			gocv.InterpolationLinear, gocv.BorderReflect, color.RGBA{}); err != nil {
			return fmt.Errorf("affine warp: %w", err)
		}
		return nil
	})
}

// Crop keeps the centered CropRatio of each dimension and scales it back up
// with Lanczos interpolation. Images with a side under MinCropSide are
// returned unchanged.
func Crop(src pixbuf.Buffer) (pixbuf.Buffer, error) {
	if err := src.Validate(); err != nil {
		return pixbuf.Buffer{}, err
	}
	if src.Width < MinCropSide || src.Height < MinCropSide {
		return src.Clone(), nil
	}

	cw := int(float64(src.Width) * CropRatio)
	ch := int(float64(src.Height) * CropRatio)
	x0 := (src.Width - cw) / 2
	y0 := (src.Height - ch) / 2

	return run(src, func(in gocv.Mat, out *gocv.Mat) error {
		region := in.Region(image.Rect(x0, y0, x0+cw, y0+ch))
		defer region.Close()
		if err := gocv.Resize(region, out, image.Pt(src.Width, src.Height), 0, 0, gocv.InterpolationLanczos4); err != nil {
			return fmt.Errorf("resize crop: %w", err)
		}
		return nil
	})
}

// Distortion displaces every pixel along a sine wave in both axes,
// x' = x + A*sin(2*pi*y/P) and y' = y + A*sin(2*pi*x/P), sampled bilinearly.
func Distortion(src pixbuf.Buffer) (pixbuf.Buffer, error) {
	return run(src, func(in gocv.Mat, out *gocv.Mat) error {
		mapX := gocv.NewMatWithSize(src.Height, src.Width, gocv.MatTypeCV32FC1)
		defer mapX.Close()
		mapY := gocv.NewMatWithSize(src.Height, src.Width, gocv.MatTypeCV32FC1)
		defer mapY.Close()

		for y := 0; y < src.Height; y++ {
			dx := WaveAmplitude * math.Sin(2*math.Pi*float64(y)/WavePeriod)
			for x := 0; x < src.Width; x++ {
				dy := WaveAmplitude * math.Sin(2*math.Pi*float64(x)/WavePeriod)
				mapX.SetFloatAt(y, x, float32(float64(x)+dx))
				mapY.SetFloatAt(y, x, float32(float64(y)+dy))
			}
		}

		if err := gocv.Remap(in, out, &mapX, &mapY, gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{}); err != nil {
			return fmt.Errorf("distortion remap: %w", err)
		}
		return nil
	})
}

// GaussianBlur smooths with a BlurKernel x BlurKernel kernel; sigma follows
// from the kernel size.
func GaussianBlur(src pixbuf.Buffer) (pixbuf.Buffer, error) {
	return run(src, func(in gocv.Mat, out *gocv.Mat) error {
		if err := gocv.GaussianBlur(in, out, image.Pt(BlurKernel, BlurKernel), 0, 0, gocv.BorderDefault); err != nil {
			return fmt.Errorf("gaussian blur: %w", err)
		}
		return nil
	})
}
