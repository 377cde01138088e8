// Package segment separates leaf tissue from the background by color.
package segment

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"leaffliction/internal/pixbuf"
)

// Leaf color band in OpenCV HSV units (hue 0-179).
var (
	LowerHSV = gocv.NewScalar(25, 40, 40, 0)
	UpperHSV = gocv.NewScalar(95, 255, 255, 0)
)

// OpenKernel is the side of the square structuring element used to drop speckle.
const OpenKernel = 5

// DeriveMask returns a single-channel mask, 255 where the pixel falls in the
// leaf color band after one morphological opening, 0 elsewhere.
// Single-channel input is promoted to BGR first, which yields an empty mask.
func DeriveMask(img pixbuf.Buffer) (pixbuf.Buffer, error) {
	src, err := img.Mat()
	if err != nil {
		return pixbuf.Buffer{}, err
	}
	defer src.Close()

	if img.Channels == 1 {
		bgr := gocv.NewMat()
		if err := gocv.CvtColor(src, &bgr, gocv.ColorGrayToBGR); err != nil {
			bgr.Close()
			return pixbuf.Buffer{}, fmt.Errorf("promote gray: %w", err)
		}
		src.Close()
		src = bgr
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	if err := gocv.CvtColor(src, &hsv, gocv.ColorBGRToHSV); err != nil {
		return pixbuf.Buffer{}, fmt.Errorf("to hsv: %w", err)
	}

	band := gocv.NewMat()
	defer band.Close()
	if err := gocv.InRangeWithScalar(hsv, LowerHSV, UpperHSV, &band); err != nil {
		return pixbuf.Buffer{}, fmt.Errorf("green band: %w", err)
	}

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(OpenKernel, OpenKernel))
	defer kernel.Close()

	opened := gocv.NewMat()
	defer opened.Close()
	if err := gocv.MorphologyEx(band, &opened, gocv.MorphOpen, kernel); err != nil {
		return pixbuf.Buffer{}, fmt.Errorf("open mask: %w", err)
	}

	return pixbuf.FromMat(opened)
}

// ApplyMask keeps img where mask is set and paints everything else black.
func ApplyMask(img, mask pixbuf.Buffer) (pixbuf.Buffer, error) {
	if err := pixbuf.ValidatePair(img, mask); err != nil {
		return pixbuf.Buffer{}, err
	}
	out, err := pixbuf.New(img.Height, img.Width, img.Channels)
	if err != nil {
		return pixbuf.Buffer{}, err
	}
	for p := 0; p < img.Height*img.Width; p++ {
		if mask.Samples[p] == 0 {
			continue
		}
		i := p * img.Channels
		copy(out.Samples[i:i+img.Channels], img.Samples[i:i+img.Channels])
	}
	return out, nil
}

// Resolve returns *mask when it is supplied and valid for img, otherwise a
// freshly derived mask.
func Resolve(img pixbuf.Buffer, mask *pixbuf.Buffer) (pixbuf.Buffer, error) {
	if mask == nil {
		return DeriveMask(img)
	}
	if err := pixbuf.ValidatePair(img, *mask); err != nil {
		return pixbuf.Buffer{}, err
	}
	return *mask, nil
}
