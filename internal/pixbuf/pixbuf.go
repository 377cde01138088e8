// Package pixbuf holds the in-memory raster shared by every transform and
// analysis. Three-channel samples are kept in BGR order.
package pixbuf

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	// ErrInvalidImage reports a buffer whose shape or sample count is unusable.
	ErrInvalidImage = errors.New("invalid image")
	// ErrDimensionMismatch reports an image/mask pair of different sizes.
	ErrDimensionMismatch = errors.New("image and mask dimensions differ")
)

// Buffer is a row-major raster of 8-bit samples.
type Buffer struct {
	Height   int
	Width    int
	Channels int
	Samples  []byte
}

// New allocates a zeroed (black) buffer.
func New(height, width, channels int) (Buffer, error) {
	b := Buffer{Height: height, Width: width, Channels: channels}
	if height <= 0 || width <= 0 || (channels != 1 && channels != 3) {
		return Buffer{}, fmt.Errorf("%w: %dx%dx%d", ErrInvalidImage, height, width, channels)
	}
	b.Samples = make([]byte, height*width*channels)
	return b, nil
}

// Validate checks the shape invariants.
func (b Buffer) Validate() error {
	if b.Height <= 0 || b.Width <= 0 {
		return fmt.Errorf("%w: non-positive size %dx%d", ErrInvalidImage, b.Width, b.Height)
	}
	if b.Channels != 1 && b.Channels != 3 {
		return fmt.Errorf("%w: unsupported channel count %d", ErrInvalidImage, b.Channels)
	}
	if want := b.Height * b.Width * b.Channels; len(b.Samples) != want {
		return fmt.Errorf("%w: have %d samples, want %d", ErrInvalidImage, len(b.Samples), want)
	}
	return nil
}

// ValidatePair checks img and mask together: mask must be single-channel
// and the same size as img.
func ValidatePair(img, mask Buffer) error {
	if err := img.Validate(); err != nil {
		return err
	}
	if err := mask.Validate(); err != nil {
		return fmt.Errorf("mask: %w", err)
	}
	if mask.Channels != 1 {
		return fmt.Errorf("%w: mask has %d channels", ErrInvalidImage, mask.Channels)
	}
	if img.Height != mask.Height || img.Width != mask.Width {
		return fmt.Errorf("%w: image %dx%d, mask %dx%d", ErrDimensionMismatch,
			img.Width, img.Height, mask.Width, mask.Height)
	}
	return nil
}

// Clone returns a deep copy.
func (b Buffer) Clone() Buffer {
	c := b
	c.Samples = append([]byte(nil), b.Samples...)
	return c
}

// Equal reports whether both buffers have the same shape and samples.
func (b Buffer) Equal(o Buffer) bool {
	if b.Height != o.Height || b.Width != o.Width || b.Channels != o.Channels {
		return false
	}
	if len(b.Samples) != len(o.Samples) {
		return false
	}
	for i := range b.Samples {
		if b.Samples[i] != o.Samples[i] {
			return false
		}
	}
	return true
}

// At returns the sample of channel ch at (x, y).
func (b Buffer) At(x, y, ch int) byte {
	return b.Samples[(y*b.Width+x)*b.Channels+ch]
}

// Set writes one sample.
func (b Buffer) Set(x, y, ch int, v byte) {
	b.Samples[(y*b.Width+x)*b.Channels+ch] = v
}

// CountNonZero counts pixels with at least one non-zero sample.
func (b Buffer) CountNonZero() int {
	n := 0
	for i := 0; i < len(b.Samples); i += b.Channels {
		for ch := 0; ch < b.Channels; ch++ {
			if b.Samples[i+ch] != 0 {
				n++
				break
			}
		}
	}
	return n
}

func (b Buffer) matType() gocv.MatType {
	if b.Channels == 1 {
		return gocv.MatTypeCV8UC1
	}
	return gocv.MatTypeCV8UC3
}

// Mat copies the buffer into a new OpenCV matrix. The caller closes it.
func (b Buffer) Mat() (gocv.Mat, error) {
	if err := b.Validate(); err != nil {
		return gocv.NewMat(), err
	}
	// NewMatFromBytes aliases the Go slice, so detach it before returning.
	view, err := gocv.NewMatFromBytes(b.Height, b.Width, b.matType(), b.Samples)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("wrap samples: %w", err)
	}
	defer view.Close()
	return view.Clone(), nil
}

// FromMat copies an 8-bit one- or three-channel matrix into a Buffer.
func FromMat(m gocv.Mat) (Buffer, error) {
	if m.Empty() {
		return Buffer{}, fmt.Errorf("%w: empty matrix", ErrInvalidImage)
	}
	switch m.Type() {
	case gocv.MatTypeCV8UC1, gocv.MatTypeCV8UC3:
	default:
		return Buffer{}, fmt.Errorf("%w: unsupported matrix type %v", ErrInvalidImage, m.Type())
	}

	src := m
	if !m.IsContinuous() {
		src = m.Clone()
		defer src.Close()
	}

	b := Buffer{
		Height:   src.Rows(),
		Width:    src.Cols(),
		Channels: src.Channels(),
		Samples:  src.ToBytes(),
	}
	if err := b.Validate(); err != nil {
		return Buffer{}, err
	}
	return b, nil
}

// FromImage converts a decoded Go image into a BGR buffer.
func FromImage(img image.Image) (Buffer, error) {
	r := img.Bounds()
	b, err := New(r.Dy(), r.Dx(), 3)
	if err != nil {
		return Buffer{}, err
	}
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			c := color.NRGBAModel.Convert(img.At(r.Min.X+x, r.Min.Y+y)).(color.NRGBA)
			i := (y*b.Width + x) * 3
			b.Samples[i] = c.B
			b.Samples[i+1] = c.G
			b.Samples[i+2] = c.R
		}
	}
	return b, nil
}

// Image converts the buffer to a Go image for encoders outside OpenCV.
func (b Buffer) Image() image.Image {
	if b.Channels == 1 {
		g := image.NewGray(image.Rect(0, 0, b.Width, b.Height))
		copy(g.Pix, b.Samples)
		return g
	}
	out := image.NewRGBA(image.Rect(0, 0, b.Width, b.Height))
	for i, j := 0, 0; i < len(b.Samples); i, j = i+3, j+4 {
		out.Pix[j] = b.Samples[i+2]
		out.Pix[j+1] = b.Samples[i+1]
		out.Pix[j+2] = b.Samples[i]
		out.Pix[j+3] = 0xff
	}
	return out
}
