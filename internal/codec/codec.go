// Package codec reads and writes image files as pixbuf buffers.
package codec

import (
	"errors"
	"fmt"
	"image"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"leaffliction/internal/pixbuf"
)

// ErrUnreadableImage reports a path that is not a decodable image file.
var ErrUnreadableImage = errors.New("unreadable image")

// Decode loads path as a three-channel BGR buffer. OpenCV is tried first;
// formats it cannot read (GIF, some WebP and TIFF variants) go through the
// Go image decoders.
func Decode(path string) (pixbuf.Buffer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return pixbuf.Buffer{}, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}
	if !info.Mode().IsRegular() {
		return pixbuf.Buffer{}, fmt.Errorf("%w: %s is not a regular file", ErrUnreadableImage, path)
	}

	mat := gocv.IMRead(path, gocv.IMReadColor)
	defer mat.Close()
	if !mat.Empty() {
		buf, err := pixbuf.FromMat(mat)
		if err != nil {
			return pixbuf.Buffer{}, fmt.Errorf("%w: %s: %v", ErrUnreadableImage, path, err)
		}
		return buf, nil
	}

	buf, err := decodeStd(path)
	if err != nil {
		return pixbuf.Buffer{}, fmt.Errorf("%w: %s: %v", ErrUnreadableImage, path, err)
	}
	return buf, nil
}

func decodeStd(path string) (pixbuf.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return pixbuf.Buffer{}, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return pixbuf.Buffer{}, err
	}
	return pixbuf.FromImage(img)
}

// Encode writes buf to path, creating parent directories. The format
// follows the extension.
func Encode(buf pixbuf.Buffer, path string) error {
	if err := buf.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".gif") {
		return encodeGIF(buf, path)
	}

	mat, err := buf.Mat()
	if err != nil {
		return err
	}
	defer mat.Close()

	if ok := gocv.IMWrite(path, mat); !ok {
		return fmt.Errorf("failed to save image: %s", path)
	}
	return nil
}

func encodeGIF(buf pixbuf.Buffer, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gif.Encode(f, buf.Image(), nil); err != nil {
		f.Close()
		return fmt.Errorf("encode gif %s: %w", path, err)
	}
	return f.Close()
}

// Saver adapts Encode to the generator's sink.
type Saver struct{}

// Save writes buf to path.
func (Saver) Save(buf pixbuf.Buffer, path string) error { return Encode(buf, path) }
