package segment

import (
	"errors"
	"testing"

	"leaffliction/internal/pixbuf"
)

var leafGreen = [3]byte{40, 180, 60}

func leafOnBlack(t *testing.T) pixbuf.Buffer {
	t.Helper()
	img, err := pixbuf.New(120, 120, 3)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	img.FillCircle(60, 60, 30, leafGreen)
	img.Set(5, 5, 1, 200) // isolated speck, removed by the opening
	return img
}

func TestDeriveMaskSelectsLeaf(t *testing.T) {
	img := leafOnBlack(t)
	mask, err := DeriveMask(img)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if mask.Channels != 1 || mask.Height != img.Height || mask.Width != img.Width {
		t.Fatalf("unexpected mask shape %dx%dx%d", mask.Width, mask.Height, mask.Channels)
	}
	if mask.At(60, 60, 0) != 255 {
		t.Fatalf("expected leaf center in mask")
	}
	if mask.At(5, 5, 0) != 0 || mask.At(110, 110, 0) != 0 {
		t.Fatalf("expected background outside mask")
	}
	for _, v := range mask.Samples {
		if v != 0 && v != 255 {
			t.Fatalf("mask must be binary, found %d", v)
		}
	}
}

func TestDeriveMaskIsDeterministic(t *testing.T) {
	img := leafOnBlack(t)
	a, err := DeriveMask(img)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, err := DeriveMask(img)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if !a.Equal(b) {
		t.Fatalf("expected identical masks for identical input")
	}
}

func TestDeriveMaskOnGrayIsEmpty(t *testing.T) {
	gray, _ := pixbuf.Solid(30, 30, 1, [3]byte{128})
	mask, err := DeriveMask(gray)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if mask.CountNonZero() != 0 {
		t.Fatalf("expected empty mask for colorless input")
	}
}

func TestApplyMaskBlacksOutBackground(t *testing.T) {
	img, _ := pixbuf.Solid(10, 10, 3, [3]byte{9, 8, 7})
	mask, _ := pixbuf.New(10, 10, 1)
	mask.FillRect(2, 2, 5, 5, [3]byte{255})

	out, err := ApplyMask(img, mask)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.At(3, 3, 2) != 7 {
		t.Fatalf("expected masked pixel to keep its color")
	}
	if out.At(8, 8, 0) != 0 {
		t.Fatalf("expected unmasked pixel to be black")
	}
	if img.At(8, 8, 0) != 9 {
		t.Fatalf("input was modified")
	}
}

func TestResolve(t *testing.T) {
	img := leafOnBlack(t)
	supplied, _ := pixbuf.New(120, 120, 1)
	got, err := Resolve(img, &supplied)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !got.Equal(supplied) {
		t.Fatalf("expected the supplied mask to be used as is")
	}

	wrong, _ := pixbuf.New(60, 120, 1)
	if _, err := Resolve(img, &wrong); !errors.Is(err, pixbuf.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}

	derived, err := Resolve(img, nil)
	if err != nil {
		t.Fatalf("resolve derived: %v", err)
	}
	if derived.CountNonZero() == 0 {
		t.Fatalf("expected a derived mask when none is supplied")
	}
}
