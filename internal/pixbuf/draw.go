package pixbuf

// Solid returns a buffer filled with one color. For three-channel buffers
// bgr is given in blue, green, red order; one-channel buffers use bgr[0].
func Solid(height, width, channels int, bgr [3]byte) (Buffer, error) {
	b, err := New(height, width, channels)
	if err != nil {
		return Buffer{}, err
	}
	for i := 0; i < len(b.Samples); i += channels {
		copy(b.Samples[i:i+channels], bgr[:channels])
	}
	return b, nil
}

// FillRect paints the half-open rectangle [x0,x1)x[y0,y1), clipped to the buffer.
func (b Buffer) FillRect(x0, y0, x1, y1 int, bgr [3]byte) {
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, b.Width), min(y1, b.Height)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			i := (y*b.Width + x) * b.Channels
			copy(b.Samples[i:i+b.Channels], bgr[:b.Channels])
		}
	}
}

// FillCircle paints a filled disc, clipped to the buffer.
func (b Buffer) FillCircle(cx, cy, r int, bgr [3]byte) {
	for y := max(cy-r, 0); y <= min(cy+r, b.Height-1); y++ {
		for x := max(cx-r, 0); x <= min(cx+r, b.Width-1); x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy > r*r {
				continue
			}
			i := (y*b.Width + x) * b.Channels
			copy(b.Samples[i:i+b.Channels], bgr[:b.Channels])
		}
	}
}
