package morph

import (
	"fmt"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"

	"leaffliction/internal/pixbuf"
)

// Bins is the number of intensity levels per series.
const Bins = 256

// SeriesNames lists the histogram series in output order.
var SeriesNames = []string{
	"blue", "green", "red",
	"hue", "saturation", "value",
	"lightness", "green-magenta", "blue-yellow",
}

// Series is one channel's distribution over the masked pixels.
type Series struct {
	Name string
	// Percent[i] is the share of masked pixels with level i, in percent.
	Percent [Bins]float64
	Mean    float64
	StdDev  float64
}

// Histogram groups the nine color series of one image.
type Histogram struct {
	Pixels int
	Series []Series
}

// Lookup returns the series called name.
func (h Histogram) Lookup(name string) (Series, bool) {
	for _, s := range h.Series {
		if s.Name == name {
			return s, true
		}
	}
	return Series{}, false
}

// ColorHistogram computes the BGR, HSV and Lab channel distributions of the
// pixels selected by mask. An empty mask yields all-zero series.
func ColorHistogram(img, mask pixbuf.Buffer) (Histogram, error) {
	if err := pixbuf.ValidatePair(img, mask); err != nil {
		return Histogram{}, err
	}

	h := Histogram{Pixels: mask.CountNonZero(), Series: make([]Series, 0, len(SeriesNames))}
	if h.Pixels == 0 {
		for _, name := range SeriesNames {
			h.Series = append(h.Series, Series{Name: name})
		}
		return h, nil
	}

	bgr, err := img.Mat()
	if err != nil {
		return Histogram{}, err
	}
	defer bgr.Close()
	if img.Channels == 1 {
		promoted := gocv.NewMat()
		if err := gocv.CvtColor(bgr, &promoted, gocv.ColorGrayToBGR); err != nil {
			promoted.Close()
			return Histogram{}, fmt.Errorf("promote gray: %w", err)
		}
		bgr.Close()
		bgr = promoted
	}

	sel, err := mask.Mat()
	if err != nil {
		return Histogram{}, err
	}
	defer sel.Close()

	hsv := gocv.NewMat()
	defer hsv.Close()
	if err := gocv.CvtColor(bgr, &hsv, gocv.ColorBGRToHSV); err != nil {
		return Histogram{}, fmt.Errorf("to hsv: %w", err)
	}
	lab := gocv.NewMat()
	defer lab.Close()
	if err := gocv.CvtColor(bgr, &lab, gocv.ColorBGRToLab); err != nil {
		return Histogram{}, fmt.Errorf("to lab: %w", err)
	}

	spaces := []gocv.Mat{bgr, hsv, lab}
	for i, name := range SeriesNames {
		counts, err := channelCounts(spaces[i/3], i%3, sel)
		if err != nil {
			return Histogram{}, fmt.Errorf("%s histogram: %w", name, err)
		}
		h.Series = append(h.Series, newSeries(name, counts, h.Pixels))
	}
	return h, nil
}

func channelCounts(src gocv.Mat, channel int, mask gocv.Mat) ([]float64, error) {
	hist := gocv.NewMat()
	defer hist.Close()
	if err := gocv.CalcHist([]gocv.Mat{src}, []int{channel}, mask, &hist, []int{Bins}, []float64{0, Bins}, false); err != nil {
		return nil, err
	}
	counts := make([]float64, Bins)
	for i := range counts {
		counts[i] = float64(hist.GetFloatAt(i, 0))
	}
	return counts, nil
}

func newSeries(name string, counts []float64, pixels int) Series {
	s := Series{Name: name}
	levels := make([]float64, Bins)
	for i := range levels {
		levels[i] = float64(i)
		s.Percent[i] = counts[i] / float64(pixels) * 100
	}
	if pixels < 2 {
		s.Mean = stat.Mean(levels, counts)
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(levels, counts)
	return s
}
