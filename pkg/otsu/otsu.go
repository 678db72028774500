// Package otsu computes Otsu thresholds of slide levels. The thresholds
// separate tissue from background when patches are sampled.
package otsu

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Bins is the number of gray levels in the histogram.
const Bins = 256

// ErrEmptyImage is returned for an image without opaque pixels.
var ErrEmptyImage = errors.New("otsu: image has no opaque pixels")

// Histogram counts the gray levels of img. Fully transparent pixels are
// skipped, they lie outside the slide.
func Histogram(img image.Image) []float64 {
	hist := make([]float64, Bins)
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.At(x, y)
			if _, _, _, a := c.RGBA(); a == 0 {
				continue
			}
			gray := color.GrayModel.Convert(c).(color.Gray)
			hist[gray.Y]++
		}
	}
	return hist
}

// Threshold returns the gray level t that maximises the between-class
// variance of the classes [0, t] and (t, 255].
func Threshold(img image.Image) (float64, error) {
	return FromHistogram(Histogram(img))
}

// FromHistogram is Threshold on a precomputed histogram of Bins entries.
func FromHistogram(hist []float64) (float64, error) {
	if len(hist) != Bins {
		return 0, fmt.Errorf("otsu: histogram has %d bins, want %d", len(hist), Bins)
	}
	total := floats.Sum(hist)
	if total == 0 {
		return 0, ErrEmptyImage
	}

	levels := make([]float64, Bins)
	for i := range levels {
		levels[i] = float64(i)
	}
	mean := stat.Mean(levels, hist)

	// A single populated level has no split; it is its own threshold.
	best, bestVariance := mean, 0.0
	var w0, sum0 float64
	for t := 0; t < Bins-1; t++ {
		w0 += hist[t]
		sum0 += levels[t] * hist[t]
		w1 := total - w0
		if w0 == 0 || w1 == 0 {
			continue
		}
		mu0 := sum0 / w0
		mu1 := (mean*total - sum0) / w1
		variance := w0 * w1 * (mu0 - mu1) * (mu0 - mu1)
		if variance > bestVariance {
			best, bestVariance = levels[t], variance
		}
	}
	return best, nil
}

// LevelSource is anything that can render a complete pyramid level, such as
// a *slide.Slide.
type LevelSource interface {
	FullSlide(level int) (image.Image, error)
}

// ComputeLevels returns the threshold of every requested level.
func ComputeLevels(src LevelSource, levels []int) (map[int]float64, error) {
	out := make(map[int]float64, len(levels))
	for _, level := range levels {
		img, err := src.FullSlide(level)
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", level, err)
		}
		t, err := Threshold(img)
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", level, err)
		}
		out[level] = t
	}
	return out, nil
}
