package pyramid

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

// Defaults for building levels from a single raster.
const (
	DefaultMinLevelSize = 256
	DefaultMaxLevels    = 10
)

// ImagePyramid is a Provider over one decoded raster. Level n is the source
// downsampled by 2^n.
type ImagePyramid struct {
	mu          sync.RWMutex
	levels      []*image.RGBA
	dimensions  []image.Point
	downsamples []float64
	closed      bool
}

// Options control how levels are derived from the source raster.
type Options struct {
	// MinLevelSize stops level generation once the short side of the next
	// level would fall below it.
	MinLevelSize int
	// MaxLevels caps the number of levels, level 0 included.
	MaxLevels int
}

func (o Options) withDefaults() Options {
	if o.MinLevelSize <= 0 {
		o.MinLevelSize = DefaultMinLevelSize
	}
	if o.MaxLevels <= 0 {
		o.MaxLevels = DefaultMaxLevels
	}
	return o
}

// Open decodes the raster at path (TIFF, PNG or JPEG) with default options.
// It satisfies Opener.
func Open(path string) (Provider, error) {
	return OpenWithOptions(path, Options{})
}

// NewOpener returns an Opener that builds levels using opts.
func NewOpener(opts Options) Opener {
	return func(path string) (Provider, error) {
		return OpenWithOptions(path, opts)
	}
}

// OpenWithOptions decodes the raster at path and builds its levels.
func OpenWithOptions(path string, opts Options) (*ImagePyramid, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderIO, err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrProviderIO, path, err)
	}
	return New(img, opts), nil
}

// New builds a pyramid from an in-memory image.
func New(img image.Image, opts Options) *ImagePyramid {
	opts = opts.withDefaults()

	b := img.Bounds()
	base := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(base, base.Bounds(), img, b.Min, draw.Src)

	p := &ImagePyramid{
		levels:      []*image.RGBA{base},
		dimensions:  []image.Point{{X: b.Dx(), Y: b.Dy()}},
		downsamples: []float64{1},
	}

	for len(p.levels) < opts.MaxLevels {
		prev := p.levels[len(p.levels)-1]
		w, h := prev.Bounds().Dx()/2, prev.Bounds().Dy()/2
		if w < opts.MinLevelSize || h < opts.MinLevelSize {
			break
		}
		next := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(next, next.Bounds(), prev, prev.Bounds(), draw.Src, nil)

		p.levels = append(p.levels, next)
		p.dimensions = append(p.dimensions, image.Point{X: w, Y: h})
		p.downsamples = append(p.downsamples, p.downsamples[len(p.downsamples)-1]*2)
	}
	return p
}

// LevelCount implements Provider.
func (p *ImagePyramid) LevelCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.dimensions)
}

// LevelDimensions implements Provider.
func (p *ImagePyramid) LevelDimensions() []image.Point {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]image.Point(nil), p.dimensions...)
}

// LevelDownsamples implements Provider.
func (p *ImagePyramid) LevelDownsamples() []float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]float64(nil), p.downsamples...)
}

// ReadRegion implements Provider.
func (p *ImagePyramid) ReadRegion(origin image.Point, level int, size image.Point) (image.Image, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrClosed
	}
	if level < 0 || level >= len(p.levels) {
		return nil, fmt.Errorf("%w: %d (levels: %d)", ErrInvalidLevel, level, len(p.levels))
	}
	if size.X < 0 || size.Y < 0 {
		return nil, fmt.Errorf("%w: negative region size %v", ErrProviderIO, size)
	}

	// origin is level-0; convert to the level's own pixel grid.
	ds := p.downsamples[level]
	start := image.Point{X: int(float64(origin.X) / ds), Y: int(float64(origin.Y) / ds)}

	region := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	draw.Draw(region, region.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	src := p.levels[level]
	srcRect := image.Rectangle{Min: start, Max: start.Add(size)}.Intersect(src.Bounds())
	if !srcRect.Empty() {
		dstRect := srcRect.Sub(start)
		draw.Draw(region, dstRect, src, srcRect.Min, draw.Src)
	}
	return region, nil
}

// Close implements Provider. It is safe to call more than once.
func (p *ImagePyramid) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.levels = nil
	return nil
}
