package pyramid

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestImage returns a w x h image whose left half is black and right
// half is white.
func createTestImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{A: 255}
			if x >= w/2 {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestNewBuildsLevels(t *testing.T) {
	p := New(createTestImage(64, 32), Options{MinLevelSize: 8})

	assert.Equal(t, 3, p.LevelCount())
	assert.Equal(t, []image.Point{{X: 64, Y: 32}, {X: 32, Y: 16}, {X: 16, Y: 8}}, p.LevelDimensions())
	assert.Equal(t, []float64{1, 2, 4}, p.LevelDownsamples())
}

func TestNewRespectsMaxLevels(t *testing.T) {
	p := New(createTestImage(64, 64), Options{MinLevelSize: 1, MaxLevels: 2})
	assert.Equal(t, 2, p.LevelCount())
}

func TestReadRegionUsesLevelZeroOrigin(t *testing.T) {
	p := New(createTestImage(64, 64), Options{MinLevelSize: 8})

	// level 1 pixel (16, 0) is level-0 pixel (32, 0): the first white column
	img, err := p.ReadRegion(image.Pt(32, 0), 1, image.Pt(4, 4))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 4), img.Bounds())

	r, g, b, a := img.At(0, 0).RGBA()
	assert.Equal(t, []uint32{0xffff, 0xffff, 0xffff, 0xffff}, []uint32{r, g, b, a})
}

func TestReadRegionOutsideIsTransparent(t *testing.T) {
	p := New(createTestImage(16, 16), Options{MinLevelSize: 8})

	img, err := p.ReadRegion(image.Pt(-4, -4), 0, image.Pt(8, 8))
	require.NoError(t, err)

	_, _, _, a := img.At(0, 0).RGBA()
	assert.Zero(t, a, "pixel left of the image must be transparent")
	_, _, _, a = img.At(5, 5).RGBA()
	assert.Equal(t, uint32(0xffff), a)
}

func TestReadRegionErrors(t *testing.T) {
	p := New(createTestImage(16, 16), Options{MinLevelSize: 8})

	_, err := p.ReadRegion(image.Point{}, 5, image.Pt(1, 1))
	assert.ErrorIs(t, err, ErrInvalidLevel)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	_, err = p.ReadRegion(image.Point{}, 0, image.Pt(1, 1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "normal_001.png")

	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, createTestImage(40, 20)))
	require.NoError(t, f.Close())

	p, err := Open(path)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, image.Pt(40, 20), p.LevelDimensions()[0])

	_, err = Open(filepath.Join(dir, "missing.tif"))
	assert.ErrorIs(t, err, ErrProviderIO)

	garbage := filepath.Join(dir, "corrupt.tif")
	require.NoError(t, os.WriteFile(garbage, []byte("not an image"), 0o644))
	_, err = Open(garbage)
	assert.ErrorIs(t, err, ErrProviderIO)
}
