// Package overlay draws annotation polygons on top of slide regions.
package overlay

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
	"golang.org/x/image/draw"
	"golang.org/x/image/vector"

	"slidecat/pkg/geometry"
)

// ErrInvalidColor is returned by ParseColor.
var ErrInvalidColor = errors.New("overlay: invalid color")

// OutlineWidth is the stroke width of polygon outlines in pixels.
const OutlineWidth = 1.0

// ParseColor accepts "#rgb", "#rrggbb", "#rrggbbaa" and the SVG 1.1 color
// names.
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := colornames.Map[s]; ok {
		return color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}, nil
	}
	if !strings.HasPrefix(s, "#") {
		return color.NRGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	hex := s[1:]
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

// DrawPolygon returns a copy of img with polygon filled with fill and
// outlined with outline. Polygon points are in img's pixel space relative to
// its top-left corner. Either color may be nil to skip that pass.
func DrawPolygon(img image.Image, polygon geometry.Polygon, fill, outline color.Color) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	if len(polygon) == 0 || dst.Bounds().Empty() {
		return dst
	}

	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	if fill != nil && len(polygon) >= 3 {
		z := vector.NewRasterizer(w, h)
		z.DrawOp = draw.Over
		z.MoveTo(float32(polygon[0].X), float32(polygon[0].Y))
		for _, p := range polygon[1:] {
			z.LineTo(float32(p.X), float32(p.Y))
		}
		z.ClosePath()
		z.Draw(dst, dst.Bounds(), image.NewUniform(fill), image.Point{})
	}

	if outline != nil {
		z := vector.NewRasterizer(w, h)
		z.DrawOp = draw.Over
		n := len(polygon)
		for i := 0; i < n; i++ {
			strokeSegment(z, polygon[i], polygon[(i+1)%n], OutlineWidth)
		}
		z.Draw(dst, dst.Bounds(), image.NewUniform(outline), image.Point{})
	}
	return dst
}

// strokeSegment adds a quad covering the segment a-b with the given width.
// A zero-length segment becomes a width x width square.
func strokeSegment(z *vector.Rasterizer, a, b geometry.Point, width float64) {
	// pixel centers
	ax, ay := a.X+0.5, a.Y+0.5
	bx, by := b.X+0.5, b.Y+0.5
	half := width / 2

	dx, dy := bx-ax, by-ay
	length := math.Hypot(dx, dy)
	var nx, ny, ex, ey float64
	if length == 0 {
		nx, ny = 0, half
		ex, ey = half, 0
	} else {
		nx, ny = -dy/length*half, dx/length*half
		ex, ey = dx/length*half, dy/length*half
	}

	z.MoveTo(float32(ax-ex+nx), float32(ay-ey+ny))
	z.LineTo(float32(bx+ex+nx), float32(by+ey+ny))
	z.LineTo(float32(bx+ex-nx), float32(by+ey-ny))
	z.LineTo(float32(ax-ex-nx), float32(ay-ey-ny))
	z.ClosePath()
}
