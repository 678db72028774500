// Package geometry relates annotation polygons, recorded in level-0 pixel
// space, to the local coordinate space of a single pyramid level.
//
// Two conventions matter to every caller:
//
//  1. A region origin is always expressed in level-0 pixels, because that is
//     what a pyramid provider's region read expects.
//  2. A region size is always expressed in pixels of the target level.
//
// All conversions truncate toward zero, so a polygon projected with
// ProjectPolygon stays pixel-aligned with a bitmap read using the origin and
// size returned by ComputeBoundaries.
package geometry

import (
	"errors"
	"image"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r2"
)

var (
	// ErrEmptyPolygon indicates an operation needs at least one point.
	ErrEmptyPolygon = errors.New("geometry: polygon has no points")
	// ErrNegativePadding indicates a padding below zero.
	ErrNegativePadding = errors.New("geometry: padding must not be negative")
	// ErrInvalidDownsample indicates a downsample factor that is not a positive number.
	ErrInvalidDownsample = errors.New("geometry: downsample factor must be positive")
	// ErrEmptyRegion indicates the computed region is zero pixels wide or high.
	ErrEmptyRegion = errors.New("geometry: region collapses to zero size")
)

// Point is a real-valued pixel coordinate.
type Point struct {
	X float64
	Y float64
}

// Vec returns the point as a gonum r2 vector.
func (p Point) Vec() r2.Vec {
	return r2.Vec{X: p.X, Y: p.Y}
}

// Polygon is an ordered sequence of points tracing a region boundary.
// The order is the drawing order of the boundary and is significant.
type Polygon []Point

// Xs returns the x coordinates in polygon order.
func (p Polygon) Xs() []float64 {
	xs := make([]float64, len(p))
	for i, pt := range p {
		xs[i] = pt.X
	}
	return xs
}

// Ys returns the y coordinates in polygon order.
func (p Polygon) Ys() []float64 {
	ys := make([]float64, len(p))
	for i, pt := range p {
		ys[i] = pt.Y
	}
	return ys
}

// Bounds returns the axis-aligned bounding box of the polygon.
func Bounds(polygon Polygon) (r2.Box, error) {
	if len(polygon) == 0 {
		return r2.Box{}, ErrEmptyPolygon
	}
	xs, ys := polygon.Xs(), polygon.Ys()
	return r2.Box{
		Min: r2.Vec{X: floats.Min(xs), Y: floats.Min(ys)},
		Max: r2.Vec{X: floats.Max(xs), Y: floats.Max(ys)},
	}, nil
}

// ProjectPolygon converts level-0 points into the local space of a bitmap
// whose top-left corner sits at origin (level-0 pixels) and which was read
// at a level with the given downsample factor:
//
//	p' = trunc((p - origin) / downsample)
func ProjectPolygon(polygon Polygon, origin image.Point, downsample float64) Polygon {
	projected := make(Polygon, len(polygon))
	ox, oy := float64(origin.X), float64(origin.Y)
	for i, p := range polygon {
		projected[i] = Point{
			X: math.Trunc((p.X - ox) / downsample),
			Y: math.Trunc((p.Y - oy) / downsample),
		}
	}
	return projected
}

// ComputeBoundaries returns the region enclosing polygon plus padding.
//
// The origin is the padded top-left corner in level-0 pixels and is never
// downsampled. The size is the padded extent divided by downsample, i.e. it
// is expressed in pixels of the target level. Padding is given in level-0
// pixels.
//
// Negative origins are returned unchanged; providers treat pixels outside
// the image as transparent.
func ComputeBoundaries(polygon Polygon, downsample float64, padding int) (origin, size image.Point, err error) {
	if padding < 0 {
		return image.Point{}, image.Point{}, ErrNegativePadding
	}
	if !(downsample > 0) || math.IsInf(downsample, 0) {
		return image.Point{}, image.Point{}, ErrInvalidDownsample
	}
	box, err := Bounds(polygon)
	if err != nil {
		return image.Point{}, image.Point{}, err
	}

	pad := float64(padding)
	origin = image.Point{
		X: int(box.Min.X - pad),
		Y: int(box.Min.Y - pad),
	}
	width := int(box.Max.X - float64(origin.X) + pad)
	height := int(box.Max.Y - float64(origin.Y) + pad)

	size = image.Point{
		X: int(float64(width) / downsample),
		Y: int(float64(height) / downsample),
	}
	if size.X <= 0 || size.Y <= 0 {
		return image.Point{}, image.Point{}, ErrEmptyRegion
	}
	return origin, size, nil
}
