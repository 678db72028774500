package slide

import (
	"fmt"
	"image"
	"image/color"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"slidecat/pkg/annotation"
	"slidecat/pkg/geometry"
	"slidecat/pkg/overlay"
)

// Defaults for Annotation.Image.
const (
	DefaultImageLevel   = 4
	DefaultImagePadding = 100
)

// DefaultFill returns the translucent dark gray used to fill annotations.
func DefaultFill() color.NRGBA {
	return color.NRGBA{R: 50, G: 50, B: 50, A: 80}
}

// Annotation is one tumor region of a slide. Coordinates are level-0 pixels.
type Annotation struct {
	slide   *Slide
	name    string
	typ     string
	group   string
	color   string
	polygon geometry.Polygon
	ring    orb.Ring
}

func newAnnotation(s *Slide, rec annotation.Record) *Annotation {
	polygon := make(geometry.Polygon, len(rec.Polygon))
	copy(polygon, rec.Polygon)

	ring := make(orb.Ring, 0, len(polygon)+1)
	for _, p := range polygon {
		ring = append(ring, orb.Point{p.X, p.Y})
	}
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}

	return &Annotation{
		slide:   s,
		name:    rec.Name,
		typ:     rec.Type,
		group:   rec.Group,
		color:   rec.Color,
		polygon: polygon,
		ring:    ring,
	}
}

// Slide returns the slide the annotation belongs to.
func (a *Annotation) Slide() *Slide { return a.slide }

// Name returns the annotation's Name attribute.
func (a *Annotation) Name() string { return a.name }

// Type returns the annotation's Type attribute, usually "Polygon".
func (a *Annotation) Type() string { return a.typ }

// Group returns the PartOfGroup attribute.
func (a *Annotation) Group() string { return a.group }

// Color returns the outline color as written in the annotation file.
func (a *Annotation) Color() string { return a.color }

// Polygon returns a copy of the boundary in drawing order.
func (a *Annotation) Polygon() geometry.Polygon {
	out := make(geometry.Polygon, len(a.polygon))
	copy(out, a.polygon)
	return out
}

// String implements fmt.Stringer.
func (a *Annotation) String() string {
	return fmt.Sprintf("Annotation(slide=%q, name=%q, polygon size=%d)", a.slide.name, a.name, len(a.polygon))
}

// Boundaries returns the padded region of the annotation: origin in level-0
// pixels, size in pixels of level. Padding is given in level-0 pixels.
func (a *Annotation) Boundaries(level, padding int) (origin, size image.Point, err error) {
	downsample, err := a.slide.LevelDownsample(level)
	if err != nil {
		return image.Point{}, image.Point{}, err
	}
	origin, size, err = geometry.ComputeBoundaries(a.polygon, downsample, padding)
	if err != nil {
		return image.Point{}, image.Point{}, fmt.Errorf("annotation %q of slide %q: %w", a.name, a.slide.name, err)
	}
	return origin, size, nil
}

// Image reads the annotated section of the slide at level and draws the
// annotation on it, outlined in the annotation's color and filled with fill.
// A nil fill leaves the interior untouched.
func (a *Annotation) Image(level, padding int, fill color.Color) (image.Image, error) {
	outline, err := overlay.ParseColor(a.color)
	if err != nil {
		return nil, fmt.Errorf("annotation %q of slide %q: %w", a.name, a.slide.name, err)
	}

	origin, size, err := a.Boundaries(level, padding)
	if err != nil {
		return nil, err
	}
	downsample, err := a.slide.LevelDownsample(level)
	if err != nil {
		return nil, err
	}

	region, err := a.slide.ReadRegion(origin, level, size)
	if err != nil {
		return nil, err
	}

	local := geometry.ProjectPolygon(a.polygon, origin, downsample)
	return overlay.DrawPolygon(region, local, fill, outline), nil
}

// Contains reports whether p, in level-0 coordinates, lies inside the
// annotation polygon. Polygons with fewer than three points contain nothing.
func (a *Annotation) Contains(p geometry.Point) bool {
	if len(a.polygon) < 3 {
		return false
	}
	return planar.RingContains(a.ring, orb.Point{p.X, p.Y})
}
