// Package annotation reads tumor-region annotations from ASAP XML files.
//
// A document holds zero or more Annotation elements:
//
//	<ASAP_Annotations>
//	  <Annotations>
//	    <Annotation Name="Annotation 0" Type="Polygon" PartOfGroup="metastases" Color="#F4FA58">
//	      <Coordinates>
//	        <Coordinate Order="0" X="1024.5" Y="2048.0" />
//	        ...
//
// Coordinate elements are not guaranteed to appear in drawing order on disk,
// so points are sorted by their Order attribute before the polygon is built.
package annotation

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"slidecat/pkg/geometry"
)

// ErrAnnotationParse is returned for malformed documents and missing or
// invalid attributes. No partial result accompanies it.
var ErrAnnotationParse = errors.New("annotation: parse failed")

const (
	elemAnnotation = "Annotation"
	elemCoordinate = "Coordinate"
)

// Record is one annotation as read from the file.
type Record struct {
	Name    string // whitespace removed
	Type    string
	Group   string // PartOfGroup attribute
	Color   string // as written, usually "#RRGGBB"
	Polygon geometry.Polygon
}

type coordinate struct {
	order int
	point geometry.Point
}

// ParseFile reads all annotations from the XML file at path.
func ParseFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrAnnotationParse, path, err)
	}
	defer f.Close()

	records, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// Parse reads all annotations from an XML document. Every Annotation element
// in the document yields a record, and every Coordinate element nested below
// it contributes a point.
func Parse(r io.Reader) ([]Record, error) {
	dec := xml.NewDecoder(r)

	var (
		records []Record
		current *Record
		coords  []coordinate
		depth   int // element depth of the open Annotation, 0 when none
		level   int
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAnnotationParse, err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			level++
			switch el.Name.Local {
			case elemAnnotation:
				if current != nil {
					return nil, fmt.Errorf("%w: nested %s element at line %d",
						ErrAnnotationParse, elemAnnotation, line(dec))
				}
				rec, err := annotationRecord(el)
				if err != nil {
					return nil, fmt.Errorf("%w: line %d: %w", ErrAnnotationParse, line(dec), err)
				}
				current = &rec
				coords = coords[:0]
				depth = level
			case elemCoordinate:
				if current == nil {
					continue
				}
				c, err := parseCoordinate(el)
				if err != nil {
					return nil, fmt.Errorf("%w: annotation %q line %d: %w",
						ErrAnnotationParse, current.Name, line(dec), err)
				}
				coords = append(coords, c)
			}
		case xml.EndElement:
			if current != nil && level == depth && el.Name.Local == elemAnnotation {
				current.Polygon = buildPolygon(coords)
				records = append(records, *current)
				current = nil
				depth = 0
			}
			level--
		}
	}

	if current != nil {
		return nil, fmt.Errorf("%w: unterminated %s element", ErrAnnotationParse, elemAnnotation)
	}
	return records, nil
}

func annotationRecord(el xml.StartElement) (Record, error) {
	var rec Record
	for _, attr := range []struct {
		name string
		dst  *string
	}{
		{"Name", &rec.Name},
		{"Type", &rec.Type},
		{"PartOfGroup", &rec.Group},
		{"Color", &rec.Color},
	} {
		v, ok := attrValue(el, attr.name)
		if !ok {
			return Record{}, fmt.Errorf("missing %s attribute", attr.name)
		}
		*attr.dst = v
	}
	rec.Name = strings.Join(strings.Fields(rec.Name), "")
	return rec, nil
}

func parseCoordinate(el xml.StartElement) (coordinate, error) {
	var c coordinate

	raw, ok := attrValue(el, "Order")
	if !ok {
		return c, errors.New("coordinate missing Order attribute")
	}
	order, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return c, fmt.Errorf("coordinate Order %q: %w", raw, err)
	}
	c.order = order

	for _, axis := range []struct {
		name string
		dst  *float64
	}{
		{"X", &c.point.X},
		{"Y", &c.point.Y},
	} {
		raw, ok := attrValue(el, axis.name)
		if !ok {
			return c, fmt.Errorf("coordinate %d missing %s attribute", order, axis.name)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return c, fmt.Errorf("coordinate %d %s %q: %w", order, axis.name, raw, err)
		}
		*axis.dst = v
	}
	return c, nil
}

// buildPolygon orders the coordinates by their Order attribute. Equal orders
// keep their document order.
func buildPolygon(coords []coordinate) geometry.Polygon {
	sorted := make([]coordinate, len(coords))
	copy(sorted, coords)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].order < sorted[j].order
	})

	polygon := make(geometry.Polygon, len(sorted))
	for i, c := range sorted {
		polygon[i] = c.point
	}
	return polygon
}

func attrValue(el xml.StartElement, name string) (string, bool) {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func line(dec *xml.Decoder) int {
	l, _ := dec.InputPos()
	return l
}
