package slide

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"

	"slidecat/pkg/geometry"
)

// vertex is one polygon point tagged with the index of its annotation.
type vertex struct {
	X, Y  float64
	owner int
}

// Compare implements the kdtree.Comparable interface
func (v vertex) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(vertex)
	switch d {
	case 0:
		return v.X - q.X
	case 1:
		return v.Y - q.Y
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (v vertex) Dims() int { return 2 }

// Distance returns the squared Euclidean distance between two vertices
func (v vertex) Distance(c kdtree.Comparable) float64 {
	q := c.(vertex)
	dx := v.X - q.X
	dy := v.Y - q.Y
	return dx*dx + dy*dy
}

// vertices satisfies kdtree.Interface
type vertices []vertex

func (p vertices) Index(i int) kdtree.Comparable         { return p[i] }
func (p vertices) Len() int                              { return len(p) }
func (p vertices) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p vertices) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(vertexPlane{vertices: p, Dim: d}, kdtree.MedianOfRandoms(vertexPlane{vertices: p, Dim: d}, 100))
}

// vertexPlane implements sort.Interface and kdtree.SortSlicer for vertices
type vertexPlane struct {
	vertices
	kdtree.Dim
}

func (p vertexPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.vertices[i].X < p.vertices[j].X
	case 1:
		return p.vertices[i].Y < p.vertices[j].Y
	default:
		panic("illegal dimension")
	}
}

func (p vertexPlane) Slice(start, end int) kdtree.SortSlicer {
	return vertexPlane{vertices: p.vertices[start:end], Dim: p.Dim}
}

func (p vertexPlane) Swap(i, j int) {
	p.vertices[i], p.vertices[j] = p.vertices[j], p.vertices[i]
}

// NearestAnnotation returns the annotation closest to p, in level-0
// coordinates, and its distance. An annotation containing p is at distance
// zero; otherwise the distance is measured to the nearest polygon vertex.
// A slide without annotations yields nil and +Inf.
func (s *Slide) NearestAnnotation(p geometry.Point) (*Annotation, float64, error) {
	annotations, err := s.Annotations()
	if err != nil {
		return nil, 0, err
	}
	for _, a := range annotations {
		if a.Contains(p) {
			return a, 0, nil
		}
	}

	tree := s.vertexTree(annotations)
	if tree == nil {
		return nil, math.Inf(1), nil
	}
	nearest, dist := tree.Nearest(vertex{X: p.X, Y: p.Y, owner: -1})
	return annotations[nearest.(vertex).owner], math.Sqrt(dist), nil
}

// vertexTree returns the KD-tree over all annotation vertices, building it
// on first use. It is nil when there are no vertices.
func (s *Slide) vertexTree(annotations []*Annotation) *kdtree.Tree {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	if s.indexBuilt {
		return s.index
	}

	var points vertices
	for i, a := range annotations {
		for _, pt := range a.polygon {
			points = append(points, vertex{X: pt.X, Y: pt.Y, owner: i})
		}
	}
	if len(points) > 0 {
		s.index = kdtree.New(points, true)
	}
	s.indexBuilt = true
	return s.index
}
