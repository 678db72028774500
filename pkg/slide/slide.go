// Package slide models one whole-slide image together with its tumor
// annotations.
//
// A Slide owns the pyramid provider it reads from. The provider is opened on
// first use and released by Close, so a catalog of thousands of slides does
// not hold thousands of open images.
package slide

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"gonum.org/v1/gonum/spatial/kdtree"

	"slidecat/pkg/annotation"
	"slidecat/pkg/geometry"
	"slidecat/pkg/logger"
	"slidecat/pkg/pyramid"
)

// StageNegative is the stage label of slides without metastases.
const StageNegative = "negative"

const component = "slide"

var (
	// ErrThresholdNotPrecomputed is returned by OtsuThreshold for a level
	// without a stored threshold. Callers are expected to handle it.
	ErrThresholdNotPrecomputed = errors.New("slide: otsu threshold not precomputed")
	// ErrLevelOutOfRange is returned for a level the provider does not have.
	ErrLevelOutOfRange = errors.New("slide: level out of range")
)

// Slide is a named pyramidal image with optional annotations, stage label
// and precomputed Otsu thresholds. Identity fields never change after New.
type Slide struct {
	name           string
	path           string
	annotationPath string
	stage          string
	hasStage       bool
	thresholds     map[int]float64

	open pyramid.Opener
	log  logger.Logger

	providerMu sync.Mutex
	provider   pyramid.Provider

	annotationsMu sync.Mutex
	annotations   []*Annotation
	parsed        bool

	indexMu    sync.Mutex
	index      *kdtree.Tree
	indexBuilt bool
}

// Option configures a Slide.
type Option func(*Slide)

// WithAnnotationPath marks the slide as annotated by the XML file at path.
func WithAnnotationPath(path string) Option {
	return func(s *Slide) { s.annotationPath = path }
}

// WithStage sets the pN stage label.
func WithStage(stage string) Option {
	return func(s *Slide) {
		s.stage = stage
		s.hasStage = true
	}
}

// WithOtsuThresholds sets the per-level thresholds. The map may be sparse and
// is copied.
func WithOtsuThresholds(thresholds map[int]float64) Option {
	return func(s *Slide) {
		for level, v := range thresholds {
			s.thresholds[level] = v
		}
	}
}

// WithOpener sets how the slide's provider is opened. Defaults to pyramid.Open.
func WithOpener(open pyramid.Opener) Option {
	return func(s *Slide) {
		if open != nil {
			s.open = open
		}
	}
}

// WithLogger sets the logger. Defaults to logger.Nop.
func WithLogger(log logger.Logger) Option {
	return func(s *Slide) {
		if log != nil {
			s.log = log
		}
	}
}

// New creates a slide for the image at path. The image is not opened.
func New(name, path string, opts ...Option) *Slide {
	s := &Slide{
		name:       name,
		path:       path,
		thresholds: make(map[int]float64),
		open:       pyramid.Open,
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the catalog key of the slide.
func (s *Slide) Name() string { return s.name }

// Path returns the image path.
func (s *Slide) Path() string { return s.path }

// AnnotationPath returns the annotation file path, empty if not annotated.
func (s *Slide) AnnotationPath() string { return s.annotationPath }

// Stage returns the stage label and whether one was set.
func (s *Slide) Stage() (string, bool) { return s.stage, s.hasStage }

// IsAnnotated reports whether the slide has an annotation file.
func (s *Slide) IsAnnotated() bool { return s.annotationPath != "" }

// HasTumor reports whether the slide is annotated or carries a stage other
// than negative.
func (s *Slide) HasTumor() bool {
	return s.IsAnnotated() || (s.hasStage && s.stage != StageNegative)
}

// String implements fmt.Stringer.
func (s *Slide) String() string {
	if s.IsAnnotated() {
		return fmt.Sprintf("Slide(%q, %q, annotations=%q)", s.name, s.path, s.annotationPath)
	}
	return fmt.Sprintf("Slide(%q, %q)", s.name, s.path)
}

// Annotations returns the slide's annotations in file order. The annotation
// file is parsed on the first successful call only; a failed parse is
// reported and retried on the next call. Slides without an annotation file
// return an empty slice. The returned slice is a copy owned by the caller.
func (s *Slide) Annotations() ([]*Annotation, error) {
	s.annotationsMu.Lock()
	defer s.annotationsMu.Unlock()

	if s.parsed {
		return s.annotationsCopy(), nil
	}

	if !s.IsAnnotated() {
		s.annotations = []*Annotation{}
		s.parsed = true
		return s.annotationsCopy(), nil
	}

	s.log.Debug(component, "reading annotations", map[string]interface{}{
		"slide": s.name,
		"file":  s.annotationPath,
	})
	records, err := annotation.ParseFile(s.annotationPath)
	if err != nil {
		s.log.Error(component, err, map[string]interface{}{"slide": s.name})
		return nil, err
	}

	annotations := make([]*Annotation, len(records))
	for i, rec := range records {
		annotations[i] = newAnnotation(s, rec)
	}
	s.annotations = annotations
	s.parsed = true
	return s.annotationsCopy(), nil
}

func (s *Slide) annotationsCopy() []*Annotation {
	out := make([]*Annotation, len(s.annotations))
	copy(out, s.annotations)
	return out
}

// AnnotationsAt returns the annotations whose polygon contains p, given in
// level-0 coordinates.
func (s *Slide) AnnotationsAt(p geometry.Point) ([]*Annotation, error) {
	annotations, err := s.Annotations()
	if err != nil {
		return nil, err
	}
	var hits []*Annotation
	for _, a := range annotations {
		if a.Contains(p) {
			hits = append(hits, a)
		}
	}
	return hits, nil
}

// OtsuThreshold returns the precomputed threshold for level or
// ErrThresholdNotPrecomputed.
func (s *Slide) OtsuThreshold(level int) (float64, error) {
	v, ok := s.LookupOtsuThreshold(level)
	if !ok {
		return 0, fmt.Errorf("%w: slide %q level %d", ErrThresholdNotPrecomputed, s.name, level)
	}
	return v, nil
}

// LookupOtsuThreshold returns the precomputed threshold for level and
// whether it exists.
func (s *Slide) LookupOtsuThreshold(level int) (float64, bool) {
	v, ok := s.thresholds[level]
	return v, ok
}

// OtsuThresholds returns a copy of the per-level thresholds.
func (s *Slide) OtsuThresholds() map[int]float64 {
	out := make(map[int]float64, len(s.thresholds))
	for k, v := range s.thresholds {
		out[k] = v
	}
	return out
}

// LevelCount returns the number of pyramid levels.
func (s *Slide) LevelCount() (int, error) {
	p, err := s.acquire()
	if err != nil {
		return 0, err
	}
	return p.LevelCount(), nil
}

// LevelDimensions returns the (width, height) of level.
func (s *Slide) LevelDimensions(level int) (image.Point, error) {
	p, err := s.acquire()
	if err != nil {
		return image.Point{}, err
	}
	dims := p.LevelDimensions()
	if level < 0 || level >= len(dims) {
		return image.Point{}, fmt.Errorf("%w: %d (slide %q has %d)", ErrLevelOutOfRange, level, s.name, len(dims))
	}
	return dims[level], nil
}

// LevelDownsample returns the downsample factor of level.
func (s *Slide) LevelDownsample(level int) (float64, error) {
	p, err := s.acquire()
	if err != nil {
		return 0, err
	}
	ds := p.LevelDownsamples()
	if level < 0 || level >= len(ds) {
		return 0, fmt.Errorf("%w: %d (slide %q has %d)", ErrLevelOutOfRange, level, s.name, len(ds))
	}
	return ds[level], nil
}

// ReadRegion reads size pixels of level starting at origin, given in level-0
// coordinates. Provider errors are returned unchanged.
func (s *Slide) ReadRegion(origin image.Point, level int, size image.Point) (image.Image, error) {
	p, err := s.acquire()
	if err != nil {
		return nil, err
	}
	return p.ReadRegion(origin, level, size)
}

// FullSlide returns the complete image of level.
func (s *Slide) FullSlide(level int) (image.Image, error) {
	dims, err := s.LevelDimensions(level)
	if err != nil {
		return nil, err
	}
	return s.ReadRegion(image.Point{}, level, dims)
}

// Close releases the provider. The next read opens it again.
func (s *Slide) Close() error {
	s.providerMu.Lock()
	defer s.providerMu.Unlock()

	if s.provider == nil {
		return nil
	}
	err := s.provider.Close()
	s.provider = nil
	return err
}

// acquire returns the open provider, opening it if needed.
func (s *Slide) acquire() (pyramid.Provider, error) {
	s.providerMu.Lock()
	defer s.providerMu.Unlock()

	if s.provider != nil {
		return s.provider, nil
	}
	p, err := s.open(s.path)
	if err != nil {
		s.log.Error(component, err, map[string]interface{}{"slide": s.name, "file": s.path})
		return nil, err
	}
	s.log.Debug(component, "opened image", map[string]interface{}{"slide": s.name, "levels": p.LevelCount()})
	s.provider = p
	return p, nil
}
