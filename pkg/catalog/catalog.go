// Package catalog discovers whole-slide images on disk and indexes them by
// name.
//
// A labeled dataset root follows the convention
//
//	{root}/images/normal/*.tif
//	{root}/images/metaplasia/*.tif
//	{root}/images/annotations/{name}.xml
//
// and an optional custom root is a flat folder of images. A Manager is built
// once by New and never changes afterwards.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"slidecat/pkg/logger"
	"slidecat/pkg/pyramid"
	"slidecat/pkg/slide"
)

const component = "catalog"

// Default folder names and file pattern.
const (
	DefaultNegativeFolder    = "normal"
	DefaultTumorFolder       = "metaplasia"
	DefaultAnnotationsFolder = "annotations"
	DefaultPattern           = "*.tif"

	imagesFolder        = "images"
	annotationExtension = ".xml"
)

var (
	// ErrConfiguration is returned when no usable dataset root is given.
	ErrConfiguration = errors.New("catalog: invalid configuration")
	// ErrDuplicateName is returned when two images map to the same slide name.
	ErrDuplicateName = errors.New("catalog: duplicate slide name")
	// ErrMissingAnnotation is returned for a tumor image without annotation file.
	ErrMissingAnnotation = errors.New("catalog: missing annotation file")
	// ErrSlideNotFound is returned by Slide for an unknown name.
	ErrSlideNotFound = errors.New("catalog: slide not found")
)

// ThresholdSource supplies precomputed Otsu thresholds per slide. The
// returned map may be empty or sparse.
type ThresholdSource interface {
	Thresholds(slideName string) (map[int]float64, error)
}

// Options configures New. Zero values select the defaults.
type Options struct {
	// DatasetDir is the labeled dataset root.
	DatasetDir string
	// CustomDir is a flat folder of unlabeled images.
	CustomDir string

	NegativeFolder    string
	TumorFolder       string
	AnnotationsFolder string

	// Patterns are matched against image base names.
	Patterns []string

	// StagesFile is an optional CSV of "name,stage" rows for DatasetDir
	// slides.
	StagesFile string

	Thresholds ThresholdSource
	Opener     pyramid.Opener
	Logger     logger.Logger
}

func (o *Options) applyDefaults() {
	if o.NegativeFolder == "" {
		o.NegativeFolder = DefaultNegativeFolder
	}
	if o.TumorFolder == "" {
		o.TumorFolder = DefaultTumorFolder
	}
	if o.AnnotationsFolder == "" {
		o.AnnotationsFolder = DefaultAnnotationsFolder
	}
	if len(o.Patterns) == 0 {
		o.Patterns = []string{DefaultPattern}
	}
	if o.Opener == nil {
		o.Opener = pyramid.Open
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
}

func (o *Options) validate() error {
	if o.DatasetDir == "" && o.CustomDir == "" {
		return fmt.Errorf("%w: no dataset directory given", ErrConfiguration)
	}
	for _, dir := range []string{o.DatasetDir, o.CustomDir} {
		if dir == "" {
			continue
		}
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", ErrConfiguration, dir)
		}
	}
	for _, pattern := range o.Patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("%w: pattern %q: %v", ErrConfiguration, pattern, err)
		}
	}
	return nil
}

// Manager is the immutable index of discovered slides.
type Manager struct {
	slides   []*slide.Slide
	byName   map[string]*slide.Slide
	negative []*slide.Slide
	tumor    []*slide.Slide
	heldOut  []*slide.Slide
	log      logger.Logger
}

// New discovers every slide under the configured roots. Any failure aborts
// construction and no Manager is returned.
func New(opts Options) (*Manager, error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	b := &builder{
		opts: opts,
		m: &Manager{
			byName: make(map[string]*slide.Slide),
			log:    opts.Logger,
		},
		origins: make(map[string]string),
	}

	if opts.DatasetDir != "" {
		if opts.StagesFile != "" {
			stages, err := ReadStagesFile(opts.StagesFile)
			if err != nil {
				return nil, err
			}
			b.stages = stages
		}
		if err := b.addDataset(opts.DatasetDir); err != nil {
			return nil, err
		}
	}
	if opts.CustomDir != "" {
		if err := b.addCustom(opts.CustomDir); err != nil {
			return nil, err
		}
	}

	opts.Logger.Info(component, "catalog built", map[string]interface{}{
		"slides":   len(b.m.slides),
		"negative": len(b.m.negative),
		"tumor":    len(b.m.tumor),
	})
	return b.m, nil
}

// builder accumulates a Manager during New.
type builder struct {
	opts    Options
	m       *Manager
	stages  map[string]string
	origins map[string]string
}

func (b *builder) addDataset(root string) error {
	images := filepath.Join(root, imagesFolder)
	annotations := filepath.Join(images, b.opts.AnnotationsFolder)

	negatives, err := b.findImages(filepath.Join(images, b.opts.NegativeFolder))
	if err != nil {
		return err
	}
	for _, path := range negatives {
		s, err := b.add(path, nil)
		if err != nil {
			return err
		}
		if s.HasTumor() {
			stage, _ := s.Stage()
			b.m.log.Warning(component, "staged slide in negative folder left out of partitions", map[string]interface{}{
				"slide": s.Name(),
				"stage": stage,
			})
			continue
		}
		b.m.negative = append(b.m.negative, s)
	}

	tumors, err := b.findImages(filepath.Join(images, b.opts.TumorFolder))
	if err != nil {
		return err
	}
	for _, path := range tumors {
		annotationPath := filepath.Join(annotations, SlideName(path)+annotationExtension)
		if err := requireFile(annotationPath); err != nil {
			return fmt.Errorf("%w: slide %q expects %s", ErrMissingAnnotation, SlideName(path), annotationPath)
		}
		s, err := b.add(path, []slide.Option{slide.WithAnnotationPath(annotationPath)})
		if err != nil {
			return err
		}
		b.m.tumor = append(b.m.tumor, s)
	}
	return nil
}

func (b *builder) addCustom(root string) error {
	paths, err := b.findImages(root)
	if err != nil {
		return err
	}
	for _, path := range paths {
		if _, err := b.addUnstaged(path, nil); err != nil {
			return err
		}
	}
	return nil
}

// add registers a dataset slide, applying its stage label if one is known.
func (b *builder) add(path string, opts []slide.Option) (*slide.Slide, error) {
	if stage, ok := b.stages[SlideName(path)]; ok {
		opts = append(opts, slide.WithStage(stage))
	}
	return b.addUnstaged(path, opts)
}

func (b *builder) addUnstaged(path string, opts []slide.Option) (*slide.Slide, error) {
	name := SlideName(path)
	if prev, ok := b.origins[name]; ok {
		return nil, fmt.Errorf("%w: %q from %s and %s", ErrDuplicateName, name, prev, path)
	}

	if b.opts.Thresholds != nil {
		thresholds, err := b.opts.Thresholds.Thresholds(name)
		if err != nil {
			return nil, fmt.Errorf("loading thresholds of %q: %w", name, err)
		}
		opts = append(opts, slide.WithOtsuThresholds(thresholds))
	}
	opts = append(opts, slide.WithOpener(b.opts.Opener), slide.WithLogger(b.opts.Logger))

	s := slide.New(name, path, opts...)
	b.origins[name] = path
	b.m.byName[name] = s
	b.m.slides = append(b.m.slides, s)

	b.opts.Logger.Debug(component, "slide added", map[string]interface{}{
		"slide":     name,
		"file":      path,
		"annotated": s.IsAnnotated(),
	})
	return s, nil
}

// findImages returns the files under dir whose base name matches one of the
// patterns, sorted by file name. A missing dir yields no files.
func (b *builder) findImages(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		b.opts.Logger.Debug(component, "folder not found", map[string]interface{}{"dir": dir})
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrConfiguration, dir)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		for _, pattern := range b.opts.Patterns {
			if ok, _ := filepath.Match(pattern, d.Name()); ok {
				paths = append(paths, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}

	sort.SliceStable(paths, func(i, j int) bool {
		bi, bj := filepath.Base(paths[i]), filepath.Base(paths[j])
		if bi != bj {
			return bi < bj
		}
		return paths[i] < paths[j]
	})
	return paths, nil
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

// SlideName returns the catalog key of an image file: its base name up to
// the first dot.
func SlideName(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		return base[:i]
	}
	return base
}

// Slide returns the slide called name.
func (m *Manager) Slide(name string) (*slide.Slide, error) {
	s, ok := m.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSlideNotFound, name)
	}
	return s, nil
}

// Slides returns every slide in discovery order.
func (m *Manager) Slides() []*slide.Slide { return clone(m.slides) }

// SlideNames returns the names of Slides.
func (m *Manager) SlideNames() []string {
	names := make([]string, len(m.slides))
	for i, s := range m.slides {
		names[i] = s.Name()
	}
	return names
}

// NegativeSlides returns the slides of the negative folder that have no
// tumor. Slides whose stage label reports a tumor are listed by Slides only.
func (m *Manager) NegativeSlides() []*slide.Slide { return clone(m.negative) }

// TumorSlides returns the annotated slides of the tumor folder.
func (m *Manager) TumorSlides() []*slide.Slide { return clone(m.tumor) }

// HeldOutSlides is reserved for a future test split and is always empty.
func (m *Manager) HeldOutSlides() []*slide.Slide { return clone(m.heldOut) }

// Len returns the number of slides.
func (m *Manager) Len() int { return len(m.slides) }

// String implements fmt.Stringer.
func (m *Manager) String() string {
	return fmt.Sprintf("Catalog contains: %d slides (%d annotated; %d negative)",
		len(m.slides), len(m.tumor), len(m.negative))
}

// Close releases the image of every slide. Slides stay usable and reopen
// their image on the next read.
func (m *Manager) Close() error {
	var errs []error
	for _, s := range m.slides {
		if err := s.Close(); err != nil {
			m.log.Error(component, err, map[string]interface{}{"slide": s.Name()})
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func clone(slides []*slide.Slide) []*slide.Slide {
	out := make([]*slide.Slide, len(slides))
	copy(out, slides)
	return out
}
