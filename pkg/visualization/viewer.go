package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"slidecat/pkg/logger"
	"slidecat/pkg/slide"
)

const component = "visualization"

// ManifestFile is the name of the manifest written by WriteManifest.
const ManifestFile = "manifest.yaml"

// Entry describes one exported image
type Entry struct {
	Slide      string `yaml:"slide"`
	Annotation string `yaml:"annotation,omitempty"`
	Level      int    `yaml:"level"`
	// Origin is the top-left corner in level-0 pixels
	Origin [2]int `yaml:"origin"`
	// Size is the image size in pixels of Level
	Size [2]int `yaml:"size"`
	File string `yaml:"file"`
}

// Manifest lists the images of one export run
type Manifest struct {
	RunID     string    `yaml:"runId"`
	CreatedAt time.Time `yaml:"createdAt"`
	Entries   []Entry   `yaml:"entries"`
}

// Viewer renders slides and annotations into an output directory and keeps
// a manifest of everything it wrote.
type Viewer struct {
	outputDir string
	quality   int
	log       logger.Logger

	mu       sync.Mutex
	manifest Manifest
}

// NewViewer creates a viewer writing below outputDir. Every viewer is one
// export run with its own UUID v7.
func NewViewer(outputDir string, log logger.Logger) (*Viewer, error) {
	if log == nil {
		log = logger.Nop()
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating run id: %w", err)
	}
	return &Viewer{
		outputDir: outputDir,
		quality:   90,
		log:       log,
		manifest: Manifest{
			RunID:     id.String(),
			CreatedAt: time.Now().UTC(),
		},
	}, nil
}

// RunID returns the export run identifier.
func (v *Viewer) RunID() string { return v.manifest.RunID }

// Entries returns a copy of the manifest entries recorded so far.
func (v *Viewer) Entries() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Entry, len(v.manifest.Entries))
	copy(out, v.manifest.Entries)
	return out
}

// SaveImage encodes img to filename as PNG, or JPEG for .jpg and .jpeg.
func (v *Viewer) SaveImage(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: v.quality})
	default:
		err = png.Encode(file, img)
	}
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filename, err)
	}
	return file.Close()
}

// SaveAnnotationImages renders every annotation of s at level and writes
// them to {outputDir}/{slide}/{annotation}_L{level}.png. It returns the
// written paths in annotation order.
func (v *Viewer) SaveAnnotationImages(s *slide.Slide, level, padding int, fill color.Color) ([]string, error) {
	annotations, err := s.Annotations()
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, a := range annotations {
		origin, size, err := a.Boundaries(level, padding)
		if err != nil {
			return paths, err
		}
		img, err := a.Image(level, padding, fill)
		if err != nil {
			return paths, err
		}

		path := filepath.Join(v.outputDir, s.Name(), fmt.Sprintf("%s_L%d.png", a.Name(), level))
		if err := v.SaveImage(img, path); err != nil {
			return paths, err
		}
		v.record(Entry{
			Slide:      s.Name(),
			Annotation: a.Name(),
			Level:      level,
			Origin:     [2]int{origin.X, origin.Y},
			Size:       [2]int{size.X, size.Y},
			File:       v.relative(path),
		})
		paths = append(paths, path)
	}

	v.log.Info(component, "annotation images saved", map[string]interface{}{
		"slide": s.Name(),
		"level": level,
		"count": len(paths),
	})
	return paths, nil
}

// SaveFullSlide writes the complete level of s to
// {outputDir}/{slide}/{slide}_L{level}.jpg and returns the path.
func (v *Viewer) SaveFullSlide(s *slide.Slide, level int) (string, error) {
	img, err := s.FullSlide(level)
	if err != nil {
		return "", err
	}

	path := filepath.Join(v.outputDir, s.Name(), fmt.Sprintf("%s_L%d.jpg", s.Name(), level))
	if err := v.SaveImage(img, path); err != nil {
		return "", err
	}

	b := img.Bounds()
	v.record(Entry{
		Slide: s.Name(),
		Level: level,
		Size:  [2]int{b.Dx(), b.Dy()},
		File:  v.relative(path),
	})
	v.log.Info(component, "slide level saved", map[string]interface{}{"slide": s.Name(), "level": level, "file": path})
	return path, nil
}

// WriteManifest writes the run manifest to {outputDir}/manifest.yaml.
func (v *Viewer) WriteManifest() (string, error) {
	v.mu.Lock()
	data, err := yaml.Marshal(&v.manifest)
	v.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("marshaling manifest: %w", err)
	}

	if err := os.MkdirAll(v.outputDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(v.outputDir, ManifestFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing manifest: %w", err)
	}
	return path, nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return &m, nil
}

func (v *Viewer) record(e Entry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.manifest.Entries = append(v.manifest.Entries, e)
}

func (v *Viewer) relative(path string) string {
	if rel, err := filepath.Rel(v.outputDir, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}
