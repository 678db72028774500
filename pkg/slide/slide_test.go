package slide

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidecat/pkg/annotation"
	"slidecat/pkg/geometry"
	"slidecat/pkg/pyramid"
)

// fakeProvider serves opaque white regions and records what was read.
type fakeProvider struct {
	mu          sync.Mutex
	dims        []image.Point
	downsamples []float64
	readErr     error
	reads       []readCall
	closed      int
}

type readCall struct {
	origin image.Point
	level  int
	size   image.Point
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		dims:        []image.Point{{X: 4096, Y: 2048}, {X: 2048, Y: 1024}, {X: 1024, Y: 512}},
		downsamples: []float64{1, 2, 4},
	}
}

func (f *fakeProvider) LevelCount() int                { return len(f.dims) }
func (f *fakeProvider) LevelDimensions() []image.Point { return f.dims }
func (f *fakeProvider) LevelDownsamples() []float64    { return f.downsamples }

func (f *fakeProvider) ReadRegion(origin image.Point, level int, size image.Point) (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, readCall{origin: origin, level: level, size: size})
	if f.readErr != nil {
		return nil, f.readErr
	}
	img := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return img, nil
}

func (f *fakeProvider) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

// countingOpener hands out p and counts how often it was asked to.
type countingOpener struct {
	mu     sync.Mutex
	p      *fakeProvider
	err    error
	opened int
}

func (o *countingOpener) open(string) (pyramid.Provider, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened++
	if o.err != nil {
		return nil, o.err
	}
	return o.p, nil
}

const squareDoc = `<ASAP_Annotations><Annotations>
<Annotation Name="Annotation 0" Type="Polygon" PartOfGroup="metastases" Color="#0000FF">
	<Coordinates>
		<Coordinate Order="3" X="100" Y="300" />
		<Coordinate Order="0" X="100" Y="100" />
		<Coordinate Order="1" X="300" Y="100" />
		<Coordinate Order="2" X="300" Y="300" />
	</Coordinates>
</Annotation>
</Annotations></ASAP_Annotations>`

func writeAnnotation(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tumor_001.xml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestHasTumor(t *testing.T) {
	tests := []struct {
		name      string
		opts      []Option
		annotated bool
		want      bool
	}{
		{name: "plain", want: false},
		{name: "annotated", opts: []Option{WithAnnotationPath("a.xml")}, annotated: true, want: true},
		{name: "negative stage", opts: []Option{WithStage(StageNegative)}, want: false},
		{name: "positive stage", opts: []Option{WithStage("itc")}, want: true},
		{name: "empty stage is still a stage", opts: []Option{WithStage("")}, want: true},
		{name: "annotated and negative", opts: []Option{WithAnnotationPath("a.xml"), WithStage(StageNegative)}, annotated: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("s", "s.tif", tt.opts...)
			stage, hasStage := s.Stage()
			assert.Equal(t, tt.annotated, s.IsAnnotated())
			assert.Equal(t, tt.want, s.HasTumor())
			assert.Equal(t, s.IsAnnotated() || (hasStage && stage != StageNegative), s.HasTumor())
		})
	}
}

func TestOtsuThreshold(t *testing.T) {
	input := map[int]float64{0: 6.333, 5: 7.0}
	s := New("s", "s.tif", WithOtsuThresholds(input))
	input[1] = 1

	v, err := s.OtsuThreshold(5)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)

	_, err = s.OtsuThreshold(1)
	assert.ErrorIs(t, err, ErrThresholdNotPrecomputed)

	v, ok := s.LookupOtsuThreshold(0)
	assert.True(t, ok)
	assert.Equal(t, 6.333, v)

	_, ok = s.LookupOtsuThreshold(3)
	assert.False(t, ok)
	assert.Len(t, s.OtsuThresholds(), 2)
}

func TestAnnotationsNotAnnotated(t *testing.T) {
	opener := &countingOpener{p: newFakeProvider()}
	s := New("normal_001", "normal_001.tif", WithOpener(opener.open))

	annotations, err := s.Annotations()
	require.NoError(t, err)
	assert.Empty(t, annotations)
	assert.Zero(t, opener.opened, "annotations must not open the image")
}

func TestAnnotationsParsedOnce(t *testing.T) {
	path := writeAnnotation(t, squareDoc)
	s := New("tumor_001", "tumor_001.tif", WithAnnotationPath(path))

	first, err := s.Annotations()
	require.NoError(t, err)
	require.Len(t, first, 1)

	require.NoError(t, os.Remove(path))

	second, err := s.Annotations()
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Same(t, first[0], second[0])

	a := first[0]
	assert.Equal(t, "Annotation0", a.Name())
	assert.Equal(t, "Polygon", a.Type())
	assert.Equal(t, "metastases", a.Group())
	assert.Equal(t, "#0000FF", a.Color())
	assert.Same(t, s, a.Slide())
	assert.Equal(t, geometry.Polygon{{X: 100, Y: 100}, {X: 300, Y: 100}, {X: 300, Y: 300}, {X: 100, Y: 300}}, a.Polygon())
}

func TestAnnotationsReturnsCallerOwnedSlice(t *testing.T) {
	s := New("tumor_001", "tumor_001.tif", WithAnnotationPath(writeAnnotation(t, squareDoc)))

	first, err := s.Annotations()
	require.NoError(t, err)
	require.Len(t, first, 1)
	want := first[0]
	first[0] = nil

	second, err := s.Annotations()
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Same(t, want, second[0])

	plain := New("normal_001", "normal_001.tif")
	empty, err := plain.Annotations()
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestAnnotationsParseErrorIsRetried(t *testing.T) {
	path := writeAnnotation(t, `<ASAP_Annotations><Annotation Name="x"`)
	s := New("tumor_001", "tumor_001.tif", WithAnnotationPath(path))

	_, err := s.Annotations()
	assert.ErrorIs(t, err, annotation.ErrAnnotationParse)

	require.NoError(t, os.WriteFile(path, []byte(squareDoc), 0o644))
	annotations, err := s.Annotations()
	require.NoError(t, err)
	assert.Len(t, annotations, 1)
}

func TestAnnotationsConcurrentFirstAccess(t *testing.T) {
	s := New("tumor_001", "tumor_001.tif", WithAnnotationPath(writeAnnotation(t, squareDoc)))

	const workers = 16
	results := make([]*Annotation, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			annotations, err := s.Annotations()
			if err == nil && len(annotations) == 1 {
				results[i] = annotations[0]
			}
		}(i)
	}
	wg.Wait()

	require.NotNil(t, results[0])
	for _, a := range results {
		assert.Same(t, results[0], a)
	}
}

func TestAnnotationBoundaries(t *testing.T) {
	opener := &countingOpener{p: newFakeProvider()}
	s := New("tumor_001", "tumor_001.tif",
		WithAnnotationPath(writeAnnotation(t, squareDoc)),
		WithOpener(opener.open))

	annotations, err := s.Annotations()
	require.NoError(t, err)

	origin, size, err := annotations[0].Boundaries(2, 20)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(80, 80), origin, "origin stays in level-0 pixels")
	assert.Equal(t, image.Pt(60, 60), size, "size is divided by the level-2 downsample")

	_, _, err = annotations[0].Boundaries(7, 0)
	assert.ErrorIs(t, err, ErrLevelOutOfRange)
}

func TestAnnotationImage(t *testing.T) {
	provider := newFakeProvider()
	opener := &countingOpener{p: provider}
	s := New("tumor_001", "tumor_001.tif",
		WithAnnotationPath(writeAnnotation(t, squareDoc)),
		WithOpener(opener.open))

	annotations, err := s.Annotations()
	require.NoError(t, err)

	img, err := annotations[0].Image(1, 100, color.NRGBA{R: 255, A: 255})
	require.NoError(t, err)

	require.Len(t, provider.reads, 1)
	assert.Equal(t, readCall{origin: image.Pt(0, 0), level: 1, size: image.Pt(200, 200)}, provider.reads[0])
	assert.Equal(t, image.Rect(0, 0, 200, 200), img.Bounds())

	// (200, 200) level-0 is the polygon center, (100, 100) in the region
	r, g, b, _ := img.At(100, 100).RGBA()
	assert.Equal(t, []uint32{0xffff, 0, 0}, []uint32{r, g, b})

	// left edge at level-0 x=100 projects to x=50, blended with the fill
	r, _, b, _ = img.At(50, 100).RGBA()
	assert.Greater(t, b, uint32(0x7000))
	assert.Less(t, r, uint32(0xc000))

	// padding area is untouched white
	r, g, b, _ = img.At(10, 10).RGBA()
	assert.Equal(t, []uint32{0xffff, 0xffff, 0xffff}, []uint32{r, g, b})
}

func TestAnnotationImageProviderError(t *testing.T) {
	provider := newFakeProvider()
	provider.readErr = pyramid.ErrProviderIO
	opener := &countingOpener{p: provider}
	s := New("tumor_001", "tumor_001.tif",
		WithAnnotationPath(writeAnnotation(t, squareDoc)),
		WithOpener(opener.open))

	annotations, err := s.Annotations()
	require.NoError(t, err)

	_, err = annotations[0].Image(DefaultImageLevel-2, DefaultImagePadding, DefaultFill())
	assert.ErrorIs(t, err, pyramid.ErrProviderIO)
}

func TestDefaultFillIsNotShared(t *testing.T) {
	fill := DefaultFill()
	fill.A = 255
	assert.Equal(t, color.NRGBA{R: 50, G: 50, B: 50, A: 80}, DefaultFill())
}

func TestAnnotationContains(t *testing.T) {
	s := New("tumor_001", "tumor_001.tif", WithAnnotationPath(writeAnnotation(t, squareDoc)))

	hits, err := s.AnnotationsAt(geometry.Point{X: 150, Y: 250})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Annotation0", hits[0].Name())

	hits, err = s.AnnotationsAt(geometry.Point{X: 50, Y: 250})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFullSlide(t *testing.T) {
	provider := newFakeProvider()
	opener := &countingOpener{p: provider}
	s := New("normal_001", "normal_001.tif", WithOpener(opener.open))

	img, err := s.FullSlide(2)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 1024, 512), img.Bounds())
	assert.Equal(t, readCall{origin: image.Point{}, level: 2, size: image.Pt(1024, 512)}, provider.reads[0])

	_, err = s.FullSlide(3)
	assert.ErrorIs(t, err, ErrLevelOutOfRange)
}

func TestProviderOpenedOnDemand(t *testing.T) {
	provider := newFakeProvider()
	opener := &countingOpener{p: provider}
	s := New("normal_001", "normal_001.tif", WithOpener(opener.open))
	assert.Zero(t, opener.opened)

	n, err := s.LevelCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, err = s.LevelDownsample(1)
	require.NoError(t, err)
	assert.Equal(t, 1, opener.opened)

	require.NoError(t, s.Close())
	assert.Equal(t, 1, provider.closed)
	require.NoError(t, s.Close())
	assert.Equal(t, 1, provider.closed, "second close is a no-op")

	_, err = s.LevelDimensions(0)
	require.NoError(t, err)
	assert.Equal(t, 2, opener.opened, "reads after close reopen the image")
}

func TestOpenErrorPropagates(t *testing.T) {
	boom := errors.New("corrupt tiff")
	opener := &countingOpener{err: boom}
	s := New("normal_001", "normal_001.tif", WithOpener(opener.open))

	_, err := s.FullSlide(0)
	assert.ErrorIs(t, err, boom)
}
