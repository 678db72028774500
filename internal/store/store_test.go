package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidecat/internal/models"
	"slidecat/pkg/catalog"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "slidecat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db", "slidecat.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err)

	// reopening an existing database keeps the schema
	s, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestCloseIsIdempotent(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.ListSlides()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Thresholds("a")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.SaveSlides(nil), ErrClosed)
	assert.ErrorIs(t, s.SaveThreshold("a", 0, 1), ErrClosed)
}

func TestSaveAndListSlides(t *testing.T) {
	s := openStore(t)

	records := []models.SlideRecord{
		{Name: "tumor_001", Path: "/d/tumor_001.tif", AnnotationPath: "/d/tumor_001.xml", Partition: models.PartitionTumor, HasTumor: true},
		{Name: "normal_001", Path: "/d/normal_001.tif", Stage: "negative", HasStage: true, Partition: models.PartitionNegative},
		{Name: "custom", Path: "/c/custom.tif", Stage: "", HasStage: true, Partition: models.PartitionCustom, HasTumor: true},
	}
	require.NoError(t, s.SaveSlides(records))

	got, err := s.ListSlides()
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, []string{"custom", "normal_001", "tumor_001"},
		[]string{got[0].Name, got[1].Name, got[2].Name})

	custom := got[0]
	assert.True(t, custom.HasStage)
	assert.Equal(t, "", custom.Stage)

	normal := got[1]
	assert.Equal(t, "negative", normal.Stage)
	assert.Equal(t, models.PartitionNegative, normal.Partition)
	assert.False(t, normal.Annotated())
	assert.False(t, normal.HasTumor)

	tumor := got[2]
	assert.False(t, tumor.HasStage)
	assert.True(t, tumor.Annotated())
	assert.True(t, tumor.HasTumor)
	assert.Equal(t, "/d/tumor_001.xml", tumor.AnnotationPath)

	for _, rec := range got {
		assert.NotEmpty(t, rec.ID)
		assert.False(t, rec.IndexedAt.IsZero())
	}
}

func TestSaveSlidesKeepsID(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.SaveSlides([]models.SlideRecord{{Name: "a", Path: "/old/a.tif", Partition: models.PartitionCustom}}))
	first, err := s.ListSlides()
	require.NoError(t, err)

	require.NoError(t, s.SaveSlides([]models.SlideRecord{{Name: "a", Path: "/new/a.tif", Partition: models.PartitionCustom}}))
	second, err := s.ListSlides()
	require.NoError(t, err)

	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, "/new/a.tif", second[0].Path)
}

func TestThresholds(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.SaveThreshold("a", 0, 6.5))
	require.NoError(t, s.SaveThreshold("a", 5, 7))
	require.NoError(t, s.SaveThreshold("a", 5, 7.25))
	require.NoError(t, s.SaveThreshold("b", 1, 3))

	got, err := s.Thresholds("a")
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{0: 6.5, 5: 7.25}, got)

	got, err = s.Thresholds("missing")
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.Error(t, s.SaveThreshold("", 0, 1))
	assert.Error(t, s.SaveThreshold("a", -1, 1))
}

func TestImportThresholdsCSV(t *testing.T) {
	s := openStore(t)

	n, err := s.ImportThresholdsCSV(strings.NewReader("slide,level,threshold\ntumor_001.tif,0,6.75\ntumor_001,4, 8\nnormal_001,0,5\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.Thresholds("tumor_001")
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{0: 6.75, 4: 8}, got)
}

func TestImportThresholdsCSVErrors(t *testing.T) {
	tests := map[string]string{
		"bad level":     "a,0,1\na,x,1\n",
		"bad threshold": "a,0,high\n",
		"short row":     "a,0\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			s := openStore(t)
			_, err := s.ImportThresholdsCSV(strings.NewReader(in))
			assert.ErrorIs(t, err, ErrBadCSV)

			got, err := s.Thresholds("a")
			require.NoError(t, err)
			assert.Empty(t, got, "failed imports store nothing")
		})
	}
}

func TestStoreAsThresholdSource(t *testing.T) {
	root := t.TempDir()
	normal := filepath.Join(root, "images", "normal")
	require.NoError(t, os.MkdirAll(normal, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(normal, "normal_001.tif"), nil, 0o644))
	custom := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(custom, "extra.tif"), nil, 0o644))

	s := openStore(t)
	require.NoError(t, s.SaveThreshold("normal_001", 2, 9.5))

	m, err := catalog.New(catalog.Options{DatasetDir: root, CustomDir: custom, Thresholds: s})
	require.NoError(t, err)

	sl, err := m.Slide("normal_001")
	require.NoError(t, err)
	v, err := sl.OtsuThreshold(2)
	require.NoError(t, err)
	assert.Equal(t, 9.5, v)

	records := RecordsFromCatalog(m)
	require.Len(t, records, 2)
	assert.Equal(t, models.PartitionNegative, records[0].Partition)
	assert.Equal(t, models.PartitionCustom, records[1].Partition)

	require.NoError(t, s.SaveSlides(records))
	listed, err := s.ListSlides()
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}
