package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"slidecat/internal/models"
	"slidecat/pkg/catalog"
	"slidecat/pkg/slide"
)

// ErrBadCSV is returned for a malformed threshold CSV.
var ErrBadCSV = errors.New("store: malformed threshold csv")

// ImportThresholdsCSV reads "slide,level,threshold" rows, with an optional
// header, and stores them in one transaction. Slide columns may carry a file
// extension. It returns the number of rows imported.
func (s *Store) ImportThresholdsCSV(r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = 3

	var records []models.ThresholdRecord
	for row := 1; ; row++ {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBadCSV, err)
		}
		level, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			if row == 1 {
				continue
			}
			return 0, fmt.Errorf("%w: row %d: level %q", ErrBadCSV, row, fields[1])
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: row %d: threshold %q", ErrBadCSV, row, fields[2])
		}
		records = append(records, models.ThresholdRecord{
			Slide: catalog.SlideName(strings.TrimSpace(fields[0])),
			Level: level,
			Value: value,
		})
	}

	if err := s.SaveThresholds(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// RecordsFromCatalog converts every slide of m to its persisted form.
func RecordsFromCatalog(m *catalog.Manager) []models.SlideRecord {
	partitions := make(map[string]models.Partition, m.Len())
	for _, s := range m.NegativeSlides() {
		partitions[s.Name()] = models.PartitionNegative
	}
	for _, s := range m.TumorSlides() {
		partitions[s.Name()] = models.PartitionTumor
	}

	slides := m.Slides()
	out := make([]models.SlideRecord, len(slides))
	for i, s := range slides {
		partition, ok := partitions[s.Name()]
		if !ok {
			partition = models.PartitionCustom
		}
		out[i] = recordOf(s, partition)
	}
	return out
}

func recordOf(s *slide.Slide, partition models.Partition) models.SlideRecord {
	stage, hasStage := s.Stage()
	return models.SlideRecord{
		Name:           s.Name(),
		Path:           s.Path(),
		AnnotationPath: s.AnnotationPath(),
		Stage:          stage,
		HasStage:       hasStage,
		Partition:      partition,
		HasTumor:       s.HasTumor(),
	}
}
