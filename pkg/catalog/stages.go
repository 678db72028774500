package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadStagesFile reads a stage label CSV from path. See ReadStages.
func ReadStagesFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: stages file: %v", ErrConfiguration, err)
	}
	defer f.Close()

	stages, err := ReadStages(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return stages, nil
}

// ReadStages reads "file,stage" rows and keys the stages by slide name, so
// "patient_004_node_4.tif" and "patient_004_node_4" label the same slide.
// A leading "patient,stage" style header is skipped. Rows for archives
// (patient-level stages such as "patient_004.zip,pN1") are kept under their
// own name and simply match no slide.
func ReadStages(r io.Reader) (map[string]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	stages := make(map[string]string)
	for row := 0; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: stages: %v", ErrConfiguration, err)
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("%w: stages row %d: want 2 columns, got %d", ErrConfiguration, row+1, len(record))
		}
		file, stage := strings.TrimSpace(record[0]), strings.TrimSpace(record[1])
		if row == 0 && strings.EqualFold(stage, "stage") {
			continue
		}
		if file == "" {
			return nil, fmt.Errorf("%w: stages row %d: empty name", ErrConfiguration, row+1)
		}
		if stage == "" {
			return nil, fmt.Errorf("%w: stages row %d: empty stage for %q", ErrConfiguration, row+1, file)
		}
		stages[SlideName(file)] = stage
	}
	return stages, nil
}
