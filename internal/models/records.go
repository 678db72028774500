package models

import (
	"time"
)

// Partition names a slide's group within the catalog.
type Partition string

const (
	PartitionNegative Partition = "negative"
	PartitionTumor    Partition = "tumor"
	PartitionCustom   Partition = "custom"
)

// SlideRecord is the persisted form of one catalog slide
type SlideRecord struct {
	// ID is a UUID v7 assigned when the slide is first indexed
	ID string

	// Name is the catalog key
	Name string

	// Path is the image file
	Path string

	// AnnotationPath is the annotation file, empty if not annotated
	AnnotationPath string

	// Stage is the pN stage label; HasStage tells an empty label from none
	Stage    string
	HasStage bool

	// Partition is the catalog group the slide was discovered in
	Partition Partition

	// HasTumor mirrors the slide's classification at indexing time
	HasTumor bool

	// IndexedAt is when the record was last written
	IndexedAt time.Time
}

// Annotated reports whether the record carries an annotation file.
func (r SlideRecord) Annotated() bool {
	return r.AnnotationPath != ""
}

// ThresholdRecord is a precomputed Otsu threshold of one slide level
type ThresholdRecord struct {
	Slide string
	Level int
	Value float64
}
