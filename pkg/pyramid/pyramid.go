// Package pyramid defines the multi-resolution image provider a slide reads
// from, and ships a reference provider for flat raster files.
package pyramid

import (
	"errors"
	"image"
)

var (
	// ErrProviderIO wraps failures to read or decode the underlying image.
	ErrProviderIO = errors.New("pyramid: image read failed")
	// ErrClosed is returned by a provider used after Close.
	ErrClosed = errors.New("pyramid: provider is closed")
	// ErrInvalidLevel is returned for a level outside [0, LevelCount).
	ErrInvalidLevel = errors.New("pyramid: level out of range")
)

// Provider is a pyramidal image: the same content stored at several
// resolutions. Level 0 is full resolution.
type Provider interface {
	// LevelCount returns the number of levels.
	LevelCount() int

	// LevelDimensions returns the (width, height) of every level.
	LevelDimensions() []image.Point

	// LevelDownsamples returns the downsample factor of every level
	// relative to level 0.
	LevelDownsamples() []float64

	// ReadRegion returns size pixels of the given level. origin is the
	// top-left corner in level-0 coordinates; pixels outside the image are
	// transparent.
	ReadRegion(origin image.Point, level int, size image.Point) (image.Image, error)

	// Close releases the resources held by the provider.
	Close() error
}

// Opener opens the provider stored at path.
type Opener func(path string) (Provider, error)
