// Package store keeps an SQLite index of catalog slides and their
// precomputed Otsu thresholds.
package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"slidecat/internal/models"
	"slidecat/pkg/logger"
)

const component = "store"

//go:embed schema.sql
var schemaSQL string

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("store: closed")

// Store is an open slide database. It is safe for concurrent use.
type Store struct {
	mu  sync.RWMutex
	db  *sql.DB
	log logger.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to logger.Nop.
func WithLogger(log logger.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// Open opens or creates the database at path and applies the schema.
// Parent directories are created as needed.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	s.db = db

	s.log.Debug(component, "store opened", map[string]interface{}{"file": path})
	return s, nil
}

// Close releases the database. Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// SaveSlides inserts or updates records by name in one transaction. A
// record without ID keeps the ID already stored for its name, or gets a new
// UUID v7. IndexedAt is set to now.
func (s *Store) SaveSlides(records []models.SlideRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return ErrClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, rec := range records {
		id := rec.ID
		if id == "" {
			err := tx.QueryRow("SELECT slide_id FROM slides WHERE name = ?", rec.Name).Scan(&id)
			if errors.Is(err, sql.ErrNoRows) {
				newID, err := uuid.NewV7()
				if err != nil {
					return fmt.Errorf("generating UUID v7: %w", err)
				}
				id = newID.String()
			} else if err != nil {
				return fmt.Errorf("looking up slide %s: %w", rec.Name, err)
			}
		}

		var stage sql.NullString
		if rec.HasStage {
			stage = sql.NullString{String: rec.Stage, Valid: true}
		}

		_, err = tx.Exec(`INSERT INTO slides (slide_id, name, path, annotation_path, stage, partition, has_tumor, indexed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
    slide_id = excluded.slide_id,
    path = excluded.path,
    annotation_path = excluded.annotation_path,
    stage = excluded.stage,
    partition = excluded.partition,
    has_tumor = excluded.has_tumor,
    indexed_at = excluded.indexed_at`,
			id, rec.Name, rec.Path, rec.AnnotationPath, stage, string(rec.Partition), rec.HasTumor, now)
		if err != nil {
			return fmt.Errorf("saving slide %s: %w", rec.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing slides: %w", err)
	}
	s.log.Info(component, "slides saved", map[string]interface{}{"count": len(records)})
	return nil
}

// ListSlides returns every stored slide ordered by name.
func (s *Store) ListSlides() ([]models.SlideRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`SELECT slide_id, name, path, annotation_path, stage, partition, has_tumor, indexed_at
FROM slides ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing slides: %w", err)
	}
	defer rows.Close()

	var out []models.SlideRecord
	for rows.Next() {
		var (
			rec       models.SlideRecord
			stage     sql.NullString
			partition string
			indexedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Path, &rec.AnnotationPath, &stage, &partition, &rec.HasTumor, &indexedAt); err != nil {
			return nil, fmt.Errorf("scanning slide: %w", err)
		}
		rec.Stage, rec.HasStage = stage.String, stage.Valid
		rec.Partition = models.Partition(partition)
		if rec.IndexedAt, err = time.Parse(time.RFC3339, indexedAt); err != nil {
			return nil, fmt.Errorf("slide %s: parsing indexed_at: %w", rec.Name, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveThreshold stores the threshold of one slide level, replacing any
// previous value.
func (s *Store) SaveThreshold(slideName string, level int, value float64) error {
	return s.SaveThresholds([]models.ThresholdRecord{{Slide: slideName, Level: level, Value: value}})
}

// SaveThresholds stores records in one transaction.
func (s *Store) SaveThresholds(records []models.ThresholdRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return ErrClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		if rec.Slide == "" || rec.Level < 0 {
			return fmt.Errorf("invalid threshold record %+v", rec)
		}
		_, err := tx.Exec(`INSERT INTO otsu_thresholds (slide_name, level, threshold) VALUES (?, ?, ?)
ON CONFLICT(slide_name, level) DO UPDATE SET threshold = excluded.threshold`,
			rec.Slide, rec.Level, rec.Value)
		if err != nil {
			return fmt.Errorf("saving threshold %s/%d: %w", rec.Slide, rec.Level, err)
		}
	}
	return tx.Commit()
}

// Thresholds returns the stored thresholds of a slide keyed by level. A
// slide without thresholds yields an empty map.
func (s *Store) Thresholds(slideName string) (map[int]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.Query("SELECT level, threshold FROM otsu_thresholds WHERE slide_name = ?", slideName)
	if err != nil {
		return nil, fmt.Errorf("loading thresholds of %s: %w", slideName, err)
	}
	defer rows.Close()

	out := make(map[int]float64)
	for rows.Next() {
		var (
			level int
			value float64
		)
		if err := rows.Scan(&level, &value); err != nil {
			return nil, fmt.Errorf("scanning threshold: %w", err)
		}
		out[level] = value
	}
	return out, rows.Err()
}
