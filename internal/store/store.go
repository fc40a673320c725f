// Package store persists card image records in SQLite through GORM.
package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store is the persistence contract the processing session depends on.
type Store interface {
	// Get returns the record for key, or nil when there is none.
	Get(ctx context.Context, key string) (*Record, error)
	// SaveGenerated writes generated variants for key, creating the record if needed.
	SaveGenerated(ctx context.Context, key string, g Generated) error
}

// GormStore is the SQLite-backed Store.
type GormStore struct {
	db *gorm.DB
}

// Open opens (or creates) the SQLite database at path and migrates the schema.
func Open(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, key string) (*Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).First(&rec, "id = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return &rec, nil
}

// SaveGenerated implements Store.
func (s *GormStore) SaveGenerated(ctx context.Context, key string, g Generated) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&Record{ID: key}).Error; err != nil {
			return fmt.Errorf("ensure record %s: %w", key, err)
		}
		if err := tx.Model(&Record{ID: key}).Updates(g.columns()).Error; err != nil {
			return fmt.Errorf("save generated %s: %w", key, err)
		}
		return nil
	})
}

// Put inserts rec or replaces its source fields, keeping generated variants.
func (s *GormStore) Put(ctx context.Context, rec *Record) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "source_url", "original_blob", "has_built_in_bleed", "is_user_upload", "updated_at"}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("put %s: %w", rec.ID, err)
	}
	return nil
}

// List returns up to limit records ordered by creation time; limit <= 0 means all.
func (s *GormStore) List(ctx context.Context, limit int) ([]Record, error) {
	var recs []Record
	q := s.db.WithContext(ctx).Order("created_at, id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return recs, nil
}

// Delete removes the record for key.
func (s *GormStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&Record{}, "id = ?", key).Error; err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
