package repository

import (
	"context"
	"fmt"

	"SyncFM/model"

	"gorm.io/gorm"
)

// TrackRepository defines the interface for track catalog lookups. The sync
// engine only reads from it; ingestion (file scanning, tag extraction) is a
// separate service writing to the same table.
type TrackRepository interface {
	CreateTrack(ctx context.Context, track *model.Track) error
	GetTrackByID(ctx context.Context, id int64) (*model.Track, error)
	ListTracks(ctx context.Context, limit, offset int) ([]*model.Track, int64, error)
}

// gormTrackRepository implements TrackRepository on GORM.
type gormTrackRepository struct {
	db *gorm.DB
}

// NewGormTrackRepository creates a new instance of gormTrackRepository.
func NewGormTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db}
}

// CreateTrack adds a new track to the catalog.
func (r *gormTrackRepository) CreateTrack(ctx context.Context, track *model.Track) error {
	if err := r.db.WithContext(ctx).Create(track).Error; err != nil {
		return fmt.Errorf("failed to create track: %w", err)
	}
	return nil
}

// GetTrackByID retrieves a track by its ID. Returns nil if the track does not exist.
func (r *gormTrackRepository) GetTrackByID(ctx context.Context, id int64) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).First(&track, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query track by ID %d: %w", id, err)
	}
	return &track, nil
}

// ListTracks returns a page of the catalog ordered by artist then title, plus
// the total track count. limit <= 0 returns all tracks.
func (r *gormTrackRepository) ListTracks(ctx context.Context, limit, offset int) ([]*model.Track, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Track{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count tracks: %w", err)
	}

	q := r.db.WithContext(ctx).Order("artist ASC, title ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}

	tracks := make([]*model.Track, 0)
	if err := q.Find(&tracks).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list tracks: %w", err)
	}
	return tracks, total, nil
}
