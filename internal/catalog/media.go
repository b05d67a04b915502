// Package catalog persists metadata about captured media so listing and
// retention do not have to rescan the media directories.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/motiontrap/camnode/internal/logger"
)

// Media kinds
const (
	KindPhoto = "photo"
	KindVideo = "video"
)

// Media is one catalog entry for a captured file
type Media struct {
	ID            string
	Kind          string
	FileName      string
	Path          string
	SizeBytes     int64
	FrameCount    int
	DurationMS    uint64
	ClaimedTimeMS uint64
	CreatedAt     time.Time
}

// Stats summarizes the catalog contents
type Stats struct {
	Photos         int
	Videos         int
	TotalSizeBytes int64
}

// Manager provides catalog operations over the database
type Manager struct {
	db     *Database
	logger *logger.Logger
}

// NewManager creates a catalog manager
func NewManager(db *Database, log *logger.Logger) *Manager {
	return &Manager{db: db, logger: log}
}

// SaveMedia inserts or replaces a catalog entry
func (m *Manager) SaveMedia(ctx context.Context, media Media) error {
	if media.ID == "" {
		return fmt.Errorf("media id is required")
	}
	if media.Kind != KindPhoto && media.Kind != KindVideo {
		return fmt.Errorf("unknown media kind %q", media.Kind)
	}

	createdAt := media.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := m.db.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO media
			(id, kind, file_name, path, size_bytes, frame_count, duration_ms, claimed_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		media.ID, media.Kind, media.FileName, media.Path, media.SizeBytes,
		media.FrameCount, media.DurationMS, media.ClaimedTimeMS, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save media entry: %w", err)
	}

	m.logger.Debug("Media entry saved",
		"id", media.ID,
		"kind", media.Kind,
		"file", media.FileName,
	)
	return nil
}

// GetMedia fetches one entry by id
func (m *Manager) GetMedia(ctx context.Context, id string) (*Media, error) {
	row := m.db.db.QueryRowContext(ctx, `
		SELECT id, kind, file_name, path, size_bytes, frame_count, duration_ms, claimed_time_ms, created_at
		FROM media WHERE id = ?`, id)

	media, err := scanMedia(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media entry: %w", err)
	}
	return media, nil
}

// ListMedia returns entries of one kind, newest first
func (m *Manager) ListMedia(ctx context.Context, kind string, limit int) ([]Media, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := m.db.db.QueryContext(ctx, `
		SELECT id, kind, file_name, path, size_bytes, frame_count, duration_ms, claimed_time_ms, created_at
		FROM media WHERE kind = ?
		ORDER BY created_at DESC
		LIMIT ?`, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list media: %w", err)
	}
	defer rows.Close()

	var result []Media
	for rows.Next() {
		media, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media row: %w", err)
		}
		result = append(result, *media)
	}
	return result, rows.Err()
}

// ListOlderThan returns entries created before the cutoff, oldest first
func (m *Manager) ListOlderThan(ctx context.Context, cutoff time.Time) ([]Media, error) {
	rows, err := m.db.db.QueryContext(ctx, `
		SELECT id, kind, file_name, path, size_bytes, frame_count, duration_ms, claimed_time_ms, created_at
		FROM media WHERE created_at < ?
		ORDER BY created_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired media: %w", err)
	}
	defer rows.Close()

	var result []Media
	for rows.Next() {
		media, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media row: %w", err)
		}
		result = append(result, *media)
	}
	return result, rows.Err()
}

// DeleteMedia removes an entry by id
func (m *Manager) DeleteMedia(ctx context.Context, id string) error {
	_, err := m.db.db.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete media entry: %w", err)
	}
	return nil
}

// GetStats summarizes the catalog
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := m.db.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN kind = ? THEN 1 END),
			COUNT(CASE WHEN kind = ? THEN 1 END),
			COALESCE(SUM(size_bytes), 0)
		FROM media`, KindPhoto, KindVideo,
	).Scan(&stats.Photos, &stats.Videos, &stats.TotalSizeBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog stats: %w", err)
	}
	return stats, nil
}

// scanner covers both sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMedia(s scanner) (*Media, error) {
	var media Media
	err := s.Scan(
		&media.ID, &media.Kind, &media.FileName, &media.Path, &media.SizeBytes,
		&media.FrameCount, &media.DurationMS, &media.ClaimedTimeMS, &media.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &media, nil
}
