package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/motiontrap/camnode/internal/catalog"
	"github.com/motiontrap/camnode/internal/logger"
)

// RetentionPolicy deletes captured media past the retention period, and
// oldest-first beyond that when the disk crosses the usage ceiling
type RetentionPolicy struct {
	retentionDays int
	catalog       *catalog.Manager
	diskMonitor   *DiskMonitor
	logger        *logger.Logger
	interval      time.Duration
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	mu            sync.Mutex
	enforcing     bool
}

// NewRetentionPolicy creates a retention policy over the capture catalog
func NewRetentionPolicy(retentionDays int, cat *catalog.Manager, monitor *DiskMonitor, log *logger.Logger) *RetentionPolicy {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &RetentionPolicy{
		retentionDays: retentionDays,
		catalog:       cat,
		diskMonitor:   monitor,
		logger:        log,
		interval:      time.Hour,
	}
}

// Name implements the managed service interface
func (r *RetentionPolicy) Name() string {
	return "retention"
}

// Start launches the periodic sweep loop
func (r *RetentionPolicy) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Run(runCtx)
	}()
	return nil
}

// Stop ends the sweep loop
func (r *RetentionPolicy) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("retention shutdown: %w", ctx.Err())
	}
}

// Run enforces the policy periodically until the context is cancelled
func (r *RetentionPolicy) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// First sweep at startup to reclaim space left from earlier runs
	if err := r.Enforce(ctx); err != nil {
		r.logger.Warn("Retention sweep failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Enforce(ctx); err != nil {
				r.logger.Warn("Retention sweep failed", "error", err)
			}
		}
	}
}

// Enforce runs one retention sweep
func (r *RetentionPolicy) Enforce(ctx context.Context) error {
	r.mu.Lock()
	if r.enforcing {
		r.mu.Unlock()
		return fmt.Errorf("retention sweep already running")
	}
	r.enforcing = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.enforcing = false
		r.mu.Unlock()
	}()

	cutoff := time.Now().Add(-time.Duration(r.retentionDays) * 24 * time.Hour)
	expired, err := r.catalog.ListOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list expired media: %w", err)
	}

	deleted := 0
	for _, media := range expired {
		if err := r.deleteMedia(ctx, media); err != nil {
			r.logger.Warn("Failed to delete expired media",
				"path", media.Path,
				"error", err,
			)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		r.logger.Info("Retention sweep removed expired media",
			"deleted", deleted,
			"cutoff", cutoff,
		)
	}

	return r.freeDiskSpace(ctx)
}

// freeDiskSpace deletes oldest media until usage drops below the ceiling
func (r *RetentionPolicy) freeDiskSpace(ctx context.Context) error {
	if r.diskMonitor == nil {
		return nil
	}

	full, err := r.diskMonitor.IsFull()
	if err != nil {
		return fmt.Errorf("failed to check disk usage: %w", err)
	}
	if !full {
		return nil
	}

	// Everything in the catalog, oldest first, is a deletion candidate
	candidates, err := r.catalog.ListOlderThan(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to list media: %w", err)
	}

	for _, media := range candidates {
		if err := r.deleteMedia(ctx, media); err != nil {
			r.logger.Warn("Failed to delete media while freeing space",
				"path", media.Path,
				"error", err,
			)
			continue
		}
		r.logger.Info("Deleted media to free disk space", "path", media.Path)

		full, err = r.diskMonitor.IsFull()
		if err != nil || !full {
			return err
		}
	}
	return nil
}

// deleteMedia removes the file and its catalog entry. A file already gone
// from disk still gets its entry cleaned up.
func (r *RetentionPolicy) deleteMedia(ctx context.Context, media catalog.Media) error {
	if err := os.Remove(media.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return r.catalog.DeleteMedia(ctx, media.ID)
}
