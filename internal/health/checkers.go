package health

import (
	"context"
	"fmt"
	"time"

	"github.com/motiontrap/camnode/internal/catalog"
	"github.com/motiontrap/camnode/internal/storage"
)

// DiskChecker reports the state of the media filesystem
type DiskChecker struct {
	store *storage.Service
}

// NewDiskChecker creates a disk space checker
func NewDiskChecker(store *storage.Service) *DiskChecker {
	return &DiskChecker{store: store}
}

func (c *DiskChecker) Name() string {
	return "disk"
}

// Check degrades when usage crosses the retention threshold; captures still
// work there because retention frees space, so it is not unhealthy.
func (c *DiskChecker) Check(ctx context.Context) Check {
	check := Check{Name: c.Name(), Timestamp: time.Now()}

	usage, err := c.store.DiskUsage()
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("failed to read disk usage: %v", err)
		return check
	}

	full, err := c.store.DiskFull()
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("failed to evaluate disk usage: %v", err)
		return check
	}

	check.Status = StatusHealthy
	if full {
		check.Status = StatusDegraded
		check.Message = "disk usage above retention threshold"
	}
	check.Details = map[string]interface{}{
		"total_bytes":     usage.TotalBytes,
		"available_bytes": usage.AvailableBytes,
		"usage_percent":   usage.UsagePercent,
	}
	return check
}

// CatalogChecker verifies the media catalog database is reachable
type CatalogChecker struct {
	db *catalog.Database
}

// NewCatalogChecker creates a catalog database checker
func NewCatalogChecker(db *catalog.Database) *CatalogChecker {
	return &CatalogChecker{db: db}
}

func (c *CatalogChecker) Name() string {
	return "catalog"
}

func (c *CatalogChecker) Check(ctx context.Context) Check {
	check := Check{Name: c.Name(), Timestamp: time.Now()}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.db.Ping(pingCtx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("catalog database unreachable: %v", err)
		return check
	}

	check.Status = StatusHealthy
	return check
}
