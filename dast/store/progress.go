package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mqxerror/qa-guardian/dast/model"
)

const (
	progressKeyPrefix = "dast:scan:progress:"
	summaryKeyPrefix  = "dast:scan:summary:"

	// progressTTL bounds how long a stale progress snapshot can linger
	// after a worker dies without finalizing.
	progressTTL = time.Hour

	// summaryRetention caps how many finished-scan summaries stay cached.
	summaryRetention = 20
)

// ProgressCache publishes live scan progress and finished-scan summaries
// so status polling does not hit the database on every request. All writes
// come from the scan's owning worker; readers get whole snapshots.
type ProgressCache struct {
	kv KVStore
}

// NewProgressCache wraps a KVStore.
func NewProgressCache(kv KVStore) *ProgressCache {
	return &ProgressCache{kv: kv}
}

// SaveProgress writes the full progress object for a scan.
func (c *ProgressCache) SaveProgress(ctx context.Context, scanID string, p model.Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress for scan %s: %w", scanID, err)
	}
	return c.kv.SetValueWithTTL(ctx, progressKeyPrefix+scanID, string(data), progressTTL)
}

// GetProgress reads the cached progress for a scan; nil when absent.
func (c *ProgressCache) GetProgress(ctx context.Context, scanID string) (*model.Progress, error) {
	raw, err := c.kv.GetValue(ctx, progressKeyPrefix+scanID)
	if err != nil {
		return nil, err
	}
	var p model.Progress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("unmarshal progress for scan %s: %w", scanID, err)
	}
	return &p, nil
}

// ClearProgress drops the live snapshot once a scan is terminal.
func (c *ProgressCache) ClearProgress(ctx context.Context, scanID string) error {
	return c.kv.DeleteValue(ctx, progressKeyPrefix+scanID)
}

// SaveSummary caches the final summary of a finished scan and trims the
// cache to the retention limit. Cleanup failures are logged, not fatal.
func (c *ProgressCache) SaveSummary(ctx context.Context, scanID string, s model.Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary for scan %s: %w", scanID, err)
	}
	if err := c.kv.SetValue(ctx, summaryKey(scanID, time.Now().UTC()), string(data)); err != nil {
		return err
	}
	if err := c.cleanupSummaries(ctx); err != nil {
		slog.Warn("Failed to cleanup old summary cache entries", "error", err)
	}
	return nil
}

// summaryKey embeds a sortable timestamp so retention can keep the most
// recent entries without extra metadata.
func summaryKey(scanID string, at time.Time) string {
	return fmt.Sprintf("%s%s:%s", summaryKeyPrefix, at.Format("2006-01-02-150405"), scanID)
}

// GetLatestSummary returns the most recently cached summary and its scan
// ID.
func (c *ProgressCache) GetLatestSummary(ctx context.Context) (string, *model.Summary, error) {
	keys, err := c.kv.ListKeys(ctx, summaryKeyPrefix+"*")
	if err != nil {
		return "", nil, err
	}
	if len(keys) == 0 {
		return "", nil, fmt.Errorf("%w: no cached summaries", ErrKeyNotFound)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	raw, err := c.kv.GetValue(ctx, keys[0])
	if err != nil {
		return "", nil, err
	}
	var s model.Summary
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return "", nil, fmt.Errorf("unmarshal cached summary: %w", err)
	}

	parts := strings.SplitN(strings.TrimPrefix(keys[0], summaryKeyPrefix), ":", 2)
	scanID := ""
	if len(parts) == 2 {
		scanID = parts[1]
	}
	return scanID, &s, nil
}

func (c *ProgressCache) cleanupSummaries(ctx context.Context) error {
	keys, err := c.kv.ListKeys(ctx, summaryKeyPrefix+"*")
	if err != nil {
		return err
	}
	if len(keys) <= summaryRetention {
		return nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	for _, key := range keys[summaryRetention:] {
		if err := c.kv.DeleteValue(ctx, key); err != nil {
			slog.Warn("Failed to delete old summary cache entry", "key", key, "error", err)
		}
	}
	return nil
}
