package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mqxerror/qa-guardian/dast/model"
)

// fakeKV is an in-memory KVStore for tests.
type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeKV() *fakeKV { return &fakeKV{data: make(map[string]string)} }

func (f *fakeKV) SetValue(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeKV) SetValueWithTTL(ctx context.Context, key, value string, _ time.Duration) error {
	return f.SetValue(ctx, key, value)
}

func (f *fakeKV) GetValue(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return v, nil
}

func (f *fakeKV) ListKeys(_ context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeKV) DeleteValue(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeKV) Close() error { return nil }

func TestProgressRoundTrip(t *testing.T) {
	cache := NewProgressCache(newFakeKV())
	ctx := context.Background()

	p := model.Progress{
		Phase:          model.PhasePassiveScan,
		Percentage:     42,
		URLsDiscovered: 17,
		AlertsFound:    3,
	}
	if err := cache.SaveProgress(ctx, "scan-1", p); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}

	got, err := cache.GetProgress(ctx, "scan-1")
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if got.Phase != p.Phase || got.Percentage != p.Percentage || got.AlertsFound != p.AlertsFound {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if err := cache.ClearProgress(ctx, "scan-1"); err != nil {
		t.Fatalf("ClearProgress: %v", err)
	}
	if _, err := cache.GetProgress(ctx, "scan-1"); err == nil {
		t.Error("expected error after ClearProgress")
	}
}

func TestSummaryRetention(t *testing.T) {
	kv := newFakeKV()
	cache := NewProgressCache(kv)
	ctx := context.Background()

	for i := 0; i < summaryRetention+5; i++ {
		// Distinct timestamps so keys sort deterministically.
		key := summaryKey(fmt.Sprintf("scan-%03d", i), time.Date(2025, 1, 1, 0, 0, i, 0, time.UTC))
		if err := kv.SetValue(ctx, key, `{"total":1}`); err != nil {
			t.Fatal(err)
		}
	}
	if err := cache.SaveSummary(ctx, "scan-last", model.Summary{Total: 9}); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}

	keys, _ := kv.ListKeys(ctx, summaryKeyPrefix+"*")
	if len(keys) != summaryRetention {
		t.Errorf("retention kept %d entries, want %d", len(keys), summaryRetention)
	}

	scanID, s, err := cache.GetLatestSummary(ctx)
	if err != nil {
		t.Fatalf("GetLatestSummary: %v", err)
	}
	if scanID != "scan-last" || s.Total != 9 {
		t.Errorf("latest = %s %+v, want scan-last total 9", scanID, s)
	}
}
