package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/insightlabs/insightcore/internal/metrics"
	"github.com/insightlabs/insightcore/internal/types"
)

// mockProcessor implements batchProcessor.
type mockProcessor struct {
	processFn func(posts []types.Post) (int, error)
	batches   [][]types.Post
}

func (m *mockProcessor) ProcessBatch(_ context.Context, posts []types.Post) (int, error) {
	m.batches = append(m.batches, posts)
	if m.processFn != nil {
		return m.processFn(posts)
	}
	return len(posts), nil
}

func newTestDriver(s EnrichmentStore, p batchProcessor, collector metrics.Collector, batchSize, batchLimit int) *Driver {
	if collector == nil {
		collector = metrics.Noop{}
	}
	return &Driver{
		store:      s,
		runner:     p,
		collector:  collector,
		vertical:   "fitness",
		batchSize:  batchSize,
		batchLimit: batchLimit,
		cooldown:   24 * time.Hour,
		dbTimeout:  5 * time.Second,
	}
}

func TestDriverRunDrainsPendingInBatches(t *testing.T) {
	ms := &mockStore{pending: testPosts("p1", "p2", "p3", "p4", "p5")}
	mp := &mockProcessor{}
	d := newTestDriver(ms, mp, nil, 2, 1000)

	summary, err := d.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Total != 5 || summary.Processed != 5 {
		t.Errorf("summary = %+v, want Total=5 Processed=5", summary)
	}
	if summary.Vertical != "fitness" {
		t.Errorf("vertical = %q, want fitness", summary.Vertical)
	}
	if len(mp.batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(mp.batches))
	}
	if len(mp.batches[0]) != 2 || len(mp.batches[1]) != 2 || len(mp.batches[2]) != 1 {
		t.Errorf("batch sizes = %d/%d/%d, want 2/2/1",
			len(mp.batches[0]), len(mp.batches[1]), len(mp.batches[2]))
	}
}

func TestDriverRunHonorsLimit(t *testing.T) {
	ms := &mockStore{pending: testPosts("p1", "p2", "p3", "p4", "p5")}
	mp := &mockProcessor{}
	d := newTestDriver(ms, mp, nil, 2, 1000)

	summary, err := d.Run(context.Background(), 3)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Total != 3 {
		t.Errorf("Total = %d, want 3", summary.Total)
	}
	if len(mp.batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(mp.batches))
	}
	if len(mp.batches[1]) != 1 {
		t.Errorf("final batch size = %d, want 1", len(mp.batches[1]))
	}
}

func TestDriverRunClampsLimitToScanLimit(t *testing.T) {
	ms := &mockStore{pending: testPosts("p1", "p2", "p3")}
	mp := &mockProcessor{}
	d := newTestDriver(ms, mp, nil, 10, 2)

	summary, err := d.Run(context.Background(), 9999)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Total != 2 {
		t.Errorf("Total = %d, want 2 (clamped to scan limit)", summary.Total)
	}
}

func TestDriverRunNothingPending(t *testing.T) {
	ms := &mockStore{}
	mp := &mockProcessor{}
	d := newTestDriver(ms, mp, nil, 100, 1000)

	summary, err := d.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil for empty backlog", err)
	}
	if summary.Total != 0 || summary.Processed != 0 {
		t.Errorf("summary = %+v, want zero counts", summary)
	}
	if len(mp.batches) != 0 {
		t.Error("processor should not run with nothing pending")
	}
}

// A batch that fails after retries gets its attempt timestamps stamped so
// the next run does not immediately reselect it.
func TestDriverRunStampsFailedBatch(t *testing.T) {
	ms := &mockStore{pending: testPosts("p1", "p2", "p3")}
	mp := &mockProcessor{
		processFn: func(posts []types.Post) (int, error) {
			return 0, errors.New("encoder down")
		},
	}
	d := newTestDriver(ms, mp, nil, 2, 1000)

	summary, err := d.Run(context.Background(), 0)
	if err == nil {
		t.Fatal("expected error from failed batch")
	}
	if summary.Total != 2 || summary.Processed != 0 {
		t.Errorf("summary = %+v, want Total=2 Processed=0", summary)
	}
	if len(ms.stamped) != 1 {
		t.Fatalf("StampAttempts called %d times, want 1", len(ms.stamped))
	}
	got := ms.stamped[0]
	if len(got) != 2 || got[0] != "p1" || got[1] != "p2" {
		t.Errorf("stamped pids = %v, want [p1 p2]", got)
	}
}

func TestDriverRunPartialProgressBeforeFailure(t *testing.T) {
	ms := &mockStore{pending: testPosts("p1", "p2", "p3", "p4")}
	var calls int
	mp := &mockProcessor{
		processFn: func(posts []types.Post) (int, error) {
			calls++
			if calls == 2 {
				return 0, errors.New("encoder down")
			}
			return len(posts), nil
		},
	}
	d := newTestDriver(ms, mp, nil, 2, 1000)

	summary, err := d.Run(context.Background(), 0)
	if err == nil {
		t.Fatal("expected error from second batch")
	}
	if summary.Processed != 2 || summary.Total != 4 {
		t.Errorf("summary = %+v, want Processed=2 Total=4", summary)
	}
}

func TestDriverRunSelectError(t *testing.T) {
	ms := &mockStore{pendErr: errors.New("database locked")}
	mp := &mockProcessor{}
	d := newTestDriver(ms, mp, nil, 100, 1000)

	_, err := d.Run(context.Background(), 0)
	if err == nil {
		t.Fatal("expected error from failing selection")
	}
	if len(mp.batches) != 0 {
		t.Error("processor should not run after a failed selection")
	}
}

func TestDriverRunCancelledContext(t *testing.T) {
	ms := &mockStore{pending: testPosts("p1")}
	mp := &mockProcessor{}
	d := newTestDriver(ms, mp, nil, 100, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Run(ctx, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestDriverRunRecordsMetrics(t *testing.T) {
	ms := &mockStore{pending: testPosts("p1", "p2")}
	mp := &mockProcessor{}
	collector := &metrics.Basic{}
	d := newTestDriver(ms, mp, collector, 100, 1000)

	if _, err := d.Run(context.Background(), 0); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	snap := collector.Snapshot()
	if snap.RunsTotal != 1 {
		t.Errorf("RunsTotal = %d, want 1", snap.RunsTotal)
	}
	if snap.RunsFailed != 0 {
		t.Errorf("RunsFailed = %d, want 0", snap.RunsFailed)
	}
	if snap.Processed != 2 {
		t.Errorf("Processed = %d, want 2", snap.Processed)
	}
}
