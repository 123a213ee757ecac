package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/notstpa/smartremux/internal/model"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_BatchRoundTrip(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	id, err := j.StartBatch(ctx, "/videos", model.ContainerMP4, 3)
	if err != nil {
		t.Fatalf("StartBatch() error = %v", err)
	}
	if id == "" {
		t.Fatal("StartBatch() returned empty id")
	}

	results := []model.JobResult{
		{Path: "/videos/a.mkv", OutputPath: "/videos/a.mp4", Status: model.StatusDone,
			Stage: "execute", Elapsed: 1200 * time.Millisecond, BytesIn: 1000, BytesOut: 900},
		{Path: "/videos/b.mkv", Status: model.StatusSkipped, Stage: "execute"},
		{Path: "/videos/c.mkv", Status: model.StatusFailed, Stage: "probe",
			Err: errors.New("ffprobe exited with code 1")},
	}
	for _, r := range results {
		if err := j.RecordResult(ctx, id, r); err != nil {
			t.Fatalf("RecordResult(%s) error = %v", r.Path, err)
		}
	}

	state := &model.BatchState{Total: 3}
	for _, r := range results {
		state.Record(r)
	}
	if err := j.FinishBatch(ctx, id, state); err != nil {
		t.Fatalf("FinishBatch() error = %v", err)
	}

	batches, err := j.RecentBatches(ctx, 5)
	if err != nil {
		t.Fatalf("RecentBatches() error = %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("RecentBatches() returned %d batches, want 1", len(batches))
	}

	b := batches[0]
	if b.ID != id {
		t.Errorf("batch ID = %q, want %q", b.ID, id)
	}
	if b.Total != 3 || b.Done != 1 || b.Skipped != 1 || b.Failed != 1 {
		t.Errorf("counters = total %d done %d skipped %d failed %d, want 3/1/1/1",
			b.Total, b.Done, b.Skipped, b.Failed)
	}
	if b.BytesIn != 1000 || b.BytesOut != 900 {
		t.Errorf("bytes = %d/%d, want 1000/900", b.BytesIn, b.BytesOut)
	}
	if b.FinishedAt.IsZero() {
		t.Error("FinishedAt not set after FinishBatch")
	}

	got, err := j.BatchResults(ctx, id)
	if err != nil {
		t.Fatalf("BatchResults() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("BatchResults() returned %d results, want 3", len(got))
	}
	if got[0].Path != "/videos/a.mkv" || got[0].Status != model.StatusDone {
		t.Errorf("first result = %q %q, want /videos/a.mkv done", got[0].Path, got[0].Status)
	}
	if got[0].Elapsed != 1200*time.Millisecond {
		t.Errorf("elapsed = %v, want 1.2s", got[0].Elapsed)
	}
	if got[2].Err == nil || got[2].Err.Error() != "ffprobe exited with code 1" {
		t.Errorf("failed result error = %v, want ffprobe message", got[2].Err)
	}
}

func TestJournal_RecentBatchesOrder(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	// RFC3339 second granularity: space the inserts out.
	first, err := j.StartBatch(ctx, "/old", model.ContainerMP4, 1)
	if err != nil {
		t.Fatalf("StartBatch() error = %v", err)
	}
	time.Sleep(1100 * time.Millisecond)
	second, err := j.StartBatch(ctx, "/new", model.ContainerMOV, 2)
	if err != nil {
		t.Fatalf("StartBatch() error = %v", err)
	}

	batches, err := j.RecentBatches(ctx, 1)
	if err != nil {
		t.Fatalf("RecentBatches() error = %v", err)
	}
	if len(batches) != 1 || batches[0].ID != second {
		t.Fatalf("RecentBatches(1) = %+v, want newest batch %s (older %s)", batches, second, first)
	}
}

func TestJournal_EmptyHistory(t *testing.T) {
	j := openTestJournal(t)

	batches, err := j.RecentBatches(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentBatches() error = %v", err)
	}
	if len(batches) != 0 {
		t.Errorf("RecentBatches() on empty db returned %d batches", len(batches))
	}
}
