package history_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"pdfile/internal/history"
	"pdfile/internal/testsupport"
)

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)

	if store.Path() != cfg.HistoryPath() {
		t.Fatalf("expected db at %s, got %s", cfg.HistoryPath(), store.Path())
	}
	jobs, err := store.Recent(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected empty history, got %d jobs", len(jobs))
	}

	// Reopening an initialized database must succeed.
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	again, err := history.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	again.Close()
}

func TestRecordAndGet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	job := history.Job{
		ID:            "job-1",
		UserID:        "42",
		Channel:       "telegram",
		Operation:     "merge",
		FileCount:     3,
		Status:        history.StatusSucceeded,
		Artifact:      "document_merged.pdf",
		ArtifactBytes: 2048,
		StartedAt:     started,
		FinishedAt:    started.Add(1500 * time.Millisecond),
	}
	if err := store.Record(ctx, job); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected recorded job")
	}
	if got.UserID != "42" || got.Operation != "merge" || got.FileCount != 3 || got.Artifact != "document_merged.pdf" {
		t.Fatalf("unexpected job %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Fatalf("started_at round trip: %v", got.StartedAt)
	}
	if got.Duration() != 1500*time.Millisecond {
		t.Fatalf("unexpected duration %v", got.Duration())
	}

	missing, err := store.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing job, got %+v, %v", missing, err)
	}
}

func TestRecordRequiresID(t *testing.T) {
	store := testsupport.MustOpenHistory(t, testsupport.NewConfig(t))
	if err := store.Record(context.Background(), history.Job{UserID: "1"}); err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestRecentOrdersNewestFirstAndFiltersUser(t *testing.T) {
	store := testsupport.MustOpenHistory(t, testsupport.NewConfig(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// The second timestamp has no fractional part; fixed-width storage must still order it.
	records := []history.Job{
		{ID: "a", UserID: "1", Operation: "merge", Status: history.StatusSucceeded, FinishedAt: base.Add(500 * time.Millisecond)},
		{ID: "b", UserID: "2", Operation: "split", Status: history.StatusFailed, FinishedAt: base.Add(2 * time.Second)},
		{ID: "c", UserID: "1", Operation: "compress", Status: history.StatusSucceeded, FinishedAt: base.Add(3*time.Second + time.Millisecond)},
	}
	for _, job := range records {
		if err := store.Record(ctx, job); err != nil {
			t.Fatalf("Record %s: %v", job.ID, err)
		}
	}

	all, err := store.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" || all[1].ID != "b" || all[2].ID != "a" {
		t.Fatalf("unexpected order: %v", ids(all))
	}

	limited, err := store.Recent(ctx, "", 1)
	if err != nil {
		t.Fatalf("Recent limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "c" {
		t.Fatalf("unexpected limited result %v", ids(limited))
	}

	mine, err := store.Recent(ctx, "1", 10)
	if err != nil {
		t.Fatalf("Recent user: %v", err)
	}
	if len(mine) != 2 || mine[0].ID != "c" || mine[1].ID != "a" {
		t.Fatalf("unexpected user result %v", ids(mine))
	}
}

func TestCountsAndDiscard(t *testing.T) {
	store := testsupport.MustOpenHistory(t, testsupport.NewConfig(t))
	ctx := context.Background()
	for i, tc := range []struct {
		op     string
		status history.Status
	}{
		{op: "merge", status: history.StatusSucceeded},
		{op: "merge", status: history.StatusSucceeded},
		{op: "merge", status: history.StatusFailed},
		{op: "split", status: history.StatusSucceeded},
	} {
		job := history.Job{ID: string(rune('a' + i)), UserID: "1", Operation: tc.op, Status: tc.status}
		if err := store.Record(ctx, job); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := store.MarkDiscarded(ctx, "d"); err != nil {
		t.Fatalf("MarkDiscarded: %v", err)
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("expected 2 operations, got %+v", counts)
	}
	merge, split := counts[0], counts[1]
	if merge.Operation != "merge" || merge.Succeeded != 2 || merge.Failed != 1 || merge.Total() != 3 {
		t.Fatalf("unexpected merge counts %+v", merge)
	}
	if split.Operation != "split" || split.Discarded != 1 || split.Succeeded != 0 {
		t.Fatalf("unexpected split counts %+v", split)
	}
}

func TestPrune(t *testing.T) {
	store := testsupport.MustOpenHistory(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now()
	_ = store.Record(ctx, history.Job{ID: "old", UserID: "1", Operation: "merge", Status: history.StatusSucceeded, FinishedAt: now.Add(-48 * time.Hour)})
	_ = store.Record(ctx, history.Job{ID: "new", UserID: "1", Operation: "merge", Status: history.StatusSucceeded, FinishedAt: now})

	removed, err := store.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned, got %d", removed)
	}
	if job, _ := store.Get(ctx, "old"); job != nil {
		t.Fatal("old job should be gone")
	}
}

func TestSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	raw, err := history.OpenPath(cfg.HistoryPath())
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	if err := raw.SetSchemaVersionForTest(context.Background(), 99); err != nil {
		t.Fatalf("set version: %v", err)
	}
	raw.Close()

	if _, err := history.Open(cfg); !errors.Is(err, history.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func ids(jobs []*history.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}
