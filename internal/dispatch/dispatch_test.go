package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"pdfile/internal/formats"
	"pdfile/internal/history"
	"pdfile/internal/logging"
	"pdfile/internal/notifications"
	"pdfile/internal/prompts"
	"pdfile/internal/services"
	"pdfile/internal/session"
	"pdfile/internal/transform"
)

type dirOutputs string

func (d dirOutputs) OutputDir(userID string, generation uint64) (string, error) {
	dir := filepath.Join(string(d), userID, strconv.FormatUint(generation, 10))
	return dir, os.MkdirAll(dir, 0o755)
}

type fakeTransformer struct {
	mu       sync.Mutex
	requests []transform.Request
	content  string
	err      error
}

func (f *fakeTransformer) Transform(_ context.Context, req transform.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	out := filepath.Join(req.OutputDir, "document_merged.pdf")
	return out, os.WriteFile(out, []byte(f.content), 0o644)
}

func (f *fakeTransformer) PageCount(context.Context, string) (int, error) { return 1, nil }

type fakeRecorder struct {
	jobs      []history.Job
	discarded []string
}

func (r *fakeRecorder) Record(_ context.Context, job history.Job) error {
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *fakeRecorder) MarkDiscarded(_ context.Context, id string) error {
	r.discarded = append(r.discarded, id)
	return nil
}

type fakeNotifier struct {
	events []notifications.Event
}

func (n *fakeNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.events = append(n.events, event)
	return nil
}

func readyMerge() session.Session {
	return session.Session{
		UserID:    "42",
		Operation: formats.OpMerge,
		State:     session.StateReadyToDispatch,
		StagedFiles: []session.StagedFile{
			{Path: "/staging/a.pdf", Name: "a.pdf"},
			{Path: "/staging/b.pdf", Name: "b.pdf"},
		},
		Generation: 7,
	}
}

func newDispatcher(t *testing.T, tr transform.Transformer) (*Dispatcher, *fakeRecorder, *fakeNotifier) {
	t.Helper()
	rec := &fakeRecorder{}
	notes := &fakeNotifier{}
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		return start.Add(time.Duration(calls) * time.Second)
	}
	d := New(tr, dirOutputs(t.TempDir()), logging.NewNop(),
		WithRecorder(rec),
		WithNotifier(notes),
		WithClock(clock, func() string { return "job-1" }),
	)
	return d, rec, notes
}

func TestReady(t *testing.T) {
	one := []session.StagedFile{{Path: "a", Name: "a.pdf"}}
	two := append(one, session.StagedFile{Path: "b", Name: "b.pdf"})
	cases := []struct {
		name    string
		s       session.Session
		ok      bool
		wantKey string
	}{
		{name: "merge empty", s: session.Session{Operation: formats.OpMerge}, wantKey: prompts.KeyNoFiles},
		{name: "merge one", s: session.Session{Operation: formats.OpMerge, StagedFiles: one}, wantKey: prompts.KeyOneFile},
		{name: "merge two", s: session.Session{Operation: formats.OpMerge, StagedFiles: two}, ok: true},
		{name: "compress one", s: session.Session{Operation: formats.OpCompress, StagedFiles: one}, ok: true},
		{name: "convert empty", s: session.Session{Operation: formats.OpConvertImg}, wantKey: prompts.KeyNoFiles},
		{name: "delete no range", s: session.Session{Operation: formats.OpDelete, StagedFiles: one}},
		{name: "delete ready", s: session.Session{Operation: formats.OpDelete, StagedFiles: one, ResolvedRange: []int{1}}, ok: true},
		{name: "delete two files", s: session.Session{Operation: formats.OpDelete, StagedFiles: two, ResolvedRange: []int{1}}},
		{name: "split no mode", s: session.Session{Operation: formats.OpSplit, StagedFiles: one, ResolvedRange: []int{1}}},
		{name: "split ready", s: session.Session{Operation: formats.OpSplit, StagedFiles: one, ResolvedRange: []int{1}, SplitMode: session.SplitMany}, ok: true},
		{name: "no operation", s: session.Session{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Ready(tc.s)
			if tc.ok {
				if err != nil {
					t.Fatalf("expected ready, got %v", err)
				}
				return
			}
			if !services.IsInputRejected(err) {
				t.Fatalf("expected input rejected, got %v", err)
			}
			if tc.wantKey != "" {
				key, _, ok := services.PromptOf(err)
				if !ok || key != tc.wantKey {
					t.Fatalf("expected prompt %q, got %q", tc.wantKey, key)
				}
			}
		})
	}
}

func TestDispatchSuccessRecordsJob(t *testing.T) {
	tr := &fakeTransformer{content: "%PDF-1.7 merged"}
	d, rec, notes := newDispatcher(t, tr)
	ctx := services.WithChannel(context.Background(), "telegram")

	res, err := d.Dispatch(ctx, readyMerge())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.JobID != "job-1" || res.Name() != "document_merged.pdf" || res.Bytes != int64(len("%PDF-1.7 merged")) {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Elapsed != time.Second {
		t.Fatalf("unexpected elapsed %v", res.Elapsed)
	}

	if len(tr.requests) != 1 {
		t.Fatalf("expected one transform call, got %d", len(tr.requests))
	}
	req := tr.requests[0]
	if req.Operation != formats.OpMerge || len(req.Files) != 2 || req.Files[0].Name != "a.pdf" {
		t.Fatalf("unexpected request %+v", req)
	}
	if filepath.Base(req.OutputDir) != "7" {
		t.Fatalf("output dir should be keyed by generation, got %s", req.OutputDir)
	}

	if len(rec.jobs) != 1 {
		t.Fatalf("expected one history record, got %d", len(rec.jobs))
	}
	job := rec.jobs[0]
	if job.Status != history.StatusSucceeded || job.Channel != "telegram" || job.FileCount != 2 || job.Artifact != "document_merged.pdf" {
		t.Fatalf("unexpected job %+v", job)
	}
	if len(notes.events) != 0 {
		t.Fatalf("no alert expected on success, got %v", notes.events)
	}
}

func TestDispatchFailureIsTransformFailed(t *testing.T) {
	tr := &fakeTransformer{err: errors.New("pdfcpu: corrupt xref")}
	d, rec, notes := newDispatcher(t, tr)

	res, err := d.Dispatch(context.Background(), readyMerge())
	if !errors.Is(err, services.ErrTransformFailed) {
		t.Fatalf("expected transform failure, got %v", err)
	}
	if services.Classify(err) != services.OutcomeReset {
		t.Fatal("dispatch failures must reset the session")
	}
	if res.JobID != "job-1" || res.Artifact != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(rec.jobs) != 1 || rec.jobs[0].Status != history.StatusFailed || rec.jobs[0].ErrorKind != "transform_failed" {
		t.Fatalf("unexpected history %+v", rec.jobs)
	}
	if len(notes.events) != 1 || notes.events[0] != notifications.EventJobFailed {
		t.Fatalf("expected job failed alert, got %v", notes.events)
	}
}

func TestDispatchRejectsEmptyArtifact(t *testing.T) {
	d, rec, _ := newDispatcher(t, &fakeTransformer{content: ""})

	_, err := d.Dispatch(context.Background(), readyMerge())
	if !errors.Is(err, services.ErrTransformFailed) {
		t.Fatalf("expected transform failure for empty artifact, got %v", err)
	}
	if len(rec.jobs) != 1 || rec.jobs[0].Status != history.StatusFailed {
		t.Fatalf("unexpected history %+v", rec.jobs)
	}
}

func TestDispatchRequiresReadyState(t *testing.T) {
	tr := &fakeTransformer{content: "x"}
	d, _, _ := newDispatcher(t, tr)

	s := readyMerge()
	s.State = session.StateAwaitingFiles
	if _, err := d.Dispatch(context.Background(), s); !errors.Is(err, services.ErrTransformFailed) {
		t.Fatalf("expected transform failure, got %v", err)
	}

	s = readyMerge()
	s.StagedFiles = s.StagedFiles[:1]
	_, err := d.Dispatch(context.Background(), s)
	if services.Classify(err) != services.OutcomeReset {
		t.Fatalf("incomplete inputs at dispatch must reset, got %v", err)
	}
	if len(tr.requests) != 0 {
		t.Fatal("transformer must not run for an unready session")
	}
}

func TestDiscardRemovesArtifact(t *testing.T) {
	d, rec, _ := newDispatcher(t, &fakeTransformer{content: "pdf"})
	res, err := d.Dispatch(context.Background(), readyMerge())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	d.Discard(context.Background(), res)
	if _, err := os.Stat(res.Artifact); !os.IsNotExist(err) {
		t.Fatal("artifact should be removed")
	}
	if len(rec.discarded) != 1 || rec.discarded[0] != "job-1" {
		t.Fatalf("expected job marked discarded, got %v", rec.discarded)
	}
}
