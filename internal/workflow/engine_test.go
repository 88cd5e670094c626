package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"pdfile/internal/config"
	"pdfile/internal/dispatch"
	"pdfile/internal/formats"
	"pdfile/internal/logging"
	"pdfile/internal/prompts"
	"pdfile/internal/services"
	"pdfile/internal/session"
	"pdfile/internal/staging"
	"pdfile/internal/testsupport"
	"pdfile/internal/workflow"
)

const user = "42"

type recorder struct {
	mu      sync.Mutex
	prompts []prompts.Prompt
}

func (r *recorder) Render(_ context.Context, p prompts.Prompt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, p)
	return nil
}

func (r *recorder) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.prompts))
	for i, p := range r.prompts {
		out[i] = p.Key
	}
	return out
}

func (r *recorder) all(key string) []prompts.Prompt {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []prompts.Prompt
	for _, p := range r.prompts {
		if p.Key == key {
			out = append(out, p)
		}
	}
	return out
}

func (r *recorder) last() prompts.Prompt {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.prompts) == 0 {
		return prompts.Prompt{}
	}
	return r.prompts[len(r.prompts)-1]
}

func (r *recorder) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = nil
}

type fakePages struct {
	count int
	err   error
}

func (f fakePages) PageCount(context.Context, string) (int, error) {
	return f.count, f.err
}

type fakeDispatcher struct {
	dir string

	mu        sync.Mutex
	sessions  []session.Session
	discarded []dispatch.Result
	err       error
	started   chan struct{}
	release   chan struct{}
}

func (d *fakeDispatcher) Dispatch(_ context.Context, s session.Session) (dispatch.Result, error) {
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	n := len(d.sessions)
	err, started, release := d.err, d.started, d.release
	d.mu.Unlock()

	if started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return dispatch.Result{JobID: "failed"}, err
	}
	path := filepath.Join(d.dir, fmt.Sprintf("artifact-%d.pdf", n))
	if err := os.WriteFile(path, []byte("%PDF"), 0o644); err != nil {
		return dispatch.Result{}, err
	}
	return dispatch.Result{JobID: fmt.Sprintf("job-%d", n), Artifact: path, Bytes: 4}, nil
}

func (d *fakeDispatcher) Discard(_ context.Context, res dispatch.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.discarded = append(d.discarded, res)
	_ = os.Remove(res.Artifact)
}

func (d *fakeDispatcher) calls() []session.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.sessions)
}

type harness struct {
	t          *testing.T
	engine     *workflow.Engine
	catalog    *prompts.Catalog
	out        *recorder
	disp       *fakeDispatcher
	files      string
	stagingDir string
}

type harnessOption func(*config.Config, *workflow.Dependencies)

func withPages(p workflow.PageCounter) harnessOption {
	return func(_ *config.Config, d *workflow.Dependencies) { d.Pages = p }
}

func withRenderer(r prompts.Renderer) harnessOption {
	return func(_ *config.Config, d *workflow.Dependencies) { d.Renderer = r }
}

func withAdmin(id string, recipients ...string) harnessOption {
	return func(cfg *config.Config, _ *workflow.Dependencies) {
		cfg.Telegram.AdminID = id
		cfg.Telegram.BroadcastRecipients = recipients
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Telegram.DonateURL = "https://example.com/donate"
	catalog, err := prompts.Load()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	out := &recorder{}
	disp := &fakeDispatcher{dir: t.TempDir()}
	deps := workflow.Dependencies{
		Catalog:    catalog,
		Stager:     staging.NewStager(cfg, logging.NewNop()),
		Pages:      fakePages{count: 10},
		Dispatcher: disp,
		Renderer:   out,
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}
	return &harness{
		t:          t,
		engine:     workflow.NewEngine(cfg, deps, logging.NewNop()),
		catalog:    catalog,
		out:        out,
		disp:       disp,
		files:      t.TempDir(),
		stagingDir: cfg.Paths.StagingDir,
	}
}

func (h *harness) text(s string) error {
	h.t.Helper()
	return h.engine.Handle(context.Background(), workflow.Event{
		Channel:  staging.LocalChannel,
		UserID:   user,
		Username: "tester",
		Locale:   "en",
		Kind:     workflow.EventText,
		Text:     s,
	})
}

func (h *harness) press(label string) error {
	h.t.Helper()
	return h.text(h.catalog.Label("en", label))
}

func (h *harness) upload(name string) error {
	h.t.Helper()
	return h.engine.Handle(context.Background(), h.fileEvent(name))
}

func (h *harness) fileEvent(name string) workflow.Event {
	h.t.Helper()
	path := filepath.Join(h.files, name)
	if err := os.WriteFile(path, []byte("%PDF-1.7 "+name), 0o644); err != nil {
		h.t.Fatalf("write %s: %v", name, err)
	}
	return workflow.Event{
		Channel: staging.LocalChannel,
		UserID:  user,
		Locale:  "en",
		Kind:    workflow.EventFile,
		File:    &staging.FileRef{Name: name, Channel: staging.LocalChannel, ID: path, Size: int64(len(name) + 9)},
	}
}

func (h *harness) session() session.Session {
	h.t.Helper()
	s, _ := h.engine.Session(user)
	return s
}

func TestStartShowsMenu(t *testing.T) {
	h := newHarness(t)
	if err := h.text("/start"); err != nil {
		t.Fatalf("start: %v", err)
	}
	p := h.out.last()
	if p.Key != prompts.KeyStart || p.Args["username"] != "tester" {
		t.Fatalf("unexpected prompt %+v", p)
	}
	if len(p.Keyboard) != 3 {
		t.Fatalf("expected the menu without donate row, got %v", p.Keyboard)
	}
	if p.Channel != staging.LocalChannel || p.UserID != user {
		t.Fatalf("prompt not addressed to sender: %+v", p)
	}
}

func TestMergeEndToEnd(t *testing.T) {
	h := newHarness(t)
	if err := h.press(prompts.LabelMerge); err != nil {
		t.Fatalf("select merge: %v", err)
	}
	if h.out.last().Key != prompts.KeyMergeInput {
		t.Fatalf("expected merge input prompt, got %v", h.out.keys())
	}
	for _, name := range []string{"a.pdf", "b.pdf"} {
		if err := h.upload(name); err != nil {
			t.Fatalf("upload %s: %v", name, err)
		}
	}
	queued := h.out.all(prompts.KeyMergeQueue)
	if len(queued) != 2 || !strings.Contains(queued[1].Args["files"], "2. b.pdf") {
		t.Fatalf("unexpected queue prompts %+v", queued)
	}

	if err := h.press(prompts.LabelGoMerge); err != nil {
		t.Fatalf("merge: %v", err)
	}
	calls := h.disp.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(calls))
	}
	got := calls[0]
	if got.Operation != formats.OpMerge || got.State != session.StateReadyToDispatch {
		t.Fatalf("unexpected dispatched session %+v", got)
	}
	if names := got.FileNames(); !slices.Equal(names, []string{"a.pdf", "b.pdf"}) {
		t.Fatalf("files out of order: %v", names)
	}

	docs := h.out.all(prompts.KeyDocument)
	if len(docs) != 1 || docs[0].Attachment == "" {
		t.Fatalf("expected one document, got %+v", docs)
	}
	final := h.out.last()
	if final.Key != prompts.KeyIdle || len(final.Keyboard) != 4 {
		t.Fatalf("expected idle menu with donate row, got %+v", final)
	}
	if h.session().Active() {
		t.Fatal("session should be idle after a job")
	}
	if entries, _ := os.ReadDir(filepath.Join(h.stagingDir, staging.UserDirName(user))); len(entries) != 0 {
		t.Fatalf("staging not cleaned: %v", entries)
	}
}

func TestMergeFailureReturnsToMenu(t *testing.T) {
	h := newHarness(t)
	h.disp.err = services.Wrap(services.ErrTransformFailed, "transform", "merge", "broken", nil)
	_ = h.press(prompts.LabelMerge)
	_ = h.upload("a.pdf")
	_ = h.upload("b.pdf")
	h.out.clear()

	err := h.press(prompts.LabelGoMerge)
	if !errors.Is(err, services.ErrTransformFailed) {
		t.Fatalf("expected transform failure, got %v", err)
	}
	keys := h.out.keys()
	want := []string{prompts.KeyProcessing, prompts.KeyFuncFailed, prompts.KeyIdleHeadless}
	if !slices.Equal(keys, want) {
		t.Fatalf("prompts = %v, want %v", keys, want)
	}
	if h.session().Active() {
		t.Fatal("session should be idle after a failed job")
	}
}

func TestMergeNeedsTwoFiles(t *testing.T) {
	h := newHarness(t)
	_ = h.press(prompts.LabelMerge)

	err := h.press(prompts.LabelGoMerge)
	if !services.IsInputRejected(err) || h.out.last().Key != prompts.KeyNoFiles {
		t.Fatalf("expected no_files rejection, got %v %v", err, h.out.keys())
	}
	_ = h.upload("a.pdf")
	err = h.press(prompts.LabelGoMerge)
	if !services.IsInputRejected(err) || h.out.last().Key != prompts.KeyOneFile {
		t.Fatalf("expected one_file rejection, got %v %v", err, h.out.keys())
	}
	s := h.session()
	if s.State != session.StateAwaitingFiles || len(s.StagedFiles) != 1 {
		t.Fatalf("session changed by rejected go: %+v", s)
	}
	if len(h.disp.calls()) != 0 {
		t.Fatal("dispatcher must not run")
	}
}

func TestRejectedEventsDoNotMutate(t *testing.T) {
	h := newHarness(t)

	err := h.upload("a.pdf")
	if !services.IsInputRejected(err) || h.out.last().Key != prompts.KeyUnknown {
		t.Fatalf("file in idle: %v %v", err, h.out.keys())
	}
	if h.session().Active() {
		t.Fatal("file in idle must not start a session")
	}

	_ = h.press(prompts.LabelMerge)
	before := h.session()
	err = h.upload("notes.docx")
	if !services.IsInputRejected(err) {
		t.Fatalf("expected rejection, got %v", err)
	}
	p := h.out.last()
	if p.Key != prompts.KeyBadFormat || p.Args["name"] != "notes.docx" || p.Args["formats"] != "pdf" {
		t.Fatalf("unexpected prompt %+v", p)
	}
	after := h.session()
	if after.State != before.State || len(after.StagedFiles) != 0 || after.Generation != before.Generation {
		t.Fatalf("session mutated: before %+v after %+v", before, after)
	}

	if err := h.text("hello"); !services.IsInputRejected(err) {
		t.Fatalf("expected stray text rejected, got %v", err)
	}
	if h.session().State != session.StateAwaitingFiles {
		t.Fatal("stray text changed state")
	}
}

func TestSplitFlow(t *testing.T) {
	h := newHarness(t)
	_ = h.press(prompts.LabelSplit)
	if err := h.upload("report.pdf"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	keys := h.out.keys()
	if !slices.Equal(keys[len(keys)-2:], []string{prompts.KeySplitQueue, prompts.KeyAvailable}) {
		t.Fatalf("unexpected prompts %v", keys)
	}
	if q := h.out.all(prompts.KeySplitQueue)[0]; q.Args["pages"] != "10" || q.Args["name"] != "report.pdf" {
		t.Fatalf("unexpected queue args %+v", q.Args)
	}
	if s := h.session(); s.State != session.StateAwaitingRange || s.PageCount != 10 {
		t.Fatalf("unexpected session %+v", s)
	}

	if err := h.upload("second.pdf"); !services.IsInputRejected(err) {
		t.Fatalf("second file should be rejected, got %v", err)
	}

	h.out.clear()
	if err := h.text("abc"); !services.IsInputRejected(err) {
		t.Fatalf("expected bad pattern, got %v", err)
	}
	if keys := h.out.keys(); !slices.Equal(keys, []string{prompts.KeyBadPattern, prompts.KeyAvailable}) {
		t.Fatalf("unexpected prompts %v", keys)
	}
	if h.session().State != session.StateAwaitingRange {
		t.Fatal("invalid range must not advance")
	}

	h.out.clear()
	if err := h.text("8-12"); err != nil {
		t.Fatalf("range: %v", err)
	}
	if keys := h.out.keys(); !slices.Equal(keys, []string{prompts.KeyRangeExceed, prompts.KeySplitCall}) {
		t.Fatalf("unexpected prompts %v", keys)
	}
	if got := h.out.all(prompts.KeyRangeExceed)[0].Args["pages"]; got != "8-10" {
		t.Fatalf("exceed pages = %q", got)
	}

	if err := h.press(prompts.LabelSplitMany); err != nil {
		t.Fatalf("split: %v", err)
	}
	calls := h.disp.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(calls))
	}
	got := calls[0]
	if got.SplitMode != session.SplitMany || !slices.Equal(got.ResolvedRange, []int{8, 9, 10}) || got.RangeLabel != "8-12" {
		t.Fatalf("unexpected dispatched session %+v", got)
	}
	if h.out.last().Key != prompts.KeyIdle {
		t.Fatalf("expected idle menu, got %v", h.out.keys())
	}
}

func TestDeleteDispatchesAfterRange(t *testing.T) {
	h := newHarness(t)
	_ = h.press(prompts.LabelDelete)
	_ = h.upload("report.pdf")
	if err := h.text("1, 3-4"); err != nil {
		t.Fatalf("range: %v", err)
	}
	calls := h.disp.calls()
	if len(calls) != 1 || !slices.Equal(calls[0].ResolvedRange, []int{1, 3, 4}) {
		t.Fatalf("unexpected dispatch %+v", calls)
	}
	if len(h.out.all(prompts.KeySplitCall)) != 0 {
		t.Fatal("delete must not ask for a split mode")
	}
}

func TestUnreadablePDFRejected(t *testing.T) {
	h := newHarness(t, withPages(fakePages{err: errors.New("not a pdf")}))
	_ = h.press(prompts.LabelSplit)
	err := h.upload("broken.pdf")
	if !services.IsInputRejected(err) || h.out.last().Key != prompts.KeyBadFormat {
		t.Fatalf("expected bad format, got %v %v", err, h.out.keys())
	}
	s := h.session()
	if s.State != session.StateAwaitingSingleFile || len(s.StagedFiles) != 0 {
		t.Fatalf("session mutated: %+v", s)
	}
}

func TestCancelDiscardsLateResult(t *testing.T) {
	h := newHarness(t)
	h.disp.started = make(chan struct{})
	h.disp.release = make(chan struct{})
	_ = h.press(prompts.LabelCompress)
	_ = h.upload("a.pdf")

	done := make(chan error, 1)
	go func() { done <- h.press(prompts.LabelGoCompress) }()

	select {
	case <-h.disp.started:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch never started")
	}
	if err := h.press(prompts.LabelCancel); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	close(h.disp.release)
	if err := <-done; err != nil {
		t.Fatalf("go: %v", err)
	}

	if len(h.disp.discarded) != 1 {
		t.Fatalf("expected discarded result, got %+v", h.disp.discarded)
	}
	if len(h.out.all(prompts.KeyDocument)) != 0 {
		t.Fatal("a cancelled job must not deliver its artifact")
	}
	if h.out.last().Key != prompts.KeyIdleHeadless {
		t.Fatalf("expected cancel menu last, got %v", h.out.keys())
	}
}

func TestCancelWaitsForDelivery(t *testing.T) {
	var (
		h         *harness
		cancelled = make(chan error, 1)
		present   bool
	)
	hook := prompts.RendererFunc(func(ctx context.Context, p prompts.Prompt) error {
		if err := h.out.Render(ctx, p); err != nil {
			return err
		}
		if p.Key != prompts.KeyDocument {
			return nil
		}
		go func() { cancelled <- h.press(prompts.LabelCancel) }()
		time.Sleep(50 * time.Millisecond)
		_, err := os.Stat(p.Attachment)
		present = err == nil
		return nil
	})
	h = newHarness(t, withRenderer(hook))
	_ = h.press(prompts.LabelCompress)
	_ = h.upload("a.pdf")

	h.disp.dir = filepath.Join(h.stagingDir, staging.UserDirName(user), "job-1")
	if err := os.MkdirAll(h.disp.dir, 0o755); err != nil {
		t.Fatalf("mkdir job dir: %v", err)
	}
	if err := h.press(prompts.LabelGoCompress); err != nil {
		t.Fatalf("go: %v", err)
	}
	if err := <-cancelled; err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if !present {
		t.Fatal("artifact was removed while it was being delivered")
	}
	if len(h.out.all(prompts.KeyDocument)) != 1 || len(h.disp.discarded) != 0 {
		t.Fatalf("expected one delivered document, got %v", h.out.keys())
	}
	if h.session().Active() {
		t.Fatal("session should be idle")
	}
}

func TestBurstUploadsAnnouncedOnce(t *testing.T) {
	h := newHarness(t)
	_ = h.press(prompts.LabelMerge)

	names := []string{"a.pdf", "b.pdf", "c.pdf", "d.pdf"}
	events := make([]workflow.Event, len(names))
	for i, name := range names {
		events[i] = h.fileEvent(name)
	}
	var wg sync.WaitGroup
	for _, ev := range events {
		wg.Go(func() {
			if err := h.engine.Handle(context.Background(), ev); err != nil {
				t.Errorf("upload: %v", err)
			}
		})
	}
	wg.Wait()

	seen := make(map[string]int)
	for _, p := range h.out.all(prompts.KeyMergeQueue) {
		for line := range strings.SplitSeq(p.Args["files"], "\n") {
			_, name, _ := strings.Cut(line, ". ")
			seen[name]++
		}
	}
	for _, name := range names {
		if seen[name] != 1 {
			t.Fatalf("%s announced %d times (%v)", name, seen[name], seen)
		}
	}
	if got := len(h.out.all(prompts.KeyMergeQueue)); got != 1 {
		t.Fatalf("burst announced in %d prompts, want 1", got)
	}
	if got := len(h.session().StagedFiles); got != len(names) {
		t.Fatalf("staged %d files, want %d", got, len(names))
	}
}

func TestSelectingOperationStartsFresh(t *testing.T) {
	h := newHarness(t)
	_ = h.press(prompts.LabelMerge)
	_ = h.upload("a.pdf")
	first := h.session()

	_ = h.press(prompts.LabelConvertImg)
	s := h.session()
	if s.Operation != formats.OpConvertImg || s.State != session.StateAwaitingFiles || len(s.StagedFiles) != 0 {
		t.Fatalf("expected a fresh convert session, got %+v", s)
	}
	if s.Generation <= first.Generation {
		t.Fatalf("generation did not advance: %d -> %d", first.Generation, s.Generation)
	}
	p := h.out.last()
	if p.Key != prompts.KeyConvertInput || !strings.Contains(p.Args["formats"], "webp") {
		t.Fatalf("unexpected prompt %+v", p)
	}
}

func TestDonateSendsLinkThenMenu(t *testing.T) {
	h := newHarness(t)
	_ = h.press(prompts.LabelMerge)
	if err := h.text("/donate"); err != nil {
		t.Fatalf("donate: %v", err)
	}
	desc := h.out.all(prompts.KeyDonateDesc)
	if len(desc) != 1 || desc[0].Link == nil || desc[0].Link.URL != "https://example.com/donate" {
		t.Fatalf("unexpected donate prompt %+v", desc)
	}
	if h.out.last().Key != prompts.KeyIdleHeadless {
		t.Fatalf("expected headless menu, got %v", h.out.keys())
	}
	if h.session().Active() {
		t.Fatal("donate should end the running session")
	}
}

func TestResetAndStatus(t *testing.T) {
	h := newHarness(t)
	_ = h.press(prompts.LabelCompress)
	if st := h.engine.Status(); st.ActiveSessions != 1 || st.EventsHandled != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
	if users := h.engine.ActiveUsers(); !slices.Equal(users, []string{user}) {
		t.Fatalf("active users = %v", users)
	}
	if !h.engine.Reset(context.Background(), user) {
		t.Fatal("reset should report a running session")
	}
	if h.engine.Reset(context.Background(), user) {
		t.Fatal("second reset should be a no-op")
	}
	if len(h.engine.Sessions()) != 0 {
		t.Fatal("sessions should be empty")
	}
}

func TestMalformedEvent(t *testing.T) {
	h := newHarness(t)
	err := h.engine.Handle(context.Background(), workflow.Event{UserID: user, Kind: workflow.EventFile})
	if !services.IsInputRejected(err) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if len(h.out.keys()) != 0 {
		t.Fatal("malformed events are not answered")
	}
}
