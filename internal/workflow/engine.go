package workflow

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"pdfile/internal/batch"
	"pdfile/internal/config"
	"pdfile/internal/dispatch"
	"pdfile/internal/formats"
	"pdfile/internal/logging"
	"pdfile/internal/prompts"
	"pdfile/internal/services"
	"pdfile/internal/session"
	"pdfile/internal/staging"
)

const component = "workflow"

// EventKind distinguishes text messages from uploads.
type EventKind string

const (
	EventText EventKind = "text"
	EventFile EventKind = "file"
)

// Event is one inbound message from any transport. Locale is the user's
// language code as the transport reports it.
type Event struct {
	Channel  string
	UserID   string
	Username string
	Locale   string
	Kind     EventKind
	Text     string
	File     *staging.FileRef
}

// Stager downloads uploads into per-user storage.
type Stager interface {
	Precheck(ref staging.FileRef, op formats.Operation) error
	Stage(ctx context.Context, userID string, ref staging.FileRef) (session.StagedFile, error)
	Cleanup(userID string) error
}

// PageCounter reads the number of pages of a staged PDF.
type PageCounter interface {
	PageCount(ctx context.Context, path string) (int, error)
}

// Dispatcher runs transforms for ready sessions.
type Dispatcher interface {
	Dispatch(ctx context.Context, s session.Session) (dispatch.Result, error)
	Discard(ctx context.Context, res dispatch.Result)
}

// Dependencies are the collaborators the engine drives.
type Dependencies struct {
	Catalog    *prompts.Catalog
	Stager     Stager
	Pages      PageCounter
	Dispatcher Dispatcher
	Renderer   prompts.Renderer

	// Sampler overrides the in-flight gauge used by the batch reconciler.
	Sampler batch.Sampler
}

// Engine applies events to sessions.
type Engine struct {
	catalog    *prompts.Catalog
	sessions   *session.Store
	stager     Stager
	pages      PageCounter
	dispatcher Dispatcher
	renderer   prompts.Renderer
	gauge      *batch.Gauge
	reconciler *batch.Reconciler
	donateURL  string
	adminID    string
	recipients []string
	drafts     drafts
	logger     *slog.Logger

	events    atomic.Uint64
	jobs      atomic.Int64
	succeeded atomic.Uint64
	failed    atomic.Uint64
}

// NewEngine wires an engine from configuration and collaborators.
func NewEngine(cfg *config.Config, deps Dependencies, logger *slog.Logger) *Engine {
	gauge := batch.NewGauge()
	var sampler batch.Sampler = gauge
	if deps.Sampler != nil {
		sampler = deps.Sampler
	}
	return &Engine{
		catalog:    deps.Catalog,
		sessions:   session.NewStore(),
		stager:     deps.Stager,
		pages:      deps.Pages,
		dispatcher: deps.Dispatcher,
		renderer:   deps.Renderer,
		gauge:      gauge,
		reconciler: batch.NewReconciler(sampler, cfg.SettleDelay()),
		donateURL:  cfg.Telegram.DonateURL,
		adminID:    cfg.Telegram.AdminID,
		recipients: slices.Clone(cfg.Telegram.BroadcastRecipients),
		logger:     logging.NewComponentLogger(logger, component),
	}
}

var errBadEvent = errors.New("malformed event")

// Handle applies ev to the sender's session. Every outcome the user should
// see is rendered before Handle returns; the returned error is for logging.
func (e *Engine) Handle(ctx context.Context, ev Event) error {
	if ev.UserID == "" || (ev.Kind == EventFile && ev.File == nil) {
		return services.Wrap(services.ErrInputRejected, component, "handle", "event without sender or file", errBadEvent)
	}
	e.events.Add(1)

	ctx = services.WithUserID(ctx, ev.UserID)
	ctx = services.WithChannel(ctx, ev.Channel)
	if _, ok := services.RequestIDFromContext(ctx); !ok {
		ctx = services.WithRequestID(ctx, uuid.NewString())
	}
	if s, ok := e.sessions.Get(ev.UserID); ok && s.Operation.Valid() {
		ctx = services.WithOperation(ctx, string(s.Operation))
	}
	locale := e.catalog.Locale(ev.Locale)

	switch ev.Kind {
	case EventFile:
		return e.handleFile(ctx, ev, locale)
	case EventText:
		return e.handleText(ctx, ev, locale)
	default:
		return services.Wrap(services.ErrInputRejected, component, "handle", "unknown event kind "+string(ev.Kind), errBadEvent)
	}
}

func (e *Engine) handleText(ctx context.Context, ev Event, locale string) error {
	text := strings.TrimSpace(ev.Text)
	if cmd, ok := command(text); ok {
		switch cmd {
		case "start":
			return e.start(ctx, ev, locale)
		case "idle", "cancel":
			return e.cancel(ctx, ev, locale)
		case "help":
			return e.help(ctx, ev, locale)
		case "donate":
			return e.donate(ctx, ev, locale)
		case "abracadabra":
			if e.isAdmin(ev.UserID) {
				return e.compose(ctx, ev, locale)
			}
		}
	}

	label, matched := e.catalog.MatchLabel(text)
	if op, ok := labelOperations[label]; matched && ok {
		return e.begin(ctx, ev, op, locale)
	}
	if d, ok := e.drafts.get(ev.UserID); ok {
		return e.editDraft(ctx, ev, d, text, label, matched, locale)
	}
	if matched {
		switch label {
		case prompts.LabelCancel:
			return e.cancel(ctx, ev, locale)
		case prompts.LabelDonate:
			return e.donate(ctx, ev, locale)
		case prompts.LabelGoCompress, prompts.LabelGoMerge, prompts.LabelGoConvert:
			return e.proceed(ctx, ev, label, locale)
		case prompts.LabelSplitOne:
			return e.chooseSplit(ctx, ev, session.SplitOne, locale)
		case prompts.LabelSplitMany:
			return e.chooseSplit(ctx, ev, session.SplitMany, locale)
		}
	}

	var state session.State
	_ = e.sessions.Do(ev.UserID, func(tx *session.Tx) error {
		if s := tx.Session(); s != nil {
			state = s.State
			locale = tx.Locale(locale)
		}
		return nil
	})
	if state == session.StateAwaitingRange {
		return e.setRange(ctx, ev, text, locale)
	}
	return e.unexpected(ctx, ev, locale, state)
}

// command extracts the name of a slash command, dropping any @bot suffix.
func command(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", false
	}
	name, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(name), name != ""
}

var labelOperations = map[string]formats.Operation{
	prompts.LabelCompress:   formats.OpCompress,
	prompts.LabelMerge:      formats.OpMerge,
	prompts.LabelSplit:      formats.OpSplit,
	prompts.LabelDelete:     formats.OpDelete,
	prompts.LabelConvertPPT: formats.OpConvertPPT,
	prompts.LabelConvertDoc: formats.OpConvertDoc,
	prompts.LabelConvertImg: formats.OpConvertImg,
}

var goLabels = map[formats.Operation]string{
	formats.OpCompress:   prompts.LabelGoCompress,
	formats.OpMerge:      prompts.LabelGoMerge,
	formats.OpConvertPPT: prompts.LabelGoConvert,
	formats.OpConvertDoc: prompts.LabelGoConvert,
	formats.OpConvertImg: prompts.LabelGoConvert,
}

var inputKeys = map[formats.Operation]string{
	formats.OpCompress:   prompts.KeyCompressInput,
	formats.OpMerge:      prompts.KeyMergeInput,
	formats.OpSplit:      prompts.KeySplitInput,
	formats.OpDelete:     prompts.KeyDeleteInput,
	formats.OpConvertPPT: prompts.KeyConvertInput,
	formats.OpConvertDoc: prompts.KeyConvertInput,
	formats.OpConvertImg: prompts.KeyConvertInput,
}

var queueKeys = map[formats.Operation]string{
	formats.OpCompress:   prompts.KeyCompressQueue,
	formats.OpMerge:      prompts.KeyMergeQueue,
	formats.OpSplit:      prompts.KeySplitQueue,
	formats.OpDelete:     prompts.KeyDeleteQueue,
	formats.OpConvertPPT: prompts.KeyConvertQueue,
	formats.OpConvertDoc: prompts.KeyConvertQueue,
	formats.OpConvertImg: prompts.KeyConvertQueue,
}

// send renders one prompt for the sender of ev. Delivery failures are logged
// and otherwise ignored; the session has already been updated.
func (e *Engine) send(ctx context.Context, ev Event, p prompts.Prompt) {
	p.Channel = ev.Channel
	p.UserID = ev.UserID
	if e.renderer == nil {
		return
	}
	if err := e.renderer.Render(ctx, p); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, e.logger), "prompt delivery failed", "prompt_failed",
			logging.String("prompt", p.Key),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check transport connectivity"),
			logging.String(logging.FieldImpact, "user did not receive a message"),
		)
	}
}

func (e *Engine) say(ctx context.Context, ev Event, locale, key string, args map[string]string, keyboard [][]string) {
	e.send(ctx, ev, prompts.Prompt{Locale: locale, Key: key, Args: args, Keyboard: keyboard})
}

// resetLocked returns the user to idle. Callers hold the session lock.
func (e *Engine) resetLocked(ctx context.Context, tx *session.Tx, userID string) {
	tx.Clear()
	e.reconciler.Reset(userID)
	if e.stager == nil {
		return
	}
	if err := e.stager.Cleanup(userID); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, e.logger), "staging cleanup failed", "staging_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the staging sweeper removes the directory later"),
			logging.String(logging.FieldImpact, "uploads stay on disk until the next sweep"),
		)
	}
}

func (e *Engine) reset(ctx context.Context, userID string) bool {
	e.drafts.drop(userID)
	var existed bool
	_ = e.sessions.Do(userID, func(tx *session.Tx) error {
		existed = tx.Active()
		e.resetLocked(ctx, tx, userID)
		return nil
	})
	return existed
}

// reject tells the user why their input was refused. Failures that are not
// plain rejections end the session.
func (e *Engine) reject(ctx context.Context, ev Event, locale string, err error) error {
	logger := logging.WithContext(ctx, e.logger)
	if services.Classify(err) == services.OutcomeReset {
		e.reset(ctx, ev.UserID)
		logging.ErrorWithContext(logger, "request failed", "request_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "user was returned to the menu"),
		)
		e.say(ctx, ev, locale, prompts.KeyFuncFailed, nil, nil)
		e.say(ctx, ev, locale, prompts.KeyIdleHeadless, nil, prompts.IdleKeyboard(false))
		return err
	}
	key, args, ok := services.PromptOf(err)
	if !ok {
		key = prompts.KeyUnknown
	}
	logger.Info("input rejected",
		logging.String("prompt", key),
		logging.String(logging.FieldErrorKind, services.Kind(err)),
		logging.Error(err),
		logging.String(logging.FieldEventType, "input_rejected"),
	)
	e.say(ctx, ev, locale, key, args, nil)
	return err
}
