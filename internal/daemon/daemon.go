package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"pdfile/internal/config"
	"pdfile/internal/deps"
	"pdfile/internal/dispatch"
	"pdfile/internal/history"
	"pdfile/internal/logging"
	"pdfile/internal/notifications"
	"pdfile/internal/preflight"
	"pdfile/internal/prompts"
	"pdfile/internal/services"
	"pdfile/internal/session"
	"pdfile/internal/staging"
	"pdfile/internal/telegram"
	"pdfile/internal/transform"
	"pdfile/internal/workflow"
)

const component = "daemon"

// Daemon owns the engine and its transports and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	engine   *workflow.Engine
	stager   *staging.Stager
	mailbox  *prompts.Mailbox
	history  *history.Store
	notifier notifications.Service
	sweeper  *staging.Sweeper
	bot      *telegram.Bot

	lockPath string
	lock     *flock.Flock

	running    atomic.Bool
	startedAt  atomic.Int64
	ctx        context.Context
	cancel     context.CancelFunc
	background sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	StartedAt    time.Time
	Telegram     bool
	Engine       workflow.Status
	Dependencies []deps.Status
	LockPath     string
	HistoryPath  string
	StagingDir   string
}

// Message is one chat message injected on the local channel.
type Message struct {
	UserID   string
	Username string
	Locale   string
	Text     string

	// FilePath uploads a local file instead of sending text.
	FilePath string
}

// OutboxDir is where results delivered on the local channel are kept.
func OutboxDir(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, "outbox")
}

// New wires every collaborator from cfg. The chat transport is only
// connected when telegram is enabled and a token is configured.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}

	catalog, err := prompts.Load()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, component, "load catalog", "prompt catalog is invalid", err)
	}
	store, err := history.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	notifier := notifications.NewService(cfg)
	stager := staging.NewStager(cfg, logger)
	transformer := transform.New(cfg, logger)
	dispatcher := dispatch.New(transformer, stager, logger,
		dispatch.WithRecorder(store),
		dispatch.WithNotifier(notifier),
	)

	mailbox := prompts.NewMailbox(catalog)
	mailbox.KeepAttachments(OutboxDir(cfg))
	mux := prompts.NewMux()
	mux.Handle(staging.LocalChannel, mailbox)

	var bot *telegram.Bot
	if cfg.TelegramEnabled() {
		bot, err = telegram.New(cfg, catalog, logger)
		if err != nil {
			store.Close()
			return nil, err
		}
		stager.Register(telegram.Channel, bot.Downloader(0))
		mux.Handle(telegram.Channel, bot)
	}

	engine := workflow.NewEngine(cfg, workflow.Dependencies{
		Catalog:    catalog,
		Stager:     stager,
		Pages:      transformer,
		Dispatcher: dispatcher,
		Renderer:   mux,
	}, logger)

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, component),
		engine:   engine,
		stager:   stager,
		mailbox:  mailbox,
		history:  store,
		notifier: notifier,
		sweeper:  staging.NewSweeper(stager.Root(), cfg.StagingMaxAge(), cfg.StagingSweepInterval(), engine.ActiveUsers, logger),
		bot:      bot,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, prepares staging, and starts the
// transports and the staging sweeper.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another pdfile daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.preflight(d.ctx)

	staging.CleanOrphaned(d.ctx, d.stager.Root(), staging.ActiveSet(d.engine.ActiveUsers()), d.logger)

	d.background.Go(func() { d.sweeper.Run(d.ctx) })

	transports := []string{staging.LocalChannel}
	if d.bot != nil {
		if err := d.bot.Start(d.ctx, d.engine); err != nil {
			d.cancel()
			d.background.Wait()
			_ = d.lock.Unlock()
			d.ctx = nil
			d.cancel = nil
			return fmt.Errorf("start telegram: %w", err)
		}
		transports = append(transports, telegram.Channel)
	}

	d.startedAt.Store(time.Now().UnixNano())
	d.running.Store(true)
	d.logger.Info("pdfile daemon started",
		logging.String("lock", d.lockPath),
		logging.Strings("transports", transports),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	d.publish(ctx, notifications.EventDaemonStarted, notifications.Payload{"transports": strings.Join(transports, ", ")})
	return nil
}

func (d *Daemon) preflight(ctx context.Context) {
	failed := preflight.Failed(preflight.RunAll(ctx, d.cfg))
	if len(failed) == 0 {
		return
	}
	names := make([]string, 0, len(failed))
	for _, r := range failed {
		names = append(names, r.Name)
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "run pdfile deps for details"),
			logging.String(logging.FieldImpact, "operations depending on this check will fail"),
		)
	}
	d.publish(ctx, notifications.EventPreflight, notifications.Payload{"checks": strings.Join(names, ", ")})
}

// Stop stops the transports and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.bot != nil {
		d.bot.Stop()
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.background.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)

	d.publish(context.Background(), notifications.EventDaemonStopped, nil)
	d.logger.Info("pdfile daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.history != nil {
		return d.history.Close()
	}
	return nil
}

func (d *Daemon) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := d.notifier.Publish(ctx, event, payload); err != nil {
		d.logger.Warn("notification failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldEventType, "notification_failed"),
		)
	}
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Telegram:     d.bot != nil && d.bot.Running(),
		Engine:       d.engine.Status(),
		Dependencies: preflight.CheckSystemDeps(ctx, d.cfg),
		LockPath:     d.lockPath,
		HistoryPath:  d.history.Path(),
		StagingDir:   d.stager.Root(),
	}
	if ns := d.startedAt.Load(); ns > 0 && status.Running {
		status.StartedAt = time.Unix(0, ns)
	}
	return status
}

// Sessions returns snapshots of running sessions.
func (d *Daemon) Sessions() []session.Session {
	return d.engine.Sessions()
}

// Reset returns userID to idle and reports whether a session was running.
func (d *Daemon) Reset(ctx context.Context, userID string) bool {
	return d.engine.Reset(ctx, userID)
}

// Send injects m on the local channel and returns the prompts rendered for
// the user while it was handled. Concurrent sends for the same user may
// collect each other's prompts.
func (d *Daemon) Send(ctx context.Context, m Message) ([]prompts.Rendered, error) {
	if !d.running.Load() {
		return nil, errors.New("daemon is not running")
	}
	userID := strings.TrimSpace(m.UserID)
	if userID == "" {
		return nil, services.Wrap(services.ErrInputRejected, component, "send", "user id is required", nil)
	}

	ev := workflow.Event{
		Channel:  staging.LocalChannel,
		UserID:   userID,
		Username: m.Username,
		Locale:   m.Locale,
		Kind:     workflow.EventText,
		Text:     m.Text,
	}
	if path := strings.TrimSpace(m.FilePath); path != "" {
		ref, err := localRef(path)
		if err != nil {
			return nil, err
		}
		ev.Kind = workflow.EventFile
		ev.File = &ref
	}

	err := d.engine.Handle(ctx, ev)
	return d.mailbox.Drain(userID), err
}

func localRef(path string) (staging.FileRef, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return staging.FileRef{}, fmt.Errorf("resolve file path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return staging.FileRef{}, services.Wrap(services.ErrNotFound, component, "send", "stat upload", err)
	}
	if info.IsDir() {
		return staging.FileRef{}, fmt.Errorf("upload path %q is a directory", absPath)
	}
	return staging.FileRef{
		Name:    info.Name(),
		Channel: staging.LocalChannel,
		ID:      absPath,
		Size:    info.Size(),
	}, nil
}

// History returns the most recent jobs, optionally for one user.
func (d *Daemon) History(ctx context.Context, userID string, limit int) ([]*history.Job, []history.OperationCount, error) {
	jobs, err := d.history.Recent(ctx, userID, limit)
	if err != nil {
		return nil, nil, err
	}
	counts, err := d.history.Counts(ctx)
	if err != nil {
		return nil, nil, err
	}
	return jobs, counts, nil
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
