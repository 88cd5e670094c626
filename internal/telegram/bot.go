// Package telegram connects the workflow engine to the Telegram Bot API.
//
// The Bot long-polls for updates, turns each message into a workflow.Event
// handled on its own goroutine, and renders outbound prompts as messages
// with reply keyboards, inline link buttons, or documents. Outbound calls
// share one rate limiter so bursts stay under the API's flood limits.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"pdfile/internal/config"
	"pdfile/internal/logging"
	"pdfile/internal/prompts"
	"pdfile/internal/services"
	"pdfile/internal/staging"
	"pdfile/internal/workflow"
)

// Channel identifies prompts and files that belong to this transport.
const Channel = "telegram"

// Handler consumes inbound events.
type Handler interface {
	Handle(ctx context.Context, ev workflow.Event) error
}

// botAPI is the subset of *tgbotapi.BotAPI the transport uses.
type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Bot is the Telegram transport.
type Bot struct {
	api         botAPI
	catalog     *prompts.Catalog
	limiter     *rate.Limiter
	pollTimeout int
	logger      *slog.Logger

	chats sync.Map // user id -> chat id

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	handlers sync.WaitGroup
}

// New connects to the Bot API with the configured token.
func New(cfg *config.Config, catalog *prompts.Catalog, logger *slog.Logger) (*Bot, error) {
	if cfg == nil || strings.TrimSpace(cfg.Telegram.Token) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "telegram", "connect", "telegram.token is empty", nil)
	}
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "telegram", "connect", "authorize bot", err)
	}
	api.Debug = cfg.Telegram.Debug
	bot := newBot(api, cfg, catalog, logger)
	bot.logger.Info("telegram bot authorized",
		logging.String("bot", api.Self.UserName),
		logging.String(logging.FieldEventType, "telegram_authorized"),
	)
	return bot, nil
}

func newBot(api botAPI, cfg *config.Config, catalog *prompts.Catalog, logger *slog.Logger) *Bot {
	limit := rate.Inf
	if cfg.Telegram.SendRate > 0 {
		limit = rate.Limit(cfg.Telegram.SendRate)
	}
	return &Bot{
		api:         api,
		catalog:     catalog,
		limiter:     rate.NewLimiter(limit, max(cfg.Telegram.SendBurst, 1)),
		pollTimeout: cfg.Telegram.PollTimeout,
		logger:      logging.NewComponentLogger(logger, "telegram"),
	}
}

// Downloader fetches uploaded files through the Bot API file URL.
func (b *Bot) Downloader(timeout time.Duration) staging.Downloader {
	return staging.NewHTTPDownloader(timeout, func(_ context.Context, ref staging.FileRef) (string, error) {
		return b.api.GetFileDirectURL(ref.ID)
	})
}

// Start begins long polling and hands every message to h.
func (b *Bot) Start(ctx context.Context, h Handler) error {
	if h == nil {
		return errors.New("telegram: nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	updates := b.api.GetUpdatesChan(u)

	b.cancel = cancel
	b.loopDone = make(chan struct{})
	b.running = true
	go b.loop(ctx, updates, h, b.loopDone)

	b.logger.Info("telegram polling started",
		logging.Int("poll_timeout", b.pollTimeout),
		logging.String(logging.FieldEventType, "telegram_started"),
	)
	return nil
}

// Stop ends polling and waits for in-flight handlers.
func (b *Bot) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.cancel()
	b.api.StopReceivingUpdates()
	done := b.loopDone
	b.mu.Unlock()

	<-done
	b.handlers.Wait()
	b.logger.Info("telegram polling stopped",
		logging.String(logging.FieldEventType, "telegram_stopped"),
	)
}

// Running reports whether the bot is polling.
func (b *Bot) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *Bot) loop(ctx context.Context, updates tgbotapi.UpdatesChannel, h Handler, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			ev, ok := b.event(update.Message)
			if !ok {
				continue
			}
			b.handlers.Add(1)
			go func() {
				defer b.handlers.Done()
				b.dispatch(ctx, h, ev)
			}()
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, h Handler, ev workflow.Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(b.logger, "event handler panicked", "handler_panic",
				logging.String(logging.FieldUserID, ev.UserID),
				logging.Any("panic", r),
			)
		}
	}()
	err := h.Handle(ctx, ev)
	switch {
	case err == nil:
	case services.Classify(err) == services.OutcomeReprompt, errors.Is(err, context.Canceled):
		b.logger.Debug("event rejected",
			logging.String(logging.FieldUserID, ev.UserID),
			logging.Error(err),
		)
	default:
		b.logger.Warn("event failed",
			logging.String(logging.FieldUserID, ev.UserID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "event_failed"),
			logging.String(logging.FieldErrorHint, "see the workflow log entries for this user"),
		)
	}
}

// event maps a Telegram message onto a workflow event. Messages without a
// sender are dropped.
func (b *Bot) event(msg *tgbotapi.Message) (workflow.Event, bool) {
	if msg == nil || msg.From == nil {
		return workflow.Event{}, false
	}
	userID := strconv.FormatInt(msg.From.ID, 10)
	if msg.Chat != nil {
		b.chats.Store(userID, msg.Chat.ID)
	}
	ev := workflow.Event{
		Channel:  Channel,
		UserID:   userID,
		Username: msg.From.UserName,
		Locale:   msg.From.LanguageCode,
		Kind:     workflow.EventText,
		Text:     msg.Text,
	}
	if ev.Username == "" {
		ev.Username = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	}
	switch {
	case msg.Document != nil:
		doc := msg.Document
		name := doc.FileName
		if name == "" {
			name = doc.FileUniqueID
		}
		ev.Kind = workflow.EventFile
		ev.File = &staging.FileRef{
			Name:    name,
			MIME:    doc.MimeType,
			Channel: Channel,
			ID:      doc.FileID,
			Size:    int64(doc.FileSize),
		}
	case len(msg.Photo) > 0:
		photo := largestPhoto(msg.Photo)
		ev.Kind = workflow.EventFile
		ev.File = &staging.FileRef{
			Name:    photo.FileUniqueID + ".jpg",
			MIME:    "image/jpeg",
			Channel: Channel,
			ID:      photo.FileID,
			Size:    int64(photo.FileSize),
		}
	}
	return ev, true
}

func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[len(sizes)-1]
	for _, s := range sizes {
		if s.Width*s.Height > best.Width*best.Height {
			best = s
		}
	}
	return best
}

func (b *Bot) chatID(userID string) (int64, error) {
	if v, ok := b.chats.Load(userID); ok {
		return v.(int64), nil
	}
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("no chat for user %q", userID)
	}
	return id, nil
}
