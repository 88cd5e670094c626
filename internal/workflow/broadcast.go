package workflow

import (
	"context"
	"strconv"
	"sync"

	"pdfile/internal/logging"
	"pdfile/internal/prompts"
	"pdfile/internal/services"
)

// draft is an announcement the admin is composing. It lives beside the
// session store because it is not a document operation.
type draft struct {
	text      string
	reviewing bool
}

type drafts struct {
	mu sync.Mutex
	m  map[string]draft
}

func (d *drafts) get(userID string) (draft, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.m[userID]
	return v, ok
}

func (d *drafts) set(userID string, v draft) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.m == nil {
		d.m = make(map[string]draft)
	}
	d.m[userID] = v
}

func (d *drafts) drop(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.m, userID)
}

func (e *Engine) isAdmin(userID string) bool {
	return e.adminID != "" && userID == e.adminID
}

// compose starts a new announcement, replacing whatever the admin was doing.
func (e *Engine) compose(ctx context.Context, ev Event, locale string) error {
	e.reset(ctx, ev.UserID)
	e.drafts.set(ev.UserID, draft{})
	logging.WithContext(ctx, e.logger).Info("admin entered broadcast mode",
		logging.String("username", ev.Username),
		logging.Int("recipients", len(e.recipients)),
		logging.String(logging.FieldEventType, "broadcast_compose"),
	)
	e.say(ctx, ev, locale, prompts.KeyBroadcastCompose, nil, prompts.CancelKeyboard())
	return nil
}

// editDraft applies one admin message to the announcement being composed:
// text replaces the draft until it is previewed, then only the action
// buttons are accepted.
func (e *Engine) editDraft(ctx context.Context, ev Event, d draft, text, label string, matched bool, locale string) error {
	switch {
	case matched && label == prompts.LabelCancel:
		return e.cancel(ctx, ev, locale)

	case !d.reviewing && matched && label == prompts.LabelBroadcastPreview:
		if d.text == "" {
			e.say(ctx, ev, locale, prompts.KeyBroadcastCompose, nil, prompts.CancelKeyboard())
			return services.Wrap(services.ErrInputRejected, component, "broadcast", "preview without a message", nil)
		}
		d.reviewing = true
		e.drafts.set(ev.UserID, d)
		e.say(ctx, ev, locale, prompts.KeyBroadcastDraft, map[string]string{"text": d.text}, nil)
		e.say(ctx, ev, locale, prompts.KeyBroadcastAction, nil, prompts.BroadcastActionKeyboard())
		return nil

	case !d.reviewing:
		e.drafts.set(ev.UserID, draft{text: text})
		e.say(ctx, ev, locale, prompts.KeyBroadcastReady, nil, prompts.BroadcastReadyKeyboard())
		return nil

	case matched && label == prompts.LabelBroadcastDelete:
		e.drafts.set(ev.UserID, draft{})
		e.say(ctx, ev, locale, prompts.KeyBroadcastDeleted, nil, prompts.CancelKeyboard())
		return nil

	case matched && label == prompts.LabelBroadcastSend:
		return e.broadcast(ctx, ev, d.text, locale)
	}

	e.say(ctx, ev, locale, prompts.KeyUnknown, nil, prompts.BroadcastActionKeyboard())
	return services.Wrap(services.ErrInputRejected, component, "broadcast", "expected a draft action", nil)
}

// broadcast delivers text to every configured recipient on the admin's
// channel and returns the admin to the menu.
func (e *Engine) broadcast(ctx context.Context, ev Event, text, locale string) error {
	e.drafts.drop(ev.UserID)
	logger := logging.WithContext(ctx, e.logger)

	sent := 0
	for _, id := range e.recipients {
		if e.renderer == nil {
			break
		}
		p := prompts.Prompt{
			Channel: ev.Channel,
			UserID:  id,
			Locale:  e.pinnedLocale(id, locale),
			Key:     prompts.KeyBroadcast,
			Args:    map[string]string{"text": text},
		}
		if err := e.renderer.Render(ctx, p); err != nil {
			logging.WarnWithContext(logger, "broadcast delivery failed", "broadcast_failed",
				logging.String("recipient", id),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that the recipient has started the bot"),
			)
			continue
		}
		sent++
	}

	logger.Info("broadcast sent",
		logging.Int("sent", sent),
		logging.Int("recipients", len(e.recipients)),
		logging.String(logging.FieldEventType, "broadcast_sent"),
	)
	e.say(ctx, ev, locale, prompts.KeyBroadcastSent, map[string]string{
		"sent":  strconv.Itoa(sent),
		"total": strconv.Itoa(len(e.recipients)),
	}, nil)
	e.say(ctx, ev, locale, prompts.KeyIdle, nil, prompts.IdleKeyboard(false))
	return nil
}
