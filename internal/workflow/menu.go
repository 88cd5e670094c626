package workflow

import (
	"context"
	"strings"

	"pdfile/internal/formats"
	"pdfile/internal/logging"
	"pdfile/internal/prompts"
	"pdfile/internal/services"
	"pdfile/internal/session"
)

func (e *Engine) start(ctx context.Context, ev Event, locale string) error {
	e.reset(ctx, ev.UserID)
	e.sessions.GetOrCreate(ev.UserID, locale)
	logging.WithContext(ctx, e.logger).Info("user started the bot",
		logging.String("username", ev.Username),
		logging.String("locale", locale),
		logging.String(logging.FieldEventType, "user_started"),
	)
	name := ev.Username
	if name == "" {
		name = ev.UserID
	}
	e.say(ctx, ev, locale, prompts.KeyStart, map[string]string{"username": name}, prompts.IdleKeyboard(false))
	return nil
}

func (e *Engine) cancel(ctx context.Context, ev Event, locale string) error {
	locale = e.pinnedLocale(ev.UserID, locale)
	if e.reset(ctx, ev.UserID) {
		logging.WithContext(ctx, e.logger).Info("session cancelled",
			logging.String(logging.FieldEventType, "session_cancelled"),
		)
	}
	e.say(ctx, ev, locale, prompts.KeyIdleHeadless, nil, prompts.IdleKeyboard(false))
	return nil
}

func (e *Engine) help(ctx context.Context, ev Event, locale string) error {
	locale = e.pinnedLocale(ev.UserID, locale)
	e.reset(ctx, ev.UserID)
	e.say(ctx, ev, locale, prompts.KeyHelp, nil, prompts.IdleKeyboard(false))
	return nil
}

func (e *Engine) donate(ctx context.Context, ev Event, locale string) error {
	locale = e.pinnedLocale(ev.UserID, locale)
	e.reset(ctx, ev.UserID)
	logging.WithContext(ctx, e.logger).Info("user opened the donation page",
		logging.String(logging.FieldEventType, "donate_opened"),
	)
	p := prompts.Prompt{Locale: locale, Key: prompts.KeyDonateDesc}
	if e.donateURL != "" {
		p.Link = &prompts.Link{LabelKey: prompts.LabelDonateLink, URL: e.donateURL}
	}
	e.send(ctx, ev, p)
	e.say(ctx, ev, locale, prompts.KeyIdleHeadless, nil, prompts.IdleKeyboard(false))
	return nil
}

// begin starts a fresh run of op, replacing whatever the user was doing.
func (e *Engine) begin(ctx context.Context, ev Event, op formats.Operation, locale string) error {
	e.drafts.drop(ev.UserID)
	_ = e.sessions.Do(ev.UserID, func(tx *session.Tx) error {
		if tx.Active() {
			e.resetLocked(ctx, tx, ev.UserID)
		}
		tx.Start(op, locale)
		e.reconciler.Reset(ev.UserID)
		return nil
	})
	ctx = services.WithOperation(ctx, string(op))
	logging.WithContext(ctx, e.logger).Info("operation selected",
		logging.String("username", ev.Username),
		logging.String(logging.FieldEventType, "operation_selected"),
	)

	var args map[string]string
	if op.Office() || op == formats.OpConvertImg {
		_, allowed := formats.Allowed("", op)
		args = map[string]string{"formats": strings.Join(allowed, ", ")}
	}
	keyboard := prompts.CancelKeyboard()
	if goLabel, ok := goLabels[op]; ok {
		keyboard = prompts.CollectKeyboard(goLabel)
	}
	e.say(ctx, ev, locale, inputKeys[op], args, keyboard)
	return nil
}

// unexpected answers text that fits neither a command nor the current state.
func (e *Engine) unexpected(ctx context.Context, ev Event, locale string, state session.State) error {
	var keyboard [][]string
	if state == "" || state == session.StateIdle {
		keyboard = prompts.IdleKeyboard(false)
	}
	logging.WithContext(ctx, e.logger).Debug("unexpected message",
		logging.String("state", string(state)),
		logging.String(logging.FieldEventType, "unexpected_input"),
	)
	e.say(ctx, ev, locale, prompts.KeyUnknown, nil, keyboard)
	return services.Wrap(services.ErrInputRejected, component, "text", "unexpected in state "+string(state), nil)
}

func (e *Engine) pinnedLocale(userID, fallback string) string {
	if s, ok := e.sessions.Get(userID); ok && s.Locale != "" {
		return s.Locale
	}
	return fallback
}
