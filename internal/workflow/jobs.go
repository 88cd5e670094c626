package workflow

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"pdfile/internal/dispatch"
	"pdfile/internal/formats"
	"pdfile/internal/logging"
	"pdfile/internal/pagerange"
	"pdfile/internal/prompts"
	"pdfile/internal/services"
	"pdfile/internal/session"
)

// proceed handles the "go" button of a collecting flow.
func (e *Engine) proceed(ctx context.Context, ev Event, label, locale string) error {
	var (
		ready session.Session
		state session.State
	)
	err := e.sessions.Do(ev.UserID, func(tx *session.Tx) error {
		s := tx.Session()
		locale = tx.Locale(locale)
		if s == nil || s.State != session.StateAwaitingFiles || goLabels[s.Operation] != label {
			if s != nil {
				state = s.State
			}
			return errUnexpected
		}
		if err := dispatch.Ready(*s); err != nil {
			return err
		}
		if err := tx.Advance(session.StateReadyToDispatch); err != nil {
			return err
		}
		ready = s.Clone()
		return nil
	})
	switch {
	case errors.Is(err, errUnexpected):
		return e.unexpected(ctx, ev, locale, state)
	case err != nil:
		return e.reject(ctx, ev, locale, err)
	}
	return e.run(ctx, ev, locale, ready)
}

var errUnexpected = errors.New("unexpected input")

// setRange resolves the page range typed by the user against the staged
// document.
func (e *Engine) setRange(ctx context.Context, ev Event, text, locale string) error {
	var (
		res   pagerange.Result
		ready *session.Session
		state session.State
	)
	err := e.sessions.Do(ev.UserID, func(tx *session.Tx) error {
		s := tx.Session()
		locale = tx.Locale(locale)
		if s == nil || s.State != session.StateAwaitingRange {
			if s != nil {
				state = s.State
			}
			return errUnexpected
		}
		var err error
		res, err = pagerange.Resolve(text, s.PageCount)
		if err != nil {
			err = services.Wrap(services.ErrInputRejected, component, "range", text, err)
			return services.WithPrompt(err, prompts.KeyBadPattern, map[string]string{"text": text})
		}
		s.PendingRange = text
		s.ResolvedRange = res.Pages
		s.RangeLabel = res.Label
		next := session.StateReadyToDispatch
		if s.Operation == formats.OpSplit {
			next = session.StateAwaitingRangeMode
		}
		if err := tx.Advance(next); err != nil {
			return err
		}
		if next == session.StateReadyToDispatch {
			snap := s.Clone()
			ready = &snap
		}
		return nil
	})
	switch {
	case errors.Is(err, errUnexpected):
		return e.unexpected(ctx, ev, locale, state)
	case services.IsInputRejected(err):
		e.reject(ctx, ev, locale, err)
		e.say(ctx, ev, locale, prompts.KeyAvailable, nil, prompts.CancelKeyboard())
		return err
	case err != nil:
		return e.reject(ctx, ev, locale, err)
	}

	logger := logging.WithContext(ctx, e.logger)
	logger.Info("page range accepted",
		logging.String("range", res.Label),
		logging.Int("pages", len(res.Pages)),
		logging.Int("requested", res.Requested),
		logging.Bool("clamped", res.Clamped),
		logging.String(logging.FieldEventType, "range_accepted"),
	)
	if res.Clamped {
		e.say(ctx, ev, locale, prompts.KeyRangeExceed, map[string]string{"pages": formatPages(res.Pages)}, nil)
	}
	if ready == nil {
		e.say(ctx, ev, locale, prompts.KeySplitCall, nil, prompts.SplitModeKeyboard())
		return nil
	}
	return e.run(ctx, ev, locale, *ready)
}

// chooseSplit records the split output mode and runs the job.
func (e *Engine) chooseSplit(ctx context.Context, ev Event, mode session.SplitMode, locale string) error {
	var (
		ready session.Session
		state session.State
	)
	err := e.sessions.Do(ev.UserID, func(tx *session.Tx) error {
		s := tx.Session()
		locale = tx.Locale(locale)
		if s == nil || s.State != session.StateAwaitingRangeMode {
			if s != nil {
				state = s.State
			}
			return errUnexpected
		}
		s.SplitMode = mode
		if err := tx.Advance(session.StateReadyToDispatch); err != nil {
			return err
		}
		ready = s.Clone()
		return nil
	})
	switch {
	case errors.Is(err, errUnexpected):
		return e.unexpected(ctx, ev, locale, state)
	case err != nil:
		return e.reject(ctx, ev, locale, err)
	}
	return e.run(ctx, ev, locale, ready)
}

// run dispatches a ready session and returns the user to the menu. A result
// that arrives after the user cancelled is discarded.
func (e *Engine) run(ctx context.Context, ev Event, locale string, ready session.Session) error {
	ctx = services.WithOperation(ctx, string(ready.Operation))
	logger := logging.WithContext(ctx, e.logger)

	e.say(ctx, ev, locale, prompts.KeyProcessing, nil, prompts.CancelKeyboard())
	e.jobs.Add(1)
	res, err := e.dispatcher.Dispatch(ctx, ready)
	e.jobs.Add(-1)

	if err != nil {
		e.failed.Add(1)
		var stale bool
		_ = e.sessions.Do(ev.UserID, func(tx *session.Tx) error {
			if tx.Generation() != ready.Generation {
				stale = true
				return nil
			}
			e.resetLocked(ctx, tx, ev.UserID)
			return nil
		})
		if stale {
			return err
		}
		e.say(ctx, ev, locale, prompts.KeyFuncFailed, nil, nil)
		e.say(ctx, ev, locale, prompts.KeyIdleHeadless, nil, prompts.IdleKeyboard(false))
		return err
	}

	// The artifact lives in the user's staging directory, so it is delivered
	// under the user's lock: a cancel waits until the upload has finished.
	var delivered bool
	_ = e.sessions.Do(ev.UserID, func(tx *session.Tx) error {
		if tx.Generation() != ready.Generation {
			return nil
		}
		e.send(ctx, ev, prompts.Prompt{Locale: locale, Key: prompts.KeyDocument, Attachment: res.Artifact})
		e.resetLocked(ctx, tx, ev.UserID)
		delivered = true
		return nil
	})
	if !delivered {
		e.dispatcher.Discard(ctx, res)
		logger.Info("discarding result of a cancelled session",
			logging.String("job_id", res.JobID),
			logging.Any("job_generation", ready.Generation),
			logging.Any("current_generation", e.sessions.Generation(ev.UserID)),
			logging.String(logging.FieldEventType, "result_discarded"),
		)
		return nil
	}

	e.succeeded.Add(1)
	e.say(ctx, ev, locale, prompts.KeyIdle, nil, prompts.IdleKeyboard(true))
	return nil
}

// formatPages renders pages compactly, collapsing ascending runs: 1-3, 7, 9-10.
func formatPages(pages []int) string {
	var parts []string
	for i := 0; i < len(pages); {
		j := i
		for j+1 < len(pages) && pages[j+1] == pages[j]+1 {
			j++
		}
		if j > i {
			parts = append(parts, strconv.Itoa(pages[i])+"-"+strconv.Itoa(pages[j]))
		} else {
			parts = append(parts, strconv.Itoa(pages[i]))
		}
		i = j + 1
	}
	return strings.Join(parts, ", ")
}
