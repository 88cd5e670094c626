package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"pdfile/internal/formats"
	"pdfile/internal/logging"
	"pdfile/internal/prompts"
	"pdfile/internal/services"
	"pdfile/internal/session"
)

var errStale = errors.New("session changed while the file was staged")

func notAccepting(state session.State) error {
	err := services.Wrap(services.ErrInputRejected, component, "file",
		fmt.Sprintf("state %s", state), session.ErrNotAccepting)
	return services.WithPrompt(err, prompts.KeyUnknown, nil)
}

// handleFile stages one upload and appends it to the session. Multi-file
// operations announce uploads once the batch they arrived in has settled.
func (e *Engine) handleFile(ctx context.Context, ev Event, locale string) error {
	done := e.gauge.Begin(ev.UserID)
	defer done()

	ref := *ev.File
	var before session.Session
	err := e.sessions.Do(ev.UserID, func(tx *session.Tx) error {
		s := tx.Session()
		locale = tx.Locale(locale)
		if s == nil || !s.AcceptsFiles() {
			state := session.StateIdle
			if s != nil {
				state = s.State
			}
			return notAccepting(state)
		}
		if err := e.stager.Precheck(ref, s.Operation); err != nil {
			return err
		}
		before = s.Clone()
		return nil
	})
	if err != nil {
		return e.reject(ctx, ev, locale, err)
	}

	logger := logging.WithContext(ctx, e.logger)
	logger.Info("file received",
		logging.String("file", ref.Name),
		logging.Int64("bytes", ref.Size),
		logging.String(logging.FieldEventType, "file_received"),
	)

	staged, err := e.stager.Stage(ctx, ev.UserID, ref)
	if err != nil {
		return e.reject(ctx, ev, locale, err)
	}

	pages := 0
	if before.Operation.SingleFile() {
		pages, err = e.pages.PageCount(ctx, staged.Path)
		if err != nil {
			_ = os.Remove(staged.Path)
			_, allowed := formats.Allowed(staged.Name, before.Operation)
			err = services.Wrap(services.ErrInputRejected, component, "page count", staged.Name, err)
			err = services.WithPrompt(err, prompts.KeyBadFormat, map[string]string{
				"name":    staged.Name,
				"formats": strings.Join(allowed, ", "),
			})
			return e.reject(ctx, ev, locale, err)
		}
	}

	var after session.Session
	err = e.sessions.Do(ev.UserID, func(tx *session.Tx) error {
		s := tx.Session()
		if tx.Generation() != before.Generation || s == nil {
			return errStale
		}
		if _, err := tx.AppendFile(staged); err != nil {
			return notAccepting(s.State)
		}
		if s.Operation.SingleFile() {
			s.PageCount = pages
			if err := tx.Advance(session.StateAwaitingRange); err != nil {
				return err
			}
		}
		after = s.Clone()
		return nil
	})
	switch {
	case errors.Is(err, errStale):
		_ = os.Remove(staged.Path)
		logger.Debug("dropping upload for a finished session",
			logging.String("file", staged.Name),
			logging.String(logging.FieldEventType, "upload_dropped"),
		)
		return nil
	case err != nil:
		_ = os.Remove(staged.Path)
		return e.reject(ctx, ev, locale, err)
	}

	if after.Operation.SingleFile() {
		e.say(ctx, ev, locale, queueKeys[after.Operation], map[string]string{
			"name":  staged.Name,
			"pages": strconv.Itoa(pages),
		}, nil)
		e.say(ctx, ev, locale, prompts.KeyAvailable, nil, prompts.CancelKeyboard())
		return nil
	}
	return e.settle(ctx, ev, locale, after.Generation)
}

// settle waits for sibling uploads and announces the batch once it is
// complete. Only the handler that observes the settled batch announces it.
func (e *Engine) settle(ctx context.Context, ev Event, locale string, generation uint64) error {
	if err := e.reconciler.Wait(ctx); err != nil {
		return err
	}

	var (
		announce []session.StagedFile
		from     int
		op       formats.Operation
	)
	_ = e.sessions.Do(ev.UserID, func(tx *session.Tx) error {
		s := tx.Session()
		if tx.Generation() != generation || s == nil || !s.AcceptsFiles() {
			return nil
		}
		d := e.reconciler.Observe(ev.UserID, len(s.StagedFiles))
		logging.WithContext(ctx, e.logger).Debug("batch sample",
			logging.Int("staged", len(s.StagedFiles)),
			logging.Int("sample", d.Sample),
			logging.Int("max_sample", d.MaxSample),
			logging.Bool("settled", d.Settled),
			logging.Duration("settle_delay", e.reconciler.Delay()),
			logging.String(logging.FieldEventType, "batch_sample"),
		)
		if d.Settled {
			announce = append(announce, s.StagedFiles[d.From:d.To]...)
			from = d.From
			op = s.Operation
		}
		return nil
	})
	if len(announce) == 0 {
		return nil
	}

	lines := make([]string, len(announce))
	for i, f := range announce {
		lines[i] = fmt.Sprintf("%d. %s", from+i+1, f.Name)
	}
	logging.WithContext(ctx, e.logger).Info("batch settled",
		logging.Int("files", len(announce)),
		logging.Int("total", from+len(announce)),
		logging.String(logging.FieldEventType, "batch_settled"),
	)
	e.say(ctx, ev, locale, queueKeys[op], map[string]string{"files": strings.Join(lines, "\n")}, nil)
	return nil
}
