// Package dispatch turns a session that collected all of its inputs into a
// transform job, verifies the artifact, and records the outcome.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"pdfile/internal/fileutil"
	"pdfile/internal/formats"
	"pdfile/internal/history"
	"pdfile/internal/logging"
	"pdfile/internal/notifications"
	"pdfile/internal/prompts"
	"pdfile/internal/services"
	"pdfile/internal/session"
	"pdfile/internal/transform"
)

const component = "dispatch"

// OutputDirs hands out a fresh artifact directory per run.
type OutputDirs interface {
	OutputDir(userID string, generation uint64) (string, error)
}

// Recorder persists job outcomes.
type Recorder interface {
	Record(ctx context.Context, job history.Job) error
	MarkDiscarded(ctx context.Context, id string) error
}

// Result describes a successful dispatch.
type Result struct {
	JobID    string
	Artifact string
	Bytes    int64
	Elapsed  time.Duration
}

// Name returns the artifact's file name as the user will see it.
func (r Result) Name() string { return filepath.Base(r.Artifact) }

// Dispatcher runs transforms for ready sessions.
type Dispatcher struct {
	transformer transform.Transformer
	outputs     OutputDirs
	recorder    Recorder
	notifier    notifications.Service
	logger      *slog.Logger

	newID func() string
	now   func() time.Time
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder records every job in the given history store.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithNotifier alerts operators about failed jobs.
func WithNotifier(n notifications.Service) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

// WithClock overrides time and id generation.
func WithClock(now func() time.Time, newID func() string) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
		if newID != nil {
			d.newID = newID
		}
	}
}

// New builds a dispatcher.
func New(t transform.Transformer, outputs OutputDirs, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transformer: t,
		outputs:     outputs,
		logger:      logging.NewComponentLogger(logger, component),
		newID:       uuid.NewString,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Ready reports whether s holds every input its operation needs. The error
// carries the prompt that tells the user what is missing.
func Ready(s session.Session) error {
	op := s.Operation
	files := len(s.StagedFiles)
	reject := func(key, msg string) error {
		err := services.Wrap(services.ErrInputRejected, component, "ready", msg, nil)
		return services.WithPrompt(err, key, nil)
	}
	switch {
	case !op.Valid():
		return services.Wrap(services.ErrInputRejected, component, "ready", "no operation selected", nil)
	case files == 0:
		return reject(prompts.KeyNoFiles, "no files staged")
	case files < op.MinFiles():
		return reject(prompts.KeyOneFile, fmt.Sprintf("%s needs %d files, have %d", op, op.MinFiles(), files))
	}
	if op.SingleFile() {
		if files != 1 {
			return services.Wrap(services.ErrInputRejected, component, "ready",
				fmt.Sprintf("%s takes one file, have %d", op, files), nil)
		}
		if len(s.ResolvedRange) == 0 {
			return services.Wrap(services.ErrInputRejected, component, "ready", "no pages selected", nil)
		}
		if op == formats.OpSplit && s.SplitMode == session.SplitNone {
			return services.Wrap(services.ErrInputRejected, component, "ready", "split mode not chosen", nil)
		}
	}
	return nil
}

// Dispatch transforms the inputs of s. Failures are tagged TransformFailed;
// the caller resets the session either way.
func (d *Dispatcher) Dispatch(ctx context.Context, s session.Session) (Result, error) {
	if s.State != session.StateReadyToDispatch {
		return Result{}, services.Wrap(services.ErrTransformFailed, component, "dispatch",
			fmt.Sprintf("session in state %s", s.State), session.ErrInvalidTransition)
	}
	if err := Ready(s); err != nil {
		// Not wrapped: a rejected-input marker would turn this into a re-prompt.
		return Result{}, services.Wrap(services.ErrTransformFailed, component, "dispatch", "inputs incomplete: "+err.Error(), nil)
	}

	jobID := d.newID()
	logger := logging.WithContext(ctx, d.logger).With(
		logging.String("job_id", jobID),
		logging.String(logging.FieldOperation, string(s.Operation)),
	)
	started := d.now()
	job := history.Job{
		ID:        jobID,
		UserID:    s.UserID,
		Operation: string(s.Operation),
		FileCount: len(s.StagedFiles),
		PageCount: len(s.ResolvedRange),
		StartedAt: started,
	}
	if channel, ok := services.ChannelFromContext(ctx); ok {
		job.Channel = channel
	}

	artifact, err := d.run(ctx, s)
	job.FinishedAt = d.now()
	if err != nil {
		err = services.Wrap(services.ErrTransformFailed, component, "dispatch", string(s.Operation), err)
		job.Status = history.StatusFailed
		job.ErrorKind = services.Kind(err)
		job.ErrorMessage = err.Error()
		d.record(ctx, logger, job)
		logging.ErrorWithContext(logger, "job failed", "job_failed",
			logging.Error(err),
			logging.Int("files", job.FileCount),
			logging.String(logging.FieldErrorHint, "inspect the uploaded files and converter logs"),
			logging.String(logging.FieldImpact, "user was returned to the menu"),
		)
		d.notify(ctx, logger, s, err)
		return Result{JobID: jobID}, err
	}

	res := Result{
		JobID:    jobID,
		Artifact: artifact,
		Elapsed:  job.FinishedAt.Sub(started),
	}
	if info, statErr := os.Stat(artifact); statErr == nil {
		res.Bytes = info.Size()
	}
	job.Status = history.StatusSucceeded
	job.Artifact = res.Name()
	job.ArtifactBytes = res.Bytes
	d.record(ctx, logger, job)
	logger.Info("job finished",
		logging.String("artifact", res.Name()),
		logging.Int64("bytes", res.Bytes),
		logging.Duration("elapsed", res.Elapsed),
		logging.String(logging.FieldEventType, "job_succeeded"),
	)
	return res, nil
}

func (d *Dispatcher) run(ctx context.Context, s session.Session) (string, error) {
	outDir, err := d.outputs.OutputDir(s.UserID, s.Generation)
	if err != nil {
		return "", err
	}
	req := transform.Request{
		Operation:  s.Operation,
		Files:      s.Clone().StagedFiles,
		Pages:      s.Clone().ResolvedRange,
		RangeLabel: s.RangeLabel,
		SplitMode:  s.SplitMode,
		OutputDir:  outDir,
	}
	artifact, err := d.transformer.Transform(ctx, req)
	if err != nil {
		return "", err
	}
	if !fileutil.NonEmpty(artifact) {
		return "", services.Wrap(services.ErrTransformFailed, component, "verify", "artifact missing or empty", nil)
	}
	return artifact, nil
}

// Discard removes the artifact of a result nobody will receive and marks
// the job in history.
func (d *Dispatcher) Discard(ctx context.Context, res Result) {
	if res.Artifact != "" {
		_ = os.Remove(res.Artifact)
	}
	if d.recorder != nil && res.JobID != "" {
		if err := d.recorder.MarkDiscarded(ctx, res.JobID); err != nil {
			d.logger.Warn("history update failed",
				logging.String("job_id", res.JobID),
				logging.Error(err),
				logging.String(logging.FieldEventType, "history_update_failed"),
				logging.String(logging.FieldErrorHint, "check the history database under log_dir"),
				logging.String(logging.FieldImpact, "job history shows a stale status"),
			)
		}
	}
}

func (d *Dispatcher) record(ctx context.Context, logger *slog.Logger, job history.Job) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.Record(ctx, job); err != nil {
		logger.Warn("history record failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "history_record_failed"),
			logging.String(logging.FieldErrorHint, "check the history database under log_dir"),
			logging.String(logging.FieldImpact, "job missing from history"),
		)
	}
}

func (d *Dispatcher) notify(ctx context.Context, logger *slog.Logger, s session.Session, cause error) {
	if d.notifier == nil {
		return
	}
	payload := notifications.Payload{
		"operation": string(s.Operation),
		"user_id":   s.UserID,
		"files":     len(s.StagedFiles),
		"error":     cause,
	}
	if err := d.notifier.Publish(ctx, notifications.EventJobFailed, payload); err != nil {
		logger.Warn("job failure notification failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "notification_failed"),
			logging.String(logging.FieldErrorHint, "check ntfy_topic"),
			logging.String(logging.FieldImpact, "operator was not alerted"),
		)
	}
}
