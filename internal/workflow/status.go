package workflow

import (
	"context"

	"pdfile/internal/logging"
	"pdfile/internal/services"
	"pdfile/internal/session"
)

// Status is a point-in-time summary of engine activity.
type Status struct {
	ActiveSessions int    `json:"active_sessions"`
	RunningJobs    int64  `json:"running_jobs"`
	EventsHandled  uint64 `json:"events_handled"`
	JobsSucceeded  uint64 `json:"jobs_succeeded"`
	JobsFailed     uint64 `json:"jobs_failed"`
}

// Status reports counters since the engine was built.
func (e *Engine) Status() Status {
	return Status{
		ActiveSessions: len(e.sessions.List()),
		RunningJobs:    e.jobs.Load(),
		EventsHandled:  e.events.Load(),
		JobsSucceeded:  e.succeeded.Load(),
		JobsFailed:     e.failed.Load(),
	}
}

// Sessions returns snapshots of all running sessions.
func (e *Engine) Sessions() []session.Session {
	return e.sessions.List()
}

// ActiveUsers lists users with a running session. The staging sweeper skips
// their directories.
func (e *Engine) ActiveUsers() []string {
	list := e.sessions.List()
	ids := make([]string, len(list))
	for i, s := range list {
		ids[i] = s.UserID
	}
	return ids
}

// Session returns a snapshot of one user's session.
func (e *Engine) Session(userID string) (session.Session, bool) {
	return e.sessions.Get(userID)
}

// Reset returns a user to idle without sending anything and reports whether
// a session was running. Late results of the cancelled run are discarded.
func (e *Engine) Reset(ctx context.Context, userID string) bool {
	ctx = services.WithUserID(ctx, userID)
	existed := e.reset(ctx, userID)
	if existed {
		logging.WithContext(ctx, e.logger).Info("session reset by operator",
			logging.String(logging.FieldEventType, "session_reset"),
		)
	}
	return existed
}
