package ipc

import (
	"time"

	"pdfile/internal/prompts"
)

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// DependencyStatus describes availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// EngineStats mirrors the workflow engine counters.
type EngineStats struct {
	ActiveSessions int    `json:"active_sessions"`
	RunningJobs    int64  `json:"running_jobs"`
	EventsHandled  uint64 `json:"events_handled"`
	JobsSucceeded  uint64 `json:"jobs_succeeded"`
	JobsFailed     uint64 `json:"jobs_failed"`
}

// StatusResponse represents combined daemon and engine status information.
type StatusResponse struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	StartedAt    time.Time          `json:"started_at"`
	Telegram     bool               `json:"telegram"`
	Engine       EngineStats        `json:"engine"`
	Dependencies []DependencyStatus `json:"dependencies"`
	LockPath     string             `json:"lock_path"`
	HistoryPath  string             `json:"history_path"`
	StagingDir   string             `json:"staging_dir"`
}

// Session is the wire form of one running session.
type Session struct {
	UserID     string    `json:"user_id"`
	Operation  string    `json:"operation"`
	State      string    `json:"state"`
	Locale     string    `json:"locale"`
	Generation uint64    `json:"generation"`
	Files      []string  `json:"files"`
	PageCount  int       `json:"page_count,omitempty"`
	Range      string    `json:"range,omitempty"`
	SplitMode  string    `json:"split_mode,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SessionsRequest lists running sessions.
type SessionsRequest struct{}

// SessionsResponse contains running sessions ordered by user.
type SessionsResponse struct {
	Sessions []Session `json:"sessions"`
}

// SendRequest injects one chat message on the local channel. A non-empty
// FilePath uploads that file instead of sending Text.
type SendRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	Locale   string `json:"locale,omitempty"`
	Text     string `json:"text,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

// SendResponse carries the prompts the user would have seen. Error holds
// the engine's verdict when the message was rejected; the prompts explain it
// to the user.
type SendResponse struct {
	Prompts []prompts.Rendered `json:"prompts"`
	Error   string             `json:"error,omitempty"`
}

// ResetRequest returns a user's session to idle.
type ResetRequest struct {
	UserID string `json:"user_id"`
}

// ResetResponse reports whether a session was running.
type ResetResponse struct {
	Reset bool `json:"reset"`
}

// HistoryRequest fetches recent jobs, optionally for one user.
type HistoryRequest struct {
	UserID string `json:"user_id,omitempty"`
	Limit  int    `json:"limit"`
}

// Job is the wire form of one history entry.
type Job struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	Channel       string        `json:"channel"`
	Operation     string        `json:"operation"`
	FileCount     int           `json:"file_count"`
	PageCount     int           `json:"page_count,omitempty"`
	Status        string        `json:"status"`
	ErrorKind     string        `json:"error_kind,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	Artifact      string        `json:"artifact,omitempty"`
	ArtifactBytes int64         `json:"artifact_bytes,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
}

// OperationCount tallies jobs per operation.
type OperationCount struct {
	Operation string `json:"operation"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Discarded int    `json:"discarded"`
}

// HistoryResponse contains recent jobs newest first and per-operation totals.
type HistoryResponse struct {
	Jobs   []Job            `json:"jobs"`
	Counts []OperationCount `json:"counts"`
}

// TestNotificationRequest triggers a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse indicates notification send status.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
