// Package session keeps the per-user conversation state of the workflow
// engine in memory.
//
// Each user owns one entry guarded by its own mutex, so work for different
// users never contends on a shared lock while work for one user is applied in
// order. Entries carry a generation counter that increases whenever a session
// starts or is cleared; callers capture it before slow work and compare it
// afterwards to discard results that belong to a cancelled run.
package session

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"pdfile/internal/formats"
)

// State is a node of an operation's state machine.
type State string

const (
	StateIdle               State = "idle"
	StateAwaitingFiles      State = "awaiting-files"
	StateAwaitingSingleFile State = "awaiting-single-file"
	StateAwaitingRange      State = "awaiting-range"
	StateAwaitingRangeMode  State = "awaiting-range-mode"
	StateReadyToDispatch    State = "ready-to-dispatch"
)

// SplitMode selects between one combined output and one file per page.
type SplitMode string

const (
	SplitNone SplitMode = ""
	SplitOne  SplitMode = "one"
	SplitMany SplitMode = "many"
)

var (
	// ErrNotAccepting is returned when a file arrives in a state that does not collect files.
	ErrNotAccepting = errors.New("session does not accept files in this state")
	// ErrInvalidTransition is returned when a state change would move backwards or off-path.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrNoSession is returned by transaction helpers that need an active session.
	ErrNoSession = errors.New("no active session")
)

// StagedFile references an uploaded document on local disk.
type StagedFile struct {
	Path string
	Name string
	Size int64
}

// Session is the conversation state of one user.
type Session struct {
	UserID        string
	Locale        string
	Operation     formats.Operation
	State         State
	StagedFiles   []StagedFile
	PageCount     int
	PendingRange  string
	ResolvedRange []int
	RangeLabel    string
	SplitMode     SplitMode
	Generation    uint64
	StartedAt     time.Time
	UpdatedAt     time.Time
}

// Active reports whether the session belongs to a running operation.
func (s Session) Active() bool {
	return s.Operation.Valid() && s.State != StateIdle
}

// AcceptsFiles reports whether a file event is valid in the current state.
func (s Session) AcceptsFiles() bool {
	return s.State == StateAwaitingFiles || s.State == StateAwaitingSingleFile
}

// Clone returns a deep copy safe to hand outside the store lock.
func (s Session) Clone() Session {
	s.StagedFiles = slices.Clone(s.StagedFiles)
	s.ResolvedRange = slices.Clone(s.ResolvedRange)
	return s
}

// FileNames returns the original names of the staged files in order.
func (s Session) FileNames() []string {
	names := make([]string, len(s.StagedFiles))
	for i, f := range s.StagedFiles {
		names[i] = f.Name
	}
	return names
}

// FilePaths returns the staged file paths in order.
func (s Session) FilePaths() []string {
	paths := make([]string, len(s.StagedFiles))
	for i, f := range s.StagedFiles {
		paths[i] = f.Path
	}
	return paths
}

// Path returns the ordered states an operation walks through after idle.
func Path(op formats.Operation) []State {
	switch op {
	case formats.OpSplit:
		return []State{StateAwaitingSingleFile, StateAwaitingRange, StateAwaitingRangeMode, StateReadyToDispatch}
	case formats.OpDelete:
		return []State{StateAwaitingSingleFile, StateAwaitingRange, StateReadyToDispatch}
	case formats.OpNone:
		return nil
	default:
		return []State{StateAwaitingFiles, StateReadyToDispatch}
	}
}

// InitialState is the first state of op.
func InitialState(op formats.Operation) State {
	path := Path(op)
	if len(path) == 0 {
		return StateIdle
	}
	return path[0]
}

func canAdvance(op formats.Operation, from, to State) error {
	path := Path(op)
	fromIdx := slices.Index(path, from)
	toIdx := slices.Index(path, to)
	if fromIdx < 0 || toIdx < 0 || toIdx <= fromIdx {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, op, from, to)
	}
	return nil
}
