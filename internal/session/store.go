package session

import (
	"slices"
	"strings"
	"sync"
	"time"

	"pdfile/internal/formats"
)

// Store maps user identifiers to sessions. Entries are never removed so the
// generation counter keeps increasing across runs.
type Store struct {
	entries sync.Map // string -> *entry
	now     func() time.Time
}

type entry struct {
	mu         sync.Mutex
	session    *Session
	generation uint64
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

func (s *Store) entry(userID string) *entry {
	if e, ok := s.entries.Load(userID); ok {
		return e.(*entry)
	}
	e, _ := s.entries.LoadOrStore(userID, &entry{})
	return e.(*entry)
}

// Get returns a snapshot of the user's session.
func (s *Store) Get(userID string) (Session, bool) {
	raw, ok := s.entries.Load(userID)
	if !ok {
		return Session{}, false
	}
	e := raw.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return Session{}, false
	}
	return e.session.Clone(), true
}

// GetOrCreate returns the user's session, creating an idle one that pins the
// locale when none exists.
func (s *Store) GetOrCreate(userID, locale string) Session {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		now := s.now()
		e.session = &Session{
			UserID:     userID,
			Locale:     locale,
			Operation:  formats.OpNone,
			State:      StateIdle,
			Generation: e.generation,
			StartedAt:  now,
			UpdatedAt:  now,
		}
	}
	return e.session.Clone()
}

// Clear drops the user's session. Clearing an absent session is a no-op
// apart from bumping the generation, which still invalidates in-flight work.
func (s *Store) Clear(userID string) {
	_ = s.Do(userID, func(tx *Tx) error {
		tx.Clear()
		return nil
	})
}

// Generation returns the user's current generation.
func (s *Store) Generation(userID string) uint64 {
	raw, ok := s.entries.Load(userID)
	if !ok {
		return 0
	}
	e := raw.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

// Do runs fn while holding the user's lock. Mutations made through tx are
// visible to the next caller once fn returns.
func (s *Store) Do(userID string, fn func(tx *Tx) error) error {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	tx := &Tx{store: s, entry: e, userID: userID}
	return fn(tx)
}

// List returns snapshots of all active sessions ordered by user id.
func (s *Store) List() []Session {
	var out []Session
	s.entries.Range(func(_, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		if e.session != nil && e.session.Active() {
			out = append(out, e.session.Clone())
		}
		e.mu.Unlock()
		return true
	})
	slices.SortFunc(out, func(a, b Session) int { return strings.Compare(a.UserID, b.UserID) })
	return out
}

// Tx gives fn in Store.Do mutable access to one user's session.
type Tx struct {
	store  *Store
	entry  *entry
	userID string
}

// Session returns the live session or nil when the user is idle. The pointer
// must not escape fn.
func (tx *Tx) Session() *Session {
	return tx.entry.session
}

// Active reports whether an operation is running.
func (tx *Tx) Active() bool {
	return tx.entry.session != nil && tx.entry.session.Active()
}

// Generation returns the current generation.
func (tx *Tx) Generation() uint64 {
	return tx.entry.generation
}

// Locale returns the pinned locale, or fallback when the user has no session.
func (tx *Tx) Locale(fallback string) string {
	if tx.entry.session != nil && tx.entry.session.Locale != "" {
		return tx.entry.session.Locale
	}
	return fallback
}

// Start replaces any running session with a fresh run of op. Files, page
// count, and ranges start empty.
func (tx *Tx) Start(op formats.Operation, locale string) *Session {
	tx.entry.generation++
	now := tx.store.now()
	tx.entry.session = &Session{
		UserID:     tx.userID,
		Locale:     locale,
		Operation:  op,
		State:      InitialState(op),
		Generation: tx.entry.generation,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	return tx.entry.session
}

// Clear returns the user to idle and reports whether a session existed.
func (tx *Tx) Clear() bool {
	tx.entry.generation++
	existed := tx.entry.session != nil
	tx.entry.session = nil
	return existed
}

// Advance moves the session forward along its operation's path.
func (tx *Tx) Advance(to State) error {
	sess := tx.entry.session
	if sess == nil {
		return ErrNoSession
	}
	if err := canAdvance(sess.Operation, sess.State, to); err != nil {
		return err
	}
	sess.State = to
	sess.UpdatedAt = tx.store.now()
	return nil
}

// AppendFile adds a staged file. Files are only ever appended.
func (tx *Tx) AppendFile(file StagedFile) (int, error) {
	sess := tx.entry.session
	if sess == nil {
		return 0, ErrNoSession
	}
	if !sess.AcceptsFiles() {
		return 0, ErrNotAccepting
	}
	sess.StagedFiles = append(sess.StagedFiles, file)
	sess.UpdatedAt = tx.store.now()
	return len(sess.StagedFiles), nil
}
