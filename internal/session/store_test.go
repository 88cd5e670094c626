package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pdfile/internal/formats"
)

func TestClearIsIdempotent(t *testing.T) {
	store := NewStore()
	_ = store.Do("u1", func(tx *Tx) error {
		tx.Start(formats.OpMerge, "en")
		return nil
	})

	store.Clear("u1")
	first := store.Generation("u1")
	store.Clear("u1")

	if _, ok := store.Get("u1"); ok {
		t.Fatal("expected no session after clear")
	}
	if store.Generation("u1") <= first {
		t.Fatal("expected generation to keep increasing across clears")
	}
	store.Clear("never-seen")
	if _, ok := store.Get("never-seen"); ok {
		t.Fatal("expected clear on unknown user to leave no session")
	}
}

func TestStartResetsPreviousRun(t *testing.T) {
	store := NewStore()
	_ = store.Do("u1", func(tx *Tx) error {
		tx.Start(formats.OpSplit, "ru")
		if _, err := tx.AppendFile(StagedFile{Path: "/tmp/a.pdf", Name: "a.pdf"}); err != nil {
			t.Fatalf("append: %v", err)
		}
		tx.Session().PageCount = 12
		return nil
	})
	before := store.Generation("u1")

	_ = store.Do("u1", func(tx *Tx) error {
		tx.Start(formats.OpMerge, tx.Locale("en"))
		return nil
	})

	got, ok := store.Get("u1")
	if !ok {
		t.Fatal("expected session")
	}
	if got.Operation != formats.OpMerge || got.State != StateAwaitingFiles {
		t.Fatalf("unexpected session %+v", got)
	}
	if len(got.StagedFiles) != 0 || got.PageCount != 0 {
		t.Fatalf("expected stale data to be cleared, got %+v", got)
	}
	if got.Locale != "ru" {
		t.Fatalf("expected locale to carry over, got %q", got.Locale)
	}
	if got.Generation <= before {
		t.Fatal("expected generation bump on start")
	}
}

func TestAdvanceIsMonotonic(t *testing.T) {
	store := NewStore()
	err := store.Do("u1", func(tx *Tx) error {
		tx.Start(formats.OpSplit, "en")
		if err := tx.Advance(StateAwaitingRange); err != nil {
			return err
		}
		if err := tx.Advance(StateAwaitingSingleFile); !errors.Is(err, ErrInvalidTransition) {
			return fmt.Errorf("expected backwards move to fail, got %v", err)
		}
		if err := tx.Advance(StateAwaitingFiles); !errors.Is(err, ErrInvalidTransition) {
			return fmt.Errorf("expected off-path move to fail, got %v", err)
		}
		if err := tx.Advance(StateAwaitingRangeMode); err != nil {
			return err
		}
		return tx.Advance(StateReadyToDispatch)
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAppendRejectedOutsideCollectingStates(t *testing.T) {
	store := NewStore()
	_ = store.Do("u1", func(tx *Tx) error {
		tx.Start(formats.OpDelete, "en")
		if _, err := tx.AppendFile(StagedFile{Name: "a.pdf"}); err != nil {
			t.Fatalf("append in awaiting-single-file: %v", err)
		}
		if err := tx.Advance(StateAwaitingRange); err != nil {
			t.Fatalf("advance: %v", err)
		}
		if _, err := tx.AppendFile(StagedFile{Name: "b.pdf"}); !errors.Is(err, ErrNotAccepting) {
			t.Fatalf("expected ErrNotAccepting, got %v", err)
		}
		return nil
	})
	got, _ := store.Get("u1")
	if len(got.StagedFiles) != 1 {
		t.Fatalf("expected rejected append to leave files unchanged, got %d", len(got.StagedFiles))
	}

	err := store.Do("idle-user", func(tx *Tx) error {
		_, err := tx.AppendFile(StagedFile{Name: "c.pdf"})
		return err
	})
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	store := NewStore()
	_ = store.Do("u1", func(tx *Tx) error {
		tx.Start(formats.OpMerge, "en")
		_, err := tx.AppendFile(StagedFile{Name: "a.pdf"})
		return err
	})
	snap, _ := store.Get("u1")
	snap.StagedFiles[0].Name = "mutated"

	again, _ := store.Get("u1")
	if again.StagedFiles[0].Name != "a.pdf" {
		t.Fatal("snapshot mutation leaked into the store")
	}
}

func TestGetOrCreatePinsLocale(t *testing.T) {
	store := NewStore()
	first := store.GetOrCreate("u1", "ru")
	second := store.GetOrCreate("u1", "en")
	if first.Locale != "ru" || second.Locale != "ru" {
		t.Fatalf("expected locale pinned to ru, got %q then %q", first.Locale, second.Locale)
	}
	if first.Active() {
		t.Fatal("expected created session to be idle")
	}
	if len(store.List()) != 0 {
		t.Fatal("expected idle sessions to be excluded from List")
	}
}

func TestSameUserIsLinearizable(t *testing.T) {
	store := NewStore()
	_ = store.Do("u1", func(tx *Tx) error {
		tx.Start(formats.OpMerge, "en")
		return nil
	})

	const n = 50
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Do("u1", func(tx *Tx) error {
				_, err := tx.AppendFile(StagedFile{Name: fmt.Sprintf("%d.pdf", i)})
				return err
			})
		}()
	}
	wg.Wait()

	got, _ := store.Get("u1")
	if len(got.StagedFiles) != n {
		t.Fatalf("expected %d files, got %d", n, len(got.StagedFiles))
	}
}

func TestDifferentUsersDoNotBlock(t *testing.T) {
	store := NewStore()
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = store.Do("slow", func(tx *Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	done := make(chan struct{})
	go func() {
		store.Clear("fast")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("operation on another user blocked")
	}
	close(release)
}

func TestListOrdersActiveSessions(t *testing.T) {
	store := NewStore()
	for _, id := range []string{"b", "a", "c"} {
		_ = store.Do(id, func(tx *Tx) error {
			tx.Start(formats.OpCompress, "en")
			return nil
		})
	}
	store.Clear("c")
	list := store.List()
	if len(list) != 2 || list[0].UserID != "a" || list[1].UserID != "b" {
		t.Fatalf("unexpected list %+v", list)
	}
}
