package session

import (
	"errors"
	"log/slog"
	"slices"
	"testing"
)

func TestBuilder_RollbackReverseOrder(t *testing.T) {
	t.Parallel()
	var released []string
	b := newBuilder(slog.Default())
	for _, name := range []string{"decoder", "converter", "buffer"} {
		b.acquire(name, func() error {
			released = append(released, name)
			return nil
		})
	}
	b.rollback()
	want := []string{"buffer", "converter", "decoder"}
	if !slices.Equal(released, want) {
		t.Errorf("released %v, want %v", released, want)
	}

	// A second rollback has nothing left to release.
	b.rollback()
	if len(released) != 3 {
		t.Errorf("second rollback released again: %v", released)
	}
}

func TestBuilder_RollbackContinuesPastErrors(t *testing.T) {
	t.Parallel()
	var released []string
	b := newBuilder(slog.Default())
	b.acquire("a", func() error { released = append(released, "a"); return nil })
	b.acquire("b", func() error { released = append(released, "b"); return errors.New("boom") })
	b.rollback()
	if !slices.Equal(released, []string{"b", "a"}) {
		t.Errorf("released %v, want [b a]", released)
	}
}

func TestBuilder_CommitKeepsResources(t *testing.T) {
	t.Parallel()
	called := false
	b := newBuilder(slog.Default())
	b.acquire("decoder", func() error { called = true; return nil })
	b.commit()
	b.rollback()
	if called {
		t.Error("rollback after commit released a resource")
	}
}
