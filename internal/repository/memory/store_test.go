package memory

import (
	"context"
	"errors"
	"testing"
)

type item struct {
	id  string
	val int
}

func newStore() *Store[item] {
	return New(func(i item) string { return i.id })
}

func TestStore_InsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	for _, id := range []string{"c", "a", "b"} {
		if err := s.Insert(ctx, item{id: id}); err != nil {
			t.Fatal(err)
		}
	}
	// Replacing keeps the position.
	_ = s.Set(ctx, item{id: "a", val: 9})

	all, _ := s.All(ctx)
	if len(all) != 3 || all[0].id != "c" || all[1].id != "a" || all[1].val != 9 || all[2].id != "b" {
		t.Errorf("unexpected order %+v", all)
	}
}

func TestStore_InsertDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	_ = s.Insert(ctx, item{id: "a"})
	if err := s.Insert(ctx, item{id: "a"}); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestStore_Modify(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	_ = s.Insert(ctx, item{id: "a", val: 1})

	err := s.Modify(ctx, "a", func(i item) (item, error) {
		i.val++
		return i, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, "a")
	if got.val != 2 {
		t.Errorf("val = %d, want 2", got.val)
	}

	boom := errors.New("boom")
	if err := s.Modify(ctx, "a", func(i item) (item, error) { return item{}, boom }); !errors.Is(err, boom) {
		t.Errorf("expected fn error, got %v", err)
	}
	if got, _ := s.Get(ctx, "a"); got.val != 2 {
		t.Error("failed Modify must not change the value")
	}
	if err := s.Modify(ctx, "missing", func(i item) (item, error) { return i, nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_DeleteAndFilter(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	for i, id := range []string{"a", "b", "c"} {
		_ = s.Insert(ctx, item{id: id, val: i})
	}
	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Get(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	even, _ := s.Filter(ctx, func(i item) bool { return i.val%2 == 0 })
	if len(even) != 2 || even[0].id != "a" || even[1].id != "c" {
		t.Errorf("unexpected filter result %+v", even)
	}
}
