package memstore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAddAndHas(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	ok, err := s.Has(ctx, "fp-1")
	if err != nil || ok {
		t.Fatalf("Has on empty store = %v, %v; want false, nil", ok, err)
	}

	added, err := s.Add(ctx, "fp-1", time.Now())
	if err != nil || !added {
		t.Fatalf("first Add = %v, %v; want true, nil", added, err)
	}

	added, err = s.Add(ctx, "fp-1", time.Now())
	if err != nil || added {
		t.Fatalf("second Add = %v, %v; want false, nil", added, err)
	}

	ok, err = s.Has(ctx, "fp-1")
	if err != nil || !ok {
		t.Fatalf("Has after Add = %v, %v; want true, nil", ok, err)
	}
}

func TestAdd_ConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	const n = 64

	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			added, err := s.Add(ctx, "same-fp", time.Now())
			if err != nil {
				t.Errorf("Add: %v", err)
				return
			}
			if added {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners int
	for range wins {
		winners++
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestPrune(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	now := time.Now()

	s.Add(ctx, "old", now.Add(-96*time.Hour))
	s.Add(ctx, "fresh", now)

	removed, err := s.Prune(ctx, now.Add(-72*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if ok, _ := s.Has(ctx, "old"); ok {
		t.Error("expected old fingerprint pruned")
	}
	if ok, _ := s.Has(ctx, "fresh"); !ok {
		t.Error("expected fresh fingerprint kept")
	}
}
