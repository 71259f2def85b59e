package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/awmpietro/reaction-sim/internal/scenario"
)

func sample() *scenario.ReactionScenario {
	return &scenario.ReactionScenario{
		ID:    "s",
		Nodes: []*scenario.DecisionNode{{ID: "A", Layer: scenario.LayerCrew, Kind: scenario.KindAction}},
	}
}

func TestInMemory_GetOrCompute_DeduplicatesConcurrentSameKey(t *testing.T) {
	c := NewInMemory(16)
	var calls atomic.Int32

	fn := func() (*scenario.ReactionScenario, error) {
		calls.Add(1)
		time.Sleep(30 * time.Millisecond)
		return sample(), nil
	}

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrCompute("same-key", fn)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected fn to run once, got %d", got)
	}
}

func TestInMemory_GetOrCompute_ErrorIsNotCached(t *testing.T) {
	c := NewInMemory(16)
	var calls atomic.Int32

	_, err := c.GetOrCompute("k", func() (*scenario.ReactionScenario, error) {
		calls.Add(1)
		return nil, errors.New("boom")
	})
	if err == nil {
		t.Fatalf("expected error")
	}

	_, err = c.GetOrCompute("k", func() (*scenario.ReactionScenario, error) {
		calls.Add(1)
		return sample(), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := calls.Load(); got != 2 {
		t.Fatalf("expected fn to run twice (error should not be cached), got %d", got)
	}
}

func TestInMemory_GetOrCompute_PanicDoesNotBlockWaiters(t *testing.T) {
	c := NewInMemory(16)
	var calls atomic.Int32

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrCompute("panic-key", func() (*scenario.ReactionScenario, error) {
				calls.Add(1)
				time.Sleep(10 * time.Millisecond)
				panic("boom")
			})
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		if err == nil {
			t.Fatalf("expected panic converted into error")
		}
	}
	if got := calls.Load(); got < 1 {
		t.Fatalf("expected at least one execution, got %d", got)
	}
	if c.Len() != 0 {
		t.Fatalf("expected nothing cached after panic")
	}
}

func TestInMemory_RespectsMaxItems(t *testing.T) {
	c := NewInMemory(1)
	for _, key := range []string{"a", "b"} {
		if _, err := c.GetOrCompute(key, func() (*scenario.ReactionScenario, error) { return sample(), nil }); err != nil {
			t.Fatal(err)
		}
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 cached item, got %d", c.Len())
	}
}
