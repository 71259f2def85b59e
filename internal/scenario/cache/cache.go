package cache

import (
	"fmt"
	"sync"

	"github.com/awmpietro/reaction-sim/internal/scenario"
)

// InMemory keeps decoded scenarios by content hash. Concurrent misses for the
// same key share one computation; failures are never stored.
type InMemory struct {
	mu       sync.Mutex
	max      int
	items    map[string]*scenario.ReactionScenario
	inflight map[string]*call
}

type call struct {
	done chan struct{}
	val  *scenario.ReactionScenario
	err  error
}

func NewInMemory(max int) *InMemory {
	if max < 0 {
		max = 0
	}
	return &InMemory{
		max:      max,
		items:    make(map[string]*scenario.ReactionScenario, max),
		inflight: make(map[string]*call),
	}
}

func (c *InMemory) GetOrCompute(key string, fn func() (*scenario.ReactionScenario, error)) (*scenario.ReactionScenario, error) {
	c.mu.Lock()
	if v, ok := c.items[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	if cl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		<-cl.done
		return cl.val, cl.err
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[key] = cl
	c.mu.Unlock()

	c.run(cl, fn)

	c.mu.Lock()
	delete(c.inflight, key)
	if cl.err == nil && len(c.items) < c.max {
		c.items[key] = cl.val
	}
	c.mu.Unlock()
	close(cl.done)

	return cl.val, cl.err
}

func (c *InMemory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *InMemory) run(cl *call, fn func() (*scenario.ReactionScenario, error)) {
	defer func() {
		if r := recover(); r != nil {
			cl.val = nil
			cl.err = fmt.Errorf("scenario decode panicked: %v", r)
		}
	}()
	cl.val, cl.err = fn()
}
