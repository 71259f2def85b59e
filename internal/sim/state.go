package sim

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusBypassed  Status = "bypassed"
)

// StateSnapshot is a copy of the tracker at one point in time. Id lists keep
// the order in which nodes entered each status.
type StateSnapshot struct {
	Active      []string         `json:"active"`
	Completed   []string         `json:"completed"`
	Failed      []string         `json:"failed"`
	DurationsMS map[string]int64 `json:"durations_ms"`
}

func (s StateSnapshot) Has(status Status, id string) bool {
	var ids []string
	switch status {
	case StatusActive:
		ids = s.Active
	case StatusCompleted:
		ids = s.Completed
	case StatusFailed:
		ids = s.Failed
	}
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// StateTracker partitions node ids into active, completed and failed. It is
// owned by a single engine and is not safe for concurrent use on its own.
type StateTracker struct {
	status    map[string]Status
	order     []string
	durations map[string]time.Duration
}

func NewStateTracker() *StateTracker {
	return &StateTracker{
		status:    map[string]Status{},
		durations: map[string]time.Duration{},
	}
}

// Activate moves a pending node to active and records its effective duration.
func (t *StateTracker) Activate(id string, d time.Duration) error {
	if cur := t.Status(id); cur != StatusPending {
		return fmt.Errorf("node %q cannot become active from %s", id, cur)
	}
	t.status[id] = StatusActive
	t.order = append(t.order, id)
	t.durations[id] = d
	return nil
}

func (t *StateTracker) Finish(id string, succeeded bool) error {
	if cur := t.Status(id); cur != StatusActive {
		return fmt.Errorf("node %q cannot finish from %s", id, cur)
	}
	if succeeded {
		t.status[id] = StatusCompleted
	} else {
		t.status[id] = StatusFailed
	}
	return nil
}

func (t *StateTracker) Status(id string) Status {
	if s, ok := t.status[id]; ok {
		return s
	}
	return StatusPending
}

func (t *StateTracker) Duration(id string) (time.Duration, bool) {
	d, ok := t.durations[id]
	return d, ok
}

func (t *StateTracker) Snapshot() StateSnapshot {
	snap := StateSnapshot{
		Active:      []string{},
		Completed:   []string{},
		Failed:      []string{},
		DurationsMS: make(map[string]int64, len(t.durations)),
	}
	for _, id := range t.order {
		switch t.status[id] {
		case StatusActive:
			snap.Active = append(snap.Active, id)
		case StatusCompleted:
			snap.Completed = append(snap.Completed, id)
		case StatusFailed:
			snap.Failed = append(snap.Failed, id)
		}
	}
	for id, d := range t.durations {
		snap.DurationsMS[id] = d.Milliseconds()
	}
	return snap
}

func (t *StateTracker) Clear() {
	clear(t.status)
	clear(t.durations)
	t.order = t.order[:0]
}
