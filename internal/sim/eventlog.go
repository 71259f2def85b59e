package sim

import (
	"time"

	"github.com/awmpietro/reaction-sim/internal/scenario"
)

type LogStatus string

const (
	LogActive    LogStatus = "active"
	LogCompleted LogStatus = "completed"
	LogFailed    LogStatus = "failed"
	LogAnomaly   LogStatus = "anomaly"
)

const unknownActor = "Unknown"

type LogDetails struct {
	Kind            scenario.Kind `json:"kind,omitempty"`
	Title           string        `json:"title,omitempty"`
	ExecutionTimeMS *int64        `json:"execution_time_ms,omitempty"`
	Anomaly         string        `json:"anomaly,omitempty"`
}

type LogEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Layer     scenario.Layer `json:"layer,omitempty"`
	NodeID    string         `json:"node_id"`
	Event     string         `json:"event"`
	Actor     string         `json:"actor"`
	Status    LogStatus      `json:"status"`
	Details   LogDetails     `json:"details"`
}

func (e LogEntry) clone() LogEntry {
	if e.Details.ExecutionTimeMS != nil {
		v := *e.Details.ExecutionTimeMS
		e.Details.ExecutionTimeMS = &v
	}
	return e
}

// EventLog is the append/patch log of one run. Entries are created when a
// node starts; only status and execution time change afterwards.
type EventLog struct {
	entries []LogEntry
	latest  map[string]int
	newID   func() string
}

func NewEventLog(newID func() string) *EventLog {
	return &EventLog{latest: map[string]int{}, newID: newID}
}

func (l *EventLog) Begin(n *scenario.DecisionNode, at time.Time) LogEntry {
	actor := n.Metadata.Actor
	if actor == "" {
		actor = unknownActor
	}
	e := LogEntry{
		ID:        l.newID(),
		Timestamp: at,
		Layer:     n.Layer,
		NodeID:    n.ID,
		Event:     "Executing " + string(n.Kind) + ": " + n.Title,
		Actor:     actor,
		Status:    LogActive,
		Details:   LogDetails{Kind: n.Kind, Title: n.Title},
	}
	l.latest[n.ID] = len(l.entries)
	l.entries = append(l.entries, e)
	return e
}

// Complete patches the most recent entry for nodeID.
func (l *EventLog) Complete(nodeID string, status LogStatus, elapsed time.Duration) (LogEntry, bool) {
	i, ok := l.latest[nodeID]
	if !ok {
		return LogEntry{}, false
	}
	ms := elapsed.Milliseconds()
	l.entries[i].Status = status
	l.entries[i].Details.ExecutionTimeMS = &ms
	return l.entries[i].clone(), true
}

func (l *EventLog) Anomaly(nodeID string, layer scenario.Layer, reason string, at time.Time) LogEntry {
	e := LogEntry{
		ID:        l.newID(),
		Timestamp: at,
		Layer:     layer,
		NodeID:    nodeID,
		Event:     "Anomaly: " + reason,
		Actor:     unknownActor,
		Status:    LogAnomaly,
		Details:   LogDetails{Anomaly: reason},
	}
	l.entries = append(l.entries, e)
	return e
}

func (l *EventLog) Entries() []LogEntry {
	out := make([]LogEntry, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.clone()
	}
	return out
}

func (l *EventLog) Len() int { return len(l.entries) }

func (l *EventLog) Clear() {
	l.entries = l.entries[:0:0]
	clear(l.latest)
}
