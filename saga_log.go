package feesaga

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SagaID identifies one saga instance. The fee saga uses the transaction ID.
type SagaID string

// SagaNodeEvent represents an entry in the saga log.
type SagaNodeEvent struct {
	SagaID    SagaID
	NodeID    int64
	NodeName  NodeName
	EventType SagaNodeEventType
	At        time.Time
}

// String implements the fmt.Stringer interface for SagaNodeEvent.
func (e *SagaNodeEvent) String() string {
	return fmt.Sprintf("N%03d %-16s %s", e.NodeID, e.NodeName, e.EventType)
}

// SagaNodeEventType defines the types of events that can occur for a saga node.
type SagaNodeEventType int

const (
	EventStarted SagaNodeEventType = iota
	EventSucceeded
	EventFailed
	EventReplayed
)

// String returns the string representation of the SagaNodeEventType.
func (s SagaNodeEventType) String() string {
	switch s {
	case EventStarted:
		return "started"
	case EventSucceeded:
		return "succeeded"
	case EventFailed:
		return "failed"
	case EventReplayed:
		return "replayed"
	default:
		return fmt.Sprintf("Unknown SagaNodeEventType: %d", s)
	}
}

// SagaNodeLoadStatus represents the status of a saga node.
type SagaNodeLoadStatus int

const (
	LoadNeverStarted SagaNodeLoadStatus = iota
	LoadStarted
	LoadSucceeded
	LoadFailed
)

// nextStatus returns the new status for a node after recording the given event.
func (s SagaNodeLoadStatus) nextStatus(eventType SagaNodeEventType) (SagaNodeLoadStatus, error) {
	switch s {
	case LoadNeverStarted:
		switch eventType {
		case EventStarted:
			return LoadStarted, nil
		case EventReplayed:
			return LoadSucceeded, nil
		}
	case LoadStarted:
		switch eventType {
		case EventSucceeded:
			return LoadSucceeded, nil
		case EventFailed:
			return LoadFailed, nil
		}
	case LoadFailed:
		// A failed node runs again when the saga is re-invoked.
		if eventType == EventStarted {
			return LoadStarted, nil
		}
	}

	return s, fmt.Errorf(
		"illegal event type %s for current load status %v",
		eventType, s,
	)
}

// SagaLog represents the write log for a saga.
type SagaLog struct {
	mu         sync.Mutex
	sagaID     SagaID
	events     []*SagaNodeEvent
	nodeStatus map[int64]SagaNodeLoadStatus
}

// NewEmptySagaLog creates a new, empty SagaLog.
func NewEmptySagaLog(sagaID SagaID) *SagaLog {
	return &SagaLog{
		sagaID:     sagaID,
		events:     make([]*SagaNodeEvent, 0),
		nodeStatus: make(map[int64]SagaNodeLoadStatus),
	}
}

// Record adds an event to the SagaLog.
func (l *SagaLog) Record(event *SagaNodeEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.SagaID != l.sagaID {
		return fmt.Errorf("event for saga %s recorded in log of saga %s", event.SagaID, l.sagaID)
	}

	next, err := l.nodeStatus[event.NodeID].nextStatus(event.EventType)
	if err != nil {
		return fmt.Errorf("node %d: %w", event.NodeID, err)
	}

	l.nodeStatus[event.NodeID] = next
	l.events = append(l.events, event)
	return nil
}

// Status returns the status of a node.
func (l *SagaLog) Status(nodeID int64) SagaNodeLoadStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.nodeStatus[nodeID]
}

// Failed reports whether any node is currently in the failed state.
func (l *SagaLog) Failed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, status := range l.nodeStatus {
		if status == LoadFailed {
			return true
		}
	}
	return false
}

// Events returns a copy of the events in the SagaLog.
func (l *SagaLog) Events() []*SagaNodeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]*SagaNodeEvent(nil), l.events...)
}

// String pretty-prints the log.
func (l *SagaLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("SAGA LOG:\n")
	fmt.Fprintf(&sb, "saga id:   %s\n", l.sagaID)
	fmt.Fprintf(&sb, "events (%d total):\n\n", len(l.events))
	for i, event := range l.events {
		fmt.Fprintf(&sb, "%03d %s\n", i+1, event)
	}
	return sb.String()
}

// MarshalJSON implements the json.Marshaler interface for SagaNodeLoadStatus.
func (s SagaNodeLoadStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for SagaNodeLoadStatus.
func (s *SagaNodeLoadStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	switch str {
	case "NeverStarted":
		*s = LoadNeverStarted
	case "Started":
		*s = LoadStarted
	case "Succeeded":
		*s = LoadSucceeded
	case "Failed":
		*s = LoadFailed
	default:
		return fmt.Errorf("invalid SagaNodeLoadStatus: %s", str)
	}

	return nil
}

// String returns the string representation of the SagaNodeLoadStatus.
func (s SagaNodeLoadStatus) String() string {
	switch s {
	case LoadNeverStarted:
		return "NeverStarted"
	case LoadStarted:
		return "Started"
	case LoadSucceeded:
		return "Succeeded"
	case LoadFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown SagaNodeLoadStatus: %d", s)
	}
}
