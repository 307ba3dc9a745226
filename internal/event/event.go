// Package event provides the unified event type and event bus for the agent.
// The controller, reporter and sampler publish lifecycle events to the bus;
// exporters subscribe and consume them.
package event

import (
	"fmt"
	"time"
)

// EventType identifies what happened.
type EventType uint8

const (
	TypeUnknown          EventType = iota
	TypeAnalysisStarted            // Idle → Static/NetworkRunning
	TypeAnalysisFinished           // run returned to Idle
	TypeAlertsForwarded            // alert batch accepted by the backend
	TypeReportFailed               // backend call failed or timed out
	TypeReportSent                 // backend call succeeded
	TypeResourceSample             // CPU/memory sample taken
	TypeProcessesTracked           // tracked PID set changed
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case TypeAnalysisStarted:
		return "analysis_started"
	case TypeAnalysisFinished:
		return "analysis_finished"
	case TypeAlertsForwarded:
		return "alerts_forwarded"
	case TypeReportFailed:
		return "report_failed"
	case TypeReportSent:
		return "report_sent"
	case TypeResourceSample:
		return "resource_sample"
	case TypeProcessesTracked:
		return "processes_tracked"
	default:
		return "unknown"
	}
}

// ParseType maps a name produced by String back to its EventType.
func ParseType(name string) (EventType, error) {
	for t := TypeAnalysisStarted; t <= TypeProcessesTracked; t++ {
		if t.String() == name {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("unknown event type %q", name)
}

// ParseTypes maps every name, failing on the first unknown one.
func ParseTypes(names []string) ([]EventType, error) {
	types := make([]EventType, 0, len(names))
	for _, n := range names {
		t, err := ParseType(n)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

// Event is the unified envelope for everything flowing through the bus.
//
// Structured fields for common attributes + maps for type-specific data.
// Events are immutable once published; subscribers must not modify them.
type Event struct {
	Type        EventType
	Timestamp   time.Time
	ContainerID int

	// Type-specific key-value fields (low cardinality strings)
	Labels map[string]string

	// Type-specific numeric values (counts, durations, usage)
	Numeric map[string]float64
}

// New creates an event of the given type stamped with the current time.
func New(t EventType, containerID int) *Event {
	return &Event{
		Type:        t,
		Timestamp:   time.Now(),
		ContainerID: containerID,
		Labels:      make(map[string]string, 4),
		Numeric:     make(map[string]float64, 4),
	}
}

// SetLabel sets a type-specific string attribute. Returns e for chaining.
func (e *Event) SetLabel(key, value string) *Event {
	e.Labels[key] = value
	return e
}

// SetNumeric sets a type-specific numeric attribute. Returns e for chaining.
func (e *Event) SetNumeric(key string, value float64) *Event {
	e.Numeric[key] = value
	return e
}

// Label returns a label value, or empty string if not present.
func (e *Event) Label(key string) string {
	return e.Labels[key]
}

// NumericVal returns a numeric value, or 0 if not present.
func (e *Event) NumericVal(key string) float64 {
	return e.Numeric[key]
}
