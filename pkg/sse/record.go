// Package sse decodes the line-oriented server-push stream emitted by the
// chat backend into typed records.
//
// The wire format is a relaxed variant of text/event-stream:
//
//	event: <data|chart|map|sql|error|done>
//	data: <JSON object>
//	<blank line>
//
// Every data line is parsed and dispatched on its own under the most recently
// declared event type. Lines belonging to the same frame are not joined.
package sse

import "encoding/json"

// EventType tags a decoded record.
type EventType string

const (
	EventData  EventType = "data"
	EventChart EventType = "chart"
	EventMap   EventType = "map"
	EventSQL   EventType = "sql"
	EventError EventType = "error"
	EventDone  EventType = "done"
)

// DefaultEventType applies to data lines that were not preceded by an event declaration.
const DefaultEventType = EventData

// Known reports whether t is one of the event types understood by the assembler.
func (t EventType) Known() bool {
	switch t {
	case EventData, EventChart, EventMap, EventSQL, EventError, EventDone:
		return true
	default:
		return false
	}
}

// Record is one decoded event. Data always holds a syntactically valid JSON value.
type Record struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}
