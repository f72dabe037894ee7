// Package envelope defines the messages exchanged with a kernel process.
//
// A kernel reads Command envelopes from its stdin and writes Event
// envelopes to its stdout, one JSON document per line:
//
//	{"token":"...","commandType":"SubmitCode","command":{...}}
//	{"eventType":"KernelReady","event":{}}
package envelope

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Event type tags the transport itself looks at.
const (
	KernelReadyType                = "KernelReady"
	DiagnosticLogEntryProducedType = "DiagnosticLogEntryProduced"
	CommandFailedType              = "CommandFailed"
)

// Event is a tagged notification produced by the kernel.
type Event struct {
	EventType string          `json:"eventType"`
	Event     json.RawMessage `json:"event"`
}

// Command is a tagged request sent to the kernel.
type Command struct {
	Token       string `json:"token"`
	CommandType string `json:"commandType"`
	Command     any    `json:"command"`
}

// DiagnosticLogEntryProduced is the payload of a DiagnosticLogEntryProducedType event.
type DiagnosticLogEntryProduced struct {
	Message string `json:"message"`
}

// CommandFailed is the payload of a CommandFailedType event.
type CommandFailed struct {
	Message string `json:"message"`
	Token   string `json:"token,omitempty"`
}

// ParseEvent decodes one line of kernel output.
func ParseEvent(line []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// DiagnosticMessage returns the message of a diagnostic log entry, or false
// if e is not one.
func (e *Event) DiagnosticMessage() (string, bool) {
	if e.EventType != DiagnosticLogEntryProducedType {
		return "", false
	}
	var entry DiagnosticLogEntryProduced
	if err := json.Unmarshal(e.Event, &entry); err != nil {
		return "", false
	}
	return entry.Message, true
}

// NewEvent builds an event with payload marshalled to JSON.
func NewEvent(eventType string, payload any) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{EventType: eventType, Event: raw}, nil
}

// NewToken returns a fresh command token.
func NewToken() string {
	return uuid.NewString()
}
