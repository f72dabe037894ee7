package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/m4xw311/kernelio/envelope"
)

// Entry is one recorded message, in the order it crossed the transport.
type Entry struct {
	Time      time.Time         `json:"time"`
	Direction string            `json:"direction"` // "command" or "event"
	Command   *envelope.Command `json:"command,omitempty"`
	Event     *envelope.Event   `json:"event,omitempty"`
}

// Session is the transcript of one kernel run.
type Session struct {
	Name         string  `json:"name"`
	NotebookPath string  `json:"notebookPath,omitempty"`
	PID          int     `json:"pid,omitempty"`
	HTTPPort     int     `json:"httpPort,omitempty"`
	ExitCode     *int    `json:"exitCode,omitempty"`
	Entries      []Entry `json:"entries"`

	mu   sync.Mutex
	path string
}

// New creates a new session.
func New(name string) (*Session, error) {
	path, err := getSessionPath(name)
	if err != nil {
		return nil, err
	}
	return &Session{
		Name:    name,
		Entries: []Entry{},
		path:    path,
	}, nil
}

// Load loads an existing session from disk.
func Load(name string) (*Session, error) {
	path, err := getSessionPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read session file %s: %w", path, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("could not parse session file %s: %w", path, err)
	}
	s.path = path
	return &s, nil
}

// Save writes the current session state to disk.
func (s *Session) Save() error {
	s.mu.Lock()
	data, err := json.MarshalIndent(s, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	return os.WriteFile(s.path, data, 0644)
}

// RecordCommand appends a submitted command.
func (s *Session) RecordCommand(cmd envelope.Command) {
	s.append(Entry{Time: time.Now(), Direction: "command", Command: &cmd})
}

// RecordEvent appends a received event. It can be passed directly to
// SubscribeToKernelEvents.
func (s *Session) RecordEvent(e *envelope.Event) {
	s.append(Entry{Time: time.Now(), Direction: "event", Event: e})
}

// SetExit records the kernel's exit code.
func (s *Session) SetExit(code *int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ExitCode = code
}

// SetProcess records which kernel produced the transcript.
func (s *Session) SetProcess(notebookPath string, pid, httpPort int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NotebookPath = notebookPath
	s.PID = pid
	s.HTTPPort = httpPort
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Entries)
}

func (s *Session) append(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Entries = append(s.Entries, e)
}

func getSessionPath(name string) (string, error) {
	sessionDir := filepath.Join(".kernelio", "sessions")
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return "", fmt.Errorf("could not create session directory: %w", err)
	}
	return filepath.Join(sessionDir, fmt.Sprintf("%s.json", name)), nil
}
