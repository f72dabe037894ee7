package envelope

import (
	"encoding/json"
	"testing"
)

func TestParseEvent(t *testing.T) {
	e, err := ParseEvent([]byte(`{"eventType":"KernelReady","event":{}}`))
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	if e.EventType != KernelReadyType {
		t.Fatalf("expected %s, got %s", KernelReadyType, e.EventType)
	}

	if _, err := ParseEvent([]byte(`{not json`)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDiagnosticMessage(t *testing.T) {
	testCases := []struct {
		name string
		line string
		want string
		ok   bool
	}{
		{"diagnostic", `{"eventType":"DiagnosticLogEntryProduced","event":{"message":"hello"}}`, "hello", true},
		{"other type", `{"eventType":"KernelReady","event":{"message":"hello"}}`, "", false},
		{"bad payload", `{"eventType":"DiagnosticLogEntryProduced","event":"oops"}`, "", false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := ParseEvent([]byte(tc.line))
			if err != nil {
				t.Fatalf("ParseEvent failed: %v", err)
			}
			got, ok := e.DiagnosticMessage()
			if got != tc.want || ok != tc.ok {
				t.Fatalf("got (%q, %v), want (%q, %v)", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestCommandWireShape(t *testing.T) {
	data, err := json.Marshal(Command{Token: "tok-1", CommandType: "RunCommand", Command: map[string]int{"x": 1}})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	want := `{"token":"tok-1","commandType":"RunCommand","command":{"x":1}}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}
}

func TestNewTokenIsUnique(t *testing.T) {
	a, b := NewToken(), NewToken()
	if a == "" || a == b {
		t.Fatalf("expected distinct tokens, got %q and %q", a, b)
	}
}
