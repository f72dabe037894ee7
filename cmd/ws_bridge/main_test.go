package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/m4xw311/kernelio/config"
	"github.com/m4xw311/kernelio/envelope"
)

const helperEnv = "KERNELIO_WANT_BRIDGE_KERNEL"

// TestHelperProcess is the fake kernel launched by newTestBridge.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	fmt.Println(`{"eventType":"KernelReady","event":{}}`)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var cmd struct {
			Token string `json:"token"`
		}
		json.Unmarshal(scanner.Bytes(), &cmd)
		fmt.Printf(`{"eventType":"CommandSucceeded","event":{"token":%q}}`+"\n", cmd.Token)
	}
	os.Exit(0)
}

func newTestBridge(t *testing.T, externalURI *url.URL) *httptest.Server {
	t.Helper()
	t.Setenv(helperEnv, "1")
	b := &bridge{
		cfg:         config.Default(),
		command:     []string{os.Args[0], "-test.run=TestHelperProcess", "--"},
		logger:      zerolog.Nop(),
		externalURI: externalURI,
	}
	srv := httptest.NewServer(b.routes())
	t.Cleanup(srv.Close)
	return srv
}

func readEvent(t *testing.T, conn *websocket.Conn) envelope.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var e envelope.Event
	if err := json.Unmarshal(msg, &e); err != nil {
		t.Fatalf("invalid event %q: %v", msg, err)
	}
	return e
}

func dialBridge(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHealthz(t *testing.T) {
	b := &bridge{cfg: config.Default(), logger: zerolog.Nop()}
	rec := httptest.NewRecorder()
	b.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestBridgeRelaysCommands(t *testing.T) {
	srv := newTestBridge(t, nil)
	conn := dialBridge(t, srv)

	if e := readEvent(t, conn); e.EventType != envelope.KernelReadyType {
		t.Fatalf("first event = %s, want KernelReady", e.EventType)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"token":"ws-1","commandType":"SubmitCode","command":{"code":"1"}}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	e := readEvent(t, conn)
	if e.EventType != "CommandSucceeded" || !strings.Contains(string(e.Event), "ws-1") {
		t.Fatalf("unexpected event %s %s", e.EventType, e.Event)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if e := readEvent(t, conn); e.EventType != envelope.CommandFailedType {
		t.Fatalf("event = %s, want CommandFailed", e.EventType)
	}
}

func TestBridgeAnnouncesExternalURI(t *testing.T) {
	tunnelURIs := make(chan string, 1)
	tunnel := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/apitunnel" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			TunnelURI string `json:"tunnelUri"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		tunnelURIs <- body.TunnelURI
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"bootstrapperUri":"http://127.0.0.1/bootstrapper"}`))
	}))
	defer tunnel.Close()

	external, err := url.Parse(tunnel.URL + "/")
	if err != nil {
		t.Fatalf("bad tunnel url: %v", err)
	}
	srv := newTestBridge(t, external)
	conn := dialBridge(t, srv)

	if e := readEvent(t, conn); e.EventType != envelope.KernelReadyType {
		t.Fatalf("first event = %s, want KernelReady", e.EventType)
	}

	select {
	case got := <-tunnelURIs:
		if got != external.String() {
			t.Fatalf("tunnelUri = %q, want %q", got, external.String())
		}
	case <-time.After(10 * time.Second):
		t.Fatal("bridge never negotiated the tunnel")
	}
}
