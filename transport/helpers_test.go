package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const helperEnv = "KERNELIO_WANT_HELPER_PROCESS"

// recordingChannel captures diagnostic lines.
type recordingChannel struct {
	mu    sync.Mutex
	lines []string
}

func (c *recordingChannel) AppendLine(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *recordingChannel) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func (c *recordingChannel) contains(substr string) bool {
	for _, line := range c.Lines() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

type recordingNotifier struct {
	mu     sync.Mutex
	errors []string
	infos  []string
}

func (n *recordingNotifier) DisplayError(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, message)
}

func (n *recordingNotifier) DisplayInfo(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos = append(n.infos, message)
}

func (n *recordingNotifier) Errors() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.errors...)
}

// helperStart launches this test binary as a fake kernel running mode.
func helperStart(mode ...string) ProcessStart {
	args := append([]string{"-test.run=TestHelperProcess", "--"}, mode...)
	return ProcessStart{
		Command: os.Args[0],
		Args:    args,
		Env:     []string{helperEnv + "=1"},
	}
}

// TestHelperProcess is not a real test. It is the fake kernel started by
// helperStart.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	args := os.Args
	for len(args) > 0 {
		if args[0] == "--" {
			args = args[1:]
			break
		}
		args = args[1:]
	}
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "no helper mode")
		os.Exit(2)
	}

	switch args[0] {
	case "echo":
		fmt.Fprintln(os.Stderr, "booting")
		fmt.Println(`{"eventType":"DiagnosticLogEntryProduced","event":{"message":"kernel booting"}}`)
		fmt.Println(`{"eventType":"KernelReady","event":{}}`)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			var cmd struct {
				Token       string          `json:"token"`
				CommandType string          `json:"commandType"`
				Command     json.RawMessage `json:"command"`
			}
			if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
				fmt.Fprintf(os.Stderr, "bad command: %v\n", err)
				continue
			}
			payload, _ := json.Marshal(map[string]any{
				"token":       cmd.Token,
				"commandType": cmd.CommandType,
				"command":     cmd.Command,
			})
			fmt.Printf(`{"eventType":"CommandSucceeded","event":%s}`+"\n", payload)
		}
		os.Exit(0)
	case "args":
		payload, _ := json.Marshal(map[string]any{"args": args[1:]})
		fmt.Printf(`{"eventType":"Args","event":%s}`+"\n", payload)
		fmt.Println(`{"eventType":"KernelReady","event":{}}`)
		bufio.NewReader(os.Stdin).ReadString('\n')
		os.Exit(0)
	case "exit":
		code, _ := strconv.Atoi(args[1])
		os.Exit(code)
	case "orphan":
		// Leave a child behind that inherits stdout and stderr, then exit.
		child := exec.Command(os.Args[0], "-test.run=TestHelperProcess", "--", "sleep")
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr
		if err := child.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "starting child: %v\n", err)
			os.Exit(2)
		}
		fmt.Printf(`{"eventType":"ChildStarted","event":{"pid":%d}}`+"\n", child.Process.Pid)
		os.Exit(3)
	case "sleep":
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	fmt.Fprintf(os.Stderr, "unknown helper mode %q\n", args[0])
	os.Exit(2)
}

func waitExited(t *testing.T, tr *Transport) {
	t.Helper()
	select {
	case <-tr.Exited():
	case <-time.After(10 * time.Second):
		t.Fatal("kernel process did not exit")
	}
}
