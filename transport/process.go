package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/m4xw311/kernelio/errors"
)

const (
	httpPortFlag      = "--http-port"
	httpPortRangeFlag = "--http-port-range"
)

const outputDrainTimeout = 250 * time.Millisecond

type process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	pid   int
}

func (p *process) kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.Wrapf(err, "killing kernel process %d", p.pid)
	}
	return nil
}

// Start negotiates the kernel's --http-port argument and spawns it. It
// returns once the process is running; use WaitForReady to wait for the
// kernel itself. A failure here also fails WaitForReady.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.ErrAlreadyStarted
	}
	t.started = true
	t.mu.Unlock()

	if err := t.spawn(ctx); err != nil {
		t.ready.fail(err)
		return err
	}
	return nil
}

func (t *Transport) spawn(ctx context.Context) error {
	start := t.opts.ProcessStart
	args, err := t.configureHTTPArgs(ctx, start.Args)
	if err != nil {
		return err
	}

	cmd := exec.Command(start.Command, args...)
	cmd.Dir = start.WorkingDirectory
	if len(start.Env) > 0 {
		cmd.Env = append(os.Environ(), start.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrapf(err, "creating kernel stdin pipe")
	}
	// The kernel gets the write ends directly, so Wait does not depend on
	// anyone else releasing them.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return errors.Wrapf(err, "creating kernel stdout pipe")
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		stdoutW.Close()
		return errors.Wrapf(err, "creating kernel stderr pipe")
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	err = cmd.Start()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return errors.Wrapf(err, "starting kernel %q", start.Command)
	}

	p := &process{cmd: cmd, stdin: stdin, pid: cmd.Process.Pid}

	t.mu.Lock()
	t.proc = p
	t.pid = p.pid
	closed := t.closed
	t.mu.Unlock()

	id := t.Identity()
	t.channel.AppendLine(fmt.Sprintf("Kernel for '%s' started (%d).", id.NotebookPath, id.PID))

	go t.supervise(p, id, stdout, stderr)

	if closed {
		return p.kill()
	}
	return nil
}

// supervise reaps the kernel and reports its exit. Output still buffered
// in the pipes is drained first, for at most outputDrainTimeout, since
// processes the kernel started may keep the pipes open after it exits.
func (t *Transport) supervise(p *process, id Identity, stdout, stderr *os.File) {
	drained := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := io.Copy(t.lines, stdout); err != nil && !errors.Is(err, os.ErrClosed) {
				t.channel.AppendLine(fmt.Sprintf("kernel (%d) stdout: %v", id.PID, err))
			}
		}()
		go func() {
			defer wg.Done()
			t.forwardStderr(id, stderr)
		}()
		wg.Wait()
		close(drained)
	}()

	_ = p.cmd.Wait()
	status := exitStatus(id.PID, p.cmd.ProcessState)

	select {
	case <-drained:
	case <-time.After(outputDrainTimeout):
	}
	stdout.Close()
	stderr.Close()

	t.mu.Lock()
	if t.proc == p {
		t.proc = nil
	}
	t.mu.Unlock()

	t.channel.AppendLine(exitSummary(id, status))
	t.ready.fail(errors.ErrProcessExited)
	close(t.exited)

	if t.notifyOnExit.Load() && t.opts.ProcessExited != nil {
		t.opts.ProcessExited(status)
	}
}

func (t *Transport) forwardStderr(id Identity, stderr io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			t.channel.AppendLine(fmt.Sprintf("kernel (%d) stderr: %s", id.PID, buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

func exitSummary(id Identity, status ExitStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Kernel for '%s' ended (%d)", id.NotebookPath, id.PID)
	if status.Code != nil && *status.Code != 0 {
		fmt.Fprintf(&b, " with code %d", *status.Code)
	}
	if status.Signal != "" {
		fmt.Fprintf(&b, " with signal %s", status.Signal)
	}
	b.WriteString(".")
	return b.String()
}

// configureHTTPArgs makes sure the kernel is given a concrete --http-port
// and records it. args is not modified.
func (t *Transport) configureHTTPArgs(ctx context.Context, args []string) ([]string, error) {
	newArgs := slices.Clone(args)

	if i := slices.Index(newArgs, httpPortFlag); i >= 0 {
		if i+1 >= len(newArgs) {
			return nil, errors.New("%s requires a value", httpPortFlag)
		}
		port, err := strconv.Atoi(newArgs[i+1])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s value %q", httpPortFlag, newArgs[i+1])
		}
		t.setHTTPPort(port)
		return newArgs, nil
	}

	port, err := FindFreePort(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "finding a free http port")
	}
	t.setHTTPPort(port)
	value := strconv.Itoa(port)

	if i := slices.Index(newArgs, httpPortRangeFlag); i >= 0 {
		t.channel.AppendLine("The --http-port-range option is not supported by this transport. Please use --http-port instead.")
		newArgs[i] = httpPortFlag
		if i+1 < len(newArgs) {
			newArgs[i+1] = value
		} else {
			newArgs = append(newArgs, value)
		}
		return newArgs, nil
	}

	return append(newArgs, httpPortFlag, value), nil
}

func (t *Transport) setHTTPPort(port int) {
	t.mu.Lock()
	t.httpPort = port
	t.mu.Unlock()
}
