package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m4xw311/kernelio/envelope"
	"github.com/m4xw311/kernelio/errors"
)

// ReportChannel receives human-readable diagnostic lines.
type ReportChannel interface {
	AppendLine(line string)
}

// Notifier surfaces messages to the user.
type Notifier interface {
	DisplayError(message string)
	DisplayInfo(message string)
}

// ProcessStart describes how to launch a kernel.
type ProcessStart struct {
	Command          string
	Args             []string
	WorkingDirectory string
	// Env is appended to the current environment.
	Env []string
}

// Identity names a kernel process in log lines and callbacks.
type Identity struct {
	NotebookPath string
	PID          int
}

func (id Identity) String() string {
	return fmt.Sprintf("'%s' (%d)", id.NotebookPath, id.PID)
}

// ExitStatus describes how a kernel process ended. Code is nil when the
// process was terminated by a signal.
type ExitStatus struct {
	PID    int
	Code   *int
	Signal string
}

// Options configures a Transport.
type Options struct {
	NotebookPath string
	ProcessStart ProcessStart
	Channel      ReportChannel
	Notifier     Notifier

	// ProcessExited is called when the kernel exits on its own. It is not
	// called after Close.
	ProcessExited func(ExitStatus)

	// HTTPClient is used for tunnel negotiation. Defaults to a client with
	// TunnelTimeout.
	HTTPClient    *http.Client
	TunnelTimeout time.Duration
}

const defaultTunnelTimeout = 10 * time.Second

// Transport is a stdio connection to one kernel process.
type Transport struct {
	opts       Options
	channel    ReportChannel
	notifier   Notifier
	httpClient *http.Client

	lines  *LineReader
	events registry[*envelope.Event]
	ready  *readyGate

	notifyOnExit atomic.Bool
	exited       chan struct{}

	mu              sync.Mutex
	started         bool
	closed          bool
	proc            *process
	pid             int
	httpPort        int
	externalURI     *url.URL
	bootstrapperURI *url.URL

	writeMu sync.Mutex
}

// New prepares a transport. Call Start to launch the kernel.
func New(opts Options) *Transport {
	t := &Transport{
		opts:     opts,
		channel:  opts.Channel,
		notifier: opts.Notifier,
		lines:    NewLineReader(),
		ready:    newReadyGate(),
		exited:   make(chan struct{}),
	}
	if t.channel == nil {
		t.channel = discardChannel{}
	}
	if t.notifier == nil {
		t.notifier = discardNotifier{}
	}
	t.httpClient = opts.HTTPClient
	if t.httpClient == nil {
		timeout := opts.TunnelTimeout
		if timeout <= 0 {
			timeout = defaultTunnelTimeout
		}
		t.httpClient = &http.Client{Timeout: timeout}
	}
	t.notifyOnExit.Store(true)
	t.lines.Subscribe(t.handleLine)
	return t
}

// SubscribeToKernelEvents registers observer for every event envelope.
func (t *Transport) SubscribeToKernelEvents(observer func(*envelope.Event)) Subscription {
	return t.events.subscribe(observer)
}

// SubscribeToCommands always fails: the kernel cannot send commands back
// over stdio.
func (t *Transport) SubscribeToCommands(observer func(*envelope.Command)) (Subscription, error) {
	return nil, errors.ErrUnsupported
}

// PublishKernelEvent always fails: events only flow from the kernel.
func (t *Transport) PublishKernelEvent(ctx context.Context, e *envelope.Event) error {
	return errors.ErrUnsupported
}

// WaitForReady blocks until the kernel reports ready, the kernel fails to
// start or exits first, or ctx is done.
func (t *Transport) WaitForReady(ctx context.Context) error {
	return t.ready.wait(ctx)
}

// HTTPPort is the port passed to the kernel with --http-port, or 0 before
// Start.
func (t *Transport) HTTPPort() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.httpPort
}

// ExternalURI returns the URI given to SetExternalURI, if any.
func (t *Transport) ExternalURI() *url.URL {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.externalURI
}

// BootstrapperURI returns the URI obtained from tunnel negotiation, if any.
func (t *Transport) BootstrapperURI() *url.URL {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bootstrapperURI
}

// Identity returns the notebook path and pid of the kernel. PID is 0
// before the kernel starts.
func (t *Transport) Identity() Identity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Identity{NotebookPath: t.opts.NotebookPath, PID: t.pid}
}

// Exited is closed once a started kernel process has exited.
func (t *Transport) Exited() <-chan struct{} {
	return t.exited
}

// Close stops exit notifications and kills the kernel if it is running.
func (t *Transport) Close() error {
	t.notifyOnExit.Store(false)

	t.mu.Lock()
	t.closed = true
	p := t.proc
	t.mu.Unlock()

	if p == nil {
		return nil
	}
	return p.kill()
}

func (t *Transport) handleLine(line string) {
	e, err := envelope.ParseEvent([]byte(line))
	if err != nil {
		t.channel.AppendLine(fmt.Sprintf("Kernel %s wrote a malformed event: %v", t.Identity(), err))
		return
	}

	if message, ok := e.DiagnosticMessage(); ok {
		t.channel.AppendLine(message)
	}

	t.events.notifyReverse(e)

	if e.EventType == envelope.KernelReadyType {
		t.ready.resolve()
	}
}

type discardChannel struct{}

func (discardChannel) AppendLine(string) {}

type discardNotifier struct{}

func (discardNotifier) DisplayError(string) {}
func (discardNotifier) DisplayInfo(string)  {}
