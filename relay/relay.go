package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/m4xw311/kernelio/envelope"
	"github.com/m4xw311/kernelio/errors"
	"github.com/m4xw311/kernelio/transport"
)

// Kernel is the part of a transport the relay uses.
type Kernel interface {
	WaitForReady(ctx context.Context) error
	SubmitCommand(ctx context.Context, command any, commandType, token string) error
	SubscribeToKernelEvents(observer func(*envelope.Event)) transport.Subscription
}

type Options struct {
	// Trace receives one line per relay step. Optional.
	Trace func(msg string)
	// OnCommand is called for every command before it is submitted.
	OnCommand func(envelope.Command)
}

type inboundCommand struct {
	Token       string          `json:"token"`
	CommandType string          `json:"commandType"`
	Command     json.RawMessage `json:"command"`
}

type relay struct {
	kernel    Kernel
	out       *bufio.Writer
	writeLock sync.Mutex
	trace     func(string)
	onCommand func(envelope.Command)
}

// Run waits for the kernel to be ready, then relays until in reaches EOF
// or ctx is done. Events are written to out from the moment Run is called.
func Run(ctx context.Context, k Kernel, in *bufio.Reader, out *bufio.Writer, opts Options) error {
	r := &relay{
		kernel:    k,
		out:       out,
		trace:     opts.Trace,
		onCommand: opts.OnCommand,
	}
	if r.trace == nil {
		r.trace = func(string) {}
	}

	sub := k.SubscribeToKernelEvents(func(e *envelope.Event) {
		if err := r.writeFramedJSON(e); err != nil {
			r.trace(fmt.Sprintf("Run: event write error: %v", err))
		}
	})
	defer sub.Dispose()

	r.trace("Run: waiting for kernel")
	if err := k.WaitForReady(ctx); err != nil {
		return errors.Wrapf(err, "waiting for kernel")
	}
	r.trace("Run: kernel ready")

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for {
			line, err := in.ReadBytes('\n')
			if len(bytes.TrimSpace(line)) > 0 {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err == io.EOF {
						r.trace("Run: EOF received, exiting")
						return nil
					}
					return errors.Wrapf(err, "reading commands")
				default:
					return ctx.Err()
				}
			}
			r.handleLine(ctx, line)
		}
	}
}

func (r *relay) handleLine(ctx context.Context, line []byte) {
	r.trace(fmt.Sprintf("handleLine: received %s", bytes.TrimSpace(line)))
	if failed := Submit(ctx, r.kernel, line, r.onCommand); failed != nil {
		r.trace(fmt.Sprintf("handleLine: %s", failed.Message))
		r.writeFailure(failed)
	}
}

// Submit decodes one command envelope and submits it to k. onCommand, if
// set, sees the command after a missing token has been filled in. A
// non-nil result describes why the line could not be submitted.
func Submit(ctx context.Context, k Kernel, line []byte, onCommand func(envelope.Command)) *envelope.CommandFailed {
	var cmd inboundCommand
	if err := json.Unmarshal(line, &cmd); err != nil {
		return &envelope.CommandFailed{Message: fmt.Sprintf("Parse error: %v", err)}
	}
	if cmd.CommandType == "" {
		return &envelope.CommandFailed{Message: "commandType is required", Token: cmd.Token}
	}
	if cmd.Token == "" {
		cmd.Token = envelope.NewToken()
	}

	if onCommand != nil {
		onCommand(envelope.Command{Token: cmd.Token, CommandType: cmd.CommandType, Command: cmd.Command})
	}

	var payload any = cmd.Command
	if len(cmd.Command) == 0 {
		payload = struct{}{}
	}
	if err := k.SubmitCommand(ctx, payload, cmd.CommandType, cmd.Token); err != nil {
		return &envelope.CommandFailed{Message: err.Error(), Token: cmd.Token}
	}
	return nil
}

func (r *relay) writeFailure(failed *envelope.CommandFailed) {
	e, err := envelope.NewEvent(envelope.CommandFailedType, failed)
	if err != nil {
		return
	}
	if err := r.writeFramedJSON(e); err != nil {
		r.trace(fmt.Sprintf("writeFailure: write error: %v", err))
	}
}

func (r *relay) writeFramedJSON(obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	r.writeLock.Lock()
	defer r.writeLock.Unlock()
	if _, err := r.out.Write(data); err != nil {
		return err
	}
	if err := r.out.WriteByte('\n'); err != nil {
		return err
	}
	return r.out.Flush()
}
