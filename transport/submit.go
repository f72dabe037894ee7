package transport

import (
	"context"
	"encoding/json"

	"github.com/m4xw311/kernelio/envelope"
	"github.com/m4xw311/kernelio/errors"
)

// SubmitCommand writes one command envelope to the kernel's stdin. An
// empty token is replaced with a generated one. Responses, if any, arrive
// as events carrying the same token.
func (t *Transport) SubmitCommand(ctx context.Context, command any, commandType, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if token == "" {
		token = envelope.NewToken()
	}

	data, err := json.Marshal(envelope.Command{
		Token:       token,
		CommandType: commandType,
		Command:     command,
	})
	if err != nil {
		return errors.Wrapf(err, "serializing %s command", commandType)
	}

	t.mu.Lock()
	p := t.proc
	t.mu.Unlock()
	if p == nil {
		return errors.Wrapf(errors.ErrProcessUnavailable, "submitting %s command", commandType)
	}

	// json.Marshal escapes newlines inside strings, so data is one line.
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := p.stdin.Write(data); err != nil {
		return errors.Wrapf(err, "writing %s command to kernel %d", commandType, p.pid)
	}
	return nil
}
