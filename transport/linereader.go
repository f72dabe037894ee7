package transport

import (
	"bytes"
	"sync"
)

// LineReader turns a stream of chunks into newline-terminated lines.
// It implements io.Writer so a process's stdout can be copied into it.
//
// Each complete line (newline stripped) is delivered to every line
// subscriber, in order, before the rest of the chunk is processed.
// Bytes after the last newline are kept until a later chunk ends the
// line. A subscriber disposed while a line is being delivered is not
// called for that line if it has not been reached yet.
type LineReader struct {
	mu          sync.Mutex
	buffer      []byte
	subscribers registry[string]
}

// NewLineReader returns an empty LineReader.
func NewLineReader() *LineReader {
	return &LineReader{}
}

// Subscribe registers fn to receive every complete line.
func (r *LineReader) Subscribe(fn func(line string)) Subscription {
	return r.subscribers.subscribe(fn)
}

// Write buffers p and emits each line it completes. It never fails.
func (r *LineReader) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, p...)
	for {
		i := bytes.IndexByte(r.buffer, '\n')
		if i < 0 {
			break
		}
		line := string(r.buffer[:i])
		r.buffer = r.buffer[i+1:]
		r.subscribers.notify(line)
	}
	if len(r.buffer) == 0 {
		r.buffer = nil
	}
	return len(p), nil
}

// Pending returns the buffered bytes of the current incomplete line.
func (r *LineReader) Pending() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.buffer)
}
