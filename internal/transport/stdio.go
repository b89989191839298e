package transport

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"sync"
)

// Stdio reads lines from an input stream and writes lines to an output
// stream. It is always available.
type Stdio struct {
	in  io.Reader
	out io.Writer

	mu     sync.Mutex
	closed bool
}

// NewStdio creates a Stdio transport over in and out.
func NewStdio(in io.Reader, out io.Writer) *Stdio {
	return &Stdio{in: in, out: out}
}

// NewProcessStdio creates a Stdio transport over os.Stdin and os.Stdout.
func NewProcessStdio() *Stdio {
	return NewStdio(os.Stdin, os.Stdout)
}

// Connect is a no-op for stdio.
func (s *Stdio) Connect(context.Context) error {
	return nil
}

// Read yields input lines until EOF. A blocked read on the input stream is
// not interruptible; cancellation is observed between lines.
func (s *Stdio) Read(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if s.in == nil {
			return
		}
		stopped, err := scanLines(s.in, func(line string, err error) bool {
			if ctx.Err() != nil {
				return false
			}
			return yield(line, err)
		})
		if !stopped && err != nil {
			yield("", fmt.Errorf("reading stdin: %w", err))
		}
	}
}

// Write writes message and a newline. The wait flag is ignored.
func (s *Stdio) Write(_ context.Context, message string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, err := io.WriteString(s.out, message+"\n"); err != nil {
		return fmt.Errorf("writing stdout: %w", err)
	}
	if f, ok := s.out.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Close marks the transport closed. The underlying streams stay open.
func (s *Stdio) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
