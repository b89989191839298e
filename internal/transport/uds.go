package transport

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net"
	"os"
	"sync"
	"time"
)

const (
	// defaultDialTimeout bounds a single connect to a sink.
	defaultDialTimeout = 2 * time.Second

	// defaultWaitInterval is the pause between attempts when waiting for a sink.
	defaultWaitInterval = time.Second

	// defaultWriteTimeout bounds writing one message to a connected sink.
	defaultWriteTimeout = 2 * time.Second
)

// UDS is a Unix domain socket transport.
//
// Reading listens on the path and accepts writers one after another,
// yielding every line of every connection. Writing opens a fresh
// connection for each message (connect, write, close), so a sink that
// restarts mid-session costs at most the messages sent while it was down.
type UDS struct {
	path string

	// DialTimeout bounds a single connect to the sink.
	DialTimeout time.Duration

	// WaitInterval is the pause between attempts when Write waits.
	WaitInterval time.Duration

	// WriteTimeout bounds writing to a sink that accepted the connection.
	// A sink that stops reading costs at most this long per message.
	WriteTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	conn     net.Conn
	closed   bool
}

// NewUDS creates a UDS transport for path. Nothing is opened until
// Connect (reading) or Write.
func NewUDS(path string) *UDS {
	return &UDS{
		path:         path,
		DialTimeout:  defaultDialTimeout,
		WaitInterval: defaultWaitInterval,
		WriteTimeout: defaultWriteTimeout,
	}
}

// Path returns the socket path.
func (u *UDS) Path() string {
	return u.path
}

// Connect starts listening on the socket path. A stale socket file left by
// a previous run is removed first.
func (u *UDS) Connect(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return ErrClosed
	}
	if u.listener != nil {
		return nil
	}

	if err := os.Remove(u.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket %s: %w", u.path, err)
	}

	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "unix", u.path)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", u.path, err)
	}
	u.listener = l
	return nil
}

// Read yields lines from successive writer connections until the
// transport is closed or ctx is cancelled. Connect must be called first.
// A writer whose connection fails is reported as ErrWriterLost and the
// next writer is accepted.
func (u *UDS) Read(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		u.mu.Lock()
		l := u.listener
		u.mu.Unlock()
		if l == nil {
			yield("", fmt.Errorf("%w: %s not connected", ErrClosed, u.path))
			return
		}

		stop := context.AfterFunc(ctx, func() {
			u.mu.Lock()
			defer u.mu.Unlock()
			_ = l.Close()
			if u.conn != nil {
				_ = u.conn.Close()
			}
		})
		defer stop()

		for {
			conn, err := l.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
					return
				}
				yield("", fmt.Errorf("accepting on %s: %w", u.path, err))
				return
			}

			u.mu.Lock()
			u.conn = conn
			u.mu.Unlock()

			stopped, err := scanLines(conn, yield)
			_ = conn.Close()

			u.mu.Lock()
			u.conn = nil
			u.mu.Unlock()

			if stopped {
				return
			}
			// A failed writer costs only its own partial line.
			if err != nil && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				if !yield("", fmt.Errorf("%w: reading %s: %w", ErrWriterLost, u.path, err)) {
					return
				}
			}
		}
	}
}

// Write connects to the socket, writes message and a newline, and closes.
//
// If the sink is not listening, Write returns ErrUnavailable, or, when wait
// is true, retries every WaitInterval until it succeeds or ctx is done.
func (u *UDS) Write(ctx context.Context, message string, wait bool) error {
	for {
		err := u.writeOnce(ctx, message)
		if err == nil || !wait || !errors.Is(err, ErrUnavailable) {
			return err
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(u.WaitInterval):
		}
	}
}

func (u *UDS) writeOnce(ctx context.Context, message string) error {
	u.mu.Lock()
	closed := u.closed
	u.mu.Unlock()
	if closed {
		return ErrClosed
	}

	dialCtx, cancel := context.WithTimeout(ctx, u.DialTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "unix", u.path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, u.path, err)
	}
	defer conn.Close() //nolint:errcheck // write error is what matters

	var deadline time.Time
	if u.WriteTimeout > 0 {
		deadline = time.Now().Add(u.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("writing %s: %w", u.path, err)
	}
	// Cancellation unblocks a write to a sink that is not reading.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetWriteDeadline(time.Unix(1, 0))
	})
	defer stop()

	if _, err := conn.Write([]byte(message + "\n")); err != nil {
		return fmt.Errorf("writing %s: %w", u.path, err)
	}
	return nil
}

// Close stops listening and removes the socket file if this transport
// created it. Further writes return ErrClosed.
func (u *UDS) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil
	}
	u.closed = true

	if u.conn != nil {
		_ = u.conn.Close()
	}
	if u.listener == nil {
		return nil
	}
	// Closing a unix listener created by Listen also unlinks the path.
	if err := u.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("closing %s: %w", u.path, err)
	}
	return nil
}
