package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
)

// Transport errors.
var (
	// ErrUnavailable is returned when a sink has no listener.
	ErrUnavailable = errors.New("transport: sink unavailable")

	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrLineTooLong reports an input line over the size limit. The line
	// is discarded and reading continues.
	ErrLineTooLong = errors.New("transport: line too long")

	// ErrWriterLost reports a publishing peer whose connection failed
	// mid-stream. Its partial line is discarded and reading continues.
	ErrWriterLost = errors.New("transport: writer connection lost")
)

const (
	// maxLineSize bounds a single JSON document line.
	maxLineSize = 1 << 20 // 1 MiB

	readBufferSize = 64 * 1024
)

// LocalTransport moves newline-delimited messages between this process
// and a local peer. Read is used on the publish side, Write on the
// subscribe side and for the LED sink.
//
// Thread Safety:
//   - Write is safe for concurrent use.
//   - Read must be consumed by a single goroutine.
type LocalTransport interface {
	// Connect prepares the transport for reading.
	Connect(ctx context.Context) error

	// Read yields lines until the source closes or ctx is cancelled.
	// A yielded error ends the sequence unless Skippable reports true
	// for it.
	Read(ctx context.Context) iter.Seq2[string, error]

	// Write sends one message. If wait is true an unavailable sink is
	// retried until it accepts or ctx is cancelled; otherwise
	// ErrUnavailable is returned.
	Write(ctx context.Context, message string, wait bool) error

	// Close releases the transport.
	Close() error
}

// Skippable reports whether a Read error only cost the current line or
// writer, so the consumer may keep reading.
func Skippable(err error) bool {
	return errors.Is(err, ErrLineTooLong) || errors.Is(err, ErrWriterLost)
}

// scanLines yields each line of r to yield, with any trailing CR removed.
// A line over maxLineSize is read through to its newline and reported as
// ErrLineTooLong. It reports whether the consumer asked to stop, and any
// read error other than EOF.
func scanLines(r io.Reader, yield func(string, error) bool) (stopped bool, err error) {
	br := bufio.NewReaderSize(r, readBufferSize)
	var buf []byte
	oversized := false

	emit := func() bool {
		defer func() {
			buf = buf[:0]
			oversized = false
		}()
		if oversized {
			return yield("", fmt.Errorf("%w: over %d bytes", ErrLineTooLong, maxLineSize))
		}
		text := strings.TrimSuffix(strings.TrimSuffix(string(buf), "\n"), "\r")
		return yield(text, nil)
	}

	for {
		chunk, rerr := br.ReadSlice('\n')
		if !oversized {
			// One extra byte for the newline.
			if len(buf)+len(chunk) > maxLineSize+1 {
				oversized = true
				buf = buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}

		switch {
		case errors.Is(rerr, bufio.ErrBufferFull):
			continue
		case rerr == nil:
			if !emit() {
				return true, nil
			}
		case errors.Is(rerr, io.EOF):
			if len(buf) > 0 || oversized {
				if !emit() {
					return true, nil
				}
			}
			return false, nil
		default:
			return false, rerr
		}
	}
}
