package mqttclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/south-coast-science/scs-dev-sub000/internal/envelope"
	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/logging"
	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/mqtt"
	"github.com/south-coast-science/scs-dev-sub000/internal/journal"
	"github.com/south-coast-science/scs-dev-sub000/internal/transport"
)

// Subscription binds a broker topic filter to a local sink. A nil Sink
// means process stdout. The set of subscriptions is fixed at startup.
type Subscription struct {
	Topic string
	Sink  transport.LocalTransport

	// SinkName labels the sink in logs and the journal.
	SinkName string
}

// FanOutOptions configures a FanOut.
type FanOutOptions struct {
	// Echo also writes every inbound envelope to stdout when the
	// subscription has its own sink.
	Echo bool

	// Journal is optional.
	Journal Journal
}

// FanOut delivers inbound broker messages to local sinks.
//
// Handlers are invoked on the broker library's goroutines. Each delivery
// opens and closes its own sink connection, so handlers share no state
// beyond the stdout writer, which serialises its own writes.
type FanOut struct {
	session *Session
	stdout  transport.LocalTransport
	logger  *logging.Logger
	echo    bool
	journal Journal
}

// NewFanOut creates a FanOut writing stdout-bound envelopes to stdout.
func NewFanOut(session *Session, stdout transport.LocalTransport, logger *logging.Logger, opts FanOutOptions) *FanOut {
	if logger == nil {
		logger = logging.Default()
	}
	return &FanOut{
		session: session,
		stdout:  stdout,
		logger:  logger.With("component", "fanout"),
		echo:    opts.Echo,
		journal: opts.Journal,
	}
}

// Register subscribes to every topic in subs. ctx bounds sink writes for
// the lifetime of the subscriptions.
func (f *FanOut) Register(ctx context.Context, subs []Subscription) error {
	for _, sub := range subs {
		if err := f.session.Subscribe(sub.Topic, f.Handler(ctx, sub)); err != nil {
			return fmt.Errorf("subscribing to %s: %w", sub.Topic, err)
		}
		f.session.reporter.Print("subscribed", "topic", sub.Topic, "sink", sinkName(sub))
	}
	return nil
}

// Handler returns the broker message handler for sub. It never returns an
// error: every failure is local to the message and is logged here.
func (f *FanOut) Handler(ctx context.Context, sub Subscription) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		f.Deliver(ctx, sub, topic, payload)
		return nil
	}
}

// Deliver wraps one broker message as an envelope and writes it to the
// subscription's sink, and to stdout as well when echo is on. It reports
// whether the primary sink accepted it.
func (f *FanOut) Deliver(ctx context.Context, sub Subscription, topic string, payload []byte) bool {
	pub, err := envelope.New(topic, payload)
	if err != nil {
		f.session.reporter.Print("skipping inbound message", "topic", topic, "error", err)
		return false
	}

	line, err := envelope.Encode(pub)
	if err != nil {
		f.session.reporter.Print("skipping inbound message", "topic", topic, "error", err)
		return false
	}

	f.session.reporter.Print("received", "topic", topic, "bytes", pub.Size())

	sink := sub.Sink
	if sink == nil {
		sink = f.stdout
	}

	delivered := f.write(ctx, sink, sinkName(sub), line)

	if f.echo && sub.Sink != nil {
		f.write(ctx, f.stdout, "stdout", line)
	}

	if delivered && f.journal != nil {
		err := record(ctx, f.journal, journal.Entry{
			Direction: journal.Deliver,
			Topic:     topic,
			Sink:      sinkName(sub),
			Bytes:     pub.Size(),
		})
		if err != nil {
			f.logger.Warn("journal record failed", "error", err)
		}
	}

	return delivered
}

func (f *FanOut) write(ctx context.Context, sink transport.LocalTransport, name, line string) bool {
	err := sink.Write(ctx, line, false)
	switch {
	case err == nil:
		return true
	case errors.Is(err, transport.ErrUnavailable):
		f.session.reporter.Print("sink unavailable", "sink", name, "error", err)
	default:
		f.logger.Warn("sink write failed", "sink", name, "error", err)
	}
	return false
}

func sinkName(sub Subscription) string {
	switch {
	case sub.SinkName != "":
		return sub.SinkName
	case sub.Sink == nil:
		return "stdout"
	default:
		return "uds"
	}
}
