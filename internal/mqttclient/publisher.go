package mqttclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/south-coast-science/scs-dev-sub000/internal/envelope"
	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/logging"
	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/mqtt"
	"github.com/south-coast-science/scs-dev-sub000/internal/journal"
	"github.com/south-coast-science/scs-dev-sub000/internal/transport"
)

// Default retry jitter window.
const (
	DefaultJitterMin = 1 * time.Second
	DefaultJitterMax = 2 * time.Second
)

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	// Topic, when set, selects raw mode: every input line is a payload
	// published to Topic. Otherwise every line must be an envelope.
	Topic string

	// Echo, when set, receives each payload after the broker accepts it.
	Echo transport.LocalTransport

	// JitterMin and JitterMax bound the randomized pause between publish
	// attempts.
	JitterMin time.Duration
	JitterMax time.Duration

	// Rand returns a number in [0, 1). Defaults to math/rand/v2.
	Rand func() float64

	// Sleep replaces the real clock. Intended for tests.
	Sleep SleepFunc

	// Telemetry and Journal are optional.
	Telemetry Telemetry
	Journal   Journal
}

// Publisher pumps lines from a local source to the broker, strictly in
// order and one at a time.
//
// Thread Safety:
//   - Run must not be called concurrently.
type Publisher struct {
	session *Session
	source  transport.LocalTransport
	logger  *logging.Logger

	topic     string
	echo      transport.LocalTransport
	jitterMin time.Duration
	jitterMax time.Duration
	rand      func() float64
	sleep     SleepFunc
	telemetry Telemetry
	journal   Journal

	// queued counts lines read from the source and not yet finished.
	queued atomic.Int64

	warnRetry   rate.Sometimes
	warnInhibit rate.Sometimes
	warnSkip    rate.Sometimes
}

// NewPublisher creates a Publisher reading from source.
func NewPublisher(session *Session, source transport.LocalTransport, logger *logging.Logger, opts PublisherOptions) *Publisher {
	if logger == nil {
		logger = logging.Default()
	}
	if opts.JitterMin <= 0 && opts.JitterMax <= 0 {
		opts.JitterMin, opts.JitterMax = DefaultJitterMin, DefaultJitterMax
	}
	if opts.JitterMax < opts.JitterMin {
		opts.JitterMax = opts.JitterMin
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}

	return &Publisher{
		session:     session,
		source:      source,
		logger:      logger.With("component", "publisher"),
		topic:       opts.Topic,
		echo:        opts.Echo,
		jitterMin:   opts.JitterMin,
		jitterMax:   opts.JitterMax,
		rand:        opts.Rand,
		sleep:       opts.Sleep,
		telemetry:   opts.Telemetry,
		journal:     opts.Journal,
		warnRetry:   rate.Sometimes{First: 1, Interval: time.Minute},
		warnInhibit: rate.Sometimes{First: 1, Interval: time.Minute},
		warnSkip:    rate.Sometimes{First: 1, Interval: time.Minute},
	}
}

var errEmptyLine = errors.New("empty line")

// line is one read from the source, or the error that ended it.
type line struct {
	text string
	err  error
}

// Run publishes every line of the source until it ends (returns nil), a
// read fails, or ctx is cancelled (returns ctx.Err()).
//
// The reader runs one line ahead of the publisher over an unbuffered
// channel, so a publish stuck in retry stops the reader too and the source
// backs up. On cancellation an attempt already in flight finishes within
// the broker library's timeout; Run then stops without retrying.
func (p *Publisher) Run(ctx context.Context) error {
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan line)
	go p.read(readCtx, lines)

	for {
		var next line
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case next, ok = <-lines:
		}
		if !ok {
			return nil
		}
		if next.err != nil {
			return next.err
		}

		err := p.handle(ctx, next.text)
		p.updateQueue(-1)
		if err != nil {
			return err
		}
	}
}

// read feeds lines until the source ends. It is not waited for: a stdin
// read blocked in the kernel cannot be interrupted.
func (p *Publisher) read(ctx context.Context, lines chan<- line) {
	defer close(lines)

	for text, err := range p.source.Read(ctx) {
		if transport.Skippable(err) {
			p.warnSkip.Do(func() {
				p.logger.Warn("skipping unreadable input", "error", err)
			})
			p.session.reporter.Print("skipping input line", "error", err)
			continue
		}
		if err != nil {
			select {
			case lines <- line{err: fmt.Errorf("reading publish source: %w", err)}:
			case <-ctx.Done():
			}
			return
		}

		p.updateQueue(1)
		select {
		case lines <- line{text: text}:
		case <-ctx.Done():
			return
		}
	}
}

// handle decodes and publishes one line. Lines that do not decode are
// dropped. It returns an error only when ctx is cancelled mid-retry.
func (p *Publisher) handle(ctx context.Context, text string) error {
	pub, err := p.decode(text)
	if err != nil {
		p.session.reporter.Print("skipping input line", "error", err)
		return nil
	}

	if p.session.Inhibited() {
		p.warnInhibit.Do(func() {
			p.logger.Warn("publishing inhibited, discarding envelopes", "topic", pub.Topic)
		})
		p.session.reporter.Print("discarded", "topic", pub.Topic)
		return nil
	}

	return p.Publish(ctx, pub)
}

func (p *Publisher) decode(text string) (envelope.Publication, error) {
	if strings.TrimSpace(text) == "" {
		return envelope.Publication{}, errEmptyLine
	}

	var pub envelope.Publication
	var err error
	if p.topic != "" {
		pub, err = envelope.New(p.topic, []byte(text))
	} else {
		pub, err = envelope.Decode(text)
	}
	if err != nil {
		return envelope.Publication{}, err
	}
	if err := mqtt.ValidatePublishTopic(pub.Topic); err != nil {
		return envelope.Publication{}, err
	}
	return pub, nil
}

// Publish sends pub, retrying after a jittered pause until the broker
// accepts it. There is no retry limit; the only way out without
// publishing is ctx cancellation, which returns ctx.Err().
//
// Each attempt runs to its own library timeout even if ctx is cancelled
// meanwhile, so an attempt is never abandoned half-way.
func (p *Publisher) Publish(ctx context.Context, pub envelope.Publication) error {
	attemptCtx := context.WithoutCancel(ctx)
	start := time.Now()

	for attempt := 1; ; attempt++ {
		err := p.session.Publish(attemptCtx, pub.Topic, pub.Payload)
		if err == nil {
			p.session.setPublishSuccess(true)
			p.published(ctx, pub, attempt, time.Since(start))
			return nil
		}

		p.session.setPublishSuccess(false)

		delay := p.jitter()
		p.warnRetry.Do(func() {
			p.logger.Warn("publish failed, retrying", "topic", pub.Topic, "error", err)
		})
		p.session.reporter.Print("publish retry",
			"topic", pub.Topic,
			"attempt", attempt,
			"retry_in", delay,
			"error", err,
		)

		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// jitter returns a pause drawn uniformly from [jitterMin, jitterMax].
func (p *Publisher) jitter() time.Duration {
	span := p.jitterMax - p.jitterMin
	return p.jitterMin + time.Duration(p.rand()*float64(span))
}

func (p *Publisher) published(ctx context.Context, pub envelope.Publication, attempts int, latency time.Duration) {
	p.session.reporter.Print("published", "topic", pub.Topic, "attempts", attempts)

	if p.echo != nil {
		if err := p.echo.Write(ctx, string(pub.Payload), false); err != nil {
			p.logger.Warn("echo failed", "error", err)
		}
	}

	if p.telemetry != nil {
		p.telemetry.WritePublishOutcome(pub.Topic, attempts, latency)
	}

	if p.journal != nil {
		err := record(ctx, p.journal, journal.Entry{
			Direction: journal.Publish,
			Topic:     pub.Topic,
			Attempts:  attempts,
			Bytes:     pub.Size(),
		})
		if err != nil {
			p.logger.Warn("journal record failed", "error", err)
		}
	}
}

func (p *Publisher) updateQueue(delta int64) {
	p.session.setQueueLength(int(p.queued.Add(delta)))
}

// QueueLength returns the number of lines read and not yet finished.
func (p *Publisher) QueueLength() int {
	return int(p.queued.Load())
}
