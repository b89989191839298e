package mqttclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/logging"
	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/mqtt"
	"github.com/south-coast-science/scs-dev-sub000/internal/status"
)

// Default connection timing.
const (
	DefaultConnectRetry  = 10 * time.Second
	DefaultConnectSettle = 3 * time.Second
)

// SessionOptions tunes the connection policy.
type SessionOptions struct {
	// ConnectRetry is the fixed pause between failed connect attempts.
	ConnectRetry time.Duration

	// ConnectSettle is the pause after a successful connect before the
	// session is reported connected.
	ConnectSettle time.Duration

	// Inhibit keeps the connection for subscriptions but discards every
	// outbound envelope.
	Inhibit bool

	// Sleep replaces the real clock. Intended for tests.
	Sleep SleepFunc
}

// Session owns the single broker connection of a client process and the
// engine state behind the status indicator. It is created once at startup
// and shared by the Publisher and FanOut.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Session struct {
	broker   Broker
	reporter *status.Reporter
	logger   *logging.Logger

	retry   time.Duration
	settle  time.Duration
	inhibit bool
	sleep   SleepFunc

	mu             sync.Mutex
	client         status.ClientStatus
	queueLength    int
	publishSuccess bool
}

// NewSession creates a Session. Nothing is connected until Connect.
func NewSession(broker Broker, reporter *status.Reporter, logger *logging.Logger, opts SessionOptions) *Session {
	if logger == nil {
		logger = logging.Default()
	}
	if reporter == nil {
		reporter = status.NewReporter(logger, nil)
	}
	if opts.ConnectRetry <= 0 {
		opts.ConnectRetry = DefaultConnectRetry
	}
	if opts.ConnectSettle < 0 {
		opts.ConnectSettle = 0
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}

	s := &Session{
		broker:         broker,
		reporter:       reporter,
		logger:         logger.With("component", "session"),
		retry:          opts.ConnectRetry,
		settle:         opts.ConnectSettle,
		inhibit:        opts.Inhibit,
		sleep:          opts.Sleep,
		client:         status.Waiting,
		publishSuccess: true,
	}

	broker.SetConnectionHandlers(s.handleReconnect, s.handleConnectionLost)
	return s
}

// Connect connects to the broker, retrying at the fixed interval for as
// long as it takes, then waits the settle time.
//
// Connect only returns early when ctx is cancelled, with ctx.Err(). Connect
// failures are never fatal: they are logged and retried.
func (s *Session) Connect(ctx context.Context) error {
	s.setClient(status.Connecting)

	for attempt := 1; ; attempt++ {
		err := s.broker.Connect(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			s.setClient(status.Waiting)
			return ctx.Err()
		}

		s.logger.Warn("broker connect failed",
			"attempt", attempt,
			"retry_in", s.retry,
			"error", err,
		)
		if err := s.sleep(ctx, s.retry); err != nil {
			s.setClient(status.Waiting)
			return err
		}
	}

	if err := s.sleep(ctx, s.settle); err != nil {
		_ = s.broker.Disconnect()
		s.setClient(status.Waiting)
		return err
	}

	s.setClient(s.upStatus())
	s.reporter.Print("connected")
	return nil
}

// Disconnect tears down the broker session and reports WAITING. Safe to
// call when never connected.
func (s *Session) Disconnect() error {
	err := s.broker.Disconnect()
	s.setClient(status.Waiting)
	if err != nil {
		return fmt.Errorf("disconnecting: %w", err)
	}
	return nil
}

// HealthCheck reports mqtt.ErrNotConnected when the broker is down.
func (s *Session) HealthCheck(ctx context.Context) error {
	return s.broker.HealthCheck(ctx)
}

// Inhibited reports whether publishing is inhibited.
func (s *Session) Inhibited() bool {
	return s.inhibit
}

// Status returns the last status report.
func (s *Session) Status() status.Report {
	return s.reporter.Status()
}

// Reporter returns the status reporter.
func (s *Session) Reporter() *status.Reporter {
	return s.reporter
}

// Publish makes one publish attempt.
func (s *Session) Publish(ctx context.Context, topic string, payload []byte) error {
	return s.broker.Publish(ctx, topic, payload)
}

// Subscribe registers handler for topic. The broker library restores the
// subscription after a reconnect.
func (s *Session) Subscribe(topic string, handler mqtt.MessageHandler) error {
	return s.broker.Subscribe(topic, handler)
}

func (s *Session) upStatus() status.ClientStatus {
	if s.inhibit {
		return status.Inhibited
	}
	return status.Connected
}

// handleReconnect runs when the library re-establishes a dropped session.
func (s *Session) handleReconnect() {
	s.logger.Info("broker connection restored")
	s.setClient(s.upStatus())
}

// handleConnectionLost runs when an established session drops. The
// library reconnects on its own.
func (s *Session) handleConnectionLost(err error) {
	s.logger.Warn("broker connection lost", "error", err)
	s.setClient(status.Connecting)
}

func (s *Session) setClient(client status.ClientStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = client
	s.report()
}

func (s *Session) setQueueLength(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueLength = n
	s.report()
}

func (s *Session) setPublishSuccess(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishSuccess = ok
	s.report()
}

// report must be called with mu held so reports reach the reporter in
// state order.
func (s *Session) report() {
	s.reporter.SetStatus(s.client, s.queueLength, s.publishSuccess)
}
