package mqttclient

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/config"
	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/logging"
	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/mqtt"
	"github.com/south-coast-science/scs-dev-sub000/internal/journal"
	"github.com/south-coast-science/scs-dev-sub000/internal/status"
	"github.com/south-coast-science/scs-dev-sub000/internal/transport"
)

var errBrokerDown = errors.New("mock broker: timeout")

type publishCall struct {
	topic   string
	payload string
}

// MockBroker is a scripted Broker. Publish fails while failPublishes > 0
// (or always when failAlways is set); Connect fails connectFailures times.
type MockBroker struct {
	mu sync.Mutex

	connectFailures int
	connects        int
	disconnects     int
	connected       bool

	failPublishes int
	failAlways    bool
	attempts      []publishCall
	published     []publishCall

	handlers map[string]mqtt.MessageHandler

	onConnect    func()
	onDisconnect func(error)

	// attempted receives publish attempts, when non-nil. Sends never block.
	attempted chan publishCall
}

func newMockBroker() *MockBroker {
	return &MockBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *MockBroker) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	if m.connectFailures > 0 {
		m.connectFailures--
		return mqtt.ErrConnectionFailed
	}
	m.connected = true
	return nil
}

func (m *MockBroker) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	call := publishCall{topic: topic, payload: string(payload)}
	m.attempts = append(m.attempts, call)
	fail := m.failAlways || m.failPublishes > 0
	if m.failPublishes > 0 {
		m.failPublishes--
	}
	if !fail {
		m.published = append(m.published, call)
	}
	attempted := m.attempted
	m.mu.Unlock()

	if attempted != nil {
		select {
		case attempted <- call:
		default:
		}
	}
	if fail {
		return errBrokerDown
	}
	return nil
}

func (m *MockBroker) Subscribe(topic string, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return mqtt.ErrNotConnected
	}
	m.handlers[topic] = handler
	return nil
}

func (m *MockBroker) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	m.connected = false
	return nil
}

func (m *MockBroker) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockBroker) HealthCheck(context.Context) error {
	if !m.IsConnected() {
		return mqtt.ErrNotConnected
	}
	return nil
}

func (m *MockBroker) SetConnectionHandlers(onConnect func(), onDisconnect func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = onConnect
	m.onDisconnect = onDisconnect
}

// deliver simulates an inbound broker message on a subscribed filter.
func (m *MockBroker) deliver(filter, topic string, payload []byte) error {
	m.mu.Lock()
	h := m.handlers[filter]
	m.mu.Unlock()
	if h == nil {
		return errors.New("mock broker: no handler for " + filter)
	}
	return h(topic, payload)
}

func (m *MockBroker) publishedCalls() []publishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishCall(nil), m.published...)
}

func (m *MockBroker) attemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attempts)
}

// sleepRecorder is a SleepFunc that records requested pauses and returns
// almost at once.
type sleepRecorder struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.pauses = append(s.pauses, d)
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Millisecond):
		return nil
	}
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.pauses...)
}

// lineSource is a LocalTransport yielding a fixed set of lines.
type lineSource struct {
	lines []string
	err   error
}

func (l *lineSource) Connect(context.Context) error { return nil }

func (l *lineSource) Read(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, line := range l.lines {
			if ctx.Err() != nil || !yield(line, nil) {
				return
			}
		}
		if l.err != nil {
			yield("", l.err)
		}
	}
}

func (l *lineSource) Write(context.Context, string, bool) error { return nil }
func (l *lineSource) Close() error                              { return nil }

// recordingSink is a LocalTransport that keeps written lines, or refuses
// every write when refuse is set.
type recordingSink struct {
	mu     sync.Mutex
	lines  []string
	refuse bool
}

func (r *recordingSink) Connect(context.Context) error { return nil }

func (r *recordingSink) Read(context.Context) iter.Seq2[string, error] {
	return func(func(string, error) bool) {}
}

func (r *recordingSink) Write(_ context.Context, message string, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refuse {
		return transport.ErrUnavailable
	}
	r.lines = append(r.lines, message)
	return nil
}

func (r *recordingSink) Close() error { return nil }

func (r *recordingSink) written() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// recordingJournal keeps recorded entries.
type recordingJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (j *recordingJournal) Record(_ context.Context, e journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *recordingJournal) recorded() []journal.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]journal.Entry(nil), j.entries...)
}

// stalledJournal blocks every Record until its context ends.
type stalledJournal struct {
	mu       sync.Mutex
	deadline bool
}

func (j *stalledJournal) Record(ctx context.Context, _ journal.Entry) error {
	_, ok := ctx.Deadline()
	j.mu.Lock()
	j.deadline = ok
	j.mu.Unlock()

	<-ctx.Done()
	return ctx.Err()
}

func (j *stalledJournal) hadDeadline() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.deadline
}

// recordingTelemetry keeps telemetry calls.
type recordingTelemetry struct {
	mu       sync.Mutex
	statuses []string
	outcomes []int
}

func (r *recordingTelemetry) WriteQueueStatus(_, queueStatus string, _ int, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, queueStatus)
}

func (r *recordingTelemetry) WritePublishOutcome(_ string, attempts int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, attempts)
}

// statusLog collects status reports in order.
type statusLog struct {
	mu      sync.Mutex
	reports []status.Report
}

func (s *statusLog) observe(r status.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
}

func (s *statusLog) queues() []status.QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]status.QueueStatus, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, r.Queue)
	}
	return out
}

func testLogger() (*logging.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return logging.NewWithWriter(&syncWriter{w: &buf}, config.LoggingConfig{Level: "debug", Format: "text"}, "test"), &buf
}

type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// newTestSession returns a connected Session over a MockBroker.
func newTestSession(ctx context.Context, t testing.TB, broker *MockBroker, inhibit bool) (*Session, *statusLog) {
	t.Helper()

	logger, _ := testLogger()
	reporter := status.NewReporter(logger, nil)
	log := &statusLog{}
	reporter.SetObserver(log.observe)

	sleeper := &sleepRecorder{}
	s := NewSession(broker, reporter, logger, SessionOptions{
		ConnectRetry:  10 * time.Second,
		ConnectSettle: 3 * time.Second,
		Inhibit:       inhibit,
		Sleep:         sleeper.sleep,
	})
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return s, log
}
