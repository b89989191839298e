package status

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/config"
	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/logging"
	"github.com/south-coast-science/scs-dev-sub000/internal/transport"
)

// mockLED records LED documents written to it.
type mockLED struct {
	mu      sync.Mutex
	written []string
	fail    bool
}

func (m *mockLED) Connect(context.Context) error { return nil }

func (m *mockLED) Read(context.Context) iter.Seq2[string, error] {
	return func(func(string, error) bool) {}
}

func (m *mockLED) Write(_ context.Context, message string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return transport.ErrUnavailable
	}
	m.written = append(m.written, message)
	return nil
}

func (m *mockLED) Close() error { return nil }

func (m *mockLED) messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.written...)
}

func quietLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Output: "discard"}, "test")
}

// =============================================================================
// Table Tests
// =============================================================================

func TestQueueStatus_Colours(t *testing.T) {
	tests := []struct {
		status QueueStatus
		want   Colours
	}{
		{QueueNone, Colours{Off, Red}},
		{QueueInhibited, Colours{Off, Green}},
		{QueueDisconnected, Colours{Off, Amber}},
		{QueuePublishing, Colours{Green, Green}},
		{QueueQueuing, Colours{Red, Amber}},
		{QueueClearing, Colours{Green, Amber}},
	}

	if len(tests) != len(QueueStatuses()) {
		t.Fatalf("table covers %d statuses, want %d", len(tests), len(QueueStatuses()))
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			if got := tt.status.Colours(); got != tt.want {
				t.Errorf("Colours() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name           string
		client         ClientStatus
		queueLength    int
		publishSuccess bool
		want           QueueStatus
	}{
		{"no report yet", Connected, -1, true, QueueNone},
		{"inhibited", Inhibited, 0, true, QueueInhibited},
		{"waiting", Waiting, 0, true, QueueDisconnected},
		{"connecting", Connecting, 1, false, QueueDisconnected},
		{"publish failed", Connected, 1, false, QueueQueuing},
		{"idle", Connected, 0, true, QueuePublishing},
		{"one in flight", Connected, 1, true, QueuePublishing},
		{"backlog clearing", Connected, 2, true, QueueClearing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Derive(tt.client, tt.queueLength, tt.publishSuccess)
			if got != tt.want {
				t.Errorf("Derive(%v, %d, %v) = %v, want %v", tt.client, tt.queueLength, tt.publishSuccess, got, tt.want)
			}
		})
	}
}

func TestStatus_Strings(t *testing.T) {
	if Connected.String() != "CONNECTED" {
		t.Errorf("Connected.String() = %q", Connected.String())
	}
	if QueueClearing.String() != "CLEARING" {
		t.Errorf("QueueClearing.String() = %q", QueueClearing.String())
	}
	if ClientStatus(99).String() != "ClientStatus(99)" {
		t.Errorf("ClientStatus(99).String() = %q", ClientStatus(99).String())
	}
}

// =============================================================================
// Reporter Tests
// =============================================================================

func TestReporter_InitialStatus(t *testing.T) {
	r := NewReporter(quietLogger(), nil)
	defer r.Close()

	got := r.Status()
	if got.Queue != QueueNone || got.Client != Waiting {
		t.Errorf("Status() = %+v, want NONE/WAITING", got)
	}
}

func TestReporter_SetStatusWritesLED(t *testing.T) {
	led := &mockLED{}
	r := NewReporter(quietLogger(), led)

	report := r.SetStatus(Connected, 0, true)
	if report.Queue != QueuePublishing {
		t.Errorf("SetStatus() queue = %v, want PUBLISHING", report.Queue)
	}

	r.Close()

	msgs := led.messages()
	if len(msgs) != 1 {
		t.Fatalf("LED writes = %d, want 1: %q", len(msgs), msgs)
	}
	if want := `{"colour0":"G","colour1":"G"}`; msgs[0] != want {
		t.Errorf("LED document = %s, want %s", msgs[0], want)
	}
}

func TestReporter_LEDOnlyOnChange(t *testing.T) {
	led := &mockLED{}
	r := NewReporter(quietLogger(), led)

	r.SetStatus(Connected, 0, true)
	waitForWrites(t, led, 1)

	// Same colour pair: PUBLISHING with a different queue length.
	r.SetStatus(Connected, 1, true)
	r.SetStatus(Connected, 0, true)

	r.SetStatus(Connected, 1, false)
	waitForWrites(t, led, 2)
	r.Close()

	msgs := led.messages()
	if len(msgs) != 2 {
		t.Fatalf("LED writes = %d, want 2: %q", len(msgs), msgs)
	}
	if want := `{"colour0":"R","colour1":"A"}`; msgs[1] != want {
		t.Errorf("second LED document = %s, want %s", msgs[1], want)
	}
}

func TestReporter_LEDFailureIsSwallowed(t *testing.T) {
	led := &mockLED{fail: true}
	r := NewReporter(quietLogger(), led)

	for i := 0; i < 10; i++ {
		r.SetStatus(Connected, i%3, i%2 == 0)
	}
	r.Close()

	if got := r.Status(); got.QueueLength != 0 || got.PublishSuccess {
		t.Errorf("Status() = %+v, want last report kept", got)
	}
}

func TestReporter_SetStatusDoesNotBlock(t *testing.T) {
	r := NewReporter(quietLogger(), &blockingLED{release: make(chan struct{})})
	defer func() {
		close(r.led.(*blockingLED).release)
		r.Close()
	}()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			r.SetStatus(ClientStatus(i%4), i%3, i%2 == 0)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SetStatus blocked on a stuck LED sink")
	}
}

func TestReporter_Observer(t *testing.T) {
	r := NewReporter(quietLogger(), nil)
	defer r.Close()

	var got []Report
	r.SetObserver(func(rep Report) { got = append(got, rep) })

	r.SetStatus(Connecting, 0, false)
	r.SetStatus(Connected, 3, true)

	if len(got) != 2 {
		t.Fatalf("observer calls = %d, want 2", len(got))
	}
	if got[0].Queue != QueueDisconnected || got[1].Queue != QueueClearing {
		t.Errorf("observed queues = %v, %v, want DISCONNECTED, CLEARING", got[0].Queue, got[1].Queue)
	}
}

func TestReporter_CloseIdempotent(t *testing.T) {
	r := NewReporter(quietLogger(), &mockLED{})
	r.Close()
	r.Close()
}

// blockingLED never completes a write until released.
type blockingLED struct {
	mockLED
	release chan struct{}
}

func (b *blockingLED) Write(ctx context.Context, _ string, _ bool) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return errors.New("blocked")
	}
}

func waitForWrites(t *testing.T, led *mockLED, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(led.messages()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d LED writes, got %d", n, len(led.messages()))
}
