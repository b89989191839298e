package status

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/logging"
	"github.com/south-coast-science/scs-dev-sub000/internal/transport"
)

// ledWriteTimeout bounds one LED document write.
const ledWriteTimeout = 2 * time.Second

// Report is one status observation.
type Report struct {
	Client         ClientStatus
	QueueLength    int
	PublishSuccess bool
	Queue          QueueStatus
}

// ObserverFunc receives every status report, after the LED has been
// queued. It runs on the caller's goroutine and must not block.
type ObserverFunc func(Report)

// Reporter derives the QueueStatus and drives the optional LED sink.
//
// It is purely observational: SetStatus never blocks on the LED and LED
// failures are only logged (throttled).
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Reporter struct {
	logger   *logging.Logger
	led      transport.LocalTransport
	observer ObserverFunc

	mu      sync.Mutex
	last    Report
	lastLED Colours
	hasLED  bool

	ledCh     chan Colours
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	warnLED rate.Sometimes
}

// NewReporter creates a Reporter. led may be nil. When led is set a
// background writer is started; Close stops it.
func NewReporter(logger *logging.Logger, led transport.LocalTransport) *Reporter {
	if logger == nil {
		logger = logging.Default()
	}
	r := &Reporter{
		logger:  logger.With("component", "status"),
		led:     led,
		last:    Report{Client: Waiting, QueueLength: -1, Queue: QueueNone},
		ledCh:   make(chan Colours, 1),
		done:    make(chan struct{}),
		warnLED: rate.Sometimes{First: 1, Interval: time.Minute},
	}
	if led != nil {
		r.wg.Add(1)
		go r.ledWriter()
	}
	return r
}

// SetObserver registers a function called with every report.
// Must be called before the first SetStatus.
func (r *Reporter) SetObserver(fn ObserverFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = fn
}

// Print writes a diagnostic note at debug level, so it only appears in
// verbose mode. Timestamps come from the log handler.
func (r *Reporter) Print(note string, args ...any) {
	r.logger.Debug(note, args...)
}

// SetStatus records the engine state and updates the LED when the colour
// pair changes.
func (r *Reporter) SetStatus(client ClientStatus, queueLength int, publishSuccess bool) Report {
	report := Report{
		Client:         client,
		QueueLength:    queueLength,
		PublishSuccess: publishSuccess,
		Queue:          Derive(client, queueLength, publishSuccess),
	}

	r.mu.Lock()
	changed := report.Queue != r.last.Queue || report.Client != r.last.Client
	r.last = report
	colours := report.Queue.Colours()
	ledChanged := !r.hasLED || colours != r.lastLED
	r.lastLED, r.hasLED = colours, true
	observer := r.observer
	r.mu.Unlock()

	if changed {
		r.logger.Debug("status",
			"client", client.String(),
			"queue", report.Queue.String(),
			"queue_length", queueLength,
			"publish_success", publishSuccess,
		)
	}

	if ledChanged && r.led != nil {
		r.offerLED(colours)
	}

	if observer != nil {
		observer(report)
	}
	return report
}

// Status returns the last report.
func (r *Reporter) Status() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// offerLED replaces any pending LED state with colours. Only the latest
// state matters to the indicator.
func (r *Reporter) offerLED(colours Colours) {
	for {
		select {
		case r.ledCh <- colours:
			return
		default:
		}
		select {
		case <-r.ledCh:
		default:
		}
	}
}

func (r *Reporter) ledWriter() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			select {
			case colours := <-r.ledCh:
				r.writeLED(colours)
			default:
			}
			return
		case colours := <-r.ledCh:
			r.writeLED(colours)
		}
	}
}

func (r *Reporter) writeLED(colours Colours) {
	doc, err := json.Marshal(colours)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ledWriteTimeout)
	defer cancel()

	if err := r.led.Write(ctx, string(doc), false); err != nil {
		r.warnLED.Do(func() {
			r.logger.Warn("LED sink unavailable", "error", err)
		})
	}
}

// Close flushes the latest pending LED state and stops the writer.
func (r *Reporter) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}
