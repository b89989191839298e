package mqttclient

import (
	"context"
	"time"

	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/mqtt"
	"github.com/south-coast-science/scs-dev-sub000/internal/journal"
)

// Broker is the broker-library surface the engines need. Connect makes a
// single attempt; Session adds the retry policy.
type Broker interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, handler mqtt.MessageHandler) error
	Disconnect() error
	IsConnected() bool
	HealthCheck(ctx context.Context) error
	SetConnectionHandlers(onConnect func(), onDisconnect func(err error))
}

var _ Broker = (*mqtt.Endpoint)(nil)

// Telemetry receives status transitions and publish outcomes.
// Implementations must not block.
type Telemetry interface {
	WriteQueueStatus(clientID, queueStatus string, queueLength int, publishSuccess bool)
	WritePublishOutcome(topic string, attempts int, latency time.Duration)
}

// Journal records completed deliveries.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// journalTimeout bounds one journal write. Records run on the publish loop
// and on the broker's delivery goroutine, neither of which may wait on a
// locked database.
const journalTimeout = time.Second

// record writes e to j, ignoring cancellation of ctx but giving up after
// journalTimeout.
func record(ctx context.Context, j Journal, e journal.Entry) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	return j.Record(rctx, e)
}

// SleepFunc waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// sleepCtx is the default SleepFunc.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
