package mqttclient

import (
	"sync"

	"github.com/south-coast-science/scs-dev-sub000/internal/status"
)

// StatusTelemetry returns a status observer that writes a point to t each
// time the queue status changes.
func StatusTelemetry(t Telemetry, clientID string) status.ObserverFunc {
	var mu sync.Mutex
	last := status.QueueStatus(-1)

	return func(r status.Report) {
		mu.Lock()
		changed := r.Queue != last
		last = r.Queue
		mu.Unlock()

		if changed {
			t.WriteQueueStatus(clientID, r.Queue.String(), r.QueueLength, r.PublishSuccess)
		}
	}
}
