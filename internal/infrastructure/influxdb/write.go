package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementStatus  = "mqtt_client_status"
	MeasurementPublish = "mqtt_publish"
)

// WriteQueueStatus records a client status transition.
//
// Parameters:
//   - clientID: MQTT client id of this process
//   - queueStatus: derived queue status name (e.g. "QUEUING")
//   - queueLength: envelopes read but not yet published
//   - publishSuccess: outcome of the most recent publish attempt
func (c *Client) WriteQueueStatus(clientID, queueStatus string, queueLength int, publishSuccess bool) {
	c.WritePoint(MeasurementStatus,
		map[string]string{
			"client_id":    clientID,
			"queue_status": queueStatus,
		},
		map[string]any{
			"queue_length":    queueLength,
			"publish_success": publishSuccess,
		})
}

// WritePublishOutcome records one envelope delivered to the broker.
//
// Parameters:
//   - topic: broker topic the envelope was published to
//   - attempts: publish attempts taken, 1 on first-attempt success
//   - latency: time from first attempt to acknowledgement
func (c *Client) WritePublishOutcome(topic string, attempts int, latency time.Duration) {
	c.WritePoint(MeasurementPublish,
		map[string]string{
			"topic": topic,
		},
		map[string]any{
			"attempts":   attempts,
			"latency_ms": latency.Milliseconds(),
		})
}

// WritePoint writes a point stamped with the current time. Dropped when
// the client is closed.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
