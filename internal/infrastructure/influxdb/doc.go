// Package influxdb records MQTT client telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Two measurements
// are written:
//   - mqtt_client_status: one point per queue status transition
//     (tags client_id, queue_status; fields queue_length, publish_success)
//   - mqtt_publish: one point per envelope delivered to the broker
//     (tag topic; fields attempts, latency_ms)
//
// Telemetry is optional and disabled by default (influxdb.enabled).
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WritePublishOutcome("south-coast-science-dev/loc/1/climate", 1, 40*time.Millisecond)
//
// # Error Handling
//
// Writes are non-blocking and batched (batch_size, flush_interval). Batch
// failures are delivered to the SetOnError callback, never to the caller.
package influxdb
