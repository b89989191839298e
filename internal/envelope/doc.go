// Package envelope defines the Publication document and its line codec.
//
// The same {"topic": ..., "payload": ...} shape is used on both paths:
// lines read from the publish source and lines written to subscription
// sinks. Payloads are opaque JSON.
//
// On the publish side a Decode failure means the line is skipped. On the
// subscribe side it is reported and the broker message is dropped.
package envelope
