// Package status derives the client's queue status and reports it.
//
// The publish engine reports (ClientStatus, queue length, last publish
// outcome) after every transition. Derive maps that to one of six
// QueueStatus values, each with a fixed two-lamp colour pair:
//
//	NONE          0 R
//	INHIBITED     0 G
//	DISCONNECTED  0 A
//	PUBLISHING    G G
//	QUEUING       R A
//	CLEARING      G A
//
// When an LED sink is configured, the Reporter writes
// {"colour0": "G", "colour1": "A"} documents to it whenever the pair
// changes. LED writes happen on a background goroutine and never block
// the caller; failures are logged at most once a minute.
package status
