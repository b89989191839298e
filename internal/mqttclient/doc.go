// Package mqttclient is the publish/subscribe engine shared by the AWS IoT
// and OpenSensors.io client commands.
//
// A Session owns the single broker connection and the engine status. Two
// engines run on top of it:
//
//   - Publisher reads lines from a local transport and publishes each one,
//     in order, retrying with jittered backoff until the broker accepts it.
//     A stuck publish blocks everything behind it, so an upstream producer
//     that outruns the broker is held up by its own pipe rather than losing
//     data.
//   - FanOut writes every inbound broker message, as a {topic, payload}
//     envelope, to the local sink bound to its subscription. A sink with no
//     listener is logged and skipped; it never affects other subscriptions
//     or the connection.
//
// The status reporter observes every Session state change and drives the
// optional LED indicator.
package mqttclient
