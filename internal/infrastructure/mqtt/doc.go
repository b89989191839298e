// Package mqtt provides broker connectivity for the sensor publisher and
// subscriber.
//
// Two protocol versions are supported behind one Conn interface:
//   - MQTT 3.1.1 via eclipse/paho.mqtt.golang (Client)
//   - MQTT 5 via eclipse/paho.golang autopaho (V5Client)
//
// The credentials document selects the version, the broker endpoint and
// how to authenticate: AWS IoT uses a client certificate over TLS,
// OpenSensors uses a username and password.
//
// # Connection Model
//
// Connect and ConnectV5 make exactly one attempt. Retrying the initial
// connection is the caller's concern (see mqttclient.Session). Once a
// session is up the library reconnects on its own and restores every
// subscription.
//
// Endpoint wraps a Conn so it can be reopened: each Endpoint.Connect closes
// the previous session before dialling again.
//
// # Delivery
//
//   - Publish blocks until the broker acknowledges, the publish timeout
//     expires or ctx is cancelled
//   - Messages are never retained
//   - Handlers run one at a time in arrival order; a panicking handler is
//     logged and does not stop delivery
//
// # Usage
//
//	opts := mqtt.NewOptions(cfg.MQTT, docs.Credentials, docs.ClientID())
//	endpoint := mqtt.NewEndpoint(opts)
//	if err := endpoint.Connect(ctx); err != nil {
//	    return err
//	}
//	defer endpoint.Disconnect()
//
//	err := endpoint.Subscribe("south-coast-science-dev/+/device/+/control",
//	    func(topic string, payload []byte) error {
//	        return sink.Write(ctx, string(payload), false)
//	    })
package mqtt
