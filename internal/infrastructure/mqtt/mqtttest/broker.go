// Package mqtttest runs an in-process MQTT broker for tests.
package mqtttest

import (
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/config"
)

// Message is a publish observed by the broker's inline client.
type Message struct {
	Topic   string
	Payload []byte
}

// Broker is a running in-process broker listening on 127.0.0.1.
type Broker struct {
	Server *mochi.Server
	Host   string
	Port   int

	mu    sync.Mutex
	subID int
}

// Start launches a broker that accepts any client. It is closed when the
// test ends.
func Start(t testing.TB) *Broker {
	t.Helper()

	port := freePort(t)
	server := mochi.New(&mochi.Options{
		InlineClient: true,
	})
	server.Log = slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("mqtttest: add auth hook: %v", err)
	}

	tcp := listeners.NewTCP(listeners.Config{
		ID:      "t1",
		Address: net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
	})
	if err := server.AddListener(tcp); err != nil {
		t.Fatalf("mqtttest: add listener: %v", err)
	}

	if err := server.Serve(); err != nil {
		t.Fatalf("mqtttest: serve: %v", err)
	}
	t.Cleanup(func() {
		_ = server.Close()
	})

	return &Broker{Server: server, Host: "127.0.0.1", Port: port}
}

// Credentials returns a plain TCP credentials document for the broker.
// protocol is config.Protocol311 or config.Protocol5.
func (b *Broker) Credentials(protocol string) *config.Credentials {
	return &config.Credentials{
		Backend:  config.BackendOpenSensors,
		Protocol: protocol,
		Endpoint: b.Host,
		Port:     b.Port,
		Username: "test",
		Password: "test",
	}
}

// Publish injects a message as if sent by another client.
func (b *Broker) Publish(topic string, payload []byte) error {
	return b.Server.Publish(topic, payload, false, 1)
}

// Subscribe returns a channel receiving every message published on filter.
func (b *Broker) Subscribe(t testing.TB, filter string) <-chan Message {
	t.Helper()

	b.mu.Lock()
	b.subID++
	id := b.subID
	b.mu.Unlock()

	ch := make(chan Message, 64)
	err := b.Server.Subscribe(filter, id, func(_ *mochi.Client, _ packets.Subscription, pk packets.Packet) {
		payload := append([]byte(nil), pk.Payload...)
		select {
		case ch <- Message{Topic: pk.TopicName, Payload: payload}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("mqtttest: subscribe %s: %v", filter, err)
	}
	return ch
}

// Receive waits for one message on ch.
func Receive(t testing.TB, ch <-chan Message, timeout time.Duration) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("mqtttest: no message within %v", timeout)
	}
	return Message{}
}

func freePort(t testing.TB) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("mqtttest: find free port: %v", err)
	}
	defer l.Close() //nolint:errcheck // only used to pick a free port
	return l.Addr().(*net.TCPAddr).Port
}
