package mqtt

import (
	"context"
	"fmt"
	"sync"

	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/config"
)

// Conn is an established broker session, either MQTT 3.1.1 (Client) or
// MQTT 5 (V5Client).
type Conn interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
	HealthCheck(ctx context.Context) error
	IsConnected() bool
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
	SetLogger(logger Logger)
	Close() error
}

// Compile-time interface checks.
var (
	_ Conn = (*Client)(nil)
	_ Conn = (*V5Client)(nil)
)

// Dial makes one connection attempt using the protocol named in the
// credentials.
func Dial(ctx context.Context, opts Options) (Conn, error) {
	switch opts.Credentials.Protocol {
	case config.Protocol311, "":
		return Connect(ctx, opts)
	case config.Protocol5:
		return ConnectV5(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, opts.Credentials.Protocol)
	}
}

// DialFunc opens a broker session. Tests replace Dial with a stub.
type DialFunc func(ctx context.Context, opts Options) (Conn, error)

// Endpoint is a reconnectable handle on one broker: each Connect call is
// a single attempt that replaces any previous session. Publishing and
// subscribing use the configured QoS and are never retained.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Endpoint struct {
	opts Options
	dial DialFunc

	mu   sync.RWMutex
	conn Conn

	logger       Logger
	onConnect    func()
	onDisconnect func(err error)
}

// NewEndpoint creates an Endpoint for the given options.
func NewEndpoint(opts Options) *Endpoint {
	return &Endpoint{opts: opts, dial: Dial}
}

// SetDialer replaces the dial function. Intended for tests.
func (e *Endpoint) SetDialer(dial DialFunc) {
	e.dial = dial
}

// SetLogger sets the logger handed to every session.
func (e *Endpoint) SetLogger(logger Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger = logger
}

// SetConnectionHandlers sets callbacks for session reconnects and drops.
// They are handed to every session opened by Connect.
func (e *Endpoint) SetConnectionHandlers(onConnect func(), onDisconnect func(err error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onConnect = onConnect
	e.onDisconnect = onDisconnect
}

// Options returns the session options.
func (e *Endpoint) Options() Options {
	return e.opts
}

// Connect makes one connection attempt. A previous session, if any, is
// closed first.
func (e *Endpoint) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn != nil {
		_ = e.conn.Close()
		e.conn = nil
	}

	conn, err := e.dial(ctx, e.opts)
	if err != nil {
		return err
	}

	if e.logger != nil {
		conn.SetLogger(e.logger)
	}
	conn.SetOnConnect(e.onConnect)
	conn.SetOnDisconnect(e.onDisconnect)
	e.conn = conn
	return nil
}

// Publish sends payload to topic at the configured QoS.
func (e *Endpoint) Publish(ctx context.Context, topic string, payload []byte) error {
	conn := e.current()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Publish(ctx, topic, payload, e.opts.QoS, false)
}

// Subscribe registers handler for topic at the configured QoS.
func (e *Endpoint) Subscribe(topic string, handler MessageHandler) error {
	conn := e.current()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Subscribe(topic, e.opts.QoS, handler)
}

// Disconnect closes the current session. Safe to call when never connected.
func (e *Endpoint) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	return err
}

// IsConnected reports whether a session is open and up.
func (e *Endpoint) IsConnected() bool {
	conn := e.current()
	return conn != nil && conn.IsConnected()
}

// HealthCheck reports ErrNotConnected when no session is up.
func (e *Endpoint) HealthCheck(ctx context.Context) error {
	conn := e.current()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.HealthCheck(ctx)
}

func (e *Endpoint) current() Conn {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.conn
}
