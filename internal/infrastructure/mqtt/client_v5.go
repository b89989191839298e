package mqtt

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// V5Client wraps paho.golang's autopaho connection manager (MQTT 5).
//
// It offers the same surface as Client so the engine does not care which
// protocol version the broker speaks.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are automatically restored on reconnection.
type V5Client struct {
	cm     *autopaho.ConnectionManager
	opts   Options
	cancel context.CancelFunc

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	// established is set by the first OnConnectionUp, which belongs to
	// ConnectV5 and is not reported as a reconnect.
	established atomic.Bool

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// ConnectV5 makes one attempt to connect to the broker over MQTT 5.
//
// autopaho keeps reconnecting in the background once the session is up;
// if the first attempt does not succeed within the connect timeout the
// manager is shut down and ErrConnectionFailed is returned.
func ConnectV5(ctx context.Context, opts Options) (*V5Client, error) {
	brokerURL, err := url.Parse(opts.Credentials.BrokerURL())
	if err != nil {
		return nil, fmt.Errorf("%w: parse broker URL: %w", ErrConnectionFailed, err)
	}

	tlsConfig, err := buildTLSConfig(opts.Credentials)
	if err != nil {
		return nil, err
	}

	c := &V5Client{
		opts:          opts,
		subscriptions: make(map[string]subscription),
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		TlsCfg:                        tlsConfig,
		KeepAlive:                     uint16(opts.KeepAlive / time.Second),
		CleanStartOnInitialConnection: true,
		ConnectTimeout:                opts.ConnectTimeout,
		ConnectUsername:               opts.Credentials.Username,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			c.handleConnect(cm)
		},
		OnConnectError: func(err error) {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT v5 connection error", "error", err)
			}
		},
		ClientConfig: paho.ClientConfig{
			ClientID: opts.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					c.dispatch(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				c.handleDisconnect(err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				c.handleDisconnect(fmt.Errorf("server disconnect: reason code %d", d.ReasonCode))
			},
		},
	}
	if opts.Credentials.Password != "" {
		pahoCfg.ConnectPassword = []byte(opts.Credentials.Password)
	}

	// The manager lives until Close, independent of the caller's ctx.
	cmCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	cm, err := autopaho.NewConnection(cmCtx, pahoCfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.cm = cm

	awaitCtx, awaitCancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer awaitCancel()
	if err := cm.AwaitConnection(awaitCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// handleConnect is called on every (re)connect. Only reconnects reach
// the onConnect callback.
func (c *V5Client) handleConnect(cm *autopaho.ConnectionManager) {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	if !c.established.Swap(true) {
		return
	}

	c.subMu.RLock()
	subs := make([]paho.SubscribeOptions, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, paho.SubscribeOptions{Topic: sub.topic, QoS: sub.qos})
	}
	c.subMu.RUnlock()

	if len(subs) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.PublishTimeout)
		// Re-subscribe (ignore errors during reconnection)
		_, _ = cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs})
		cancel()
	}

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect is called when the session drops.
func (c *V5Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// dispatch routes an inbound message to every matching subscription.
func (c *V5Client) dispatch(topic string, payload []byte) {
	c.subMu.RLock()
	handlers := make([]MessageHandler, 0, 1)
	for _, sub := range c.subscriptions {
		if MatchTopic(sub.topic, topic) {
			handlers = append(handlers, sub.handler)
		}
	}
	c.subMu.RUnlock()

	logger := c.getLogger()
	for _, h := range handlers {
		invokeHandler(logger, h, topic, payload)
	}
}

// Publish sends a message to the specified MQTT topic. See Client.Publish.
func (c *V5Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	pubCtx, cancel := context.WithTimeout(ctx, c.opts.PublishTimeout)
	defer cancel()

	if _, err := c.cm.Publish(pubCtx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retained,
	}); err != nil {
		if pubCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("%w: %w after %v", ErrPublishFailed, ErrTimeout, c.opts.PublishTimeout)
		}
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// Subscribe registers a handler for messages on the specified topic.
// See Client.Subscribe.
func (c *V5Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validateSubscribe(topic, qos, handler); err != nil {
		return err
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.PublishTimeout)
	defer cancel()

	if _, err := c.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: qos}},
	}); err != nil {
		c.subMu.Lock()
		delete(c.subscriptions, topic)
		c.subMu.Unlock()
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// Close disconnects and stops the connection manager.
func (c *V5Client) Close() error {
	if c.cm == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(defaultDisconnectQuiesce)*time.Millisecond)
	defer cancel()

	err := c.cm.Disconnect(ctx)
	c.cancel()

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("mqtt v5 disconnect: %w", err)
	}
	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (c *V5Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
func (c *V5Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// SetOnConnect sets a callback to be invoked when the session is
// re-established after a drop. The initial connect is not reported.
func (c *V5Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback to be invoked when the session drops.
func (c *V5Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for error and panic logging.
func (c *V5Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *V5Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
