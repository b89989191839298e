package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is used when the config leaves the connect timeout unset.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is used when the config leaves the publish timeout unset.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is used when the config leaves the keepalive unset.
	defaultKeepAlive = 30 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// awsALPN lets AWS IoT accept MQTT with client certificates on port 443.
	awsALPN = "x-amzn-mqtt-ca"
)

// Options carries everything needed to open one broker session.
type Options struct {
	Credentials config.Credentials
	ClientID    string
	QoS         byte

	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	KeepAlive      time.Duration
}

// NewOptions builds session options from the engine config, the
// credentials document and the resolved client id.
func NewOptions(cfg config.MQTTConfig, creds *config.Credentials, clientID string) Options {
	opts := Options{
		ClientID:       clientID,
		QoS:            byte(cfg.QoS),
		ConnectTimeout: cfg.GetConnectTimeout(),
		PublishTimeout: cfg.GetPublishTimeout(),
		KeepAlive:      cfg.GetKeepAlive(),
	}
	if creds != nil {
		opts.Credentials = *creds
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = defaultKeepAlive
	}
	return opts
}

// buildClientOptions creates paho MQTT v3.1.1 options.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on the credentials TLS setting)
//   - Client ID for identification
//   - Username/password (OpenSensors) or client certificate (AWS IoT)
//   - Auto-reconnect after an established session drops
//   - In-order handler delivery
//   - Clean session mode
//
// The initial connect is a single attempt; retrying it is the caller's job.
func buildClientOptions(o Options) (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(o.Credentials.BrokerURL())
	opts.SetClientID(o.ClientID)

	if o.Credentials.Username != "" {
		opts.SetUsername(o.Credentials.Username)
		opts.SetPassword(o.Credentials.Password)
	}

	tlsConfig, err := buildTLSConfig(o.Credentials)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	// Clean session - start fresh on connect (no persistent session on broker)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetMaxReconnectInterval(time.Minute)

	// Handlers run one at a time in arrival order.
	opts.SetOrderMatters(true)

	opts.SetConnectTimeout(o.ConnectTimeout)
	opts.SetKeepAlive(o.KeepAlive)

	return opts, nil
}

// buildTLSConfig returns the TLS configuration for the credentials, or nil
// for a plain TCP session.
//
// AWS IoT authenticates with a client certificate; on port 443 it also
// needs the x-amzn-mqtt-ca ALPN protocol. A root CA file, when given,
// replaces the system pool.
func buildTLSConfig(creds config.Credentials) (*tls.Config, error) {
	if !creds.TLS {
		return nil, nil //nolint:nilnil // nil config means plain TCP
	}

	tlsConfig := &tls.Config{
		MinVersion: tlsMinVersion,
		ServerName: creds.Endpoint,
	}

	if creds.CertFile != "" || creds.KeyFile != "" {
		clientCert, err := tls.LoadX509KeyPair(creds.CertFile, creds.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: loading client certificate %s: %w", ErrConnectionFailed, creds.CertFile, err)
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}

	if creds.RootCAFile != "" {
		caPEM, err := os.ReadFile(creds.RootCAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading root CA %s: %w", ErrConnectionFailed, creds.RootCAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("%w: no certificates in root CA %s", ErrConnectionFailed, creds.RootCAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if creds.Backend == config.BackendAWS && creds.Port == 443 {
		tlsConfig.NextProtos = []string{awsALPN}
	}

	return tlsConfig, nil
}

// waitToken waits for a paho token to complete, the timeout to expire or
// ctx to be cancelled, whichever comes first.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// validateQoS checks a QoS level.
func validateQoS(qos byte) error {
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}
