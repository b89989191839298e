// mqttclient - MQTT publish/subscribe client for environmental sensors
//
// mqttclient holds one long-lived broker session per host. It publishes
// JSON documents read from stdin or a Unix domain socket, retrying each
// one until the broker accepts it, and fans inbound broker messages out
// to stdout or per-subscription Unix domain sockets. Connection and queue
// state are reported on an optional LED socket.
//
// Usage:
//
//	mqttclient [--config PATH] [-p UDS_PUB] [--pub-channel CODE | --pub-topic TOPIC]
//	           [-s] { -c CODE [UDS_SUB] | [TOPIC [UDS_SUB]]... }
//	           [-e] [-l LED_UDS] [-i] [-v]
//
// Exit status is 0 on normal termination (including SIGINT/SIGTERM), 2 for
// an invalid argument combination and 1 for any other failure, reported
// as a JSON document on stderr.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/config"
	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/influxdb"
	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/logging"
	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/mqtt"
	"github.com/south-coast-science/scs-dev-sub000/internal/journal"
	"github.com/south-coast-science/scs-dev-sub000/internal/mqttclient"
	"github.com/south-coast-science/scs-dev-sub000/internal/status"
	"github.com/south-coast-science/scs-dev-sub000/internal/topic"
	"github.com/south-coast-science/scs-dev-sub000/internal/transport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// defaultConfigPath is used when neither --config nor SCS_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

// Compile-time checks that the infrastructure clients satisfy the engine.
var (
	_ mqttclient.Telemetry = (*influxdb.Client)(nil)
	_ mqttclient.Journal   = (*journal.Store)(nil)
)

// errSourceClosed ends the run when the publish source reaches EOF and
// there is nothing subscribed to wait for.
var errSourceClosed = errors.New("publish source closed")

// stdio is the process's standard streams. Tests substitute buffers.
type stdio struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	streams := stdio{in: os.Stdin, out: os.Stdout, err: os.Stderr}
	code := exitCode(run(ctx, os.Args[1:], streams), streams.err)

	cancel()
	os.Exit(code)
}

// exitCode maps the result of run to a process exit status, reporting
// failures on w.
func exitCode(err error, w io.Writer) int {
	var usage *usageError
	switch {
	case err == nil, errors.Is(err, errHelp):
		return 0
	case errors.As(err, &usage):
		fmt.Fprintf(w, "mqttclient: %s\n", usage.msg)
		fmt.Fprintln(w, "run mqttclient --help for usage")
		return 2
	default:
		writeDiagnostic(w, err)
		return 1
	}
}

// diagnostic is the structured failure document written to stderr.
type diagnostic struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// writeDiagnostic renders err as a one-line JSON document. Type names the
// innermost wrapped error.
func writeDiagnostic(w io.Writer, err error) {
	root := err
	for {
		next := errors.Unwrap(root)
		if next == nil {
			break
		}
		root = next
	}

	data, mErr := json.Marshal(diagnostic{
		Error: err.Error(),
		Type:  strings.TrimPrefix(fmt.Sprintf("%T", root), "*"),
	})
	if mErr != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(w, string(data))
}

// run is the main application logic, separated for testability.
//
// It returns nil on a clean shutdown: a signal, or EOF on the publish
// source with no subscriptions.
func run(ctx context.Context, args []string, streams stdio) error {
	opts, err := parseArgs(args, streams.out)
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath(opts.Config))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	if opts.Inhibit {
		cfg.MQTT.InhibitPublishing = true
	}

	docs, err := cfg.LoadDocuments()
	if err != nil {
		return fmt.Errorf("loading documents: %w", err)
	}
	clientID := docs.ClientID()

	log := newLogger(cfg.Logging, streams.err).With("client_id", clientID)
	log.Info("mqttclient starting",
		"version", version,
		"commit", commit,
		"build_date", date,
		"backend", docs.Credentials.Backend,
		"protocol", docs.Credentials.Protocol,
	)

	// Resolve every topic before touching the network.
	pubTopic := ""
	if channel, explicit := opts.publishTarget(); channel != topic.None || explicit != "" {
		pubTopic, err = topic.Resolve(channel, explicit, docs.Identity, docs.Project)
		if err != nil {
			return fmt.Errorf("resolving publish topic: %w", err)
		}
	}
	subs, err := resolveSubscriptions(opts.subscriptions(), docs)
	if err != nil {
		return err
	}

	// Local transports
	stdout := transport.NewStdio(streams.in, streams.out)
	defer stdout.Close() //nolint:errcheck // stdio close cannot fail

	var source transport.LocalTransport = stdout
	if opts.Pub != "" {
		uds := transport.NewUDS(opts.Pub)
		if err := uds.Connect(ctx); err != nil {
			return fmt.Errorf("opening publish source: %w", err)
		}
		defer uds.Close() //nolint:errcheck // best effort on shutdown
		source = uds
	}

	var led transport.LocalTransport
	if opts.LED != "" {
		led = transport.NewUDS(opts.LED)
	}
	reporter := status.NewReporter(log, led)
	defer reporter.Close()

	// Connect to InfluxDB (optional)
	var telemetry mqttclient.Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		reporter.SetObserver(mqttclient.StatusTelemetry(influxClient, clientID))
		telemetry = influxClient
	} else {
		log.Debug("InfluxDB disabled")
	}

	// Open the delivery journal (optional)
	var store mqttclient.Journal
	if cfg.Journal.Enabled {
		j, err := journal.Open(ctx, cfg.Journal, journal.NewRunID())
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				log.Error("error closing journal", "error", closeErr)
			}
		}()
		log.Info("journal opened",
			"path", cfg.Journal.Path,
			"run_id", j.RunID(),
		)
		if opts.Verbose {
			if last, err := lastPublication(ctx, j); err != nil {
				log.Warn("reading journal", "error", err)
			} else if last != nil {
				log.Debug("previous publication",
					"run_id", last.RunID,
					"topic", last.Topic,
					"attempts", last.Attempts,
					"delivered_at", last.DeliveredAt,
				)
			}
		}
		store = j
	}

	// Broker session
	endpoint := mqtt.NewEndpoint(mqtt.NewOptions(cfg.MQTT, docs.Credentials, clientID))
	endpoint.SetLogger(log)

	session := mqttclient.NewSession(endpoint, reporter, log, mqttclient.SessionOptions{
		ConnectRetry:  cfg.MQTT.GetConnectRetry(),
		ConnectSettle: cfg.MQTT.GetConnectSettle(),
		Inhibit:       cfg.MQTT.InhibitPublishing,
	})
	defer func() {
		log.Info("disconnecting from broker")
		if err := session.Disconnect(); err != nil {
			log.Warn("broker disconnect failed", "error", err)
		}
	}()

	if err := session.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			log.Info("interrupted while connecting")
			return nil
		}
		return fmt.Errorf("connecting to broker: %w", err)
	}
	if err := session.HealthCheck(ctx); err == nil {
		reporter.Print("connected",
			"broker", docs.Credentials.BrokerURL(),
			"pub_topic", pubTopic,
			"subscriptions", len(subs),
			"inhibited", session.Inhibited(),
		)
	}

	var echo transport.LocalTransport
	if opts.Echo {
		echo = stdout
	}

	fanOut := mqttclient.NewFanOut(session, stdout, log, mqttclient.FanOutOptions{
		Echo:    opts.Echo,
		Journal: store,
	})
	if err := fanOut.Register(ctx, subs); err != nil {
		return fmt.Errorf("registering subscriptions: %w", err)
	}

	jitterMin, jitterMax := cfg.MQTT.GetRetryJitter()
	publisher := mqttclient.NewPublisher(session, source, log, mqttclient.PublisherOptions{
		Topic:     pubTopic,
		Echo:      echo,
		JitterMin: jitterMin,
		JitterMax: jitterMax,
		Telemetry: telemetry,
		Journal:   store,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := publisher.Run(gctx); err != nil {
			return err
		}
		if len(subs) == 0 {
			return errSourceClosed
		}
		log.Debug("publish source closed, serving subscriptions")
		<-gctx.Done()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", "queue_length", publisher.QueueLength())
		return nil
	})

	err = g.Wait()
	switch {
	case err == nil, errors.Is(err, errSourceClosed):
		return nil
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return nil
	default:
		return err
	}
}

// lastPublication returns the newest publication in the journal, or nil
// if there is none. Called before anything is published, it shows where
// the previous run stopped.
func lastPublication(ctx context.Context, j *journal.Store) (*journal.Entry, error) {
	recent, err := j.List(ctx, journal.Filter{Direction: journal.Publish, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return nil, nil
	}
	return &recent[0], nil
}

// resolveSubscriptions maps requested subscriptions to topics and sinks.
func resolveSubscriptions(args []subscriptionArg, docs *config.Documents) ([]mqttclient.Subscription, error) {
	subs := make([]mqttclient.Subscription, 0, len(args))
	for _, arg := range args {
		t, err := topic.Resolve(arg.Channel, arg.Topic, docs.Identity, docs.Project)
		if err != nil {
			return nil, fmt.Errorf("resolving subscription topic: %w", err)
		}
		if err := mqtt.ValidateFilter(t); err != nil {
			return nil, fmt.Errorf("subscription topic %q: %w", t, err)
		}

		sub := mqttclient.Subscription{Topic: t}
		if arg.Sink != "" {
			sub.Sink = transport.NewUDS(arg.Sink)
			sub.SinkName = arg.Sink
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// newLogger writes diagnostics to w unless the config discards them.
func newLogger(cfg config.LoggingConfig, w io.Writer) *logging.Logger {
	if strings.EqualFold(cfg.Output, "discard") {
		return logging.New(cfg, version)
	}
	return logging.NewWithWriter(w, cfg, version)
}

// getConfigPath returns the configuration file path.
//
// Priority:
//  1. --config flag
//  2. SCS_CONFIG environment variable
//  3. Default: configs/config.yaml
func getConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("SCS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
