package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/south-coast-science/scs-dev-sub000/internal/infrastructure/config"
	"github.com/south-coast-science/scs-dev-sub000/internal/journal"
	"github.com/south-coast-science/scs-dev-sub000/internal/topic"
)

// writeSetup writes a config file and its three documents into a temp
// directory and returns the config path. extra is appended to the config.
func writeSetup(t *testing.T, port int, extra string) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"config.yaml": `
mqtt:
  connect_retry: 1
  connect_settle: 0
  connect_timeout: 2
  retry_jitter_min: 0.01
  retry_jitter_max: 0.02
documents:
  credentials: credentials.yaml
  identity: identity.yaml
  project: project.yaml
logging:
  level: error
` + extra,
		"credentials.yaml": fmt.Sprintf(`
backend: opensensors
endpoint: 127.0.0.1
port: %d
username: test
password: test
`, port),
		"identity.yaml": `
vendor: south-coast-science
model: praxis
serial: "001"
tag: scs-test-001
`,
		"project.yaml": `
location_path: south-coast-science/dev/loc/1
device_path: south-coast-science/dev/device
`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return filepath.Join(dir, "config.yaml")
}

// ============================================================================
// Argument Tests
// ============================================================================

func TestParseArgs_Valid(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantSubs []subscriptionArg
		wantPub  string
	}{
		{
			name: "publish only",
			args: []string{},
		},
		{
			name:     "topics to stdout",
			args:     []string{"a/b", "c/#"},
			wantSubs: []subscriptionArg{{Topic: "a/b"}, {Topic: "c/#"}},
		},
		{
			name:     "topic pairs to sockets",
			args:     []string{"-s", "a/b", "/tmp/a.uds", "c/d", "/tmp/c.uds"},
			wantSubs: []subscriptionArg{{Topic: "a/b", Sink: "/tmp/a.uds"}, {Topic: "c/d", Sink: "/tmp/c.uds"}},
		},
		{
			name:     "channel to stdout",
			args:     []string{"-c", "X"},
			wantSubs: []subscriptionArg{{Channel: topic.Control}},
		},
		{
			name:     "channel to socket",
			args:     []string{"-s", "-c", "x", "/tmp/control.uds"},
			wantSubs: []subscriptionArg{{Channel: topic.Control, Sink: "/tmp/control.uds"}},
		},
		{
			name:     "echo with subscription",
			args:     []string{"-e", "a/b"},
			wantSubs: []subscriptionArg{{Topic: "a/b"}},
		},
		{
			name:    "raw publish topic",
			args:    []string{"--pub-topic", "orgs/x/loc/1/gases"},
			wantPub: "orgs/x/loc/1/gases",
		},
		{
			name:     "all switches",
			args:     []string{"-p", "/tmp/pub.uds", "--pub-channel", "C", "-l", "/tmp/led.uds", "-i", "-v", "a/b"},
			wantSubs: []subscriptionArg{{Topic: "a/b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseArgs(tt.args, &bytes.Buffer{})
			if err != nil {
				t.Fatalf("parseArgs(%v) error = %v", tt.args, err)
			}

			subs := opts.subscriptions()
			if len(subs) != len(tt.wantSubs) {
				t.Fatalf("subscriptions() = %+v, want %+v", subs, tt.wantSubs)
			}
			for i := range subs {
				if subs[i] != tt.wantSubs[i] {
					t.Errorf("subscriptions()[%d] = %+v, want %+v", i, subs[i], tt.wantSubs[i])
				}
			}

			if _, explicit := opts.publishTarget(); explicit != tt.wantPub {
				t.Errorf("publishTarget() topic = %q, want %q", explicit, tt.wantPub)
			}
		})
	}
}

func TestParseArgs_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"pub channel and pub topic", []string{"--pub-channel", "C", "--pub-topic", "a/b"}},
		{"channel with topics", []string{"-c", "X", "a/b"}},
		{"channel sub without socket", []string{"-s", "-c", "X"}},
		{"channel sub with two sockets", []string{"-s", "-c", "X", "/tmp/a", "/tmp/b"}},
		{"sub with odd pairs", []string{"-s", "a/b", "/tmp/a", "c/d"}},
		{"sub with nothing", []string{"-s"}},
		{"echo without subscription", []string{"-e"}},
		{"wildcard pub topic", []string{"--pub-topic", "a/+/b"}},
		{"bad filter", []string{"a/#/b"}},
		{"unknown flag", []string{"--frobnicate"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseArgs(tt.args, &bytes.Buffer{})
			var usage *usageError
			if !errors.As(err, &usage) {
				t.Fatalf("parseArgs(%v) error = %v, want *usageError", tt.args, err)
			}
			if code := exitCode(err, &bytes.Buffer{}); code != 2 {
				t.Errorf("exitCode() = %d, want 2", code)
			}
		})
	}
}

func TestParseArgs_UnknownChannel(t *testing.T) {
	for _, args := range [][]string{{"-c", "Q"}, {"--pub-channel", "Q"}} {
		_, err := parseArgs(args, &bytes.Buffer{})
		if !errors.Is(err, topic.ErrUnknownChannel) {
			t.Errorf("parseArgs(%v) error = %v, want ErrUnknownChannel", args, err)
		}
		if code := exitCode(err, &bytes.Buffer{}); code != 1 {
			t.Errorf("exitCode() = %d, want 1", code)
		}
	}
}

func TestParseArgs_Help(t *testing.T) {
	var out bytes.Buffer
	_, err := parseArgs([]string{"--help"}, &out)
	if !errors.Is(err, errHelp) {
		t.Fatalf("parseArgs(--help) error = %v, want errHelp", err)
	}
	if !strings.Contains(out.String(), "--pub-channel") {
		t.Errorf("help output missing flags: %s", out.String())
	}
	if code := exitCode(err, &bytes.Buffer{}); code != 0 {
		t.Errorf("exitCode() = %d, want 0", code)
	}
}

// ============================================================================
// Exit Tests
// ============================================================================

func TestExitCode_Diagnostic(t *testing.T) {
	var stderr bytes.Buffer
	err := fmt.Errorf("loading configuration: %w", os.ErrNotExist)

	if code := exitCode(err, &stderr); code != 1 {
		t.Fatalf("exitCode() = %d, want 1", code)
	}

	var diag diagnostic
	if jErr := json.Unmarshal(stderr.Bytes(), &diag); jErr != nil {
		t.Fatalf("stderr is not a JSON document: %q", stderr.String())
	}
	if diag.Error != err.Error() {
		t.Errorf("diagnostic error = %q, want %q", diag.Error, err.Error())
	}
	if diag.Type != "errors.errorString" {
		t.Errorf("diagnostic type = %q, want %q", diag.Type, "errors.errorString")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("SCS_CONFIG", "")
	if got := getConfigPath(""); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("SCS_CONFIG", "/etc/scs/config.yaml")
	if got := getConfigPath(""); got != "/etc/scs/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env value", got)
	}
	if got := getConfigPath("/opt/config.yaml"); got != "/opt/config.yaml" {
		t.Errorf("getConfigPath(flag) = %q, want flag value", got)
	}
}

// ============================================================================
// Journal Tests
// ============================================================================

func TestLastPublication(t *testing.T) {
	ctx := context.Background()
	cfg := config.JournalConfig{
		Enabled:     true,
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		BusyTimeout: 5,
	}

	previous, err := journal.Open(ctx, cfg, "run-previous")
	if err != nil {
		t.Fatalf("journal.Open() error = %v", err)
	}

	last, err := lastPublication(ctx, previous)
	if err != nil {
		t.Fatalf("lastPublication() on empty journal error = %v", err)
	}
	if last != nil {
		t.Fatalf("lastPublication() on empty journal = %+v, want nil", last)
	}

	base := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	for _, e := range []journal.Entry{
		{Direction: journal.Publish, Topic: "scs/loc/1/climate", DeliveredAt: base},
		{Direction: journal.Publish, Topic: "scs/loc/1/gases", Attempts: 2, DeliveredAt: base.Add(time.Second)},
		{Direction: journal.Deliver, Topic: "scs/device/x/control", DeliveredAt: base.Add(2 * time.Second)},
	} {
		if err := previous.Record(ctx, e); err != nil {
			t.Fatalf("Record(%s) error = %v", e.Topic, err)
		}
	}
	if err := previous.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	current, err := journal.Open(ctx, cfg, "run-current")
	if err != nil {
		t.Fatalf("journal.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = current.Close() })

	last, err = lastPublication(ctx, current)
	if err != nil {
		t.Fatalf("lastPublication() error = %v", err)
	}
	if last == nil {
		t.Fatal("lastPublication() = nil, want the previous run's entry")
	}
	if last.Topic != "scs/loc/1/gases" || last.RunID != "run-previous" || last.Attempts != 2 {
		t.Errorf("lastPublication() = %+v, want scs/loc/1/gases from run-previous", last)
	}
}

// ============================================================================
// Run Tests
// ============================================================================

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("SCS_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, nil, stdio{in: strings.NewReader(""), out: &bytes.Buffer{}, err: &bytes.Buffer{}})
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("run() error = %v, want os.ErrNotExist", err)
	}
}

// TestRun_MissingDocument verifies a missing document is fatal before any
// network activity.
func TestRun_MissingDocument(t *testing.T) {
	configPath := writeSetup(t, 1, "")
	if err := os.Remove(filepath.Join(filepath.Dir(configPath), "identity.yaml")); err != nil {
		t.Fatal(err)
	}

	err := run(context.Background(), []string{"--config", configPath},
		stdio{in: strings.NewReader(""), out: &bytes.Buffer{}, err: &bytes.Buffer{}})
	if err == nil || !strings.Contains(err.Error(), "loading documents") {
		t.Fatalf("run() error = %v, want loading documents failure", err)
	}
}

// TestRun_MissingProjectPath verifies an unresolvable channel is fatal.
func TestRun_MissingProjectPath(t *testing.T) {
	configPath := writeSetup(t, 1, "")
	project := filepath.Join(filepath.Dir(configPath), "project.yaml")
	if err := os.WriteFile(project, []byte("channels: {}\n"), 0600); err != nil {
		t.Fatal(err)
	}

	err := run(context.Background(), []string{"--config", configPath, "-c", "C"},
		stdio{in: strings.NewReader(""), out: &bytes.Buffer{}, err: &bytes.Buffer{}})
	if !errors.Is(err, topic.ErrMissingProjectPath) {
		t.Fatalf("run() error = %v, want ErrMissingProjectPath", err)
	}
}

// TestRun_InterruptedWhileConnecting verifies a signal during the connect
// loop is a clean exit.
func TestRun_InterruptedWhileConnecting(t *testing.T) {
	// Nothing listens on port 1, so every attempt is refused.
	configPath := writeSetup(t, 1, "")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, []string{"--config", configPath},
			stdio{in: strings.NewReader(""), out: &bytes.Buffer{}, err: &bytes.Buffer{}})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}
}
