package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Broker back-ends.
const (
	BackendAWS         = "aws"
	BackendOpenSensors = "opensensors"
)

// Broker protocol versions.
const (
	Protocol311 = "3.1.1"
	Protocol5   = "5"
)

// Credentials is the broker endpoint and auth material document.
type Credentials struct {
	Backend    string `yaml:"backend" json:"backend"`
	Protocol   string `yaml:"protocol" json:"protocol"`
	Endpoint   string `yaml:"endpoint" json:"endpoint"`
	Port       int    `yaml:"port" json:"port"`
	ClientID   string `yaml:"client_id" json:"client_id"`
	Username   string `yaml:"username" json:"username"`
	Password   string `yaml:"password" json:"password"`
	TLS        bool   `yaml:"tls" json:"tls"`
	CertFile   string `yaml:"cert_file" json:"cert_file"`
	KeyFile    string `yaml:"key_file" json:"key_file"`
	RootCAFile string `yaml:"root_ca_file" json:"root_ca_file"`
}

// Identity is the device identity document.
type Identity struct {
	Vendor string `yaml:"vendor" json:"vendor"`
	Model  string `yaml:"model" json:"model"`
	Serial string `yaml:"serial" json:"serial"`
	Tag    string `yaml:"tag" json:"tag"`
}

// Project is the channel-to-topic mapping document.
type Project struct {
	LocationPath string            `yaml:"location_path" json:"location_path"`
	DevicePath   string            `yaml:"device_path" json:"device_path"`
	Channels     map[string]string `yaml:"channels" json:"channels"`
}

// Documents bundles the three external documents loaded at startup.
type Documents struct {
	Credentials *Credentials
	Identity    *Identity
	Project     *Project
}

// LoadDocuments loads the credentials, identity and project documents named
// by the config. Any missing or invalid document is returned as an error;
// callers treat it as fatal.
func (c *Config) LoadDocuments() (*Documents, error) {
	creds, err := LoadCredentials(c.DocumentPath(c.Documents.Credentials))
	if err != nil {
		return nil, err
	}
	ident, err := LoadIdentity(c.DocumentPath(c.Documents.Identity))
	if err != nil {
		return nil, err
	}
	proj, err := LoadProject(c.DocumentPath(c.Documents.Project))
	if err != nil {
		return nil, err
	}
	return &Documents{Credentials: creds, Identity: ident, Project: proj}, nil
}

// LoadCredentials reads and validates a credentials document.
// SCS_MQTT_ENDPOINT, SCS_MQTT_USERNAME and SCS_MQTT_PASSWORD override the
// file values. Back-end dependent defaults are applied to port and TLS.
func LoadCredentials(path string) (*Credentials, error) {
	creds := &Credentials{}
	if err := readDocument(path, "credentials", creds); err != nil {
		return nil, err
	}

	if v := os.Getenv("SCS_MQTT_ENDPOINT"); v != "" {
		creds.Endpoint = v
	}
	if v := os.Getenv("SCS_MQTT_USERNAME"); v != "" {
		creds.Username = v
	}
	if v := os.Getenv("SCS_MQTT_PASSWORD"); v != "" {
		creds.Password = v
	}

	creds.applyDefaults()

	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("validating credentials document %s: %w", path, err)
	}
	return creds, nil
}

func (c *Credentials) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendAWS
	}
	if c.Protocol == "" {
		c.Protocol = Protocol311
	}
	if c.Backend == BackendAWS {
		c.TLS = true
	}
	if c.Port == 0 {
		if c.TLS {
			c.Port = 8883
		} else {
			c.Port = 1883
		}
	}
}

// Validate checks the credentials document for errors.
func (c *Credentials) Validate() error {
	var errs []string

	switch c.Backend {
	case BackendAWS:
		if c.CertFile == "" || c.KeyFile == "" {
			errs = append(errs, "cert_file and key_file are required for the aws backend")
		}
	case BackendOpenSensors:
		if c.Username == "" {
			errs = append(errs, "username is required for the opensensors backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("backend must be %q or %q", BackendAWS, BackendOpenSensors))
	}

	if c.Protocol != Protocol311 && c.Protocol != Protocol5 {
		errs = append(errs, fmt.Sprintf("protocol must be %q or %q", Protocol311, Protocol5))
	}
	if c.Endpoint == "" {
		errs = append(errs, "endpoint is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// BrokerURL returns the broker URL in the scheme://host:port form used by
// the MQTT libraries.
func (c *Credentials) BrokerURL() string {
	scheme := "tcp"
	if c.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Endpoint, c.Port)
}

// LoadIdentity reads and validates a device identity document.
// SCS_DEVICE_TAG overrides the tag.
func LoadIdentity(path string) (*Identity, error) {
	ident := &Identity{}
	if err := readDocument(path, "identity", ident); err != nil {
		return nil, err
	}
	if v := os.Getenv("SCS_DEVICE_TAG"); v != "" {
		ident.Tag = v
	}
	if ident.Tag == "" {
		return nil, fmt.Errorf("validating identity document %s: tag is required", path)
	}
	return ident, nil
}

// LoadProject reads a project document. Path presence is checked by the
// topic resolver when a channel needs it.
func LoadProject(path string) (*Project, error) {
	proj := &Project{}
	if err := readDocument(path, "project", proj); err != nil {
		return nil, err
	}
	return proj, nil
}

// ClientID returns the broker client id: the credentials value, else the
// device tag, else a generated "scs-" id.
func (d *Documents) ClientID() string {
	if d.Credentials != nil && d.Credentials.ClientID != "" {
		return d.Credentials.ClientID
	}
	if d.Identity != nil && d.Identity.Tag != "" {
		return d.Identity.Tag
	}
	return "scs-" + uuid.New().String()[:8]
}

// readDocument parses a YAML (or JSON) document into out.
func readDocument(path, kind string, out any) error {
	if path == "" {
		return fmt.Errorf("%s document path is empty", kind)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s document: %w", kind, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s document %s: %w", kind, path, err)
	}
	return nil
}
