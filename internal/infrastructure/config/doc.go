// Package config handles loading and validating the MQTT client configuration.
//
// This package manages:
//   - Loading the root configuration from a YAML file
//   - Overriding with environment variables
//   - Loading the broker credentials, device identity and project documents
//   - Validation of required fields and back-end dependent defaults
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - Credential documents and key files should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	docs, err := cfg.LoadDocuments()
//	if err != nil {
//	    return err
//	}
//	fmt.Println(docs.Credentials.BrokerURL())
package config
