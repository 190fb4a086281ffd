// Package config handles loading and validating the IO bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Per-adapter defaults (poll cadence, GPIO pins, ports)
//   - Validation of required fields
//
// Security Considerations:
//   - MQTT and InfluxDB credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, a := range cfg.Adapters {
//	    fmt.Println(a.Type, a.Name)
//	}
package config
