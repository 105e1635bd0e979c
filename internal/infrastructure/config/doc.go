// Package config handles loading and validating the web-boiler bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling (vendor endpoints, STOMP credentials, topics)
//
// Security Considerations:
//   - The portal password should be set via WEBBOILER_PASSWORD, not the file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Stomp.URL)
package config
