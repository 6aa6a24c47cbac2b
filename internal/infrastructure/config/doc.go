// Package config handles loading and validating Linkkeeper configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading a .env file when one is present
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Defaults match the robust settings used on deployed desk units: a 30s
// link timeout with 10s retry base and 5 retries, a 15s session timeout
// with 8s retry base and 3 retries, and a 30s watchdog.
//
// Security Considerations:
//   - WiFi and broker passwords should be set via environment variables
//     (LINKKEEPER_WIFI_PASSWORD, LINKKEEPER_MQTT_PASSWORD) or a .env file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.ID)
package config
