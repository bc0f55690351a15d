// ABOUTME: Package config loads console service configuration from YAML
// ABOUTME: Supports ${VAR} environment expansion and field validation

// Package config handles configuration loading and parsing for the console
// service. Configuration is YAML with ${VAR_NAME} environment variable
// expansion.
package config
