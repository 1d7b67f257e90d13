// Package config loads the service configuration from YAML with environment
// variable overrides and validates every section.
package config
