// Package config loads and validates the pulsemon daemon configuration from
// a YAML file and supports hot reload via filesystem watching. Collector
// registrations and alert rules declared here are the external admin surface
// consumed by the scheduler and evaluator.
package config
