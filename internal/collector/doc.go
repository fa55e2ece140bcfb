// Package collector defines the pluggable metric source contract and the
// built-in implementations: Go runtime stats, Prometheus endpoint scraping,
// and HTTP availability probes. Implementations are registered at compile
// time via New — there is no runtime introspection.
package collector
