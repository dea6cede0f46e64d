// Package observability holds the Prometheus instruments of the service.
// Metrics subscribes to the engine event bus, so the engine itself carries
// no metrics code.
package observability
