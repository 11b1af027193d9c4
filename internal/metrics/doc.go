// Package metrics declares the Prometheus collectors shared by the client
// engine and the relay. All collectors register with the default registry.
package metrics
