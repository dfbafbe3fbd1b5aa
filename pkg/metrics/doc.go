// Package metrics exposes Prometheus metrics for the proxy.
package metrics
