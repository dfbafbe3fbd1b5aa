// Package routestore caches the configuration chosen for each (site, network
// profile) pair, with an expiry, and persists it through a Backend.
package routestore
