// Package tester decides routes ahead of traffic for a list of sites.
package tester
