/*
Package models defines the core data structures shared by the proxy, the
route decision engine and the prober. It provides the value types that
describe destinations, networks, outbound policies and persisted routes.

Core Types:

Site is a destination domain name, normalized to lower case:

	site := models.NewSite("Example.COM.") // "example.com"

NetworkIdentity describes the physical network the host is attached to as an
ordered list of fingerprint strings joined by '+':

	id, err := models.NewNetworkIdentity("wlan0", "aa:bb:cc:dd:ee:ff", "192.168.1.10")
	id.String()                           // "wlan0+aa:bb:cc:dd:ee:ff+192.168.1.10"
	models.ParseNetworkIdentity(id.String()).Equal(id) // true

NetworkProfile and DomainCategory are named values compared by name.

NetClientConfiguration is an outbound policy: an optional upstream proxy URL
(nil means direct), a connect timeout, and the probing parameters:

	type NetClientConfiguration struct {
		Name              string        // Unique configuration name
		Upstream          *url.URL      // http://, socks5:// or an outline transport URL
		Timeout           time.Duration // Connect and handshake timeout
		HitInterval       time.Duration // Delay between probe hits
		MinConsistentHits int           // Length of a consistent window
		MaxHits           int           // Hit budget per probe
	}

ClientConfigurationQueue is an ordered list of configurations; the last one is
the conservative fallback used before any probe has finished.

Route is the bun model of a persisted routing decision:

	type Route struct {
		Site          string    // Destination domain (pk)
		Profile       string    // Network profile name (pk)
		Configuration string    // Winning configuration name
		ValidUntil    time.Time // Expiry; stale records are still usable hints
		UpdatedAt     time.Time // Last write
	}

Thread Safety:

All types are immutable values once constructed. NetworkIdentity copies its
input and returns copies from Parts, so it can be shared freely between
goroutines.
*/
package models
