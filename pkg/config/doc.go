/*
Package config loads the proxy's settings and turns them into a Catalog.

Settings are read with viper from a YAML file. A minimal file looks like:

	inbounds:
	  local:
	    endpoint: 127.0.0.1:8080
	configurations:
	  direct:
	    timeout: 10s
	  tunnel:
	    proxy: http://10.0.0.1:3128
	queues:
	  normal: [direct, tunnel]
	categories:
	  - name: everything
	    default: true
	route_grid:
	  profiles_order: [default]
	  grid:
	    everything: [normal]

The Catalog answers the routing questions the router asks: which
configuration a name refers to, which queue a category uses on a profile, and
which category a domain belongs to. Names are case-insensitive.
*/
package config
