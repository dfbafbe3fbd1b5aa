/*
Package router decides which client configurations a request to a site should
try, given the network profile the host is on.

Decisions come from the route cache. A fresh record yields its configuration;
a missing or expired one yields a conservative answer immediately and starts a
background cycle that probes the site's queue and records the winner. At most
one cycle runs per (profile, site).
*/
package router
