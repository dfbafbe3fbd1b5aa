/*
Package identity works out which physical network the host is attached to.

A Provider caches a models.NetworkIdentity computed by a Fingerprinter. The
default InterfaceFingerprinter picks the interface holding the route to the
internet and reports [name, hardware address, IPv4 or "NoIP"]. The Watcher
feeds network-change hints into Provider.ScheduleRefresh, which debounces them;
failed refreshes keep the last good identity. ProfileResolver maps the identity
onto a configured network profile.
*/
package identity
