/*
Package probe decides empirically whether a site is reachable through a
configuration.

A probe is a short series of HTTPS GET requests ("hits") issued one after
another. Every hit ends as Success, Failure or Timeout. The probe ends as soon
as the last MinConsistentHits hits all had the same outcome, so one flaky
answer does not decide a route:

	S S S       -> Success after 3 hits
	F S S S     -> Success after 4 hits, latency averaged over hits 2-4
	S F T S S   -> Inconsistent (MaxHits 5 exhausted)

ChooseBestRoute then picks the first successful configuration in queue order.
*/
package probe
