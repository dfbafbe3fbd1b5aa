/*
Package proxy is the forward HTTP/HTTPS proxy engine.

Every inbound listener feeds one dispatcher, which runs each client connection
in its own goroutine:

	AwaitData -> ReadHeader -> Classify -> Route -> Dial -> Tunnel|Forward -> Relay -> KeepAlive?

CONNECT requests are answered with a 200 once the outbound stream is up and
then relayed byte for byte. Other requests are forwarded: in absolute form to
an HTTP upstream, or in origin form with "Connection: close" otherwise.
Configurations returned by the router are tried in order until one connects.
*/
package proxy
