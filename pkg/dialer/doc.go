// Package dialer opens outbound connections for a models.NetClientConfiguration.
//
// A configuration without an upstream connects directly. http:// upstreams are
// driven with CONNECT, socks5:// upstreams with golang.org/x/net/proxy, and any
// other scheme is handed to outline-sdk's configurl, which covers shadowsocks
// and the rest of the outline transports. A proxy answering CONNECT with
// anything but 200 yields a *HandshakeError; every other failure means the
// upstream could not be reached.
package dialer
