/*
Package httpwire reads and writes the HTTP/1.x header blocks that pass through
the proxy.

The proxy never hands requests to net/http: it reads the raw header block,
decides where to send it and relays everything after the header untouched. The
types here keep header order and name case exactly as received so a forwarded
request differs from the original only in what the proxy deliberately changes.

Request targets come in three forms:

	GET http://example.com/index.html HTTP/1.1   absolute form, sent to proxies
	CONNECT example.com:443 HTTP/1.1             authority form, tunnels
	GET /index.html HTTP/1.1                     origin form, Host header required

Only the http and https schemes are accepted in absolute form.
*/
package httpwire
