package dialer

import (
	"errors"
	"fmt"
)

// HandshakeError is an upstream proxy refusing a CONNECT.
type HandshakeError struct {
	Proxy  string
	Code   int
	Reason string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("proxy %s rejected CONNECT: %d %s", e.Proxy, e.Code, e.Reason)
}

// IsHandshakeError reports whether err came from a rejected CONNECT, as
// opposed to a failure to reach the proxy at all.
func IsHandshakeError(err error) bool {
	var he *HandshakeError
	return errors.As(err, &he)
}
