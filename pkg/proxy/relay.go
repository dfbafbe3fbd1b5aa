package proxy

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
)

// relay copies bytes both ways until one direction ends, then interrupts the
// other through deadlines. It reports whether the client is still open, i.e.
// the client side neither hit EOF nor failed on its own.
func relay(client net.Conn, clientReader io.Reader, upstream net.Conn) bool {
	var (
		once      sync.Once
		clientErr error
		clientEOF bool
	)
	interrupt := func() {
		once.Do(func() {
			now := time.Now()
			client.SetDeadline(now)
			upstream.SetDeadline(now)
		})
	}

	var wg conc.WaitGroup
	wg.Go(func() {
		_, err := io.Copy(upstream, clientReader)
		if err == nil {
			clientEOF = true
		} else {
			clientErr = err
		}
		interrupt()
	})
	wg.Go(func() {
		io.Copy(client, upstream)
		interrupt()
	})
	wg.Wait()

	client.SetDeadline(time.Time{})
	if clientEOF {
		return false
	}
	var netErr net.Error
	return clientErr == nil || (errors.As(clientErr, &netErr) && netErr.Timeout())
}
