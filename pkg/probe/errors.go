package probe

import (
	"context"
	"errors"
	"net"
)

// baseError unwraps an error chain to find the most basic underlying error.
func baseError(err error) error {
	for err != nil {
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			if errs := joined.Unwrap(); len(errs) > 0 {
				// the last error is usually the most specific one
				err = errs[len(errs)-1]
				continue
			}
		}
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err
		}
		err = unwrapped
	}
	return err
}

// classify maps a request error onto a hit kind.
func classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}
	return Failure
}
