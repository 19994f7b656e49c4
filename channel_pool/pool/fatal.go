package pool

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/jasonkayzk/waterline-rethinkdb/channel_pool/errs"
)

// DefaultIsFatal treats resets, broken pipes, closed sockets, unexpected
// EOFs and timeouts as transport failures.
func DefaultIsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errs.IsTransportErr(err) {
		return true
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
