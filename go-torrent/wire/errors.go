package wire

import (
	"errors"
	"fmt"
	"io"
	"net"
)

// ErrNetwork is wrapped by every error that ends a peer connection attempt.
var ErrNetwork = errors.New("peer wire")

var (
	ErrConnectionClosed = fmt.Errorf("%w: connection closed", ErrNetwork)
	ErrTruncatedFrame   = fmt.Errorf("%w: truncated frame", ErrNetwork)
	ErrProtocolMismatch = fmt.Errorf("%w: protocol mismatch", ErrNetwork)
	ErrPeerUnresponsive = fmt.Errorf("%w: peer unresponsive", ErrNetwork)
	ErrFrameTooLarge    = fmt.Errorf("%w: frame too large", ErrNetwork)
	ErrMalformedPayload = fmt.Errorf("%w: malformed payload", ErrNetwork)
)

// readError classifies an error returned while reading inside a frame.
func readError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ErrTruncatedFrame
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %v", ErrPeerUnresponsive, err)
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	default:
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
}

func writeError(err error) error {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %v", ErrPeerUnresponsive, err)
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe), errors.Is(err, io.EOF):
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	default:
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
}
