package transport

import "errors"

// Common transport errors.
var (
	ErrUnsupportedTransport = errors.New("unsupported transport type")
	ErrNotOpened            = errors.New("transport not opened")
	ErrTransportClosed      = errors.New("transport closed")
	ErrInvalidMessage       = errors.New("invalid message")
	ErrStdioNotAttached     = errors.New("stdio transport requires an attached handle")
)
