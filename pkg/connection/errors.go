package connection

import "errors"

var (
	// ErrWindowFull means 65 reliable parcels are already unacknowledged.
	// This is backpressure toward the caller, not a protocol failure; retry
	// after the next acknowledgment frees a slot.
	ErrWindowFull = errors.New("connection: send window full")

	// ErrClosed is returned by every operation on a closed connection.
	ErrClosed = errors.New("connection: closed")

	// ErrNotYetReady means the pending connection has received no answer so
	// far; promotion should be retried later.
	ErrNotYetReady = errors.New("connection: handshake not yet answered")

	// ErrDenied means the server explicitly denied the connection request.
	// Terminal for the pending connection.
	ErrDenied = errors.New("connection: handshake denied")

	// ErrTimedOut means no answer arrived within the connect timeout.
	// Terminal for the pending connection.
	ErrTimedOut = errors.New("connection: handshake timed out")

	// ErrPayloadTooLarge means the payload exceeds what a single parcel
	// carries.
	ErrPayloadTooLarge = errors.New("connection: payload exceeds parcel capacity")
)
