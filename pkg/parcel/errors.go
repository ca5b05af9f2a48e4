package parcel

import "errors"

// CodecError describes why a byte buffer was rejected by Decode. All wire
// input is untrusted; a CodecError means the datagram should be dropped,
// never that the connection should close.
type CodecError struct {
	Reason string
}

func (e *CodecError) Error() string { return "parcel: " + e.Reason }

var (
	errTooShort            = &CodecError{Reason: "buffer shorter than declared contents"}
	errBadParity           = &CodecError{Reason: "signal has even parity"}
	errReservedBits        = &CodecError{Reason: "reserved signal bits set"}
	errUnreliableStream    = &CodecError{Reason: "stream bit without index bit"}
	errDisconnectedStream  = &CodecError{Reason: "stream bit without connection bit"}
	errAcceptWithoutAnswer = &CodecError{Reason: "accept bit without answer bit"}
	errAnswerWithMessage   = &CodecError{Reason: "message bytes on a handshake answer"}
)

// IsCodecError reports whether err is a wire decoding failure.
func IsCodecError(err error) bool {
	var ce *CodecError
	return errors.As(err, &ce)
}
