// internal/protocol/errors.go
package protocol

import "errors"

// Encoding errors. Never retried.
var (
	ErrOutOfRange         = errors.New("protocol: value out of range")
	ErrUnsupportedCommand = errors.New("protocol: unsupported command")
)

// Decoding errors. Never retried; they indicate corruption or desync.
var (
	ErrChecksumMismatch = errors.New("protocol: checksum mismatch")
	ErrMalformedFrame   = errors.New("protocol: malformed frame")
	ErrUnknownFrameType = errors.New("protocol: unknown frame type")
)

// IsEncodingError reports whether err came from Encode.
func IsEncodingError(err error) bool {
	return errors.Is(err, ErrOutOfRange) || errors.Is(err, ErrUnsupportedCommand)
}

// IsDecodingError reports whether err came from Decode.
func IsDecodingError(err error) bool {
	return errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrMalformedFrame) ||
		errors.Is(err, ErrUnknownFrameType)
}
