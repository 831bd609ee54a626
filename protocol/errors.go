package protocol

import (
	"errors"

	"github.com/flashbots/kanon/act"
	"github.com/flashbots/kanon/bhttp"
)

var (
	// ErrNetwork wraps failures of HTTP calls to the sign and join endpoints.
	ErrNetwork = errors.New("network error")

	// ErrJoinRejected is returned when the join target answers with a final
	// status other than 200.
	ErrJoinRejected = errors.New("join rejected")

	// ErrCryptoFormat covers malformed protobuf messages and ACT blobs as
	// well as failed token recovery.
	ErrCryptoFormat = act.ErrCryptoFormat

	// ErrDecode is returned for Binary HTTP responses that cannot be parsed.
	ErrDecode = bhttp.ErrDecode
)
