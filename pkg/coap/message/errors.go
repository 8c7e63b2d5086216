package message

import "errors"

// Errors returned by the codec. These map onto the result package's
// outcome codes for the endpoint API; the endpoint package translates
// them at the handler boundary.
var (
	ErrInvalidArgs = errors.New("coap: invalid argument")
	ErrNoBufs      = errors.New("coap: buffer exhausted")
	ErrParse       = errors.New("coap: malformed message")
	ErrNotFound    = errors.New("coap: option not found")
)
