package endpoint

import "errors"

var (
	ErrAlreadyStarted = errors.New("endpoint: already started")
	ErrNotStarted     = errors.New("endpoint: not started")
	ErrInvalidPeer    = errors.New("endpoint: invalid peer address")
	ErrInvalidSZX     = errors.New("endpoint: invalid block size exponent")
)
