package transport

import "errors"

var (
	ErrInvalidAddress = errors.New("transport: invalid address")
	ErrBindFailed     = errors.New("transport: bind failed")
	ErrClosed         = errors.New("transport: closed")
	ErrMulticastJoin  = errors.New("transport: multicast join failed")
)
