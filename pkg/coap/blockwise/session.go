// Package blockwise implements RFC 7959 Block1/Block2 orchestration:
// request/response chaining, size renegotiation, reassembly, and
// teardown on error.
//
// The state machine uses an explicit enum rather than intermixing
// client/server logic: one Session value per direction, transitioning
// through exactly one of Idle, Block1Sending, Block1Receiving,
// Block2Sending, Block2Receiving at a time.
package blockwise

import (
	"github.com/junbin-yang/coapd/pkg/coap/message"
	"github.com/junbin-yang/coapd/pkg/coap/result"
)

// State is the current phase of a block-wise exchange.
type State int

const (
	Idle State = iota
	Block1Sending
	Block1Receiving
	Block2Sending
	Block2Receiving
)

// MaxAssemblySize bounds a reassembled request/response body. Exceeding
// it during Block1 reassembly maps to 4.13 Request Entity Too Large.
const MaxAssemblySize = 64 * 1024

// Session is the transient assembly buffer and ordinal state machine for
// one block-wise direction (requests the endpoint originates vs
// requests it serves); only one exchange may be active at a time per
// direction.
type Session struct {
	State State
	Num   uint32
	SZX   uint8
	Buf   []byte

	// Sent tracks bytes already transmitted on the Block1-sending
	// direction. Unlike Block2's server side (where the client names an
	// explicit block number and the server derives the byte offset as
	// num*blocksize), the Block1 sender's byte cursor advances
	// contiguously even across a size renegotiation, while Num is only
	// the RFC 7959 bookkeeping value, recomputed on renegotiation.
	Sent int

	// LastResponse holds the most recent ACK built for a non-final
	// Block1 request, or the most recent Block2 content ACK. Nothing in
	// this package reads it back; retransmitted requests are answered
	// from the endpoint's response cache.
	LastResponse *message.Message

	// Token identifies which exchange owns this session, to distinguish
	// a genuinely new block-wise request from a duplicate/retransmit of
	// the current one.
	Token []byte
}

// Start transitions the session into state st. It fails with
// result.Busy if a different block-wise exchange is already active on
// this direction: a second concurrent exchange on the same direction is
// rejected rather than interleaved.
func (s *Session) Start(st State, token []byte) error {
	if s.State != Idle && !tokenEqual(s.Token, token) {
		return busyError
	}
	s.State = st
	s.Token = append([]byte(nil), token...)
	return nil
}

// Reset tears the session down: clears the assembly buffer, drops the
// cached last response, and returns to Idle. Called on ABORT, RST,
// timeout, or any block-wise error.
func (s *Session) Reset() {
	s.State = Idle
	s.Num = 0
	s.SZX = 0
	s.Buf = nil
	s.LastResponse = nil
	s.Token = nil
}

// Active reports whether a block-wise exchange currently owns this
// direction.
func (s *Session) Active() bool {
	return s.State != Idle
}

func tokenEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type busyErrorType struct{}

func (busyErrorType) Error() string { return "blockwise: " + result.Busy.String() }

var busyError = busyErrorType{}

// IsBusy reports whether err is the Busy sentinel Start returns.
func IsBusy(err error) bool {
	_, ok := err.(busyErrorType)
	return ok
}
