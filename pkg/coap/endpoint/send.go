package endpoint

import (
	"net"

	"github.com/junbin-yang/coapd/pkg/coap/message"
	"github.com/junbin-yang/coapd/pkg/coap/result"
	"github.com/junbin-yang/coapd/pkg/coap/txstore"
)

// NewMessage allocates a message stamped with a fresh, monotonically
// incrementing per-endpoint message id and a random token.
func (e *Endpoint) NewMessage(t message.Type, code message.Code) *message.Message {
	msg := message.New(t, code)
	e.runSync(func() {
		msg.ID = e.nextMessageIDLocked()
		_ = msg.SetToken(e.tokenSource())
	})
	return msg
}

// SendMessage enqueues msg in the transaction store (if CON, or NON
// with a handler) and transmits it. handler receives exactly one
// terminal callback for this transaction; ctx identifies the caller
// for AbortTransaction.
func (e *Endpoint) SendMessage(msg *message.Message, peer *net.UDPAddr, multicast bool, handler txstore.ResponseHandler, ctx interface{}) result.Result {
	if peer == nil {
		return result.InvalidArgs
	}
	if multicast && msg.IsConfirmable() {
		// RFC 7252 §8: a CON request MUST NOT be sent to a multicast
		// address. Multicast is only permitted for NON with a handler.
		return result.InvalidArgs
	}

	var res result.Result
	ok := e.runSync(func() {
		e.store.Enqueue(msg, peer, multicast, handler, ctx)
		e.sendRaw(msg, peer)
		res = result.None
	})
	if !ok {
		return result.InvalidState
	}
	return res
}

// AbortTransaction finalizes every pending transaction whose Context
// equals ctx with result.Abort.
func (e *Endpoint) AbortTransaction(ctx interface{}) result.Result {
	ok := e.runSync(func() {
		e.store.AbortMatching(ctx)
	})
	if !ok {
		return result.InvalidState
	}
	return result.None
}

// SetMaxBlockSize sets the SZX this endpoint offers for block-wise
// transfers it initiates. Valid range is 0..6.
func (e *Endpoint) SetMaxBlockSize(szx uint8) error {
	if szx > message.MaxSZX {
		return ErrInvalidSZX
	}
	ok := e.runSync(func() { e.maxSZX = szx })
	if !ok {
		return ErrNotStarted
	}
	return nil
}

// MaxBlockSize returns the SZX this endpoint currently offers.
func (e *Endpoint) MaxBlockSize() uint8 {
	var szx uint8
	e.runSync(func() { szx = e.maxSZX })
	return szx
}
