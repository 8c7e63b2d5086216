package endpoint

import (
	"net"

	"github.com/junbin-yang/coapd/pkg/coap/blockwise"
	"github.com/junbin-yang/coapd/pkg/coap/message"
	"github.com/junbin-yang/coapd/pkg/coap/result"
	"github.com/junbin-yang/coapd/pkg/coap/txstore"
)

// ResponseHook feeds each block of a large response to the caller as it
// arrives, mirroring resource.BlockReceiveHook on the client side.
type ResponseHook func(buf []byte, offset int, more bool, totalSize int)

// block1ClientState is the client-side continuation state for a large
// request this endpoint is sending. It implements the txstore.resettable
// duck type so Store.Finalize tears the outbound session down on any
// terminal outcome without txstore needing to know about block-wise.
type block1ClientState struct {
	session *blockwise.Session
	body    []byte
}

func (s *block1ClientState) Reset() { s.session.Reset() }

// block2ClientState is the client-side continuation state for a large
// response this endpoint is receiving.
type block2ClientState struct {
	session *blockwise.Session
	hook    ResponseHook
}

func (s *block2ClientState) Reset() { s.session.Reset() }

// SendLargeRequest splits body into Block1-sized chunks using the
// endpoint's current max block size, sends the first chunk, and drives
// the remaining chunks to completion as 2.31 Continue responses arrive.
// handler receives exactly one terminal callback once the exchange
// concludes; only one outbound block-wise exchange may be active at a
// time.
func (e *Endpoint) SendLargeRequest(code message.Code, peer *net.UDPAddr, uriPath string, body []byte, handler txstore.ResponseHandler, ctx interface{}) result.Result {
	if peer == nil {
		return result.InvalidArgs
	}

	var res result.Result
	ok := e.runSync(func() {
		if e.outbound.Active() {
			res = result.Busy
			return
		}

		token := e.tokenSource()
		if err := e.outbound.Start(blockwise.Block1Sending, token); err != nil {
			res = result.Busy
			return
		}
		e.outbound.SZX = e.maxSZX
		e.outbound.Num = 0

		size := message.BlockSize(e.maxSZX)
		end := size
		more := end < len(body)
		if !more {
			end = len(body)
		}
		e.outbound.Sent = end

		first := message.New(message.CON, code)
		first.ID = e.nextMessageIDLocked()
		_ = first.SetToken(token)
		_ = first.AppendURIPathOptions(uriPath)
		if err := first.AppendBlockOption(message.WhichBlock1, 0, more, e.maxSZX); err != nil {
			e.outbound.Reset()
			res = result.InvalidArgs
			return
		}
		first.Payload = body[:end]

		entry := e.store.Enqueue(first, peer, false, handler, ctx)
		if entry != nil {
			entry.BlockState = &block1ClientState{session: e.outbound, body: body}
		}
		e.sendRaw(first, peer)
		res = result.None
	})
	if !ok {
		return result.InvalidState
	}
	return res
}

// SendMessageExpectingBlocks sends msg (already built by the caller,
// e.g. via NewMessage) and, if hook is non-nil, arranges for a
// Block2-fragmented response to be assembled block by block, invoking
// hook for each chunk as it arrives. handler still receives exactly one
// terminal callback once the final block has been delivered.
func (e *Endpoint) SendMessageExpectingBlocks(msg *message.Message, peer *net.UDPAddr, handler txstore.ResponseHandler, ctx interface{}, hook ResponseHook) result.Result {
	if peer == nil {
		return result.InvalidArgs
	}

	var res result.Result
	ok := e.runSync(func() {
		var state *block2ClientState
		if hook != nil {
			if e.outbound.Active() {
				res = result.Busy
				return
			}
			if err := e.outbound.Start(blockwise.Block2Receiving, msg.Token); err != nil {
				res = result.Busy
				return
			}
			e.outbound.SZX = e.maxSZX
			e.outbound.Num = 0
			state = &block2ClientState{session: e.outbound, hook: hook}
		}

		entry := e.store.Enqueue(msg, peer, false, handler, ctx)
		if entry != nil && state != nil {
			entry.BlockState = state
		}
		e.sendRaw(msg, peer)
		res = result.None
	})
	if !ok {
		return result.InvalidState
	}
	return res
}
