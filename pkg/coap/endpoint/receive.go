package endpoint

import (
	"encoding/binary"
	"net"

	"github.com/junbin-yang/coapd/pkg/coap/message"
	"github.com/junbin-yang/coapd/pkg/coap/resource"
	"github.com/junbin-yang/coapd/pkg/coap/respcache"
	"github.com/junbin-yang/coapd/pkg/coap/result"
	"github.com/junbin-yang/coapd/pkg/coap/txstore"
	"github.com/junbin-yang/coapd/pkg/utils/logger"

	"github.com/junbin-yang/coapd/pkg/coap/blockwise"
)

// handleDatagram is the inbound-datagram entry point, always running
// on the dispatcher goroutine.
func (e *Endpoint) handleDatagram(buf []byte, peer *net.UDPAddr, multicast bool) {
	msg, err := message.Parse(buf)
	if err != nil {
		if !multicast {
			if t, id, ok := peekHeader(buf); ok && t == message.CON {
				e.sendRST(id, peer)
			}
		}
		return
	}
	e.processMessage(msg, peer, multicast)
}

// peekHeader extracts the type and message id from a datagram that
// failed full parsing, so a malformed unicast CON whose header bytes
// are otherwise intact can still get an RST.
func peekHeader(buf []byte) (message.Type, uint16, bool) {
	if len(buf) < 4 {
		return 0, 0, false
	}
	if buf[0]>>6 != 1 {
		return 0, 0, false
	}
	return message.Type((buf[0] >> 4) & 0x03), binary.BigEndian.Uint16(buf[2:4]), true
}

func (e *Endpoint) processMessage(msg *message.Message, peer *net.UDPAddr, multicast bool) {
	switch {
	case msg.IsRequest():
		e.handleRequest(msg, peer, multicast)
	case msg.IsResponse():
		e.handleResponse(msg, peer, multicast)
	case msg.Type == message.ACK:
		e.handleEmptyAck(msg, peer)
	case msg.Type == message.RST:
		e.handleRST(msg, peer)
	case msg.Type == message.CON:
		// An Empty CON (a "ping") gets a Reset, per RFC 7252 §4.2.
		e.sendRST(msg.ID, peer)
	}
}

// --- request path ---

func (e *Endpoint) handleRequest(req *message.Message, peer *net.UDPAddr, multicast bool) {
	if e.interceptor != nil && !e.interceptor(req, peer) {
		return
	}

	if req.IsConfirmable() {
		if cached, ok := e.cache.FindMatch(req.ID, peer); ok {
			e.sendRaw(respcache.CopyForResend(cached), peer)
			return
		}
	}

	uriPath := req.URIPath()
	entry, found := e.resources.Find(uriPath)
	hasBlock1 := req.HasBlockOption(message.WhichBlock1)
	hasBlock2 := req.HasBlockOption(message.WhichBlock2)

	switch {
	case found && hasBlock1 && entry.ReceiveHook != nil:
		e.serveBlock1Request(req, peer, entry)
		return
	case found && hasBlock2 && entry.TransmitHook != nil:
		e.serveBlock2Request(req, peer, entry)
		return
	case found:
		e.dispatchToResource(req, peer, entry)
		return
	}

	if h, ok := e.resources.Default(); ok {
		e.dispatchToHandler(req, peer, h)
		return
	}
	if !multicast {
		e.sendErrorResponse(req, peer, message.NotFound)
	}
}

func (e *Endpoint) dispatchToResource(req *message.Message, peer *net.UDPAddr, entry *resource.Entry) {
	e.dispatchToHandler(req, peer, entry.Handler)
}

func (e *Endpoint) dispatchToHandler(req *message.Message, peer *net.UDPAddr, handler resource.Handler) {
	respond := func(resp *message.Message) error {
		if resp.Token == nil {
			_ = resp.SetToken(req.Token)
		}
		if resp.Type == message.ACK {
			resp.ID = req.ID
		}
		e.cacheAndSend(resp, peer, req)
		return nil
	}
	handler(req, peer, respond)
}

func (e *Endpoint) cacheAndSend(resp *message.Message, peer *net.UDPAddr, req *message.Message) {
	if req.IsConfirmable() {
		e.cache.Enqueue(resp, peer, e.params)
	}
	e.sendRaw(resp, peer)
}

// sendErrorResponse builds an implementation-generated error response:
// piggybacked on an ACK for a CON request, or a fresh NON carrying a
// new message id for a NON request.
func (e *Endpoint) sendErrorResponse(req *message.Message, peer *net.UDPAddr, code message.Code) {
	var resp *message.Message
	if req.IsConfirmable() {
		resp = message.New(message.ACK, code)
		resp.ID = req.ID
	} else {
		resp = message.New(message.NON, code)
		resp.ID = e.nextMessageIDLocked()
	}
	_ = resp.SetToken(req.Token)
	e.cacheAndSend(resp, peer, req)
}

// serveBlock1Request feeds each chunk to the resource's ReceiveHook as
// it arrives and dispatches the reassembled request once complete.
func (e *Endpoint) serveBlock1Request(req *message.Message, peer *net.UDPAddr, entry *resource.Entry) {
	block, err := req.ReadBlockOption(message.WhichBlock1)
	if err != nil {
		e.sendErrorResponse(req, peer, message.BadRequest)
		return
	}
	offset := int(block.Num) * message.BlockSize(block.SZX)
	chunk := append([]byte(nil), req.Payload...)
	totalSize, _ := req.GetUintOption(message.Size1)

	res, ack := blockwise.ProcessBlock1Request(e.inbound, req)

	if entry.ReceiveHook != nil && (res == result.Busy || res == result.None) {
		entry.ReceiveHook(chunk, offset, block.More, int(totalSize))
	}

	switch res {
	case result.Busy:
		e.cacheAndSend(ack, peer, req)
	case result.None:
		e.dispatchToResource(req, peer, entry)
	case result.NoFrameReceived:
		e.sendErrorResponse(req, peer, message.RequestEntityIncomplete)
	case result.NoBufs:
		e.sendErrorResponse(req, peer, message.RequestEntityTooLarge)
	default:
		e.sendErrorResponse(req, peer, message.InternalServerError)
	}
}

// serveBlock2Request calls the resource's TransmitHook once per
// exchange for the full body, then slices it into blocks.
func (e *Endpoint) serveBlock2Request(req *message.Message, peer *net.UDPAddr, entry *resource.Entry) {
	res, ack := blockwise.ProcessBlock2Request(e.inbound, req, message.Content, entry.TransmitHook)
	switch res {
	case result.None:
		e.cacheAndSend(ack, peer, req)
	case result.NotFound:
		e.sendErrorResponse(req, peer, message.NotFound)
	default:
		e.sendErrorResponse(req, peer, message.InternalServerError)
	}
}

// --- response / control path ---

func (e *Endpoint) handleEmptyAck(msg *message.Message, peer *net.UDPAddr) {
	entry, found := e.store.FindByMessageID(msg.ID, peer)
	if !found {
		return
	}
	e.store.MarkAcknowledged(entry)
}

func (e *Endpoint) handleRST(msg *message.Message, peer *net.UDPAddr) {
	if msg.Code != message.Empty {
		// Non-empty RST is silently ignored.
		return
	}
	entry, found := e.store.FindByMessageID(msg.ID, peer)
	if !found {
		return
	}
	e.store.Finalize(entry, result.Abort, nil)
}

func (e *Endpoint) handleResponse(resp *message.Message, peer *net.UDPAddr, multicast bool) {
	var entry *txstore.Entry
	var found bool
	if resp.Type == message.ACK {
		entry, found = e.store.FindByMessageID(resp.ID, peer)
	} else {
		entry, found = e.store.FindByToken(resp.Token, peer)
	}

	if !found {
		if resp.Type == message.CON || resp.Type == message.NON {
			e.sendRST(resp.ID, peer)
		}
		return
	}

	if resp.Type == message.ACK {
		e.store.MarkAcknowledged(entry)
		e.continueOrFinalize(entry, resp, peer)
		return
	}

	// Separate response (CON or NON following an earlier empty ACK).
	if resp.Type == message.CON {
		e.sendEmptyACK(resp.ID, peer)
	}
	if entry.Multicast && entry.Handler != nil && resp.Type == message.NON {
		entry.Handler(result.None, resp, peer)
		return
	}
	e.continueOrFinalize(entry, resp, peer)
}

// continueOrFinalize either finalizes a matched response outright or
// continues a block-wise exchange on the client side.
func (e *Endpoint) continueOrFinalize(entry *txstore.Entry, resp *message.Message, peer *net.UDPAddr) {
	hasBlock1 := resp.HasBlockOption(message.WhichBlock1)
	hasBlock2 := resp.HasBlockOption(message.WhichBlock2)

	switch {
	case hasBlock2:
		// "BLOCK1 + BLOCK2: continue as for BLOCK2."
		if resp.Code.Class() < 4 {
			e.continueBlock2(entry, resp, peer)
			return
		}
	case hasBlock1:
		if resp.Code == message.Continue {
			e.continueBlock1(entry, resp, peer)
			return
		}
	}
	e.store.Finalize(entry, result.None, resp)
}

func (e *Endpoint) continueBlock1(entry *txstore.Entry, resp *message.Message, peer *net.UDPAddr) {
	state, ok := entry.BlockState.(*block1ClientState)
	if !ok {
		e.store.Finalize(entry, result.None, resp)
		return
	}
	echoed, err := resp.ReadBlockOption(message.WhichBlock1)
	if err != nil {
		e.store.Finalize(entry, result.Failed, nil)
		return
	}
	next, err := blockwise.BuildNextBlock1Request(state.session, entry.Message, state.body, echoed)
	if err != nil {
		logger.Warnf("coap: block1 continuation failed: %v", err)
		e.store.Finalize(entry, result.Failed, nil)
		return
	}
	next.ID = e.nextMessageIDLocked()

	e.store.Dequeue(entry)
	newEntry := e.store.Enqueue(next, peer, entry.Multicast, entry.Handler, entry.Context)
	if newEntry != nil {
		newEntry.BlockState = state
	}
	e.sendRaw(next, peer)
}

func (e *Endpoint) continueBlock2(entry *txstore.Entry, resp *message.Message, peer *net.UDPAddr) {
	state, ok := entry.BlockState.(*block2ClientState)
	if !ok {
		e.store.Finalize(entry, result.None, resp)
		return
	}
	received, err := resp.ReadBlockOption(message.WhichBlock2)
	if err != nil {
		e.store.Finalize(entry, result.Failed, nil)
		return
	}

	offset := int(received.Num) * message.BlockSize(received.SZX)
	totalSize, _ := resp.GetUintOption(message.Size2)
	if state.hook != nil {
		state.hook(resp.Payload, offset, received.More, int(totalSize))
	}

	if !received.More {
		e.store.Finalize(entry, result.None, resp)
		return
	}

	next, err := blockwise.BuildNextBlock2Request(state.session, entry.Message, received)
	if err != nil {
		logger.Warnf("coap: block2 continuation failed: %v", err)
		e.store.Finalize(entry, result.Failed, nil)
		return
	}
	next.ID = e.nextMessageIDLocked()

	e.store.Dequeue(entry)
	newEntry := e.store.Enqueue(next, peer, entry.Multicast, entry.Handler, entry.Context)
	if newEntry != nil {
		newEntry.BlockState = state
	}
	e.sendRaw(next, peer)
}

func (e *Endpoint) sendEmptyACK(id uint16, peer *net.UDPAddr) {
	ack := message.New(message.ACK, message.Empty)
	ack.ID = id
	e.sendRaw(ack, peer)
}

func (e *Endpoint) sendRST(id uint16, peer *net.UDPAddr) {
	rst := message.New(message.RST, message.Empty)
	rst.ID = id
	e.sendRaw(rst, peer)
}
