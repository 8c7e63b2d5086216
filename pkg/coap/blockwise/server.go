package blockwise

import (
	"github.com/junbin-yang/coapd/pkg/coap/message"
	"github.com/junbin-yang/coapd/pkg/coap/result"
)

// ProcessBlock1Request reassembles a Block1-fragmented request body
// into session.Buf. The caller must check the returned Result:
//   - result.Busy: a Continue ACK (the second return value) has been
//     built; send it and do not dispatch to the resource handler yet.
//   - result.None: the body is fully reassembled in req.Payload; dispatch
//     to the resource handler.
//   - result.NoFrameReceived: send 4.08 Request Entity Incomplete.
//   - result.NoBufs: assembly overflowed; send 4.13 Request Entity Too
//     Large.
func ProcessBlock1Request(session *Session, req *message.Message) (result.Result, *message.Message) {
	block, err := req.ReadBlockOption(message.WhichBlock1)
	if err != nil {
		return result.InvalidArgs, nil
	}

	if block.Num == 0 {
		session.Reset()
		if err := session.Start(Block1Receiving, req.Token); err != nil {
			return result.Busy, nil
		}
		session.SZX = block.SZX
		session.Num = 0
	} else {
		if session.State != Block1Receiving || !tokenEqual(session.Token, req.Token) {
			return result.NoFrameReceived, nil
		}
		expected := session.Num + 1
		if block.SZX != session.SZX {
			expected = message.NextBlock1Num(session.SZX, block.SZX, session.Num+1)
			session.SZX = block.SZX
		}
		if block.Num != expected {
			session.Reset()
			return result.NoFrameReceived, nil
		}
		session.Num = block.Num
	}

	session.Buf = append(session.Buf, req.Payload...)
	if len(session.Buf) > MaxAssemblySize {
		session.Reset()
		return result.NoBufs, nil
	}

	if block.More {
		ack := message.New(message.ACK, message.Continue)
		ack.ID = req.ID
		_ = ack.SetToken(req.Token)
		_ = ack.AppendBlockOption(message.WhichBlock1, block.Num, true, block.SZX)
		session.LastResponse = ack
		return result.Busy, ack
	}

	req.Payload = session.Buf
	session.Reset()
	return result.None, nil
}

// ProcessBlock2Request serves a large response in Block2-sized slices.
// body supplies the full representation to slice from; it is only
// invoked when a fresh transfer starts (num==0, or a request whose token
// does not continue the session's active Block2Sending exchange), so the
// representation is generated once and then served from the cached copy
// for subsequent block numbers on the same exchange.
func ProcessBlock2Request(session *Session, req *message.Message, successCode message.Code, body func() []byte) (result.Result, *message.Message) {
	block, err := req.ReadBlockOption(message.WhichBlock2)
	if err != nil {
		return result.InvalidArgs, nil
	}

	if block.Num == 0 || !tokenEqual(session.Token, req.Token) || session.State != Block2Sending {
		session.Reset()
		if err := session.Start(Block2Sending, req.Token); err != nil {
			return result.Busy, nil
		}
		session.SZX = block.SZX
		session.Buf = body()
	}

	size := message.BlockSize(block.SZX)
	offset := int(block.Num) * size
	if offset >= len(session.Buf) {
		session.Reset()
		return result.NotFound, nil
	}

	end := offset + size
	more := end < len(session.Buf)
	if !more {
		end = len(session.Buf)
	}

	ack := message.New(message.ACK, successCode)
	ack.ID = req.ID
	_ = ack.SetToken(req.Token)
	if err := ack.AppendBlockOption(message.WhichBlock2, block.Num, more, block.SZX); err != nil {
		session.Reset()
		return result.Failed, nil
	}
	ack.Payload = session.Buf[offset:end]

	session.LastResponse = ack
	if !more {
		session.Reset()
	}
	return result.None, ack
}
