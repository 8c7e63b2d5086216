package blockwise

import (
	"github.com/junbin-yang/coapd/pkg/coap/message"
)

// optionsWithBlock rebuilds prev's option set with its which-option
// replaced by a freshly encoded one appended at the end. The result is
// not sorted; callers install it with SetOptions, which sorts by option
// number, so a carried option numbered above the block option (e.g.
// Size1=60 alongside Block1=27) doesn't trip AppendOption's ordering
// check.
func optionsWithBlock(prev *message.Message, which message.Which, num uint32, more bool, szx uint8) ([]message.Option, error) {
	tmp := message.New(message.CON, message.GET)
	if err := tmp.AppendBlockOption(which, num, more, szx); err != nil {
		return nil, err
	}
	blockOpt, _ := tmp.FindOption(uint16(which))
	opts := append(prev.OptionsExcluding(uint16(which)), blockOpt)
	return opts, nil
}

// BuildNextBlock1Request is the client-side continuation for a Block1
// upload: given the request just answered with 2.31 Continue (possibly
// echoing a smaller SZX), it builds the next CON
// carrying the next chunk of body, reusing prev's options in order
// (skipping Block1, which is reinserted at the right position).
func BuildNextBlock1Request(session *Session, prev *message.Message, body []byte, echoedBlock message.BlockValue) (*message.Message, error) {
	nextNum := session.Num + 1
	if echoedBlock.SZX != session.SZX {
		nextNum = message.NextBlock1Num(session.SZX, echoedBlock.SZX, echoedBlock.Num)
		session.SZX = echoedBlock.SZX
	}

	size := message.BlockSize(session.SZX)
	offset := session.Sent
	if offset >= len(body) {
		return nil, message.ErrInvalidArgs
	}
	end := offset + size
	more := end < len(body)
	if !more {
		end = len(body)
	}

	opts, err := optionsWithBlock(prev, message.WhichBlock1, nextNum, more, session.SZX)
	if err != nil {
		return nil, err
	}

	next := message.New(message.CON, prev.Code)
	_ = next.SetToken(prev.Token)
	next.SetOptions(opts)
	next.Payload = body[offset:end]

	session.Num = nextNum
	session.Sent = end
	return next, nil
}

// BuildNextBlock2Request is the client-side continuation for a Block2
// download: after feeding the just-received block to the caller's
// receive hook, it builds the next CON mirroring the original
// request's URI path and advancing Block2's block number.
func BuildNextBlock2Request(session *Session, prev *message.Message, receivedBlock message.BlockValue) (*message.Message, error) {
	opts, err := optionsWithBlock(prev, message.WhichBlock2, receivedBlock.Num+1, false, receivedBlock.SZX)
	if err != nil {
		return nil, err
	}

	next := message.New(message.CON, prev.Code)
	_ = next.SetToken(prev.Token)
	next.SetOptions(opts)

	session.Num = receivedBlock.Num + 1
	session.SZX = receivedBlock.SZX
	return next, nil
}
