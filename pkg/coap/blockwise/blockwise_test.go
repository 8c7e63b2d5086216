package blockwise

import (
	"bytes"
	"testing"

	"github.com/junbin-yang/coapd/pkg/coap/message"
	"github.com/junbin-yang/coapd/pkg/coap/result"
)

func makeBody(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

// TestBlock1EnrollmentReassembly reassembles a 3000-byte POST body
// split into 1024/1024/952-byte blocks at SZX=6.
func TestBlock1EnrollmentReassembly(t *testing.T) {
	body := makeBody(3000)
	session := &Session{}
	token := []byte{0xAB}

	block := func(num uint32, more bool, payload []byte) *message.Message {
		req := message.New(message.CON, message.POST)
		req.ID = uint16(num + 1)
		_ = req.SetToken(token)
		_ = req.AppendBlockOption(message.WhichBlock1, num, more, 6)
		req.Payload = payload
		return req
	}

	res, ack := ProcessBlock1Request(session, block(0, true, body[0:1024]))
	if res != result.Busy || ack == nil || ack.Code != message.Continue {
		t.Fatalf("block 0: expected Busy+Continue, got %v %+v", res, ack)
	}

	res, ack = ProcessBlock1Request(session, block(1, true, body[1024:2048]))
	if res != result.Busy || ack == nil || ack.Code != message.Continue {
		t.Fatalf("block 1: expected Busy+Continue, got %v %+v", res, ack)
	}

	final := block(2, false, body[2048:3000])
	res, ack = ProcessBlock1Request(session, final)
	if res != result.None {
		t.Fatalf("block 2: expected None, got %v", res)
	}
	if ack != nil {
		t.Fatalf("final block should not carry a cached Continue ACK, got %+v", ack)
	}
	if !bytes.Equal(final.Payload, body) {
		t.Fatalf("reassembled body mismatch: got %d bytes, want %d", len(final.Payload), len(body))
	}
	if session.Active() {
		t.Fatal("session should be Idle after successful reassembly")
	}
}

// TestBlock1OutOfOrderIsIncomplete checks that a missing or
// out-of-order block maps to NO_FRAME_RECEIVED (4.08).
func TestBlock1OutOfOrderIsIncomplete(t *testing.T) {
	session := &Session{}
	token := []byte{1}

	start := message.New(message.CON, message.POST)
	start.ID = 1
	_ = start.SetToken(token)
	_ = start.AppendBlockOption(message.WhichBlock1, 0, true, 6)
	start.Payload = makeBody(1024)
	if res, _ := ProcessBlock1Request(session, start); res != result.Busy {
		t.Fatalf("expected Busy for block 0, got %v", res)
	}

	skip := message.New(message.CON, message.POST)
	skip.ID = 3
	_ = skip.SetToken(token)
	_ = skip.AppendBlockOption(message.WhichBlock1, 2, false, 6) // skipped block 1
	skip.Payload = makeBody(100)

	res, _ := ProcessBlock1Request(session, skip)
	if res != result.NoFrameReceived {
		t.Fatalf("expected NoFrameReceived for out-of-order block, got %v", res)
	}
}

// TestBlock1SizeRenegotiation checks that when the server echoes SZX=4
// for block 0, the client recomputes num=3 for the next block and
// sends bytes [1024, 1280).
func TestBlock1SizeRenegotiation(t *testing.T) {
	body := makeBody(2000)
	session := &Session{SZX: 6, Num: 0, Sent: 1024}

	prev := message.New(message.CON, message.POST)
	_ = prev.SetToken([]byte{0x01})
	_ = prev.AppendBlockOption(message.WhichBlock1, 0, true, 6)

	echoed := message.BlockValue{Num: 0, More: true, SZX: 4}
	next, err := BuildNextBlock1Request(session, prev, body, echoed)
	if err != nil {
		t.Fatalf("BuildNextBlock1Request: %v", err)
	}

	got, err := next.ReadBlockOption(message.WhichBlock1)
	if err != nil {
		t.Fatalf("ReadBlockOption: %v", err)
	}
	if got.Num != 3 || got.SZX != 4 {
		t.Fatalf("expected num=3 szx=4, got %+v", got)
	}
	wantPayload := body[1024:1280]
	if !bytes.Equal(next.Payload, wantPayload) {
		t.Fatalf("payload mismatch: got %d bytes at wrong offset", len(next.Payload))
	}
}

// TestBlock2MonotonicSequence checks that successive Block2 server
// responses carry blocks 0..k with More true for all but the last.
func TestBlock2MonotonicSequence(t *testing.T) {
	body := makeBody(2500)
	session := &Session{}
	token := []byte{0x7}

	req := func(num uint32) *message.Message {
		m := message.New(message.CON, message.GET)
		m.ID = uint16(num + 1)
		_ = m.SetToken(token)
		_ = m.AppendBlockOption(message.WhichBlock2, num, false, 6)
		return m
	}

	var gotNums []uint32
	var gotMore []bool
	for num := uint32(0); num < 3; num++ {
		res, ack := ProcessBlock2Request(session, req(num), message.Content, func() []byte { return body })
		if res != result.None {
			t.Fatalf("block %d: expected None, got %v", num, res)
		}
		bv, err := ack.ReadBlockOption(message.WhichBlock2)
		if err != nil {
			t.Fatalf("ReadBlockOption: %v", err)
		}
		gotNums = append(gotNums, bv.Num)
		gotMore = append(gotMore, bv.More)
	}

	wantNums := []uint32{0, 1, 2}
	for i, n := range wantNums {
		if gotNums[i] != n {
			t.Fatalf("block sequence mismatch: got %v, want %v", gotNums, wantNums)
		}
	}
	if !gotMore[0] || !gotMore[1] || gotMore[2] {
		t.Fatalf("unexpected more flags: %v", gotMore)
	}
}

// TestBlock2OutOfRangeIsNotFound checks a Block2 request past the end
// of the body maps to NotFound.
func TestBlock2OutOfRangeIsNotFound(t *testing.T) {
	session := &Session{}
	req := message.New(message.CON, message.GET)
	_ = req.SetToken([]byte{1})
	// num=1 at SZX=4 (256 bytes/block) starts at offset 256, past the
	// 10-byte body.
	_ = req.AppendBlockOption(message.WhichBlock2, 1, false, 4)

	res, _ := ProcessBlock2Request(session, req, message.Content, func() []byte { return makeBody(10) })
	if res != result.NotFound {
		t.Fatalf("expected NotFound for out-of-range block, got %v", res)
	}
}

func TestBlock1AssemblyOverflow(t *testing.T) {
	session := &Session{}
	token := []byte{9}

	start := message.New(message.CON, message.POST)
	_ = start.SetToken(token)
	_ = start.AppendBlockOption(message.WhichBlock1, 0, true, 6)
	start.Payload = makeBody(MaxAssemblySize + 1024)

	res, _ := ProcessBlock1Request(session, start)
	if res != result.NoBufs {
		t.Fatalf("expected NoBufs on overflow, got %v", res)
	}
	if session.Active() {
		t.Fatal("session should reset after overflow")
	}
}

func TestSessionStartRejectsSecondConcurrentExchange(t *testing.T) {
	s := &Session{}
	if err := s.Start(Block1Receiving, []byte{1}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := s.Start(Block2Sending, []byte{2}); !IsBusy(err) {
		t.Fatalf("expected Busy starting a second concurrent exchange, got %v", err)
	}
}
