package txstore

import (
	"net"
	"testing"
	"time"

	"github.com/junbin-yang/coapd/pkg/coap/message"
	"github.com/junbin-yang/coapd/pkg/coap/result"
	"github.com/junbin-yang/coapd/pkg/coap/txparams"
)

func peer() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("::1"), Port: 5683}
}

// TestBackoffDoublingAndTimeout exercises a silent peer: retransmission fires at
// t0, t0+τ0, t0+τ0+2τ0, then a single RESPONSE_TIMEOUT callback.
func TestBackoffDoublingAndTimeout(t *testing.T) {
	params := txparams.Params{AckTimeout: 100 * time.Millisecond, AckRandomFactorNum: 3, AckRandomFactorDen: 2, MaxRetransmit: 2}
	s := New(params)

	now := time.Unix(0, 0)
	s.SetClock(func() time.Time { return now })

	req := message.New(message.CON, message.GET)
	req.ID = 1
	_ = req.SetToken([]byte("t"))

	var calls []result.Result
	e := s.Enqueue(req, peer(), false, func(res result.Result, resp *message.Message, p *net.UDPAddr) {
		calls = append(calls, res)
	}, "ctx")
	if e == nil {
		t.Fatal("expected tracked entry for CON request")
	}

	firstTimeout := e.timeout
	var resendCount int
	advanceAndFire := func() {
		now = e.deadline.Add(time.Millisecond)
		s.Due(func(e *Entry) { resendCount++ })
	}

	advanceAndFire() // first retransmit
	if resendCount != 1 {
		t.Fatalf("expected 1 resend, got %d", resendCount)
	}
	if e.timeout != firstTimeout*2 {
		t.Fatalf("expected doubled timeout, got %v want %v", e.timeout, firstTimeout*2)
	}
	secondTimeout := e.timeout

	advanceAndFire() // second retransmit (budget now exhausted)
	if resendCount != 2 {
		t.Fatalf("expected 2 resends, got %d", resendCount)
	}
	if e.timeout != secondTimeout*2 {
		t.Fatalf("expected doubled timeout again, got %v want %v", e.timeout, secondTimeout*2)
	}

	advanceAndFire() // budget exhausted: finalize with RESPONSE_TIMEOUT
	if len(calls) != 1 || calls[0] != result.ResponseTimeout {
		t.Fatalf("expected exactly one RESPONSE_TIMEOUT callback, got %v", calls)
	}
	if s.Len() != 0 {
		t.Fatalf("expected store empty after timeout, got %d entries", s.Len())
	}
}

func TestNonWithHandlerUsesMaxTransmitWaitDeadline(t *testing.T) {
	params := txparams.Params{AckTimeout: 100 * time.Millisecond, AckRandomFactorNum: 3, AckRandomFactorDen: 2, MaxRetransmit: 2}
	s := New(params)
	now := time.Unix(0, 0)
	s.SetClock(func() time.Time { return now })

	req := message.New(message.NON, message.GET)
	req.ID = 2
	e := s.Enqueue(req, peer(), false, func(result.Result, *message.Message, *net.UDPAddr) {}, nil)
	if e == nil {
		t.Fatal("expected tracked entry for NON with handler")
	}
	wantDeadline := now.Add(params.MaxTransmitWait())
	if !e.deadline.Equal(wantDeadline) {
		t.Fatalf("deadline = %v, want %v", e.deadline, wantDeadline)
	}
}

func TestNonWithoutHandlerIsNotTracked(t *testing.T) {
	s := New(txparams.Default())
	req := message.New(message.NON, message.GET)
	if e := s.Enqueue(req, peer(), false, nil, nil); e != nil {
		t.Fatalf("expected nil entry for fire-and-forget NON, got %+v", e)
	}
}

// TestSingleTerminalCallback checks the handler fires exactly once when
// Finalize is called twice on the same entry.
func TestSingleTerminalCallback(t *testing.T) {
	s := New(txparams.Default())
	req := message.New(message.CON, message.GET)
	var n int
	e := s.Enqueue(req, peer(), false, func(result.Result, *message.Message, *net.UDPAddr) { n++ }, nil)

	resp := message.New(message.ACK, message.Content)
	s.Finalize(e, result.None, resp)
	s.Finalize(e, result.None, resp) // already removed; must not double-fire

	if n != 1 {
		t.Fatalf("handler invoked %d times, want 1", n)
	}
}

func TestAbortMatchingByContext(t *testing.T) {
	s := New(txparams.Default())
	var got result.Result
	req := message.New(message.CON, message.GET)
	s.Enqueue(req, peer(), false, func(res result.Result, _ *message.Message, _ *net.UDPAddr) { got = res }, "owner-1")

	other := message.New(message.CON, message.GET)
	var otherFired bool
	s.Enqueue(other, peer(), false, func(result.Result, *message.Message, *net.UDPAddr) { otherFired = true }, "owner-2")

	s.AbortMatching("owner-1")
	if got != result.Abort {
		t.Fatalf("expected ABORT for owner-1, got %v", got)
	}
	if otherFired {
		t.Fatal("owner-2's transaction should not have been aborted")
	}
}
