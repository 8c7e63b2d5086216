package endpoint

import (
	"net"
	"testing"
	"time"

	"github.com/junbin-yang/coapd/pkg/coap/message"
	"github.com/junbin-yang/coapd/pkg/coap/resource"
	"github.com/junbin-yang/coapd/pkg/coap/transport"
	"github.com/junbin-yang/coapd/pkg/coap/txparams"
)

func testPeer() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 5683}
}

// waitForSentCount polls tr.Sent until it has at least n entries or the
// timeout elapses, since the dispatcher goroutine processes deliveries
// asynchronously to the test goroutine.
func waitForSentCount(t *testing.T, tr *transport.Fake, n int) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sentSnapshot(tr)) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sent datagram(s), got %d", n, len(sentSnapshot(tr)))
}

func sentSnapshot(tr *transport.Fake) []struct {
	Buf []byte
	Dst *net.UDPAddr
} {
	return tr.SentSnapshot()
}

func newTestEndpoint(t *testing.T) (*Endpoint, *transport.Fake) {
	tr := transport.NewFake(&net.UDPAddr{IP: net.ParseIP("192.0.2.100"), Port: 5683})
	ep := New(tr, txparams.Default())
	if err := ep.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = ep.Stop() })
	return ep, tr
}

func encode(t *testing.T, msg *message.Message) []byte {
	buf, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return buf
}

// TestGETRoundTrip verifies a unicast GET to a registered resource
// gets a piggybacked 2.05 Content ACK.
func TestGETRoundTrip(t *testing.T) {
	ep, tr := newTestEndpoint(t)

	calls := 0
	ep.AddResource("/status", func(req *message.Message, peer *net.UDPAddr, respond resource.Responder) {
		calls++
		resp := message.New(message.ACK, message.Content)
		resp.Payload = []byte("ok")
		_ = respond(resp)
	}, nil, nil)

	req := message.New(message.CON, message.GET)
	req.ID = 42
	_ = req.SetToken([]byte{0x01})
	_ = req.AppendURIPathOptions("status")

	tr.Deliver(encode(t, req), testPeer())
	waitForSentCount(t, tr, 1)

	if calls != 1 {
		t.Fatalf("expected resource handler called once, got %d", calls)
	}
	sent := sentSnapshot(tr)[0]
	resp, err := message.Parse(sent.Buf)
	if err != nil {
		t.Fatalf("Parse sent response: %v", err)
	}
	if resp.Type != message.ACK || resp.ID != req.ID {
		t.Fatalf("expected piggybacked ACK with id %d, got type=%v id=%d", req.ID, resp.Type, resp.ID)
	}
	if resp.Code != message.Content {
		t.Fatalf("expected 2.05 Content, got %v", resp.Code)
	}
	if string(resp.Payload) != "ok" {
		t.Fatalf("unexpected payload %q", resp.Payload)
	}
}

// TestDuplicateRequestSuppressed verifies a retransmitted CON request
// with the same message id gets the cached response resent, without
// invoking the resource handler again.
func TestDuplicateRequestSuppressed(t *testing.T) {
	ep, tr := newTestEndpoint(t)

	calls := 0
	ep.AddResource("/status", func(req *message.Message, peer *net.UDPAddr, respond resource.Responder) {
		calls++
		resp := message.New(message.ACK, message.Content)
		_ = respond(resp)
	}, nil, nil)

	req := message.New(message.CON, message.GET)
	req.ID = 7
	_ = req.SetToken([]byte{0x02})
	_ = req.AppendURIPathOptions("status")
	buf := encode(t, req)
	peer := testPeer()

	tr.Deliver(buf, peer)
	waitForSentCount(t, tr, 1)

	tr.Deliver(buf, peer)
	waitForSentCount(t, tr, 2)

	if calls != 1 {
		t.Fatalf("expected resource handler called once despite duplicate, got %d", calls)
	}
	first := sentSnapshot(tr)[0].Buf
	second := sentSnapshot(tr)[1].Buf
	if string(first) != string(second) {
		t.Fatalf("expected byte-identical resend, got %v vs %v", first, second)
	}
}

// TestUnknownResourceGetsNotFound verifies a unicast request to an
// unregistered path with no default handler gets 4.04 Not Found.
func TestUnknownResourceGetsNotFound(t *testing.T) {
	_, tr := newTestEndpoint(t)

	req := message.New(message.CON, message.GET)
	req.ID = 9
	_ = req.SetToken([]byte{0x03})
	_ = req.AppendURIPathOptions("nope")

	tr.Deliver(encode(t, req), testPeer())
	waitForSentCount(t, tr, 1)

	resp, err := message.Parse(sentSnapshot(tr)[0].Buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if resp.Code != message.NotFound {
		t.Fatalf("expected 4.04 NotFound, got %v", resp.Code)
	}
}

// TestMalformedUnicastCONGetsRST verifies a unicast CON whose token
// length field claims 9 bytes (exceeding the 8-byte maximum) cannot be
// parsed, but its header is still readable, so it gets an RST carrying
// the same message id.
func TestMalformedUnicastCONGetsRST(t *testing.T) {
	_, tr := newTestEndpoint(t)

	raw := []byte{
		byte(1<<6) | byte(message.CON)<<4 | 9, // version 1, CON, TKL=9
		byte(message.GET),
		0x00, 0x2A, // message id 42
	}

	tr.Deliver(raw, testPeer())
	waitForSentCount(t, tr, 1)

	resp, err := message.Parse(sentSnapshot(tr)[0].Buf)
	if err != nil {
		t.Fatalf("Parse sent RST: %v", err)
	}
	if resp.Type != message.RST || resp.Code != message.Empty {
		t.Fatalf("expected empty RST, got type=%v code=%v", resp.Type, resp.Code)
	}
	if resp.ID != 0x002A {
		t.Fatalf("expected RST to echo message id 42, got %d", resp.ID)
	}
}

// TestMalformedMulticastDatagramIsDropped verifies a malformed
// multicast-destined datagram is silently dropped, never answered with
// an RST.
func TestMalformedMulticastDatagramIsDropped(t *testing.T) {
	_, tr := newTestEndpoint(t)

	raw := []byte{byte(1<<6) | byte(message.CON)<<4 | 9, byte(message.GET), 0x00, 0x2B}
	tr.DeliverMulticast(raw, testPeer(), true)

	// Give the dispatcher a chance to process the bad datagram, then
	// assert nothing was sent in response.
	time.Sleep(20 * time.Millisecond)
	if n := len(sentSnapshot(tr)); n != 0 {
		t.Fatalf("expected no response to malformed multicast datagram, got %d sent", n)
	}
}

// TestMulticastNotFoundIsDropped verifies a multicast request to an
// unregistered path with no default handler is dropped rather than
// answered with 4.04.
func TestMulticastNotFoundIsDropped(t *testing.T) {
	_, tr := newTestEndpoint(t)

	req := message.New(message.NON, message.GET)
	req.ID = 11
	_ = req.SetToken([]byte{0x04})
	_ = req.AppendURIPathOptions("nope")

	tr.DeliverMulticast(encode(t, req), testPeer(), true)
	time.Sleep(20 * time.Millisecond)
	if n := len(sentSnapshot(tr)); n != 0 {
		t.Fatalf("expected multicast not-found to be dropped, got %d sent", n)
	}
}
