package respcache

import (
	"net"
	"testing"
	"time"

	"github.com/junbin-yang/coapd/pkg/coap/message"
	"github.com/junbin-yang/coapd/pkg/coap/txparams"
)

func peer() *net.UDPAddr { return &net.UDPAddr{IP: net.ParseIP("::1"), Port: 5683} }

func TestEnqueueDeduplicatesByPeerAndMessageID(t *testing.T) {
	c := New()
	resp := message.New(message.ACK, message.Content)
	resp.ID = 0x1234

	c.Enqueue(resp, peer(), txparams.Default())
	c.Enqueue(resp, peer(), txparams.Default())

	if c.Len() != 1 {
		t.Fatalf("expected 1 entry after duplicate enqueue, got %d", c.Len())
	}
}

func TestCopyForResendIsByteIdentical(t *testing.T) {
	c := New()
	resp := message.New(message.ACK, message.Content)
	resp.ID = 1
	resp.Payload = []byte("hello")
	c.Enqueue(resp, peer(), txparams.Default())

	e, ok := c.FindMatch(1, peer())
	if !ok {
		t.Fatal("expected cache hit")
	}
	copy1, err := CopyForResend(e).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	copy2, err := CopyForResend(e).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(copy1) != string(copy2) {
		t.Fatalf("resends not byte-identical")
	}
}

func TestEvictionRespectsExchangeLifetime(t *testing.T) {
	c := New()
	now := time.Unix(0, 0)
	c.SetClock(func() time.Time { return now })

	params := txparams.Params{AckTimeout: 2 * time.Second, AckRandomFactorNum: 3, AckRandomFactorDen: 2, MaxRetransmit: 4}
	resp := message.New(message.ACK, message.Content)
	resp.ID = 1
	c.Enqueue(resp, peer(), params)

	now = now.Add(params.ExchangeLifetime() - time.Second)
	c.Evict()
	if c.Len() != 1 {
		t.Fatal("entry evicted before its exchange lifetime elapsed")
	}

	now = now.Add(2 * time.Second)
	c.Evict()
	if c.Len() != 0 {
		t.Fatal("entry not evicted after its exchange lifetime elapsed")
	}
}

func TestEvictionEnforcesCapacity(t *testing.T) {
	c := New()
	for i := 0; i < MaxCachedResponses+5; i++ {
		resp := message.New(message.ACK, message.Content)
		resp.ID = uint16(i)
		c.Enqueue(resp, peer(), txparams.Default())
	}
	if c.Len() != MaxCachedResponses {
		t.Fatalf("cache grew past capacity: %d", c.Len())
	}
}
