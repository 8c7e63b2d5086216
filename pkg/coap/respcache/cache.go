// Package respcache implements the server-side CON response
// deduplication cache: a bounded FIFO keyed by
// (peer address, peer port, message ID).
package respcache

import (
	"net"
	"time"

	"github.com/junbin-yang/coapd/pkg/coap/message"
	"github.com/junbin-yang/coapd/pkg/coap/txparams"
)

// MaxCachedResponses bounds how many responses the cache retains.
const MaxCachedResponses = 64

// Entry is a cached response awaiting possible retransmission.
type Entry struct {
	Response *message.Message
	Peer     *net.UDPAddr
	deadline time.Time
}

// Cache is the bounded FIFO response cache.
type Cache struct {
	entries []*Entry
	now     func() time.Time
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{now: time.Now}
}

// SetClock overrides the cache's notion of "now", for deterministic
// exchange-lifetime tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// Enqueue stores resp for possible retransmission until
// EXCHANGE_LIFETIME(params) has elapsed. If an entry already exists for
// the same (peer, message ID) it is left untouched. If the cache is
// full, the oldest entry is evicted first.
func (c *Cache) Enqueue(resp *message.Message, peer *net.UDPAddr, params txparams.Params) {
	if _, ok := c.findMatch(resp.ID, peer); ok {
		return
	}
	if len(c.entries) >= MaxCachedResponses {
		c.entries = c.entries[1:]
	}
	c.entries = append(c.entries, &Entry{
		Response: resp.Clone(),
		Peer:     peer,
		deadline: c.now().Add(params.ExchangeLifetime()),
	})
}

// FindMatch looks up a cached response for an incoming request's
// (peer, message ID).
func (c *Cache) FindMatch(requestID uint16, peer *net.UDPAddr) (*Entry, bool) {
	return c.findMatch(requestID, peer)
}

func (c *Cache) findMatch(id uint16, peer *net.UDPAddr) (*Entry, bool) {
	for _, e := range c.entries {
		if e.Response.ID == id && e.Peer.IP.Equal(peer.IP) && e.Peer.Port == peer.Port {
			return e, true
		}
	}
	return nil, false
}

// CopyForResend returns a fresh, independent clone of the cached
// response so the caller can retransmit byte-identical bytes.
func CopyForResend(e *Entry) *message.Message {
	return e.Response.Clone()
}

// Evict removes entries whose deadline has passed.
func (c *Cache) Evict() {
	now := c.now()
	kept := c.entries[:0]
	for _, e := range c.entries {
		if e.deadline.After(now) {
			kept = append(kept, e)
		}
	}
	c.entries = kept
}

// Clear removes every cached entry, for endpoint shutdown.
func (c *Cache) Clear() {
	c.entries = nil
}

// NextDeadline returns the earliest pending eviction deadline, for the
// endpoint's single timer.
func (c *Cache) NextDeadline() (time.Time, bool) {
	if len(c.entries) == 0 {
		return time.Time{}, false
	}
	earliest := c.entries[0].deadline
	for _, e := range c.entries[1:] {
		if e.deadline.Before(earliest) {
			earliest = e.deadline
		}
	}
	return earliest, true
}

// Len reports how many responses are currently cached.
func (c *Cache) Len() int {
	return len(c.entries)
}
