// Package txstore owns pending outbound CoAP requests and drives their
// retransmission and deduplication-matching lifecycle.
//
// The store itself holds no goroutine and no lock: the endpoint package
// serializes every call onto a single dispatcher goroutine, so Store
// methods assume single-threaded access, the same way an in-process
// session map is only ever touched from one owning goroutine at a time.
package txstore

import (
	"math/rand"
	"net"
	"time"

	"github.com/junbin-yang/coapd/pkg/coap/message"
	"github.com/junbin-yang/coapd/pkg/coap/result"
	"github.com/junbin-yang/coapd/pkg/coap/txparams"
)

// ResponseHandler receives the single terminal callback for a
// transaction: either (None, response, peer) or (errorResult, nil, peer).
type ResponseHandler func(res result.Result, resp *message.Message, peer *net.UDPAddr)

// Entry is a pending outbound request tracked by the store.
type Entry struct {
	Message     *message.Message
	Peer        *net.UDPAddr
	Confirmable bool
	Acked       bool
	Multicast   bool

	retransmitsRemaining int
	timeout              time.Duration
	deadline             time.Time

	Handler ResponseHandler
	// Context identifies the caller for AbortMatching, standing in for
	// an abort(handler, context) contract.
	Context interface{}

	// BlockState is an opaque slot the block-wise orchestrator uses to
	// stash its own continuation state against this entry, so the store
	// never needs to know about block-wise semantics.
	BlockState interface{}
}

// Store is the transaction store: one pending entry per outstanding
// request, with CON retransmission and response matching.
type Store struct {
	entries []*Entry
	params  txparams.Params
	rng     *rand.Rand
	now     func() time.Time
}

// New creates a store bound to the given transmission parameters. now
// defaults to time.Now; tests may override it for determinism.
func New(params txparams.Params) *Store {
	return &Store{
		params: params,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
	}
}

// SetClock overrides the store's notion of "now", for deterministic
// retransmission tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Enqueue registers a pending request: a clone of msg
// is tracked; CON messages get ACK_TIMEOUT-based retransmission, NON
// messages with a non-nil handler get a single MAX_TRANSMIT_WAIT
// deadline. A NON message with no handler is fire-and-forget and is not
// tracked (nil is returned).
func (s *Store) Enqueue(msg *message.Message, peer *net.UDPAddr, multicast bool, handler ResponseHandler, ctx interface{}) *Entry {
	confirmable := msg.IsConfirmable()
	if !confirmable && handler == nil {
		return nil
	}

	e := &Entry{
		Message:     msg.Clone(),
		Peer:        peer,
		Confirmable: confirmable,
		Multicast:   multicast,
		Handler:     handler,
		Context:     ctx,
	}

	now := s.now()
	if confirmable {
		e.retransmitsRemaining = s.params.MaxRetransmit
		e.timeout = s.params.InitialTimeout(s.rng)
		e.deadline = now.Add(e.timeout)
	} else {
		e.deadline = now.Add(s.params.MaxTransmitWait())
	}

	s.entries = append(s.entries, e)
	return e
}

// Dequeue removes e from the store, reporting whether it was still
// present. Safe to call on an entry already removed.
func (s *Store) Dequeue(e *Entry) bool {
	for i, cur := range s.entries {
		if cur == e {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

// MarkAcknowledged handles an empty-ACK match: if the entry has no
// response handler it is done (dequeued);
// otherwise it keeps waiting for a separate response, now bounded by
// MAX_TRANSMIT_WAIT rather than the CON retransmission schedule.
func (s *Store) MarkAcknowledged(e *Entry) {
	e.Acked = true
	if e.Handler == nil {
		s.Dequeue(e)
		return
	}
	e.deadline = s.now().Add(s.params.MaxTransmitWait())
}

// FindByMessageID matches an ACK/RST to its pending request: destination
// address/port equal the peer (or the original send was multicast), and
// message IDs match.
func (s *Store) FindByMessageID(id uint16, peer *net.UDPAddr) (*Entry, bool) {
	for _, e := range s.entries {
		if e.Message.ID == id && peerMatches(e, peer) {
			return e, true
		}
	}
	return nil, false
}

// FindByToken matches a separate (CON/NON) response to its pending
// request by token equality.
func (s *Store) FindByToken(token []byte, peer *net.UDPAddr) (*Entry, bool) {
	for _, e := range s.entries {
		if tokenEqual(e.Message.Token, token) && peerMatches(e, peer) {
			return e, true
		}
	}
	return nil, false
}

func peerMatches(e *Entry, peer *net.UDPAddr) bool {
	if e.Multicast {
		return true
	}
	return e.Peer != nil && peer != nil && e.Peer.IP.Equal(peer.IP) && e.Peer.Port == peer.Port
}

func tokenEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// resettable is satisfied by the block-wise client-side state the
// endpoint package attaches to Entry.BlockState. Finalize uses it to
// clear the assembly buffer and mark the block-wise session inactive on
// any abort, RST, timeout, or error, uniformly across every finalize
// path (timeout, abort, clear, or a normal terminal response) without
// the store needing to know about block-wise semantics itself.
type resettable interface{ Reset() }

// Finalize removes e and invokes its handler exactly once, even across
// repeated calls on the same entry: a second Finalize on an entry
// already removed is a no-op. Safe to call with a nil handler.
func (s *Store) Finalize(e *Entry, res result.Result, resp *message.Message) {
	if !s.Dequeue(e) {
		return
	}
	if r, ok := e.BlockState.(resettable); ok {
		r.Reset()
	}
	if e.Handler != nil {
		e.Handler(res, resp, e.Peer)
	}
}

// AbortMatching finalizes every entry whose Context matches ctx, with
// result.Abort. Go function values aren't comparable, so the
// caller-supplied context (rather than the handler itself) is the
// identity used for matching; callers that need per-handler granularity
// pass a context unique to that handler.
func (s *Store) AbortMatching(ctx interface{}) {
	for _, e := range s.snapshot() {
		if e.Context == ctx {
			s.Finalize(e, result.Abort, nil)
		}
	}
}

// ClearAll finalizes every pending entry with result.Abort.
func (s *Store) ClearAll() {
	for _, e := range s.snapshot() {
		s.Finalize(e, result.Abort, nil)
	}
}

// ClearBySource finalizes every entry destined for addr with
// result.Abort.
func (s *Store) ClearBySource(addr *net.UDPAddr) {
	for _, e := range s.snapshot() {
		if e.Peer != nil && addr != nil && e.Peer.IP.Equal(addr.IP) && e.Peer.Port == addr.Port {
			s.Finalize(e, result.Abort, nil)
		}
	}
}

// snapshot copies the entry slice so callers may safely mutate the store
// (via Dequeue/Finalize) while iterating.
func (s *Store) snapshot() []*Entry {
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Due handles every entry whose deadline has passed: an unacknowledged
// CON still within its retransmit budget is passed to resend and gets a
// doubled timeout; any other due entry is finalized with
// RESPONSE_TIMEOUT. resend is invoked before the deadline/backoff state
// is advanced so the caller can read the entry's current Message.
func (s *Store) Due(resend func(e *Entry)) {
	now := s.now()
	for _, e := range s.snapshot() {
		if e.deadline.After(now) {
			continue
		}
		if e.Confirmable && e.retransmitsRemaining > 0 && !e.Acked {
			resend(e)
			e.retransmitsRemaining--
			e.timeout *= 2
			e.deadline = now.Add(e.timeout)
			continue
		}
		s.Finalize(e, result.ResponseTimeout, nil)
	}
}

// NextDeadline returns the earliest deadline across all pending entries,
// for the endpoint to schedule its single millisecond-precision timer
// against.
func (s *Store) NextDeadline() (time.Time, bool) {
	if len(s.entries) == 0 {
		return time.Time{}, false
	}
	earliest := s.entries[0].deadline
	for _, e := range s.entries[1:] {
		if e.deadline.Before(earliest) {
			earliest = e.deadline
		}
	}
	return earliest, true
}

// Len reports how many transactions are currently pending.
func (s *Store) Len() int {
	return len(s.entries)
}
