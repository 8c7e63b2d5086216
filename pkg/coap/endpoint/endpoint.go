// Package endpoint implements the core CoAP engine: a single
// long-lived object that is simultaneously a client and a server over
// one bound transport, owning the resource table, transaction store,
// response cache and the two block-wise sessions.
//
// Concurrency follows an acceptLoop/stopCh/sync.WaitGroup shutdown
// shape, generalized into a single dispatcher goroutine that serializes
// inbound datagrams, timer fires and caller API calls onto one work
// queue, so engine-invoked callbacks never race the engine's own
// state.
package endpoint

import (
	"crypto/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/junbin-yang/coapd/pkg/coap/blockwise"
	"github.com/junbin-yang/coapd/pkg/coap/message"
	"github.com/junbin-yang/coapd/pkg/coap/resource"
	"github.com/junbin-yang/coapd/pkg/coap/respcache"
	"github.com/junbin-yang/coapd/pkg/coap/transport"
	"github.com/junbin-yang/coapd/pkg/coap/txparams"
	"github.com/junbin-yang/coapd/pkg/coap/txstore"
	"github.com/junbin-yang/coapd/pkg/utils/logger"
)

// InterceptorFunc is the access-control hook run before request
// processing: return false to silently abandon the inbound request.
type InterceptorFunc func(req *message.Message, peer *net.UDPAddr) bool

// Endpoint is the core CoAP engine.
type Endpoint struct {
	transport transport.Transport
	resources *resource.Table
	store     *txstore.Store
	cache     *respcache.Cache
	params    txparams.Params
	maxSZX    uint8

	interceptor InterceptorFunc
	tokenSource func() []byte
	nextMsgID   uint16

	// inbound serves Block1Receiving (reassembling a request this
	// endpoint is serving) and Block2Sending (serving a large response
	// to that request); outbound serves Block1Sending (a large request
	// this endpoint is sending) and Block2Receiving (assembling the
	// large response to it). Only one may be active at a time per
	// instance.
	inbound  *blockwise.Session
	outbound *blockwise.Session

	workCh chan func()
	stopCh chan struct{}
	wg     sync.WaitGroup

	// onDispatcher is true for the duration of a work item or timer
	// fire running on the dispatcher goroutine. A handler invoked from
	// within that work item (resource handler, response handler) may
	// call back into SendMessage/AbortTransaction/resource mutators;
	// runSync consults this flag to run such reentrant calls inline
	// instead of writing to workCh, which the single dispatcher
	// goroutine would never get back around to reading.
	onDispatcher atomic.Bool

	mu      sync.Mutex
	started bool
}

// New builds an Endpoint bound to tr, using params for retransmission
// timing. The block size defaults to the largest SZX (1024 bytes),
// client-tunable via SetMaxBlockSize.
func New(tr transport.Transport, params txparams.Params) *Endpoint {
	return &Endpoint{
		transport:   tr,
		resources:   resource.New(),
		store:       txstore.New(params),
		cache:       respcache.New(),
		params:      params,
		maxSZX:      message.MaxSZX,
		tokenSource: randomToken,
		inbound:     &blockwise.Session{},
		outbound:    &blockwise.Session{},
		workCh:      make(chan func()),
		stopCh:      make(chan struct{}),
	}
}

func randomToken() []byte {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return nil
	}
	return b
}

// Start spins up the reader and dispatcher goroutines. Returns
// ErrAlreadyStarted if called twice.
func (e *Endpoint) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.mu.Unlock()

	e.wg.Add(2)
	go e.readLoop()
	go e.dispatchLoop()
	logger.Infof("coap endpoint started on %v", e.transport.LocalAddr())
	return nil
}

// Stop clears all pending transactions and cached responses, closes
// the transport, and waits for both goroutines to exit. No callback
// fires after Stop returns.
func (e *Endpoint) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	e.started = false
	e.mu.Unlock()

	close(e.stopCh)
	_ = e.transport.Close()
	e.wg.Wait()

	e.store.ClearAll()
	e.cache.Clear()
	logger.Info("coap endpoint stopped")
	return nil
}

// readLoop pulls datagrams off the transport and hands each one to the
// dispatcher as a work item, blocking on backpressure rather than
// dropping.
func (e *Endpoint) readLoop() {
	defer e.wg.Done()
	buf := make([]byte, message.MaxMessageLength)
	for {
		n, src, multicast, err := e.transport.Recv(buf)
		if err != nil {
			if err != transport.ErrClosed {
				logger.Warnf("coap: %v", errors.Wrap(err, "transport recv"))
			}
			return
		}
		data := append([]byte(nil), buf[:n]...)
		select {
		case e.workCh <- func() { e.handleDatagram(data, src, multicast) }:
		case <-e.stopCh:
			return
		}
	}
}

// dispatchLoop is the single serializing goroutine: it drains workCh
// and fires the transaction/cache timer, recomputing the next deadline
// every iteration so any state change (enqueue, dequeue, retransmit) is
// immediately reflected.
func (e *Endpoint) dispatchLoop() {
	defer e.wg.Done()
	for {
		var timerC <-chan time.Time
		var t *time.Timer
		if d, ok := e.nextDeadline(); ok {
			wait := time.Until(d)
			if wait < 0 {
				wait = 0
			}
			t = time.NewTimer(wait)
			timerC = t.C
		}

		select {
		case fn := <-e.workCh:
			if t != nil {
				t.Stop()
			}
			e.onDispatcher.Store(true)
			fn()
			e.onDispatcher.Store(false)
		case <-timerC:
			e.onDispatcher.Store(true)
			e.onTimerFire()
			e.onDispatcher.Store(false)
		case <-e.stopCh:
			if t != nil {
				t.Stop()
			}
			return
		}
	}
}

func (e *Endpoint) nextDeadline() (time.Time, bool) {
	d1, ok1 := e.store.NextDeadline()
	d2, ok2 := e.cache.NextDeadline()
	switch {
	case ok1 && ok2:
		if d1.Before(d2) {
			return d1, true
		}
		return d2, true
	case ok1:
		return d1, true
	case ok2:
		return d2, true
	default:
		return time.Time{}, false
	}
}

// onTimerFire drives retransmission/timeout handling and the cache
// eviction sweep, both off the same single timer.
func (e *Endpoint) onTimerFire() {
	e.store.Due(func(entry *txstore.Entry) {
		e.sendRaw(entry.Message, entry.Peer)
	})
	e.cache.Evict()
}

// sendRaw encodes and sends msg, logging (not propagating) failures;
// transport send is non-blocking best-effort enqueue, not a call the
// caller can fail synchronously on.
func (e *Endpoint) sendRaw(msg *message.Message, peer *net.UDPAddr) {
	buf, err := msg.Encode()
	if err != nil {
		err = errors.Wrapf(err, "encode %v to %v", msg.Code, peer)
		logger.Warnf("coap: %v", err)
		return
	}
	if err := e.transport.Send(buf, peer); err != nil {
		err = errors.Wrapf(err, "send to %v", peer)
		logger.Warnf("coap: %v", err)
	}
}

// runSync enqueues fn on the dispatcher and blocks until it has run,
// giving callers of the public API (SendMessage, AddResource, ...)
// the same single-goroutine serialization inbound datagrams get.
func (e *Endpoint) runSync(fn func()) bool {
	if e.onDispatcher.Load() {
		fn()
		return true
	}

	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if !started {
		return false
	}

	done := make(chan struct{})
	select {
	case e.workCh <- func() { fn(); close(done) }:
	case <-e.stopCh:
		return false
	}
	<-done
	return true
}

func (e *Endpoint) nextMessageIDLocked() uint16 {
	e.nextMsgID++
	if e.nextMsgID == 0 {
		e.nextMsgID = 1
	}
	return e.nextMsgID
}
