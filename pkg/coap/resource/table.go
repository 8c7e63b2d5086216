// Package resource implements the URI-path dispatch table: a
// linearly-scanned set of (path, handler) bindings with an optional
// default handler and per-resource block-wise hooks.
package resource

import (
	"net"

	"github.com/junbin-yang/coapd/pkg/coap/message"
)

// Handler processes a fully-assembled request and is responsible for
// sending its own response via the caller-supplied Responder; resource
// handlers do not return errors to the wire.
type Handler func(req *message.Message, peer *net.UDPAddr, respond Responder)

// Responder lets a Handler send a response for the request it was given.
type Responder func(resp *message.Message) error

// BlockReceiveHook feeds each block of a block-wise request payload to a
// resource as it arrives, with its byte offset (server-side Block1).
type BlockReceiveHook func(buf []byte, offset int, more bool, totalSize int)

// BlockTransmitHook supplies the full body of a large response for
// server-side Block2; it is called once per exchange and the body is
// then served in block-sized slices.
type BlockTransmitHook func() (body []byte)

// Entry is a single resource binding.
type Entry struct {
	URIPath      string
	Handler      Handler
	ReceiveHook  BlockReceiveHook
	TransmitHook BlockTransmitHook
}

// Table is the resource dispatch table.
type Table struct {
	entries []*Entry
	dflt    Handler
}

// New creates an empty resource table.
func New() *Table {
	return &Table{}
}

// Add appends a new binding; insertion order determines scan order.
func (t *Table) Add(uriPath string, handler Handler, receive BlockReceiveHook, transmit BlockTransmitHook) *Entry {
	e := &Entry{URIPath: uriPath, Handler: handler, ReceiveHook: receive, TransmitHook: transmit}
	t.entries = append(t.entries, e)
	return e
}

// Remove detaches the binding for uriPath, if present, without
// disturbing the relative order of the remaining entries.
func (t *Table) Remove(uriPath string) {
	for i, e := range t.entries {
		if e.URIPath == uriPath {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

// SetDefaultHandler installs the fallback invoked when no resource
// matches a unicast request.
func (t *Table) SetDefaultHandler(h Handler) {
	t.dflt = h
}

// Find performs an exact, case-sensitive linear scan.
func (t *Table) Find(uriPath string) (*Entry, bool) {
	for _, e := range t.entries {
		if e.URIPath == uriPath {
			return e, true
		}
	}
	return nil, false
}

// Default returns the fallback handler, if one is set.
func (t *Table) Default() (Handler, bool) {
	return t.dflt, t.dflt != nil
}
