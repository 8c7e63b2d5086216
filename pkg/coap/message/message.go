// Package message implements the CoAP (RFC 7252) wire format: header,
// token, TLV-style options and payload marker, plus the option iterator
// and block-option helpers needed by the block-wise orchestrator.
package message

import (
	"fmt"
)

// Type is the 2-bit CoAP message type.
type Type uint8

const (
	CON Type = 0
	NON Type = 1
	ACK Type = 2
	RST Type = 3
)

func (t Type) String() string {
	switch t {
	case CON:
		return "CON"
	case NON:
		return "NON"
	case ACK:
		return "ACK"
	case RST:
		return "RST"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Code is the 8-bit class.detail request/response code.
type Code uint8

func NewCode(class, detail uint8) Code {
	return Code((class << 5) | (detail & 0x1F))
}

func (c Code) Class() uint8  { return uint8(c) >> 5 }
func (c Code) Detail() uint8 { return uint8(c) & 0x1F }

func (c Code) String() string {
	return fmt.Sprintf("%d.%02d", c.Class(), c.Detail())
}

// Request codes.
const (
	Empty  Code = 0
	GET    Code = 1
	POST   Code = 2
	PUT    Code = 3
	DELETE Code = 4
)

// Response codes used by the block-wise orchestrator and error taxonomy.
var (
	Created                 = NewCode(2, 1)
	Deleted                 = NewCode(2, 2)
	Valid                   = NewCode(2, 3)
	Changed                 = NewCode(2, 4)
	Content                 = NewCode(2, 5)
	Continue                = NewCode(2, 31)
	BadRequest              = NewCode(4, 0)
	NotFound                = NewCode(4, 4)
	RequestEntityIncomplete = NewCode(4, 8)
	RequestEntityTooLarge   = NewCode(4, 13)
	InternalServerError     = NewCode(5, 0)
)

// IsRequest reports whether c is one of GET/POST/PUT/DELETE.
func (c Code) IsRequest() bool {
	switch c {
	case GET, POST, PUT, DELETE:
		return true
	default:
		return false
	}
}

// IsResponse reports whether c is a response code (class >= 2).
func (c Code) IsResponse() bool {
	return c.Class() >= 2
}

const (
	version1 = 1

	maxTokenLength  = 8
	maxHeaderLength = 512
	maxBlockLength  = 1024
	// MaxMessageLength is the implementation ceiling on a single datagram,
	// a conservative link-MTU-driven bound.
	MaxMessageLength = 1152

	payloadMarker = 0xFF
)

// Message is a parsed or in-progress CoAP message. Zero value is not
// usable; construct with New or Parse.
type Message struct {
	Version Type // unused: Parse checks and Encode writes the version bits directly; kept for symmetry with wire layout
	Type    Type
	Code    Code
	ID      uint16
	Token   []byte
	Options []Option
	Payload []byte

	// lastOptionNumber tracks the highest option number appended so far,
	// enforcing RFC 7252's non-decreasing option-number invariant.
	lastOptionNumber uint16

	// Block options are not cached separately; ReadBlockOption and
	// HasBlockOption scan Options each time.
}

// New creates an empty message of the given type and code, version 1.
func New(t Type, code Code) *Message {
	return &Message{
		Type: t,
		Code: code,
		ID:   0,
	}
}

// IsEmpty reports whether this is an RFC 7252 Empty message (code 0.00).
func (m *Message) IsEmpty() bool {
	return m.Code == Empty
}

// IsRequest reports whether the message code is a request code.
func (m *Message) IsRequest() bool {
	return m.Code.IsRequest()
}

// IsResponse reports whether the message code is a response code.
func (m *Message) IsResponse() bool {
	return m.Code.IsResponse()
}

// IsConfirmable reports whether the message type is CON.
func (m *Message) IsConfirmable() bool {
	return m.Type == CON
}

// SetToken stamps the message token. Fails if longer than 8 bytes, the
// RFC 7252 token-length limit.
func (m *Message) SetToken(token []byte) error {
	if len(token) > maxTokenLength {
		return ErrInvalidArgs
	}
	m.Token = append([]byte(nil), token...)
	return nil
}

// Clone deep-copies the message, including token, options and payload.
// Used by the transaction store and response cache, whose ownership
// contracts require a byte-identical independent copy for
// retransmission.
func (m *Message) Clone() *Message {
	out := &Message{
		Type:             m.Type,
		Code:             m.Code,
		ID:               m.ID,
		Token:            append([]byte(nil), m.Token...),
		Options:          make([]Option, len(m.Options)),
		Payload:          append([]byte(nil), m.Payload...),
		lastOptionNumber: m.lastOptionNumber,
	}
	for i, opt := range m.Options {
		out.Options[i] = Option{Number: opt.Number, Value: append([]byte(nil), opt.Value...)}
	}
	return out
}
