package message

import "sort"

// Option numbers recognized by the endpoint.
const (
	URIHost       uint16 = 3
	Observe       uint16 = 6
	URIPath       uint16 = 11
	ContentFormat uint16 = 12
	MaxAge        uint16 = 14
	URIQuery      uint16 = 15
	Block2        uint16 = 23
	Block1        uint16 = 27
	Size2         uint16 = 28
	ProxyURI      uint16 = 35
	Size1         uint16 = 60
)

// Option is a single (number, value) pair. Length is len(Value).
type Option struct {
	Number uint16
	Value  []byte
}

// AppendOption appends a raw option. number must be >= the number of the
// last appended option (options are carried in non-decreasing order);
// violating that returns ErrInvalidArgs. Overflowing MaxMessageLength
// returns ErrNoBufs instead of silently truncating.
func (m *Message) AppendOption(number uint16, value []byte) error {
	if len(m.Options) > 0 && number < m.lastOptionNumber {
		return ErrInvalidArgs
	}
	if m.encodedLen()+optionEncodedLen(number-m.lastOptionNumber, len(value)) > MaxMessageLength {
		return ErrNoBufs
	}
	m.Options = append(m.Options, Option{Number: number, Value: append([]byte(nil), value...)})
	m.lastOptionNumber = number
	return nil
}

// AppendUintOption encodes value as a big-endian integer with leading
// zero bytes stripped; value 0 encodes as a zero-length option value,
// the minimal form.
func (m *Message) AppendUintOption(number uint16, value uint32) error {
	var buf [4]byte
	buf[0] = byte(value >> 24)
	buf[1] = byte(value >> 16)
	buf[2] = byte(value >> 8)
	buf[3] = byte(value)
	i := 0
	for i < 4 && buf[i] == 0 {
		i++
	}
	return m.AppendOption(number, buf[i:])
}

// AppendStringOption encodes s's bytes as the option value with no
// further transformation; the option length is s's byte length.
func (m *Message) AppendStringOption(number uint16, s string) error {
	return m.AppendOption(number, []byte(s))
}

// AppendURIPathOptions splits path on '/' and emits one URIPath option
// per non-empty segment. A leading '/' does not produce a leading empty
// option; "a//b" produces options "a" and "b" (empty intermediate
// segments are skipped, so no zero-length path segment is ever emitted).
func (m *Message) AppendURIPathOptions(path string) error {
	seg := make([]byte, 0, len(path))
	flush := func() error {
		if len(seg) == 0 {
			return nil
		}
		if err := m.AppendStringOption(URIPath, string(seg)); err != nil {
			return err
		}
		seg = seg[:0]
		return nil
	}
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		seg = append(seg, path[i])
	}
	return flush()
}

// URIPath reconstructs the URI path from the message's URIPath options,
// one per segment, each preceded by '/'. A message with no URIPath
// options yields "", the root.
func (m *Message) URIPath() string {
	out := ""
	for _, opt := range m.Options {
		if opt.Number != URIPath {
			continue
		}
		out += "/" + string(opt.Value)
	}
	return out
}

// optionEncodedLen returns the number of bytes AppendOption would add for
// an option with the given delta and value length, including delta/length
// extension bytes.
func optionEncodedLen(delta uint16, valueLen int) int {
	n := 1 // option header byte
	n += extensionLen(delta)
	n += extensionLen(uint16(valueLen))
	n += valueLen
	return n
}

func extensionLen(n uint16) int {
	switch {
	case n < 13:
		return 0
	case n < 269:
		return 1
	default:
		return 2
	}
}

// encodedLen returns the current encoded size of header+token+options+
// payload (with marker if payload is non-empty), used to enforce
// MaxMessageLength incrementally.
func (m *Message) encodedLen() int {
	n := 4 + len(m.Token)
	last := uint16(0)
	for _, opt := range m.Options {
		n += optionEncodedLen(opt.Number-last, len(opt.Value))
		last = opt.Number
	}
	if len(m.Payload) > 0 {
		n += 1 + len(m.Payload)
	}
	return n
}

// OptionIterator is a lazy, restartable walk over a message's options.
// Because Message already holds fully decoded Option values (rather
// than offsets into a raw buffer), the iterator walks the slice; it
// exists as a named type so callers write a consistent traversal idiom
// instead of inlining `for _, o := range m.Options`.
type OptionIterator struct {
	opts []Option
	pos  int
}

// OptionsIter returns an iterator positioned before the first option.
func (m *Message) OptionsIter() *OptionIterator {
	return &OptionIterator{opts: m.Options}
}

// GetFirst resets the iterator and returns the first option, if any.
func (it *OptionIterator) GetFirst() (Option, bool) {
	it.pos = 0
	return it.GetNext()
}

// GetNext advances and returns the next option, if any.
func (it *OptionIterator) GetNext() (Option, bool) {
	if it.pos >= len(it.opts) {
		return Option{}, false
	}
	o := it.opts[it.pos]
	it.pos++
	return o, true
}

// FindByNumber returns the first remaining option with the given number.
func (it *OptionIterator) FindByNumber(number uint16) (Option, bool) {
	for it.pos < len(it.opts) {
		o := it.opts[it.pos]
		it.pos++
		if o.Number == number {
			return o, true
		}
	}
	return Option{}, false
}

// FindOption returns the first option with the given number anywhere in
// the message, without disturbing a separately held iterator.
func (m *Message) FindOption(number uint16) (Option, bool) {
	for _, o := range m.Options {
		if o.Number == number {
			return o, true
		}
	}
	return Option{}, false
}

// SetOptions replaces the message's option list wholesale, sorting by
// option number first. Used by the block-wise client side, which must
// reuse the previous request's options with a new Block1/Block2 option
// reinserted in the right position rather than append in order.
func (m *Message) SetOptions(opts []Option) {
	sort.SliceStable(opts, func(i, j int) bool { return opts[i].Number < opts[j].Number })
	m.Options = opts
	if len(opts) > 0 {
		m.lastOptionNumber = opts[len(opts)-1].Number
	} else {
		m.lastOptionNumber = 0
	}
}

// GetUintOption decodes the first option with the given number as a
// big-endian unsigned integer, the inverse of AppendUintOption.
func (m *Message) GetUintOption(number uint16) (uint32, bool) {
	opt, ok := m.FindOption(number)
	if !ok || len(opt.Value) > 4 {
		return 0, false
	}
	var v uint32
	for _, b := range opt.Value {
		v = v<<8 | uint32(b)
	}
	return v, true
}

// GetStringOption returns the first option with the given number,
// interpreted as a string.
func (m *Message) GetStringOption(number uint16) (string, bool) {
	opt, ok := m.FindOption(number)
	if !ok {
		return "", false
	}
	return string(opt.Value), true
}

// OptionsExcluding returns a copy of the message's options omitting any
// option with the given number, for rebuilding a follow-up block request.
func (m *Message) OptionsExcluding(number uint16) []Option {
	out := make([]Option, 0, len(m.Options))
	for _, o := range m.Options {
		if o.Number == number {
			continue
		}
		out = append(out, Option{Number: o.Number, Value: append([]byte(nil), o.Value...)})
	}
	return out
}
