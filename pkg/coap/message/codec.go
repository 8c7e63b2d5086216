package message

import "encoding/binary"

// Encode serializes the message to its wire form. Options must already
// be in non-decreasing order (AppendOption enforces this as they are
// added); Encode does not re-sort.
func (m *Message) Encode() ([]byte, error) {
	if len(m.Token) > maxTokenLength {
		return nil, ErrInvalidArgs
	}
	buf := make([]byte, 0, m.encodedLen())

	buf = append(buf, byte(version1<<6)|byte(m.Type)<<4|byte(len(m.Token)))
	buf = append(buf, byte(m.Code))
	buf = append(buf, byte(m.ID>>8), byte(m.ID))
	buf = append(buf, m.Token...)

	last := uint16(0)
	for _, opt := range m.Options {
		buf = appendOption(buf, opt.Number-last, opt.Value)
		last = opt.Number
	}

	if len(m.Payload) > 0 {
		buf = append(buf, payloadMarker)
		buf = append(buf, m.Payload...)
	}

	if len(buf) > MaxMessageLength {
		return nil, ErrNoBufs
	}
	return buf, nil
}

func appendOption(buf []byte, delta uint16, value []byte) []byte {
	deltaNib, deltaExt := extensionNibble(delta)
	lenNib, lenExt := extensionNibble(uint16(len(value)))

	buf = append(buf, byte(deltaNib<<4)|byte(lenNib))
	buf = append(buf, deltaExt...)
	buf = append(buf, lenExt...)
	buf = append(buf, value...)
	return buf
}

// extensionNibble returns the 4-bit nibble and any extension bytes for a
// delta or length value, per RFC 7252's 13/269 break points.
func extensionNibble(n uint16) (nibble uint8, ext []byte) {
	switch {
	case n < 13:
		return uint8(n), nil
	case n < 269:
		return 13, []byte{byte(n - 13)}
	default:
		v := n - 269
		return 14, []byte{byte(v >> 8), byte(v)}
	}
}

// Parse decodes a wire-format CoAP message. On any structural problem
// it returns ErrParse; the caller is responsible for the
// unicast-CON-gets-RST policy on a parse failure, not this function.
func Parse(buf []byte) (*Message, error) {
	if len(buf) < 4 {
		return nil, ErrParse
	}
	ver := buf[0] >> 6
	if ver != version1 {
		return nil, ErrParse
	}
	m := &Message{
		Type: Type((buf[0] >> 4) & 0x03),
		Code: Code(buf[1]),
		ID:   binary.BigEndian.Uint16(buf[2:4]),
	}
	tkl := int(buf[0] & 0x0F)
	if tkl > maxTokenLength {
		return nil, ErrParse
	}
	offset := 4
	if offset+tkl > len(buf) {
		return nil, ErrParse
	}
	m.Token = append([]byte(nil), buf[offset:offset+tkl]...)
	offset += tkl

	if m.IsEmpty() && (tkl != 0 || offset != len(buf)) {
		return nil, ErrParse
	}

	return parseOptionsAndPayload(m, buf, offset)
}

func parseOptionsAndPayload(m *Message, buf []byte, offset int) (*Message, error) {
	last := uint16(0)
	for offset < len(buf) {
		if buf[offset] == payloadMarker {
			offset++
			if offset >= len(buf) {
				// Payload marker with nothing after it is a format error.
				return nil, ErrParse
			}
			m.Payload = append([]byte(nil), buf[offset:]...)
			m.lastOptionNumber = last
			return m, nil
		}

		h := buf[offset]
		offset++
		deltaNib := h >> 4
		lenNib := h & 0x0F

		if deltaNib == 15 || lenNib == 15 {
			// Reserved; only legal encoding of 0xF/0xF is the payload
			// marker byte itself, already handled above.
			return nil, ErrParse
		}

		delta, n, err := readExtension(deltaNib, buf, offset)
		if err != nil {
			return nil, err
		}
		offset += n

		length, n, err := readExtension(lenNib, buf, offset)
		if err != nil {
			return nil, err
		}
		offset += n

		number := last + delta
		if offset+int(length) > len(buf) {
			return nil, ErrParse
		}
		m.Options = append(m.Options, Option{Number: number, Value: append([]byte(nil), buf[offset:offset+int(length)]...)})
		offset += int(length)
		last = number
	}
	m.lastOptionNumber = last
	return m, nil
}

// readExtension decodes a delta/length nibble's extension bytes, per
// RFC 7252's 13/269 break points.
func readExtension(nibble uint8, buf []byte, offset int) (value uint16, consumed int, err error) {
	switch nibble {
	case 13:
		if offset >= len(buf) {
			return 0, 0, ErrParse
		}
		return 13 + uint16(buf[offset]), 1, nil
	case 14:
		if offset+1 >= len(buf) {
			return 0, 0, ErrParse
		}
		return 269 + binary.BigEndian.Uint16(buf[offset:offset+2]), 2, nil
	default:
		return uint16(nibble), 0, nil
	}
}
