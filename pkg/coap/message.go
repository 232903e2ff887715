package coap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// MaxTokenLength is the largest token allowed by RFC 7252.
const MaxTokenLength = 8

const payloadMarker = 0xFF

// Codec errors.
var (
	ErrTruncated      = errors.New("message truncated")
	ErrInvalidVersion = errors.New("invalid CoAP version")
	ErrTokenTooLong   = errors.New("token too long")
	ErrInvalidOption  = errors.New("invalid option")
	ErrEmptyPayload   = errors.New("payload marker without payload")
)

// Message is a CoAP message.
type Message struct {
	Type      Type
	Code      Code
	MessageID uint16
	Token     []byte
	Options   []Option
	Payload   []byte
}

// Marshal encodes the message. Options are written in number order; options
// with equal numbers keep their relative order.
func (m *Message) Marshal() ([]byte, error) {
	if len(m.Token) > MaxTokenLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrTokenTooLong, len(m.Token))
	}
	if m.Type > Reset {
		return nil, fmt.Errorf("invalid message type %d", m.Type)
	}

	buf := make([]byte, 4, 4+len(m.Token)+len(m.Payload)+16)
	buf[0] = Version<<6 | byte(m.Type)<<4 | byte(len(m.Token))
	buf[1] = byte(m.Code)
	binary.BigEndian.PutUint16(buf[2:], m.MessageID)
	buf = append(buf, m.Token...)

	opts := slices.Clone(m.Options)
	slices.SortStableFunc(opts, func(a, b Option) int {
		return int(a.ID) - int(b.ID)
	})

	var prev OptionID
	for _, opt := range opts {
		delta := int(opt.ID - prev)
		prev = opt.ID
		if len(opt.Value) > 65535+269 {
			return nil, fmt.Errorf("%w: option %d value too long", ErrInvalidOption, opt.ID)
		}
		dn, dext := nibble(delta)
		ln, lext := nibble(len(opt.Value))
		buf = append(buf, dn<<4|ln)
		buf = append(buf, dext...)
		buf = append(buf, lext...)
		buf = append(buf, opt.Value...)
	}

	if len(m.Payload) > 0 {
		buf = append(buf, payloadMarker)
		buf = append(buf, m.Payload...)
	}
	return buf, nil
}

// nibble returns the 4-bit header value and extension bytes for an option
// delta or length.
func nibble(v int) (byte, []byte) {
	switch {
	case v < 13:
		return byte(v), nil
	case v < 269:
		return 13, []byte{byte(v - 13)}
	default:
		ext := make([]byte, 2)
		binary.BigEndian.PutUint16(ext, uint16(v-269))
		return 14, ext
	}
}

// Parse decodes a CoAP message.
func Parse(data []byte) (*Message, error) {
	if len(data) < 4 {
		return nil, ErrTruncated
	}
	if data[0]>>6 != Version {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, data[0]>>6)
	}
	tkl := int(data[0] & 0x0F)
	if tkl > MaxTokenLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrTokenTooLong, tkl)
	}

	m := &Message{
		Type:      Type(data[0]>>4&0x03),
		Code:      Code(data[1]),
		MessageID: binary.BigEndian.Uint16(data[2:4]),
	}
	rest := data[4:]
	if len(rest) < tkl {
		return nil, ErrTruncated
	}
	if tkl > 0 {
		m.Token = bytes.Clone(rest[:tkl])
	}
	rest = rest[tkl:]

	var id int
	for len(rest) > 0 {
		if rest[0] == payloadMarker {
			if len(rest) == 1 {
				return nil, ErrEmptyPayload
			}
			m.Payload = bytes.Clone(rest[1:])
			return m, nil
		}

		header := rest[0]
		rest = rest[1:]
		delta, n, err := readExtended(header>>4, rest)
		if err != nil {
			return nil, err
		}
		rest = rest[n:]
		length, n, err := readExtended(header&0x0F, rest)
		if err != nil {
			return nil, err
		}
		rest = rest[n:]
		if len(rest) < length {
			return nil, ErrTruncated
		}

		id += delta
		if id > 0xFFFF {
			return nil, fmt.Errorf("%w: number %d", ErrInvalidOption, id)
		}
		m.Options = append(m.Options, Option{ID: OptionID(id), Value: bytes.Clone(rest[:length])})
		rest = rest[length:]
	}
	return m, nil
}

func readExtended(v byte, rest []byte) (int, int, error) {
	switch v {
	case 13:
		if len(rest) < 1 {
			return 0, 0, ErrTruncated
		}
		return int(rest[0]) + 13, 1, nil
	case 14:
		if len(rest) < 2 {
			return 0, 0, ErrTruncated
		}
		return int(binary.BigEndian.Uint16(rest)) + 269, 2, nil
	case 15:
		return 0, 0, fmt.Errorf("%w: reserved nibble", ErrInvalidOption)
	default:
		return int(v), 0, nil
	}
}

// Option returns the first value of option id.
func (m *Message) Option(id OptionID) ([]byte, bool) {
	for _, o := range m.Options {
		if o.ID == id {
			return o.Value, true
		}
	}
	return nil, false
}

// OptionValues returns all values of option id in order.
func (m *Message) OptionValues(id OptionID) [][]byte {
	var out [][]byte
	for _, o := range m.Options {
		if o.ID == id {
			out = append(out, o.Value)
		}
	}
	return out
}

// AddOption appends an option.
func (m *Message) AddOption(id OptionID, value []byte) {
	m.Options = append(m.Options, Option{ID: id, Value: value})
}

// RemoveOption drops every instance of option id.
func (m *Message) RemoveOption(id OptionID) {
	m.Options = slices.DeleteFunc(m.Options, func(o Option) bool { return o.ID == id })
}

// Path returns the Uri-Path segments joined with "/".
func (m *Message) Path() string {
	segs := m.OptionValues(URIPath)
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = string(s)
	}
	return strings.Join(parts, "/")
}

// SetPath replaces the Uri-Path options with the segments of path.
func (m *Message) SetPath(path string) {
	m.RemoveOption(URIPath)
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg != "" {
			m.AddOption(URIPath, []byte(seg))
		}
	}
}

// Queries returns the Uri-Query values.
func (m *Message) Queries() []string {
	vals := m.OptionValues(URIQuery)
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}

// Query returns the value of the first "name=value" Uri-Query option.
func (m *Message) Query(name string) (string, bool) {
	for _, q := range m.Queries() {
		k, v, found := strings.Cut(q, "=")
		if k == name {
			if !found {
				return "", true
			}
			return v, true
		}
	}
	return "", false
}

// AddQuery appends a "name=value" Uri-Query option.
func (m *Message) AddQuery(name, value string) {
	m.AddOption(URIQuery, []byte(name+"="+value))
}

// SetContentFormat sets the Content-Format option.
func (m *Message) SetContentFormat(mt MediaType) {
	m.RemoveOption(ContentFormat)
	m.AddOption(ContentFormat, EncodeUint(uint32(mt)))
}

// ContentFormat returns the Content-Format option.
func (m *Message) ContentFormat() (MediaType, bool) {
	return m.mediaType(ContentFormat)
}

// SetAccept sets the Accept option.
func (m *Message) SetAccept(mt MediaType) {
	m.RemoveOption(Accept)
	m.AddOption(Accept, EncodeUint(uint32(mt)))
}

// Accept returns the Accept option.
func (m *Message) Accept() (MediaType, bool) {
	return m.mediaType(Accept)
}

func (m *Message) mediaType(id OptionID) (MediaType, bool) {
	v, ok := m.Option(id)
	if !ok || len(v) > 2 {
		return 0, false
	}
	return MediaType(DecodeUint(v)), true
}

// EncodeUint returns the minimal big-endian encoding of v used for uint
// option values. Zero encodes as an empty value.
func EncodeUint(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	i := 0
	for i < 4 && b[i] == 0 {
		i++
	}
	return bytes.Clone(b[i:])
}

// DecodeUint decodes a uint option value of up to 4 bytes.
func DecodeUint(b []byte) uint32 {
	var v uint32
	for _, x := range b {
		v = v<<8 | uint32(x)
	}
	return v
}

// String returns a short description for logging.
func (m *Message) String() string {
	return fmt.Sprintf("%s %s mid=%d path=%q payload=%d", m.Type, m.Code, m.MessageID, m.Path(), len(m.Payload))
}
