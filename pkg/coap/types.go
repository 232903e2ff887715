package coap

import "fmt"

// Version is the only CoAP version on the wire.
const Version = 1

// Type is the CoAP message type.
type Type uint8

const (
	// Confirmable requests are retransmitted until acknowledged.
	Confirmable Type = 0

	// NonConfirmable messages are sent once.
	NonConfirmable Type = 1

	// Acknowledgement confirms a confirmable message and may carry a response.
	Acknowledgement Type = 2

	// Reset rejects a message that could not be processed.
	Reset Type = 3
)

// String returns the short type name.
func (t Type) String() string {
	switch t {
	case Confirmable:
		return "CON"
	case NonConfirmable:
		return "NON"
	case Acknowledgement:
		return "ACK"
	case Reset:
		return "RST"
	default:
		return "UNKNOWN"
	}
}

// Code is a CoAP method or response code (class << 5 | detail).
type Code uint8

// Method codes.
const (
	Empty  Code = 0x00
	GET    Code = 0x01
	POST   Code = 0x02
	PUT    Code = 0x03
	DELETE Code = 0x04
)

// Response codes.
const (
	Created             Code = 0x41
	Deleted             Code = 0x42
	Valid               Code = 0x43
	Changed             Code = 0x44
	Content             Code = 0x45
	BadRequest          Code = 0x80
	Unauthorized        Code = 0x81
	BadOption           Code = 0x82
	Forbidden           Code = 0x83
	NotFound            Code = 0x84
	MethodNotAllowed    Code = 0x85
	NotAcceptable       Code = 0x86
	InternalServerError Code = 0xA0
	ServiceUnavailable  Code = 0xA3
)

// Class returns the code class (0 request, 2 success, 4 client error, 5 server error).
func (c Code) Class() uint8 {
	return uint8(c) >> 5
}

// Detail returns the code detail.
func (c Code) Detail() uint8 {
	return uint8(c) & 0x1F
}

// IsRequest reports whether c is a method code.
func (c Code) IsRequest() bool {
	return c.Class() == 0 && c != Empty
}

// IsSuccess reports whether c is a 2.xx response.
func (c Code) IsSuccess() bool {
	return c.Class() == 2
}

// String returns the dotted form, e.g. "2.04".
func (c Code) String() string {
	return fmt.Sprintf("%d.%02d", c.Class(), c.Detail())
}

// OptionID is a CoAP option number.
type OptionID uint16

// Option numbers used by the revocation resource.
const (
	URIHost       OptionID = 3
	URIPort       OptionID = 7
	URIPath       OptionID = 11
	ContentFormat OptionID = 12
	URIQuery      OptionID = 15
	Accept        OptionID = 17
)

// MediaType is a CoAP content format identifier.
type MediaType uint16

// Content formats.
const (
	TextPlain      MediaType = 0
	AppOctetStream MediaType = 42
	AppJSON        MediaType = 50
	AppCBOR        MediaType = 60
)

// String returns the media type name.
func (m MediaType) String() string {
	switch m {
	case TextPlain:
		return "text/plain"
	case AppOctetStream:
		return "application/octet-stream"
	case AppJSON:
		return "application/json"
	case AppCBOR:
		return "application/cbor"
	default:
		return fmt.Sprintf("format-%d", uint16(m))
	}
}

// Option is a single CoAP option.
type Option struct {
	ID    OptionID
	Value []byte
}
