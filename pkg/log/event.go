package log

import (
	"time"

	"github.com/akes-protocol/akes-go/pkg/wire"
)

// Event is one protocol log record. Exactly one of Frame, Message,
// StateChange or Error is set. Fields use integer CBOR keys.
type Event struct {
	Timestamp  time.Time `cbor:"1,keyasint"`
	ExchangeID string    `cbor:"2,keyasint"`
	Direction  Direction `cbor:"3,keyasint"`
	Layer      Layer     `cbor:"4,keyasint"`
	Category   Category  `cbor:"5,keyasint"`
	LocalRole  Role      `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer as host:port, or a neighbor ID for UPDATE frames.
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// NodeID is the local node identity, if known.
	NodeID string `cbor:"8,keyasint,omitempty"`

	Frame       *FrameEvent       `cbor:"9,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"10,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"12,keyasint,omitempty"`
}

func name(names []string, i uint8) string {
	if int(i) < len(names) {
		return names[i]
	}
	return "UNKNOWN"
}

// Direction is the flow of a frame or message relative to the local endpoint.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

var directionNames = []string{"IN", "OUT"}

func (d Direction) String() string { return name(directionNames, uint8(d)) }

// Layer is where an event was captured.
type Layer uint8

const (
	// LayerTransport holds raw UDP datagrams.
	LayerTransport Layer = iota
	// LayerCoAP holds decoded CoAP messages.
	LayerCoAP
	// LayerEngine holds revocation state machine transitions.
	LayerEngine
)

var layerNames = []string{"TRANSPORT", "COAP", "ENGINE"}

func (l Layer) String() string { return name(layerNames, uint8(l)) }

// Category classifies an event.
type Category uint8

const (
	CategoryMessage Category = iota
	CategoryState
	CategoryError
)

var categoryNames = []string{"MESSAGE", "STATE", "ERROR"}

func (c Category) String() string { return name(categoryNames, uint8(c)) }

// Role is the local endpoint's part in an exchange.
type Role uint8

const (
	RoleNode Role = iota
	RoleController
)

var roleNames = []string{"NODE", "CONTROLLER"}

func (r Role) String() string { return name(roleNames, uint8(r)) }

// FrameEvent is a raw datagram. Data holds at most MaxFrameData bytes.
type FrameEvent struct {
	Size      int    `cbor:"1,keyasint"`
	Data      []byte `cbor:"2,keyasint,omitempty"`
	Truncated bool   `cbor:"3,keyasint,omitempty"`
}

// MessageEvent is a decoded CoAP message.
type MessageEvent struct {
	// Type is the CoAP type: 0 CON, 1 NON, 2 ACK, 3 RST.
	Type      uint8  `cbor:"1,keyasint"`
	MessageID uint16 `cbor:"2,keyasint"`

	// Code is dotted, e.g. "0.02" or "2.04".
	Code  string `cbor:"3,keyasint"`
	Path  string `cbor:"4,keyasint,omitempty"`
	Query string `cbor:"5,keyasint,omitempty"`

	// Status is set on sealed revocation responses the local side could read.
	Status      *wire.Status `cbor:"6,keyasint,omitempty"`
	PayloadSize int          `cbor:"7,keyasint,omitempty"`

	// ProcessingTime is set on responses: receipt to send on the node,
	// first send to reply on the controller.
	ProcessingTime *time.Duration `cbor:"8,keyasint,omitempty"`
}

// StateChangeEvent is a state machine or service lifecycle transition.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity is the subject of a StateChangeEvent.
type StateEntity uint8

const (
	// StateEntityRevocation is one revocation exchange.
	StateEntityRevocation StateEntity = iota
	// StateEntityService is the node's revocation service as a whole.
	StateEntityService
	// StateEntityUpdate is a group-key UPDATE fan-out.
	StateEntityUpdate
)

var entityNames = []string{"REVOCATION", "SERVICE", "UPDATE"}

func (s StateEntity) String() string { return name(entityNames, uint8(s)) }

// ErrorEventData is a failure at any layer. Context names the operation.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
	Code    *int   `cbor:"3,keyasint,omitempty"`
	Context string `cbor:"4,keyasint,omitempty"`
}
