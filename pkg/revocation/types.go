package revocation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/akes-protocol/akes-go/pkg/wire"
)

// Engine errors.
var (
	ErrHalted     = errors.New("revocation service halted")
	ErrNonceReuse = errors.New("reply nonce equals request nonce")
	ErrNoStore    = errors.New("no key store configured")
)

// State is a revocation state machine state.
type State uint8

const (
	StateReceived State = iota
	StateDecrypted
	StateValidated
	StateApplied
	StateResponding
	StateDone
	StateAuthFailed
	StateReplayRejected
	StateTargetUnknown
	StateMalformed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateDecrypted:
		return "DECRYPTED"
	case StateValidated:
		return "VALIDATED"
	case StateApplied:
		return "APPLIED"
	case StateResponding:
		return "RESPONDING"
	case StateDone:
		return "DONE"
	case StateAuthFailed:
		return "AUTH_FAILED"
	case StateReplayRejected:
		return "REPLAY_REJECTED"
	case StateTargetUnknown:
		return "TARGET_UNKNOWN"
	case StateMalformed:
		return "MALFORMED_PAYLOAD"
	default:
		return "UNKNOWN"
	}
}

// status maps a terminal outcome state to its wire status.
func (s State) status() wire.Status {
	switch s {
	case StateAuthFailed:
		return wire.StatusAuthFailed
	case StateReplayRejected:
		return wire.StatusReplayRejected
	case StateTargetUnknown:
		return wire.StatusTargetUnknown
	case StateMalformed:
		return wire.StatusMalformedPayload
	default:
		return wire.StatusSuccess
	}
}

// KeyDerivation selects how the new group key is derived from the command's
// key material.
type KeyDerivation uint8

const (
	// KeyTruncate uses the first 16 bytes of the material.
	KeyTruncate KeyDerivation = iota

	// KeyHKDF expands the material with HKDF-SHA256.
	KeyHKDF
)

// String returns the configuration name.
func (k KeyDerivation) String() string {
	switch k {
	case KeyTruncate:
		return "truncate"
	case KeyHKDF:
		return "hkdf"
	default:
		return "unknown"
	}
}

// ParseKeyDerivation parses a configuration name.
func ParseKeyDerivation(s string) (KeyDerivation, error) {
	switch strings.ToLower(s) {
	case "", "truncate":
		return KeyTruncate, nil
	case "hkdf":
		return KeyHKDF, nil
	default:
		return 0, fmt.Errorf("unknown key derivation %q", s)
	}
}

// AADMode selects the associated data bound into request and response tags.
type AADMode uint8

const (
	// AADNone authenticates no associated data.
	AADNone AADMode = iota

	// AADContext binds the CoAP resource path and request method.
	AADContext
)

// String returns the configuration name.
func (m AADMode) String() string {
	switch m {
	case AADNone:
		return "none"
	case AADContext:
		return "context"
	default:
		return "unknown"
	}
}

// ParseAADMode parses a configuration name.
func ParseAADMode(s string) (AADMode, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return AADNone, nil
	case "context":
		return AADContext, nil
	default:
		return 0, fmt.Errorf("unknown aad mode %q", s)
	}
}

// Reply carries the message ID and type that determine the response nonce.
type Reply struct {
	MessageID uint32
	Type      uint8
}

// CoAP message types as they enter nonce derivation.
const (
	typeConfirmable    = 0
	typeAcknowledgment = 2
	typeReset          = 3
)

// ReplyTo returns the nonce input of the response to a request with the
// given message ID and type. A response to a CON request is sealed as its
// piggybacked ACK. A response to a NON request is sealed with the request's
// ID and the reset type, which no sealed request carries, whatever ID the
// NON response itself travels with.
func ReplyTo(id uint32, typ uint8) Reply {
	if typ == typeConfirmable {
		return Reply{MessageID: id, Type: typeAcknowledgment}
	}
	return Reply{MessageID: id, Type: typeReset}
}

// Request is one inbound revocation request.
type Request struct {
	// ExchangeID correlates protocol log events.
	ExchangeID string

	// Peer is the requester identity attributed by the transport.
	Peer string

	// MessageID and Type determine the request nonce.
	MessageID uint32
	Type      uint8

	// Payload is ciphertext followed by the tag.
	Payload []byte

	// Reply is the metadata of the response the transport will send.
	Reply Reply

	// Path and Code are bound into the tag when AADContext is configured.
	Path string
	Code uint8
}

// Response is the sealed answer to a Request.
type Response struct {
	Status    wire.Status
	MessageID uint32
	Type      uint8

	// Payload is the sealed status code.
	Payload []byte
}
