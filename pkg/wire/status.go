package wire

import (
	"fmt"
	"strconv"
)

// Status is the outcome of a revocation request as reported to the
// requester.
type Status uint8

const (
	// StatusSuccess indicates the target was revoked and the group key replaced.
	StatusSuccess Status = 0

	// StatusAuthFailed indicates the request failed authentication.
	StatusAuthFailed Status = 1

	// StatusReplayRejected indicates the message ID did not advance.
	StatusReplayRejected Status = 2

	// StatusTargetUnknown indicates the target is not a current neighbor.
	StatusTargetUnknown Status = 3

	// StatusMalformedPayload indicates the decrypted command has the wrong layout.
	StatusMalformedPayload Status = 4
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusAuthFailed:
		return "AUTH_FAILED"
	case StatusReplayRejected:
		return "REPLAY_REJECTED"
	case StatusTargetUnknown:
		return "TARGET_UNKNOWN"
	case StatusMalformedPayload:
		return "MALFORMED_PAYLOAD"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// IsError returns true if the status indicates an error.
func (s Status) IsError() bool {
	return s != StatusSuccess
}

// EncodeStatus returns the response plaintext for s.
func EncodeStatus(s Status) []byte {
	return strconv.AppendUint(nil, uint64(s), 10)
}

// DecodeStatus parses a response plaintext.
func DecodeStatus(data []byte) (Status, error) {
	v, err := strconv.ParseUint(string(data), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid status payload %q: %w", data, err)
	}
	return Status(v), nil
}
