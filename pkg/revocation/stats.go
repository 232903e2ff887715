package revocation

import (
	"sync/atomic"

	"github.com/akes-protocol/akes-go/pkg/wire"
)

// Stats is a snapshot of the engine's request counters.
type Stats struct {
	Received         uint64 `json:"received"`
	Success          uint64 `json:"success"`
	AuthFailed       uint64 `json:"auth_failed"`
	ReplayRejected   uint64 `json:"replay_rejected"`
	TargetUnknown    uint64 `json:"target_unknown"`
	MalformedPayload uint64 `json:"malformed_payload"`
}

// Map returns the counters keyed by status name, plus "RECEIVED".
func (s Stats) Map() map[string]uint64 {
	return map[string]uint64{
		"RECEIVED":                          s.Received,
		wire.StatusSuccess.String():          s.Success,
		wire.StatusAuthFailed.String():       s.AuthFailed,
		wire.StatusReplayRejected.String():   s.ReplayRejected,
		wire.StatusTargetUnknown.String():    s.TargetUnknown,
		wire.StatusMalformedPayload.String(): s.MalformedPayload,
	}
}

type counters struct {
	received       atomic.Uint64
	success        atomic.Uint64
	authFailed     atomic.Uint64
	replayRejected atomic.Uint64
	targetUnknown  atomic.Uint64
	malformed      atomic.Uint64
}

func (c *counters) count(s wire.Status) {
	switch s {
	case wire.StatusSuccess:
		c.success.Add(1)
	case wire.StatusAuthFailed:
		c.authFailed.Add(1)
	case wire.StatusReplayRejected:
		c.replayRejected.Add(1)
	case wire.StatusTargetUnknown:
		c.targetUnknown.Add(1)
	case wire.StatusMalformedPayload:
		c.malformed.Add(1)
	}
}

func (c *counters) snapshot() Stats {
	return Stats{
		Received:         c.received.Load(),
		Success:          c.success.Load(),
		AuthFailed:       c.authFailed.Load(),
		ReplayRejected:   c.replayRejected.Load(),
		TargetUnknown:    c.targetUnknown.Load(),
		MalformedPayload: c.malformed.Load(),
	}
}
