package log

import "time"

// Filter selects events. Zero-valued fields match everything.
type Filter struct {
	ExchangeID string
	RemoteAddr string
	Direction  *Direction
	Layer      *Layer
	Category   *Category

	// Entity matches state change events of one entity.
	Entity *StateEntity

	// TimeStart is inclusive, TimeEnd exclusive.
	TimeStart *time.Time
	TimeEnd   *time.Time
}

// Match reports whether event satisfies every set criterion.
func (f *Filter) Match(event Event) bool {
	switch {
	case f.ExchangeID != "" && f.ExchangeID != event.ExchangeID:
	case f.RemoteAddr != "" && f.RemoteAddr != event.RemoteAddr:
	case f.Direction != nil && *f.Direction != event.Direction:
	case f.Layer != nil && *f.Layer != event.Layer:
	case f.Category != nil && *f.Category != event.Category:
	case f.Entity != nil && (event.StateChange == nil || event.StateChange.Entity != *f.Entity):
	case f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart):
	case f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd):
	default:
		return true
	}
	return false
}
