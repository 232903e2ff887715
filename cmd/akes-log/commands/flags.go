package commands

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/akes-protocol/akes-go/pkg/log"
)

// FilterOptions are the event filter flags shared by view and export.
type FilterOptions struct {
	ExchangeID string
	Remote     string
	TimeStart  string
	TimeEnd    string
	Layer      string
	Direction  string
	Category   string
	Entity     string
}

// Register binds the options to flags of fs.
func (o *FilterOptions) Register(fs *flag.FlagSet) {
	fs.StringVar(&o.ExchangeID, "exchange", "", "only events of this exchange ID")
	fs.StringVar(&o.Remote, "remote", "", "only events with this remote address")
	fs.StringVar(&o.TimeStart, "time-start", "", "only events at or after this RFC 3339 time")
	fs.StringVar(&o.TimeEnd, "time-end", "", "only events before this RFC 3339 time")
	fs.StringVar(&o.Layer, "layer", "", "transport, coap or engine")
	fs.StringVar(&o.Direction, "direction", "", "in or out")
	fs.StringVar(&o.Category, "category", "", "message, state or error")
	fs.StringVar(&o.Entity, "entity", "", "revocation, service or update")
}

// Filter converts the options to a log.Filter.
func (o FilterOptions) Filter() (log.Filter, error) {
	f := log.Filter{ExchangeID: o.ExchangeID, RemoteAddr: o.Remote}
	var err error
	if f.TimeStart, err = optional(o.TimeStart, parseTime("time-start")); err != nil {
		return f, err
	}
	if f.TimeEnd, err = optional(o.TimeEnd, parseTime("time-end")); err != nil {
		return f, err
	}
	if f.Layer, err = optional(o.Layer, ParseLayer); err != nil {
		return f, err
	}
	if f.Direction, err = optional(o.Direction, ParseDirection); err != nil {
		return f, err
	}
	if f.Category, err = optional(o.Category, ParseCategory); err != nil {
		return f, err
	}
	if f.Entity, err = optional(o.Entity, ParseEntity); err != nil {
		return f, err
	}
	return f, nil
}

// optional parses s, returning nil for an empty string.
func optional[T any](s string, parse func(string) (T, error)) (*T, error) {
	if s == "" {
		return nil, nil
	}
	v, err := parse(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseTime(flagName string) func(string) (time.Time, error) {
	return func(s string) (time.Time, error) {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return t, fmt.Errorf("invalid -%s: %w", flagName, err)
		}
		return t, nil
	}
}

// parseName matches s case-insensitively against the String of each value.
func parseName[T fmt.Stringer](kind, s string, values ...T) (T, error) {
	names := make([]string, len(values))
	for i, v := range values {
		if strings.EqualFold(v.String(), s) {
			return v, nil
		}
		names[i] = strings.ToLower(v.String())
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q (valid: %s)", kind, s, strings.Join(names, ", "))
}

// ParseLayer parses a layer name.
func ParseLayer(s string) (log.Layer, error) {
	return parseName("layer", s, log.LayerTransport, log.LayerCoAP, log.LayerEngine)
}

// ParseDirection parses a direction name.
func ParseDirection(s string) (log.Direction, error) {
	return parseName("direction", s, log.DirectionIn, log.DirectionOut)
}

// ParseCategory parses a category name.
func ParseCategory(s string) (log.Category, error) {
	return parseName("category", s, log.CategoryMessage, log.CategoryState, log.CategoryError)
}

// ParseEntity parses a state entity name.
func ParseEntity(s string) (log.StateEntity, error) {
	return parseName("entity", s, log.StateEntityRevocation, log.StateEntityService, log.StateEntityUpdate)
}
