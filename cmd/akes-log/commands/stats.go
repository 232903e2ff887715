package commands

import (
	"cmp"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/akes-protocol/akes-go/pkg/log"
	"github.com/akes-protocol/akes-go/pkg/wire"
)

// Stats aggregates a protocol log.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int

	// Exchanges counts events per exchange ID.
	Exchanges map[string]int

	// Statuses counts revocation statuses sent by a node or received by a
	// controller. Peers counts the same responses per remote address.
	Statuses map[wire.Status]int
	Peers    map[string]int

	// UpdatesSent counts outbound frames outside any exchange.
	UpdatesSent int
	Errors      int
	Halted      bool

	TimeRange struct {
		Start time.Time
		End   time.Time
	}
}

// RunStats prints the statistics of path.
func RunStats(path string, w io.Writer) error {
	stats, err := Collect(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

// Collect reads path and aggregates its events.
func Collect(path string) (*Stats, error) {
	s := &Stats{
		EventsByLayer:     map[log.Layer]int{},
		EventsByCategory:  map[log.Category]int{},
		EventsByDirection: map[log.Direction]int{},
		Exchanges:         map[string]int{},
		Statuses:          map[wire.Status]int{},
		Peers:             map[string]int{},
	}
	err := each(path, log.Filter{}, func(ev log.Event) error {
		s.add(ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Stats) add(ev log.Event) {
	s.TotalEvents++
	s.EventsByLayer[ev.Layer]++
	s.EventsByCategory[ev.Category]++
	s.EventsByDirection[ev.Direction]++

	if ts := ev.Timestamp; s.TotalEvents == 1 {
		s.TimeRange.Start, s.TimeRange.End = ts, ts
	} else {
		s.TimeRange.Start = minTime(s.TimeRange.Start, ts)
		s.TimeRange.End = maxTime(s.TimeRange.End, ts)
	}

	if ev.ExchangeID != "" {
		s.Exchanges[ev.ExchangeID]++
	}
	switch {
	case ev.Message != nil:
		if ev.Message.Status != nil && ev.Direction == log.DirectionOut {
			s.Statuses[*ev.Message.Status]++
			s.Peers[ev.RemoteAddr]++
		}
	case ev.Frame != nil:
		if ev.ExchangeID == "" && ev.Direction == log.DirectionOut {
			s.UpdatesSent++
		}
	case ev.StateChange != nil:
		if ev.StateChange.Entity == log.StateEntityService && ev.StateChange.NewState == "HALTED" {
			s.Halted = true
		}
	case ev.Error != nil:
		s.Errors++
	}
}

func minTime(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func printStats(w io.Writer, s *Stats) {
	fmt.Fprint(w, "AKES protocol log\n\n")
	if s.TotalEvents > 0 {
		fmt.Fprintf(w, "From:   %s\nTo:     %s (%s)\n\n",
			s.TimeRange.Start.Format(time.RFC3339),
			s.TimeRange.End.Format(time.RFC3339),
			s.TimeRange.End.Sub(s.TimeRange.Start).Round(time.Second))
	}
	fmt.Fprintf(w, "Events:       %d\nExchanges:    %d\n", s.TotalEvents, len(s.Exchanges))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	section(tw, "By layer", s.EventsByLayer)
	section(tw, "By category", s.EventsByCategory)
	section(tw, "By direction", s.EventsByDirection)
	section(tw, "Revocation responses", s.Statuses)
	if len(s.Peers) > 0 {
		fmt.Fprintf(tw, "\nRequesters: %d\n", len(s.Peers))
		for _, p := range slices.Sorted(maps.Keys(s.Peers)) {
			fmt.Fprintf(tw, "  %s\t%d\n", p, s.Peers[p])
		}
	}
	tw.Flush()

	if s.UpdatesSent > 0 {
		fmt.Fprintf(w, "\nGroup-key UPDATE frames: %d\n", s.UpdatesSent)
	}
	if s.Errors > 0 {
		fmt.Fprintf(w, "\nErrors: %d\n", s.Errors)
	}
	if s.Halted {
		fmt.Fprint(w, "\nService HALTED\n")
	}
}

// section prints the non-zero counts of m in key order.
func section[K interface {
	cmp.Ordered
	fmt.Stringer
}](w io.Writer, title string, m map[K]int) {
	if len(m) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, k := range slices.Sorted(maps.Keys(m)) {
		if m[k] > 0 {
			fmt.Fprintf(w, "  %s:\t%d\n", k, m[k])
		}
	}
}
