// Package commands implements the akes-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/akes-protocol/akes-go/pkg/log"
)

const timeLayout = "2006-01-02T15:04:05.000000Z"

// RunView prints the events of path that match filter, one block per event.
func RunView(path string, filter log.Filter, w io.Writer) error {
	return each(path, filter, func(ev log.Event) error {
		formatEvent(w, ev)
		return nil
	})
}

// each calls fn for every event of path matching filter.
func each(path string, filter log.Filter, fn func(log.Event) error) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for ev, err := range reader.All() {
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

type detail struct{ key, value string }

func formatEvent(w io.Writer, ev log.Event) {
	label, details := describe(ev)

	fmt.Fprintf(w, "%s [x:%s] %-3s %s %s", ev.Timestamp.UTC().Format(timeLayout), shortID(ev.ExchangeID), ev.Direction, ev.Layer, label)
	if ev.RemoteAddr != "" {
		fmt.Fprint(w, " "+ev.RemoteAddr)
	}
	fmt.Fprintln(w)
	for _, d := range details {
		if d.key == "" {
			fmt.Fprintf(w, "  %s\n", d.value)
		} else {
			fmt.Fprintf(w, "  %s: %s\n", d.key, d.value)
		}
	}
	fmt.Fprintln(w)
}

// describe returns the headline label and the detail lines of ev.
func describe(ev log.Event) (string, []detail) {
	var ds []detail
	add := func(key, value string) {
		if value != "" {
			ds = append(ds, detail{key, value})
		}
	}

	switch {
	case ev.Frame != nil:
		f := ev.Frame
		add("Size", fmt.Sprintf("%d bytes", f.Size))
		if len(f.Data) > 0 {
			data := hex.EncodeToString(f.Data)
			if f.Truncated {
				data += " (truncated)"
			}
			add("Data", data)
		}
		return "Frame", ds

	case ev.Message != nil:
		m := ev.Message
		add("MessageID", strconv.Itoa(int(m.MessageID)))
		add("Path", m.Path)
		add("Query", m.Query)
		if m.Status != nil {
			add("Status", fmt.Sprintf("%s (%d)", m.Status, uint8(*m.Status)))
		}
		if m.PayloadSize > 0 {
			add("Payload", fmt.Sprintf("%d bytes", m.PayloadSize))
		}
		if m.ProcessingTime != nil {
			add("Duration", shortDuration(*m.ProcessingTime))
		}
		return messageType(m.Type) + " " + m.Code, ds

	case ev.StateChange != nil:
		sc := ev.StateChange
		add("Entity", sc.Entity.String())
		if sc.OldState != "" {
			add("", sc.OldState+" -> "+sc.NewState)
		} else {
			add("", "-> "+sc.NewState)
		}
		add("Reason", sc.Reason)
		return "State", ds

	case ev.Error != nil:
		e := ev.Error
		add("Layer", e.Layer.String())
		add("Message", e.Message)
		if e.Code != nil {
			add("Code", strconv.Itoa(*e.Code))
		}
		add("Context", e.Context)
		return "Error", ds
	}
	return "Unknown", nil
}

func shortID(id string) string {
	switch {
	case id == "":
		return "-"
	case len(id) > 8:
		return id[:8]
	default:
		return id
	}
}

var messageTypes = [...]string{"CON", "NON", "ACK", "RST"}

func messageType(t uint8) string {
	if int(t) < len(messageTypes) {
		return messageTypes[t]
	}
	return "?"
}

func shortDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 1, 64) + "ms"
	default:
		return d.Round(time.Millisecond).String()
	}
}
