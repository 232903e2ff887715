package log

import (
	"context"
	"log/slog"
)

// SlogAdapter mirrors protocol events into an slog.Logger, one record per
// event at LevelDebug (errors at LevelWarn).
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter wraps logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log emits event.
func (a *SlogAdapter) Log(event Event) {
	level, msg := slog.LevelDebug, "protocol "+event.Category.String()
	if event.Error != nil {
		level = slog.LevelWarn
	}
	ctx := context.Background()
	if !a.logger.Enabled(ctx, level) {
		return
	}
	a.logger.LogAttrs(ctx, level, msg, eventAttrs(event)...)
}

func eventAttrs(e Event) []slog.Attr {
	attrs := make([]slog.Attr, 0, 10)
	add := func(key, val string) {
		if val != "" {
			attrs = append(attrs, slog.String(key, val))
		}
	}

	add("exchange_id", e.ExchangeID)
	add("layer", e.Layer.String())
	add("remote", e.RemoteAddr)
	add("node_id", e.NodeID)

	if f := e.Frame; f != nil {
		attrs = append(attrs, slog.String("direction", e.Direction.String()), slog.Int("frame_size", f.Size))
	}
	if m := e.Message; m != nil {
		attrs = append(attrs,
			slog.String("direction", e.Direction.String()),
			slog.Uint64("msg_id", uint64(m.MessageID)),
			slog.String("code", m.Code),
		)
		add("path", m.Path)
		add("query", m.Query)
		if m.Status != nil {
			add("status", m.Status.String())
		}
		if m.ProcessingTime != nil {
			attrs = append(attrs, slog.Duration("took", *m.ProcessingTime))
		}
	}
	if sc := e.StateChange; sc != nil {
		add("entity", sc.Entity.String())
		add("old_state", sc.OldState)
		add("new_state", sc.NewState)
		add("reason", sc.Reason)
	}
	if er := e.Error; er != nil {
		add("error", er.Message)
		add("op", er.Context)
		if er.Code != nil {
			attrs = append(attrs, slog.Int("code", *er.Code))
		}
	}
	return attrs
}
