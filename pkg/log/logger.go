package log

// Logger receives protocol log events.
// Pass nil or NoopLogger to disable logging.
type Logger interface {
	// Log records a protocol event. Implementations must be thread-safe
	// and must not block the caller for long.
	Log(event Event)
}

// NoopLogger discards all events.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// OrNoop returns l, or NoopLogger when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}

// Tee returns a Logger that forwards every event to each non-nil logger in
// order. With no loggers it returns NoopLogger; with one, that logger.
func Tee(loggers ...Logger) Logger {
	var out tee
	for _, l := range loggers {
		if l != nil {
			out = append(out, l)
		}
	}
	switch len(out) {
	case 0:
		return NoopLogger{}
	case 1:
		return out[0]
	default:
		return out
	}
}

type tee []Logger

func (t tee) Log(event Event) {
	for _, l := range t {
		l.Log(event)
	}
}

// MaxFrameData is the most datagram bytes kept in a FrameEvent.
const MaxFrameData = 1024

// NewFrameEvent captures a datagram, truncating it to MaxFrameData bytes.
func NewFrameEvent(data []byte) *FrameEvent {
	ev := &FrameEvent{Size: len(data)}
	if len(data) > MaxFrameData {
		ev.Data = append([]byte(nil), data[:MaxFrameData]...)
		ev.Truncated = true
	} else {
		ev.Data = append([]byte(nil), data...)
	}
	return ev
}

var (
	_ Logger = NoopLogger{}
	_ Logger = tee(nil)
	_ Logger = (*FileLogger)(nil)
	_ Logger = (*SlogAdapter)(nil)
)
