package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/akes-protocol/akes-go/pkg/wire"
)

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	adapter := NewSlogAdapter(slog.New(handler))

	status := wire.StatusReplayRejected
	adapter.Log(Event{
		Timestamp:  time.Now(),
		ExchangeID: "ex-1",
		Direction:  DirectionOut,
		Layer:      LayerCoAP,
		RemoteAddr: "[::1]:5683",
		Message:    &MessageEvent{Type: 2, MessageID: 2000, Code: "2.04", Status: &status},
	})
	adapter.Log(Event{
		ExchangeID:  "ex-1",
		Layer:       LayerEngine,
		Category:    CategoryState,
		StateChange: &StateChangeEvent{Entity: StateEntityRevocation, OldState: "RECEIVED", NewState: "REPLAY_REJECTED", Reason: "watermark"},
	})

	out := buf.String()
	for _, want := range []string{
		"exchange_id=ex-1",
		"layer=COAP",
		"msg_id=2000",
		"status=REPLAY_REJECTED",
		"remote=[::1]:5683",
		"entity=REVOCATION",
		"new_state=REPLAY_REJECTED",
		"reason=watermark",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSlogAdapterLevels(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	adapter.Log(Event{Layer: LayerTransport, Frame: &FrameEvent{Size: 4}})
	if buf.Len() != 0 {
		t.Errorf("debug event written at info level: %s", buf.String())
	}

	adapter.Log(Event{Layer: LayerEngine, Category: CategoryError, Error: &ErrorEventData{Message: "store corrupted", Context: "commit"}})
	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, `error="store corrupted"`) || !strings.Contains(out, "op=commit") {
		t.Errorf("unexpected error record: %s", out)
	}
}
