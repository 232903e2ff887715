package connection

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff()

		expected := []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			32 * time.Second,
			60 * time.Second,
			60 * time.Second, // Should stay at max
		}

		for i, exp := range expected {
			base := b.Current()
			_ = b.Next()

			if base < exp-time.Millisecond || base > exp+time.Millisecond {
				t.Errorf("Attempt %d: base = %v, want %v", i, base, exp)
			}
		}
	})

	t.Run("Jitter", func(t *testing.T) {
		b := NewBackoff()

		for i := 0; i < 10; i++ {
			s := b.Peek()
			if s < 1*time.Second || s > time.Duration(float64(1*time.Second)*1.25)+time.Millisecond {
				t.Errorf("Sample %d: %v out of expected range [1s, 1.25s]", i, s)
			}
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff()
		for i := 0; i < 5; i++ {
			b.Next()
		}
		if b.Attempts() != 5 {
			t.Errorf("Attempts = %d, want 5", b.Attempts())
		}

		b.Reset()
		if b.Current() != InitialBackoff {
			t.Errorf("after Reset: Current = %v, want %v", b.Current(), InitialBackoff)
		}
		if b.Attempts() != 0 {
			t.Errorf("after Reset: Attempts = %d, want 0", b.Attempts())
		}
	})

	t.Run("CustomConfig", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{
			Initial:    100 * time.Millisecond,
			Max:        500 * time.Millisecond,
			Multiplier: 3,
			Jitter:     0,
		})

		want := []time.Duration{100, 300, 500, 500}
		for i, w := range want {
			if got := b.Next(); got != w*time.Millisecond {
				t.Errorf("Next %d = %v, want %v", i, got, w*time.Millisecond)
			}
		}
	})
}

func TestRetransmitBackoff(t *testing.T) {
	for run := 0; run < 10; run++ {
		b := NewRetransmitBackoff()

		first := b.Next()
		if first < AckTimeout || first > time.Duration(float64(AckTimeout)*AckRandomFactor) {
			t.Fatalf("initial timeout %v outside [%v, %v]", first, AckTimeout, time.Duration(float64(AckTimeout)*AckRandomFactor))
		}

		// The random factor is drawn once; later timeouts double exactly.
		prev := first
		for i := 1; i <= MaxRetransmit; i++ {
			next := b.Next()
			if diff := next - 2*prev; diff < -time.Microsecond || diff > time.Microsecond {
				t.Errorf("timeout %d = %v, want double of %v", i, next, prev)
			}
			prev = next
		}
	}
}

func TestRetransmitSequence(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{Initial: AckTimeout, Max: AckTimeout << MaxRetransmit, Multiplier: 2})

	for i, exp := range RetransmitSequence() {
		if got := b.Next(); got != exp {
			t.Errorf("step %d = %v, want %v", i, got, exp)
		}
	}
}

func fastTransmitter(max int) *Transmitter {
	return &Transmitter{
		MaxRetransmit: max,
		NewBackoff: func() *Backoff {
			return NewBackoffWithConfig(BackoffConfig{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond})
		},
	}
}

func TestTransmit(t *testing.T) {
	t.Run("ImmediateReply", func(t *testing.T) {
		replies := make(chan string, 1)
		var sends atomic.Int32

		got, err := Transmit(context.Background(), fastTransmitter(0), func(context.Context) error {
			sends.Add(1)
			replies <- "ack"
			return nil
		}, replies)
		if err != nil {
			t.Fatalf("Transmit: %v", err)
		}
		if got != "ack" {
			t.Errorf("reply = %q, want ack", got)
		}
		if sends.Load() != 1 {
			t.Errorf("sends = %d, want 1", sends.Load())
		}
	})

	t.Run("ReplyAfterRetransmit", func(t *testing.T) {
		replies := make(chan int, 1)
		var sends atomic.Int32
		var retransmits []int

		tr := fastTransmitter(0)
		tr.OnRetransmit = func(attempt int, _ time.Duration) {
			retransmits = append(retransmits, attempt)
		}

		got, err := Transmit(context.Background(), tr, func(context.Context) error {
			if sends.Add(1) == 3 {
				replies <- 42
			}
			return nil
		}, replies)
		if err != nil {
			t.Fatalf("Transmit: %v", err)
		}
		if got != 42 {
			t.Errorf("reply = %d, want 42", got)
		}
		if len(retransmits) != 2 || retransmits[0] != 1 || retransmits[1] != 2 {
			t.Errorf("retransmits = %v, want [1 2]", retransmits)
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		var sends atomic.Int32
		var states []State

		tr := fastTransmitter(2)
		tr.OnStateChange = func(_, newState State) { states = append(states, newState) }

		_, err := Transmit(context.Background(), tr, func(context.Context) error {
			sends.Add(1)
			return nil
		}, make(chan struct{}))
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("err = %v, want ErrTimeout", err)
		}
		if sends.Load() != 3 {
			t.Errorf("sends = %d, want 3", sends.Load())
		}
		if states[len(states)-1] != StateFailed {
			t.Errorf("final state = %v, want FAILED", states[len(states)-1])
		}
	})

	t.Run("NoRetransmit", func(t *testing.T) {
		var sends atomic.Int32
		_, err := Transmit(context.Background(), fastTransmitter(-1), func(context.Context) error {
			sends.Add(1)
			return nil
		}, make(chan struct{}))
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("err = %v, want ErrTimeout", err)
		}
		if sends.Load() != 1 {
			t.Errorf("sends = %d, want 1", sends.Load())
		}
	})

	t.Run("SendError", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := Transmit(context.Background(), fastTransmitter(0), func(context.Context) error {
			return boom
		}, make(chan struct{}))
		if !errors.Is(err, boom) {
			t.Errorf("err = %v, want boom", err)
		}
	})

	t.Run("Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Transmit(ctx, nil, func(context.Context) error { return nil }, make(chan struct{}))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})

	t.Run("ClosedReplies", func(t *testing.T) {
		replies := make(chan struct{})
		close(replies)
		_, err := Transmit(context.Background(), fastTransmitter(0), func(context.Context) error { return nil }, replies)
		if !errors.Is(err, ErrClosed) {
			t.Errorf("err = %v, want ErrClosed", err)
		}
	})
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "IDLE"},
		{StateWaiting, "WAITING"},
		{StateRetransmitting, "RETRANSMITTING"},
		{StateDone, "DONE"},
		{StateFailed, "FAILED"},
		{State(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
