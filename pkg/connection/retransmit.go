package connection

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Transmission errors.
var (
	ErrTimeout = errors.New("no reply after retransmissions")
	ErrClosed  = errors.New("reply channel closed")
)

// State is the state of one confirmable exchange.
type State uint8

const (
	// StateIdle indicates the request has not been sent.
	StateIdle State = iota

	// StateWaiting indicates the request was sent and a reply is pending.
	StateWaiting

	// StateRetransmitting indicates a timeout fired and the request is resent.
	StateRetransmitting

	// StateDone indicates a reply arrived.
	StateDone

	// StateFailed indicates the exchange timed out, failed to send or was
	// canceled.
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateWaiting:
		return "WAITING"
	case StateRetransmitting:
		return "RETRANSMITTING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// SendFunc transmits the request once.
type SendFunc func(ctx context.Context) error

// Transmitter runs confirmable exchanges.
type Transmitter struct {
	// NewBackoff returns the timeout schedule of one exchange. nil selects
	// NewRetransmitBackoff.
	NewBackoff func() *Backoff

	// MaxRetransmit bounds retransmissions. Zero selects MaxRetransmit; a
	// negative value disables retransmission.
	MaxRetransmit int

	// OnStateChange is called on each state change.
	OnStateChange func(oldState, newState State)

	// OnRetransmit is called before each retransmission.
	OnRetransmit func(attempt int, delay time.Duration)
}

// Transmit sends a request with send and waits for the first value on
// replies, retransmitting on timeout. A nil Transmitter uses the defaults.
func Transmit[T any](ctx context.Context, t *Transmitter, send SendFunc, replies <-chan T) (T, error) {
	var zero T
	if t == nil {
		t = &Transmitter{}
	}

	newBackoff := t.NewBackoff
	if newBackoff == nil {
		newBackoff = NewRetransmitBackoff
	}
	maxRetransmit := t.MaxRetransmit
	switch {
	case maxRetransmit == 0:
		maxRetransmit = MaxRetransmit
	case maxRetransmit < 0:
		maxRetransmit = 0
	}

	state := StateIdle
	setState := func(s State) {
		if t.OnStateChange != nil && s != state {
			t.OnStateChange(state, s)
		}
		state = s
	}

	backoff := newBackoff()
	for attempt := 0; ; attempt++ {
		if err := send(ctx); err != nil {
			setState(StateFailed)
			return zero, fmt.Errorf("send: %w", err)
		}
		setState(StateWaiting)

		delay := backoff.Next()
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			setState(StateFailed)
			return zero, ctx.Err()
		case v, ok := <-replies:
			timer.Stop()
			if !ok {
				setState(StateFailed)
				return zero, ErrClosed
			}
			setState(StateDone)
			return v, nil
		case <-timer.C:
		}

		if attempt >= maxRetransmit {
			setState(StateFailed)
			return zero, fmt.Errorf("%w: %d transmissions", ErrTimeout, attempt+1)
		}
		setState(StateRetransmitting)
		if t.OnRetransmit != nil {
			t.OnRetransmit(attempt+1, backoff.Peek())
		}
	}
}
