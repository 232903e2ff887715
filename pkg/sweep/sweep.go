package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/akes-protocol/akes-go/pkg/connection"
	"github.com/akes-protocol/akes-go/pkg/keystore"
	"github.com/akes-protocol/akes-go/pkg/wire"
)

// DefaultParallelism bounds concurrent requests in one round.
const DefaultParallelism = 16

// Errors.
var (
	ErrNoRevoker = errors.New("no revoker configured")
	ErrNoNodes   = errors.New("no nodes to sweep")
)

// Revoker sends one revocation request. *transport.Client implements it.
type Revoker interface {
	Revoke(ctx context.Context, addr string, target keystore.NodeID, material []byte) (wire.Status, error)
}

// Config configures a Sweeper.
type Config struct {
	// Nodes are the node addresses ("host:port").
	Nodes []string

	// Target is the node to revoke.
	Target keystore.NodeID

	// Material is the key material sent in every request.
	Material []byte

	// Rounds is the number of sweeps. Default: 1.
	Rounds int

	// Interval is the period of one round. Zero runs rounds back to back.
	Interval time.Duration

	// InitialBackoff is waited at the start of every round before the
	// random delay.
	InitialBackoff time.Duration

	// Parallelism bounds concurrent requests. Default: DefaultParallelism.
	Parallelism int

	// OnResult is called for every node result as it arrives.
	OnResult func(Result)

	// Logger is used for operational logging. nil disables logging.
	Logger *slog.Logger
}

// Result is the outcome of one request.
type Result struct {
	Round  int
	Node   string
	Status wire.Status
	Err    error
	Took   time.Duration
}

// OK reports whether the node answered SUCCESS.
func (r Result) OK() bool {
	return r.Err == nil && r.Status == wire.StatusSuccess
}

// Round holds the results of one sweep, in node order.
type Round struct {
	Index   int
	Results []Result
}

// Failed returns the results that are not OK.
func (r Round) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// Sweeper runs sweeps.
type Sweeper struct {
	revoker Revoker
	config  Config
	jitter  *connection.Backoff

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Sweeper.
func New(revoker Revoker, config Config) (*Sweeper, error) {
	if revoker == nil {
		return nil, ErrNoRevoker
	}
	if len(config.Nodes) == 0 {
		return nil, ErrNoNodes
	}
	if config.Rounds <= 0 {
		config.Rounds = 1
	}
	if config.Parallelism <= 0 {
		config.Parallelism = DefaultParallelism
	}
	if config.InitialBackoff > config.Interval && config.Interval > 0 {
		return nil, fmt.Errorf("initial backoff %s exceeds interval %s", config.InitialBackoff, config.Interval)
	}
	return &Sweeper{
		revoker: revoker,
		config:  config,
		jitter:  connection.NewBackoffWithConfig(connection.BackoffConfig{Jitter: 1}),
		now:     time.Now,
		sleep:   sleep,
	}, nil
}

// Run performs all rounds and returns their results. It stops early only
// when ctx is done.
func (s *Sweeper) Run(ctx context.Context) ([]Round, error) {
	rounds := make([]Round, 0, s.config.Rounds)
	for i := 0; i < s.config.Rounds; i++ {
		start := s.now()

		if err := s.sleep(ctx, s.config.InitialBackoff); err != nil {
			return rounds, err
		}
		if span := s.config.Interval - s.config.InitialBackoff; span > 0 {
			if err := s.sleep(ctx, s.jitter.Jitter(span)); err != nil {
				return rounds, err
			}
		}

		round := s.sweep(ctx, i)
		rounds = append(rounds, round)
		if s.config.Logger != nil {
			s.config.Logger.Info("sweep round finished", "round", i, "nodes", len(round.Results), "failed", len(round.Failed()))
		}

		if i == s.config.Rounds-1 {
			break
		}
		if remaining := s.config.Interval - s.now().Sub(start); remaining > 0 {
			if err := s.sleep(ctx, remaining); err != nil {
				return rounds, err
			}
		}
	}
	return rounds, ctx.Err()
}

func (s *Sweeper) sweep(ctx context.Context, index int) Round {
	results := make([]Result, len(s.config.Nodes))

	var g errgroup.Group
	g.SetLimit(s.config.Parallelism)
	for i, node := range s.config.Nodes {
		g.Go(func() error {
			start := s.now()
			st, err := s.revoker.Revoke(ctx, node, s.config.Target, s.config.Material)
			res := Result{Round: index, Node: node, Status: st, Err: err, Took: s.now().Sub(start)}
			results[i] = res
			if s.config.OnResult != nil {
				s.config.OnResult(res)
			}
			return nil
		})
	}
	_ = g.Wait()

	return Round{Index: index, Results: results}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
