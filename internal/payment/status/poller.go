package status

import (
	"context"
	"time"

	"github.com/smallbiznis/gamestore/internal/observability/metrics"
	purchasedomain "github.com/smallbiznis/gamestore/internal/purchase/domain"
)

type State string

const (
	StateLoading   State = "loading"
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

func stateOf(status purchasedomain.PaymentStatus) State {
	switch status {
	case purchasedomain.StatusCompleted:
		return StateCompleted
	case purchasedomain.StatusFailed:
		return StateFailed
	default:
		return StatePending
	}
}

const (
	DefaultPollInterval    = 3 * time.Second
	DefaultPollMaxAttempts = 10
)

// Result is where a poll run stopped. Exhausted means the attempt budget ran
// out while the purchase was still pending.
type Result struct {
	State     State
	Attempts  int
	Exhausted bool
	Err       error
}

// Poller fetches the status once, then re-checks on a fixed interval up to
// MaxAttempts times until a terminal status is seen.
type Poller struct {
	Checker      Checker
	Interval     time.Duration
	MaxAttempts  int
	OnTransition func(from, to State)
	Metrics      *metrics.GatewayMetrics
}

func (p *Poller) Run(ctx context.Context, q Query) Result {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultPollMaxAttempts
	}

	res := Result{State: StateLoading}
	check := func() {
		res.Attempts++
		status, err := p.Checker.Status(ctx, q)
		if err != nil {
			res.Err = err
			return
		}
		res.Err = nil
		p.move(&res, stateOf(status))
	}

	check()
	if res.State.Terminal() {
		p.observe(res)
		return res
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()
	for polls := 0; polls < maxAttempts; polls++ {
		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res
		case <-timer.C:
		}
		check()
		if res.State.Terminal() {
			p.observe(res)
			return res
		}
		timer.Reset(interval)
	}

	if res.State == StateLoading {
		p.move(&res, StatePending)
	}
	res.Exhausted = true
	p.observe(res)
	return res
}

func (p *Poller) move(res *Result, next State) {
	if res.State == next {
		return
	}
	prev := res.State
	res.State = next
	if p.OnTransition != nil {
		p.OnTransition(prev, next)
	}
}

func (p *Poller) observe(res Result) {
	p.Metrics.ObservePoll(string(res.State), res.Attempts)
}
