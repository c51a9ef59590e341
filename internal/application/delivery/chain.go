package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/trinck-api/internal/domain"
)

// Attempt outcomes passed to the Observer.
const (
	OutcomeSuccess = "success"
	OutcomePending = "pending"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Observer receives one call per channel attempt.
type Observer interface {
	ObserveAttempt(channel, outcome string, elapsed time.Duration)
}

type Options struct {
	// ContinuePastPending keeps walking the chain after a pending result.
	ContinuePastPending bool
}

// Outcome is the chain's verdict plus the full attempt log.
type Outcome struct {
	Delivered bool
	Channel   string
	Result    Result
	Attempts  []domain.ChannelAttempt
}

// Chain tries channels in order until one confirms delivery.
type Chain struct {
	channels []Channel
	timeout  time.Duration
	observer Observer
	now      func() time.Time
}

func NewChain(timeout time.Duration, observer Observer, channels ...Channel) *Chain {
	return &Chain{channels: channels, timeout: timeout, observer: observer, now: time.Now}
}

// Channels returns the channel names in order.
func (c *Chain) Channels() []string {
	names := make([]string, len(c.channels))
	for i, ch := range c.channels {
		names[i] = ch.Name()
	}
	return names
}

func (c *Chain) Run(ctx context.Context, req Request, opts Options) Outcome {
	var out Outcome
	var pending *Outcome

	for _, ch := range c.channels {
		if ctx.Err() != nil {
			break
		}
		start := c.now()
		res, err := c.call(ctx, ch, req)
		elapsed := c.now().Sub(start)

		attempt := domain.ChannelAttempt{
			Channel:     ch.Name(),
			Success:     err == nil && res.Success,
			Confidence:  res.Confidence,
			Detail:      res.Detail,
			ExternalRef: res.ExternalRef,
			At:          start,
			Duration:    elapsed,
		}
		outcome := OutcomeFailure
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			outcome = OutcomeTimeout
			attempt.Detail = "timed out"
		case err != nil:
			outcome = OutcomeError
			attempt.Detail = err.Error()
		case res.Success && res.Confidence == domain.ConfidencePending:
			outcome = OutcomePending
		case res.Success:
			outcome = OutcomeSuccess
		}
		out.Attempts = append(out.Attempts, attempt)
		if c.observer != nil {
			c.observer.ObserveAttempt(ch.Name(), outcome, elapsed)
		}

		switch outcome {
		case OutcomeSuccess:
			out.Delivered = true
			out.Channel = ch.Name()
			out.Result = res
			return out
		case OutcomePending:
			if pending == nil {
				pending = &Outcome{Delivered: true, Channel: ch.Name(), Result: res}
			}
			if !opts.ContinuePastPending {
				out.Delivered, out.Channel, out.Result = true, pending.Channel, pending.Result
				return out
			}
		default:
			slog.Warn("delivery channel failed", "channel", ch.Name(), "outcome", outcome, "detail", attempt.Detail)
		}
	}

	if pending != nil {
		out.Delivered, out.Channel, out.Result = true, pending.Channel, pending.Result
	}
	return out
}

// call runs one channel under its own deadline and turns panics into errors.
func (c *Chain) call(ctx context.Context, ch Channel, req Request) (res Result, err error) {
	cctx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			err = fmt.Errorf("channel %s panicked: %v", ch.Name(), r)
		}
	}()
	res, err = ch.Send(cctx, req)
	if err == nil && cctx.Err() != nil && !res.Success {
		err = cctx.Err()
	}
	return res, err
}
