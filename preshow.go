package lightshow

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

// DefaultPreshowPollInterval is how often the preshow checks for a play now
// request.
const DefaultPreshowPollInterval = 100 * time.Millisecond

// Preshow switches every light on or off for a while before a song starts.
type Preshow struct {
	Transitions []Transition
	Out         Output
	Signal      PlayNowSignal // optional
	Logger      *slog.Logger

	// PollInterval defaults to DefaultPreshowPollInterval.
	PollInterval time.Duration
}

// ErrPreshowInterrupted is returned by Preshow.Run when a play now request
// ends the preshow early.
var ErrPreshowInterrupted = errors.New("preshow interrupted by play now request")

// Run plays every transition in order. It returns ErrPreshowInterrupted if a
// play now request arrives, or the context error if the context is
// canceled.
func (p *Preshow) Run(ctx context.Context) error {
	interval := p.PollInterval
	if interval <= 0 {
		interval = DefaultPreshowPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i, t := range p.Transitions {
		p.Logger.Debug(
			"preshow transition",
			"index", i,
			"state", t.State,
			"duration", time.Duration(t.Duration))

		var err error
		if t.State == TransitionOn {
			err = p.Out.AllOn()
		} else {
			err = p.Out.AllOff()
		}
		if err != nil {
			return errors.Wrapf(err, "preshow transition %d", i)
		}

		timer := time.NewTimer(time.Duration(t.Duration))

	wait:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
				break wait
			case <-ticker.C:
				if p.Signal != nil && p.Signal.PlayNowRequested() {
					timer.Stop()
					p.Logger.Info("play now requested, ending preshow")
					return ErrPreshowInterrupted
				}
			}
		}
	}

	return nil
}
