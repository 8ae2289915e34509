package incoming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/slush-dev/agentpush"
)

// Decision is the agent's answer to a call screen.
type Decision int

const (
	Decline Decision = iota
	Accept
)

func (d Decision) String() string {
	if d == Accept {
		return "accept"
	}
	return "decline"
}

// ParseDecision reads "accept" or "decline", case-insensitively. An empty
// string means decline.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "decline":
		return Decline, nil
	case "accept":
		return Accept, nil
	}
	return Decline, fmt.Errorf("incoming: unknown decision %q (want accept or decline)", s)
}

// Decider asks the agent what to do with the call on screen. It may block,
// for example on a terminal prompt.
type Decider func(ctx context.Context, p *Presenter) Decision

// Always returns a Decider that answers every call with d.
func Always(d Decision) Decider {
	return func(context.Context, *Presenter) Decision { return d }
}

// Result summarizes one presented call.
type Result struct {
	State   State
	Caller  string
	Handoff *agentpush.Handoff
	Err     error
}

// Runner presents call invites one at a time. Queued invites and direct
// Present calls share the same slot, so a second invite waits until the
// previous one is declined or its call has ended.
type Runner struct {
	deps   Deps
	decide Decider
	logger *slog.Logger
	queue  chan string

	mu sync.Mutex // held for a whole present, accept, finish sequence
}

// NewRunner creates a Runner whose queue holds up to buffer pending
// payloads.
func NewRunner(deps Deps, decide Decider, buffer int) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		deps:   deps,
		decide: decide,
		logger: logger,
		queue:  make(chan string, buffer),
	}
}

// Present shows one invite, applies the decision and, for an accepted call,
// returns the agent to Idle after the call handler is done. It blocks while
// another invite is on screen or in a call.
func (r *Runner) Present(ctx context.Context, raw string) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := New(raw, r.deps)
	defer p.Wait()

	if err := p.Open(ctx); err != nil {
		return Result{State: p.State(), Err: err}
	}
	res := Result{Caller: p.Caller()}

	if r.decide(ctx, p) == Decline {
		res.Err = p.Decline()
		res.State = p.State()
		return res
	}

	h, err := p.Accept(ctx)
	if errors.Is(err, ErrNoInvite) {
		// Nothing to accept; close the screen instead of leaving it open.
		_ = p.Decline()
		res.State, res.Err = p.State(), err
		return res
	}
	res.State, res.Handoff, res.Err = p.State(), &h, err

	if ferr := p.Finish(ctx); ferr != nil {
		r.logger.Warn("Could not return agent to idle", "user", r.deps.UserID, "error", ferr)
		if res.Err == nil {
			res.Err = ferr
		}
	}
	return res
}

// Submit queues raw for Run without blocking. It reports false when the
// queue is full.
func (r *Runner) Submit(raw string) bool {
	select {
	case r.queue <- raw:
		return true
	default:
		return false
	}
}

// Run presents queued invites until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw := <-r.queue:
			res := r.Present(ctx, raw)
			if res.Err != nil {
				r.logger.Warn("Call invite finished with error", "state", res.State, "caller", res.Caller, "error", res.Err)
			} else {
				r.logger.Info("Call invite finished", "state", res.State, "caller", res.Caller)
			}
		}
	}
}
