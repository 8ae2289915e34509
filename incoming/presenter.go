// Package incoming presents a pushed call invite to the agent and forwards
// an accepted call to the call handler.
package incoming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/slush-dev/agentpush"
)

var (
	// ErrClosed is returned by actions on a presenter that already reached
	// a terminal state.
	ErrClosed = errors.New("incoming: call screen is closed")
	// ErrNoInvite is returned by Accept when the push payload could not be
	// decoded. The screen stays open so the agent can still decline.
	ErrNoInvite = errors.New("incoming: no call invite to accept")
)

// State is the lifecycle state of a Presenter.
type State int

const (
	Displaying State = iota
	Accepted
	Declined
)

func (s State) String() string {
	switch s {
	case Displaying:
		return "displaying"
	case Accepted:
		return "accepted"
	case Declined:
		return "declined"
	default:
		return "unknown"
	}
}

// StatusUpdater writes the agent's status. tokensync.Synchronizer
// implements it.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, userID, status string) error
}

// CallHandler takes over an accepted call. HandleCall returns when the call
// has ended.
type CallHandler interface {
	HandleCall(ctx context.Context, h agentpush.Handoff) error
}

// CallHandlerFunc adapts a function to CallHandler.
type CallHandlerFunc func(ctx context.Context, h agentpush.Handoff) error

func (f CallHandlerFunc) HandleCall(ctx context.Context, h agentpush.Handoff) error {
	return f(ctx, h)
}

// Deps are the collaborators of a Presenter.
type Deps struct {
	UserID  string
	Status  StatusUpdater
	Handler CallHandler
	Logger  *slog.Logger
}

// Presenter drives one incoming-call screen: Displaying until the agent
// accepts or declines.
type Presenter struct {
	deps    Deps
	logger  *slog.Logger
	invite  agentpush.CallInvitePayload
	decoded bool

	mu     sync.Mutex
	state  State
	opened bool
	wg     sync.WaitGroup
}

// New decodes raw and returns a presenter in the Displaying state. A payload
// that fails to decode is logged; the screen still opens with an empty
// caller.
func New(raw string, deps Deps) *Presenter {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Presenter{deps: deps, logger: logger}

	invite, err := agentpush.ParseCallInviteString(raw)
	if err != nil {
		logger.Error("Could not decode call invite", "error", err)
		return p
	}
	p.invite = invite
	p.decoded = true
	return p
}

// Open marks the agent as ringing. The write runs in the background and is
// best effort: a failure is logged, never retried, and does not affect the
// screen. Use Wait to block until it finishes.
func (p *Presenter) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Displaying {
		return ErrClosed
	}
	if p.opened {
		return nil
	}
	p.opened = true

	if p.deps.Status == nil || p.deps.UserID == "" {
		p.logger.Warn("No agent to mark as ringing")
		return nil
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.deps.Status.UpdateStatus(ctx, p.deps.UserID, agentpush.StatusRinging); err != nil {
			p.logger.Warn("Could not mark agent as ringing", "user", p.deps.UserID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until background status writes have finished.
func (p *Presenter) Wait() { p.wg.Wait() }

// Caller returns the caller's number, or "" when the payload did not decode.
func (p *Presenter) Caller() string {
	if !p.decoded {
		return ""
	}
	return p.invite.FromNo()
}

// Invite returns the decoded invite and whether decoding succeeded.
func (p *Presenter) Invite() (agentpush.CallInvitePayload, bool) {
	return p.invite, p.decoded
}

// State returns the current state.
func (p *Presenter) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Decline closes the screen. Nothing is written.
func (p *Presenter) Decline() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Displaying {
		return ErrClosed
	}
	p.state = Declined
	p.logger.Info("Call declined", "caller", p.Caller())
	return nil
}

// Accept hands the call to the call handler as a direct call and closes
// the screen. The handler's error is returned, but the screen closes
// regardless.
func (p *Presenter) Accept(ctx context.Context) (agentpush.Handoff, error) {
	p.mu.Lock()
	if p.state != Displaying {
		p.mu.Unlock()
		return agentpush.Handoff{}, ErrClosed
	}
	if !p.decoded {
		p.mu.Unlock()
		p.logger.Warn("Accept ignored, no call invite")
		return agentpush.Handoff{}, ErrNoInvite
	}
	p.state = Accepted
	p.mu.Unlock()

	h := agentpush.NewHandoff(p.invite)
	p.logger.Info("Call accepted", "call_id", h.CallID, "caller", h.FromNo)

	if p.deps.Handler == nil {
		return h, nil
	}
	if err := p.deps.Handler.HandleCall(ctx, h); err != nil {
		return h, fmt.Errorf("handling call %s: %w", h.CallID, err)
	}
	return h, nil
}

// Finish returns the agent to Idle once an accepted call has ended. A
// pending Ringing write is allowed to land first.
func (p *Presenter) Finish(ctx context.Context) error {
	if p.State() != Accepted {
		return fmt.Errorf("incoming: finish in state %s", p.State())
	}
	p.Wait()
	if p.deps.Status == nil || p.deps.UserID == "" {
		return nil
	}
	return p.deps.Status.UpdateStatus(ctx, p.deps.UserID, agentpush.StatusIdle)
}
