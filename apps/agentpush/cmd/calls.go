package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/slush-dev/agentpush"
	"github.com/slush-dev/agentpush/fcm"
	"github.com/slush-dev/agentpush/incoming"
)

// pushSource is the callback surface of fcm.Client used by listen and serve.
type pushSource interface {
	OnNewToken(fn func(token string))
	OnDataMessage(fn func(fcm.DataMessage))
	OnConnected(fn func())
	OnDisconnected(fn func())
	OnError(fn func(error))
}

type tokenUpdater interface {
	UpdateToken(ctx context.Context, userID, token string) error
}

type callQueue interface {
	Submit(raw string) bool
}

// wirePush routes push events: a new token is written to the agent record
// and every data message is queued as a call invite. With no user, tokens
// are not stored. Must be called before the push client registers.
func wirePush(ctx context.Context, push pushSource, tokens tokenUpdater, userID string, calls callQueue, stderr io.Writer) {
	if userID != "" {
		push.OnNewToken(func(token string) {
			if err := tokens.UpdateToken(ctx, userID, token); err != nil {
				fmt.Fprintf(stderr, "Warning: could not store new token: %v\n", err)
			}
		})
	}
	push.OnDataMessage(func(msg fcm.DataMessage) {
		raw, err := msg.JSON()
		if err != nil {
			fmt.Fprintf(stderr, "Dropping push %s: %v\n", msg.PersistentID, err)
			return
		}
		if !calls.Submit(raw) {
			fmt.Fprintf(stderr, "Call queue full, dropping push %s\n", msg.PersistentID)
		}
	})
	push.OnConnected(func() {
		fmt.Fprintln(stderr, "MCS connected.")
	})
	push.OnDisconnected(func() {
		if ctx.Err() == nil {
			fmt.Fprintln(stderr, "MCS disconnected.")
		}
	})
	push.OnError(func(err error) {
		fmt.Fprintf(stderr, "Push error: %v\n", err)
	})
}

// deciderFor maps --auto to a Decider. An empty mode prompts on in/out.
func deciderFor(mode string, in io.Reader, out io.Writer) (incoming.Decider, error) {
	if strings.TrimSpace(mode) == "" {
		return promptDecider(in, out), nil
	}
	d, err := incoming.ParseDecision(mode)
	if err != nil {
		return nil, err
	}
	return incoming.Always(d), nil
}

// promptDecider asks on out and reads y/yes from in. Anything else, EOF or
// a cancelled context declines.
func promptDecider(in io.Reader, out io.Writer) incoming.Decider {
	reader := bufio.NewReader(in)
	var mu sync.Mutex
	return func(ctx context.Context, p *incoming.Presenter) incoming.Decision {
		mu.Lock()
		defer mu.Unlock()

		caller := p.Caller()
		if caller == "" {
			caller = "unknown caller"
		}
		fmt.Fprintf(out, "Incoming call from %s. Accept? [y/N]: ", caller)

		line := make(chan string, 1)
		go func() {
			s, _ := reader.ReadString('\n')
			line <- s
		}()

		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return incoming.Decline
		case s := <-line:
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "y", "yes":
				return incoming.Accept
			}
			return incoming.Decline
		}
	}
}

// printHandoff is the call handler of the CLI: it prints the handoff that
// a dialer would receive.
func printHandoff(out io.Writer, useYAML bool) incoming.CallHandler {
	return incoming.CallHandlerFunc(func(_ context.Context, h agentpush.Handoff) error {
		if useYAML {
			fmt.Fprintln(out, "---")
			yamlTo(out, map[string]any{"event": "call", "handoff": h})
			return nil
		}
		fmt.Fprintf(out, ">> CALL %s from %s to %s (account %s, app %s, direct=%t)\n",
			h.CallID, h.FromNo, h.ToNo, h.AccountID, h.ApplicationID, h.IsDirectCall)
		return nil
	})
}
