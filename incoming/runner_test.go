package incoming

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/slush-dev/agentpush"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_PresentAccept(t *testing.T) {
	status := &fakeStatus{}
	var handled []agentpush.Handoff
	handler := CallHandlerFunc(func(ctx context.Context, h agentpush.Handoff) error {
		handled = append(handled, h)
		return nil
	})
	r := NewRunner(testDeps(status, handler), Always(Accept), 1)

	res := r.Present(context.Background(), validInvite)
	require.NoError(t, res.Err)
	assert.Equal(t, Accepted, res.State)
	assert.Equal(t, "15551234567", res.Caller)
	require.NotNil(t, res.Handoff)
	require.Len(t, handled, 1)
	assert.Equal(t, *res.Handoff, handled[0])

	// Ringing is fired in the background; Idle lands only after it.
	assert.Equal(t, []statusCall{{"alice", "Ringing"}, {"alice", "Idle"}}, status.Calls())
}

func TestRunner_PresentDecline(t *testing.T) {
	status := &fakeStatus{}
	r := NewRunner(testDeps(status, nil), Always(Decline), 1)

	res := r.Present(context.Background(), validInvite)
	require.NoError(t, res.Err)
	assert.Equal(t, Declined, res.State)
	assert.Nil(t, res.Handoff)
	assert.Equal(t, []statusCall{{"alice", "Ringing"}}, status.Calls())
}

func TestRunner_PresentMalformed(t *testing.T) {
	r := NewRunner(testDeps(&fakeStatus{}, nil), Always(Accept), 1)

	res := r.Present(context.Background(), "{")
	assert.ErrorIs(t, res.Err, ErrNoInvite)
	assert.Equal(t, Declined, res.State)
	assert.Empty(t, res.Caller)
}

func TestRunner_PresentIsSequential(t *testing.T) {
	status := &fakeStatus{}
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	handler := CallHandlerFunc(func(ctx context.Context, h agentpush.Handoff) error {
		started <- struct{}{}
		<-release
		return nil
	})
	var presented atomic.Int32
	decide := func(context.Context, *Presenter) Decision {
		presented.Add(1)
		return Accept
	}
	r := NewRunner(testDeps(status, handler), decide, 1)

	var wg sync.WaitGroup
	present := func() {
		defer wg.Done()
		assert.NoError(t, r.Present(context.Background(), validInvite).Err)
	}
	wg.Add(1)
	go present()
	<-started

	wg.Add(1)
	go present()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), presented.Load(), "second invite shown during the first call")
	assert.Equal(t, []statusCall{{"alice", "Ringing"}}, status.Calls())

	release <- struct{}{}
	<-started
	assert.Equal(t, int32(2), presented.Load())
	release <- struct{}{}
	wg.Wait()

	assert.Equal(t, []statusCall{
		{"alice", "Ringing"}, {"alice", "Idle"},
		{"alice", "Ringing"}, {"alice", "Idle"},
	}, status.Calls())
}

func TestRunner_DeciderSeesPresenter(t *testing.T) {
	var caller string
	decide := func(ctx context.Context, p *Presenter) Decision {
		caller = p.Caller()
		return Decline
	}
	r := NewRunner(testDeps(&fakeStatus{}, nil), decide, 1)
	r.Present(context.Background(), validInvite)
	assert.Equal(t, "15551234567", caller)
}

func TestRunner_SubmitAndRun(t *testing.T) {
	done := make(chan agentpush.Handoff, 2)
	handler := CallHandlerFunc(func(ctx context.Context, h agentpush.Handoff) error {
		done <- h
		return nil
	})
	r := NewRunner(testDeps(&fakeStatus{}, handler), Always(Accept), 1)

	assert.True(t, r.Submit(validInvite))
	assert.False(t, r.Submit(validInvite), "queue is full")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	select {
	case h := <-done:
		assert.Equal(t, "9900000", h.AccountID)
	case <-time.After(2 * time.Second):
		t.Fatal("queued invite not presented")
	}

	cancel()
	assert.NoError(t, <-errCh)
}

func TestParseDecision(t *testing.T) {
	for in, want := range map[string]Decision{
		"":         Decline,
		"decline":  Decline,
		" Accept ": Accept,
		"ACCEPT":   Accept,
	} {
		got, err := ParseDecision(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDecision("maybe")
	assert.ErrorContains(t, err, "unknown decision")
	assert.Equal(t, "accept", Accept.String())
	assert.Equal(t, "decline", Decline.String())
}
