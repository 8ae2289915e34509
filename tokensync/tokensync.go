// Package tokensync keeps an agent's remote status record in step with the
// device's push token.
package tokensync

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"

	"github.com/slush-dev/agentpush"
	"github.com/slush-dev/agentpush/store"
)

// ErrNoUser is returned when an operation is called without a user id.
var ErrNoUser = errors.New("tokensync: user id is required")

// ErrNoToken is returned by UpdateToken when given an empty token.
var ErrNoToken = errors.New("tokensync: token is required")

// TokenSource yields the platform push token. fcm.Client implements it.
type TokenSource interface {
	FetchToken(ctx context.Context) agentpush.TokenResult
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets a custom logger for Synchronizer.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = logger
	}
}

// WithCollection overrides the collection holding agent records.
func WithCollection(collection string) Option {
	return func(s *Synchronizer) {
		s.collection = collection
	}
}

// Synchronizer writes token, device and status fields of agent records.
// All writes are merges, so concurrent writers of different fields do not
// clobber each other; writers of the same field are last-write-wins.
type Synchronizer struct {
	store      store.DocumentStore
	tokens     TokenSource
	device     string
	collection string
	logger     *slog.Logger
}

// New creates a Synchronizer. device is the display name written next to
// the token, normally agentpush.DeviceName(manufacturer, model).
func New(docs store.DocumentStore, tokens TokenSource, device string, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:      docs,
		tokens:     tokens,
		device:     device,
		collection: agentpush.AgentsCollection,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DeviceName returns the device display name written with every token.
func (s *Synchronizer) DeviceName() string { return s.device }

// FetchAndSyncToken fetches the current push token and, when one is
// issued, resets the agent to Idle with that token and the device name.
//
// A fetch failure is logged and returned both in the result and as the
// error; it is not retried. A cancelled fetch or an empty token writes
// nothing and returns a nil error.
func (s *Synchronizer) FetchAndSyncToken(ctx context.Context, userID string) (agentpush.TokenResult, error) {
	if userID == "" {
		return agentpush.TokenResult{}, ErrNoUser
	}

	res := s.tokens.FetchToken(ctx)
	switch res.Outcome {
	case agentpush.TokenFailure:
		s.logger.Error("Fetching push token failed", "user", userID, "error", res.Err)
		return res, res.Err
	case agentpush.TokenCancelled:
		s.logger.Warn("Fetching push token was cancelled", "user", userID)
		return res, nil
	}

	if res.Token == "" {
		s.logger.Warn("Push token is empty, agent record left unchanged", "user", userID)
		return res, nil
	}

	rec := agentpush.AgentStatusRecord{
		Status: agentpush.StatusIdle,
		Token:  res.Token,
		Device: s.device,
	}
	return res, s.merge(ctx, userID, rec.Fields())
}

// UpdateToken records a rotated token together with the device name. The
// status field is left as it is. An empty token writes nothing.
func (s *Synchronizer) UpdateToken(ctx context.Context, userID, token string) error {
	if userID == "" {
		return ErrNoUser
	}
	if token == "" {
		return ErrNoToken
	}
	rec := agentpush.AgentStatusRecord{Token: token, Device: s.device}
	return s.merge(ctx, userID, rec.Fields())
}

// UpdateStatus writes only the status field.
func (s *Synchronizer) UpdateStatus(ctx context.Context, userID, status string) error {
	if userID == "" {
		return ErrNoUser
	}
	return s.merge(ctx, userID, map[string]any{agentpush.FieldStatus: status})
}

// Record reads the agent record of userID. A missing record is returned as
// store.ErrNotFound.
func (s *Synchronizer) Record(ctx context.Context, userID string) (agentpush.AgentStatusRecord, error) {
	if userID == "" {
		return agentpush.AgentStatusRecord{}, ErrNoUser
	}
	fields, err := s.store.Get(ctx, s.collection, userID)
	if err != nil {
		return agentpush.AgentStatusRecord{}, err
	}
	return agentpush.RecordFromFields(fields), nil
}

func (s *Synchronizer) merge(ctx context.Context, userID string, fields map[string]any) error {
	names := slices.Sorted(maps.Keys(fields))
	if err := s.store.Merge(ctx, s.collection, userID, fields); err != nil {
		werr := &agentpush.RemoteWriteError{
			Collection: s.collection,
			UserID:     userID,
			Fields:     names,
			Err:        err,
		}
		s.logger.Warn("Agent record write failed", "user", userID, "fields", names, "error", err)
		return werr
	}
	s.logger.Debug("Agent record updated", "user", userID, "fields", names)
	return nil
}
