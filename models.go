package agentpush

import (
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Agent status
// ---------------------------------------------------------------------------

// AgentsCollection is the document collection holding one record per agent.
const AgentsCollection = "agents"

// Status values written by this package. The remote field is free-form, so
// other short strings are accepted as well.
const (
	StatusIdle    = "Idle"
	StatusRinging = "Ringing"
)

// Field names of an agent status record.
const (
	FieldStatus = "status"
	FieldToken  = "token"
	FieldDevice = "device"
)

// AgentStatusRecord is the remote document stored under agents/{userId}.
// Writes are merged into the existing document field by field; stores see
// it only through Fields and RecordFromFields.
type AgentStatusRecord struct {
	Status string `json:"status,omitempty" yaml:"status,omitempty"`
	Token  string `json:"token,omitempty" yaml:"token,omitempty"`
	Device string `json:"device,omitempty" yaml:"device,omitempty"`
}

// Fields returns the non-empty fields of r keyed by their remote names,
// suitable for a merge write.
func (r AgentStatusRecord) Fields() map[string]any {
	m := make(map[string]any, 3)
	if r.Status != "" {
		m[FieldStatus] = r.Status
	}
	if r.Token != "" {
		m[FieldToken] = r.Token
	}
	if r.Device != "" {
		m[FieldDevice] = r.Device
	}
	return m
}

// RecordFromFields builds a record from a raw document. Unknown fields and
// non-string values are ignored.
func RecordFromFields(fields map[string]any) AgentStatusRecord {
	str := func(key string) string {
		s, _ := fields[key].(string)
		return s
	}
	return AgentStatusRecord{
		Status: str(FieldStatus),
		Token:  str(FieldToken),
		Device: str(FieldDevice),
	}
}

// ---------------------------------------------------------------------------
// Call handoff
// ---------------------------------------------------------------------------

// Handoff is the bundle forwarded to the call-handling screen when an
// incoming call is accepted.
type Handoff struct {
	CallID        uuid.UUID `json:"callId" yaml:"call_id"`
	AccountID     string    `json:"accountId" yaml:"account_id"`
	ApplicationID string    `json:"applicationId" yaml:"application_id"`
	FromNo        string    `json:"fromNo" yaml:"from_no"`
	ToNo          string    `json:"toNo" yaml:"to_no"`
	IsDirectCall  bool      `json:"isDirectCall" yaml:"is_direct_call"`
}

// NewHandoff builds a direct-call handoff from an accepted invite.
func NewHandoff(p CallInvitePayload) Handoff {
	return Handoff{
		CallID:        uuid.New(),
		AccountID:     p.AccountID(),
		ApplicationID: p.ApplicationID(),
		FromNo:        p.FromNo(),
		ToNo:          p.ToNo(),
		IsDirectCall:  true,
	}
}

// ---------------------------------------------------------------------------
// Token fetch outcome
// ---------------------------------------------------------------------------

// TokenOutcome tags a TokenResult.
type TokenOutcome int

const (
	TokenSuccess TokenOutcome = iota
	TokenFailure
	TokenCancelled
)

func (o TokenOutcome) String() string {
	switch o {
	case TokenSuccess:
		return "success"
	case TokenFailure:
		return "failure"
	case TokenCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// TokenResult is the outcome of asking the platform for a push token.
// Token is set only for TokenSuccess and Err only for TokenFailure.
type TokenResult struct {
	Outcome TokenOutcome
	Token   string
	Err     error
}

// TokenOK returns a successful result carrying token (which may be empty).
func TokenOK(token string) TokenResult {
	return TokenResult{Outcome: TokenSuccess, Token: token}
}

// TokenFailed returns a failed result wrapping err in a TokenFetchError.
func TokenFailed(err error) TokenResult {
	return TokenResult{Outcome: TokenFailure, Err: &TokenFetchError{Err: err}}
}

// TokenCanceled returns a cancelled result.
func TokenCanceled() TokenResult {
	return TokenResult{Outcome: TokenCancelled}
}
