package agentpush

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Data message keys of a call invite.
const (
	KeyAccountID     = "accountId"
	KeyApplicationID = "applicationId"
	KeyFromNo        = "fromNo"
	KeyToNo          = "toNo"
	KeyToken         = "token"
)

// InviteVersion distinguishes the two payload shapes seen on the wire.
type InviteVersion int

const (
	// InviteV1 carries account, application and the two numbers.
	InviteV1 InviteVersion = 1
	// InviteV2 additionally carries the call auth token.
	InviteV2 InviteVersion = 2
)

// CallInvitePayload is the decoded data of an incoming-call push. It is
// immutable once constructed.
type CallInvitePayload struct {
	accountID     string
	applicationID string
	fromNo        string
	toNo          string
	token         string
}

// NewCallInvite constructs a payload, stripping leading '+' characters from
// the phone numbers.
func NewCallInvite(accountID, applicationID, fromNo, toNo, token string) CallInvitePayload {
	return CallInvitePayload{
		accountID:     accountID,
		applicationID: applicationID,
		fromNo:        stripPlus(fromNo),
		toNo:          stripPlus(toNo),
		token:         token,
	}
}

func (p CallInvitePayload) AccountID() string     { return p.accountID }
func (p CallInvitePayload) ApplicationID() string { return p.applicationID }
func (p CallInvitePayload) FromNo() string        { return p.fromNo }
func (p CallInvitePayload) ToNo() string          { return p.toNo }
func (p CallInvitePayload) Token() string         { return p.token }

// Version reports InviteV2 when a token is present.
func (p CallInvitePayload) Version() InviteVersion {
	if p.token != "" {
		return InviteV2
	}
	return InviteV1
}

// Valid reports whether every field, token included, is non-empty.
func (p CallInvitePayload) Valid() bool {
	return p.accountID != "" && p.applicationID != "" && p.fromNo != "" && p.toNo != "" && p.token != ""
}

// DataMap returns the payload as a flat data map using the wire keys.
// The token key is omitted when empty.
func (p CallInvitePayload) DataMap() map[string]string {
	m := map[string]string{
		KeyAccountID:     p.accountID,
		KeyApplicationID: p.applicationID,
		KeyFromNo:        p.fromNo,
		KeyToNo:          p.toNo,
	}
	if p.token != "" {
		m[KeyToken] = p.token
	}
	return m
}

// MarshalJSON encodes the payload with its wire keys.
func (p CallInvitePayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.DataMap())
}

// ParseCallInvite decodes a JSON data message into a CallInvitePayload.
// accountId, applicationId, fromNo and toNo are required; token is optional.
// Values may be JSON strings or numbers. Any failure is a *ParseError.
func ParseCallInvite(data []byte) (CallInvitePayload, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return CallInvitePayload{}, &ParseError{Err: err}
	}
	if raw == nil {
		return CallInvitePayload{}, &ParseError{Err: errors.New("payload is null")}
	}

	var fields [4]string
	for i, key := range []string{KeyAccountID, KeyApplicationID, KeyFromNo, KeyToNo} {
		v, err := stringField(raw, key)
		if err != nil {
			return CallInvitePayload{}, &ParseError{Field: key, Err: err}
		}
		fields[i] = v
	}

	token, err := stringField(raw, KeyToken)
	if err != nil && !errors.Is(err, ErrMissingField) {
		return CallInvitePayload{}, &ParseError{Field: KeyToken, Err: err}
	}

	return NewCallInvite(fields[0], fields[1], fields[2], fields[3], token), nil
}

// ParseCallInviteString is ParseCallInvite for the JSON string extra.
func ParseCallInviteString(s string) (CallInvitePayload, error) {
	return ParseCallInvite([]byte(s))
}

// EncodeDataMap serialises a flat data message into the JSON string handed
// to the presenter.
func EncodeDataMap(data map[string]string) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encoding data message: %w", err)
	}
	return string(b), nil
}

// stringField reads key as a string, accepting JSON numbers verbatim.
func stringField(raw map[string]json.RawMessage, key string) (string, error) {
	v, ok := raw[key]
	if !ok || string(v) == "null" {
		return "", ErrMissingField
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("expected string, got %s", string(v))
}

func stripPlus(s string) string {
	return strings.TrimLeft(s, "+")
}
