// Package sigverify implements the registry's two signature verification
// modes: structured (domain-separated, action-typed messages required for
// destructive operations) and simple (raw message bytes, for lower-stakes
// flows). Both are built on Bitcoin Signed Message compact-signature
// recovery, so verification never needs the signer's public key up front.
package sigverify

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Action identifies the intent of a structured message. The set is closed;
// BuildMessage rejects anything outside it.
type Action string

const (
	// ActionDeleteEndpoint authorizes removal of a registry entry.
	ActionDeleteEndpoint Action = "delete-endpoint"
	// ActionListMyEndpoints authorizes listing the caller's own entries.
	ActionListMyEndpoints Action = "list-my-endpoints"
	// ActionTransferOwnership authorizes rewriting an entry's owner.
	ActionTransferOwnership Action = "transfer-ownership"
	// ActionChallengeResponse proves possession of a server-issued nonce.
	ActionChallengeResponse Action = "challenge-response"
)

// Static error variables for message construction failures.
var (
	ErrUnknownAction    = errors.New("unknown action")
	errOwnerRequired    = errors.New("owner is required")
	errURLRequired      = errors.New("url is required")
	errNewOwnerRequired = errors.New("newOwner is required")
	errNonceRequired    = errors.New("nonce is required")
)

// Fields carries the inputs a structured message may reference. Which fields
// are required depends on the action.
type Fields struct {
	Owner    string
	URL      string
	NewOwner string
	Nonce    string
}

// StructuredMessage is an action-typed payload with a deterministic
// serialization: the same inputs always produce the same signed bytes.
type StructuredMessage struct {
	Action    Action
	Owner     string
	URL       string
	NewOwner  string
	Nonce     string
	Timestamp time.Time
}

// BuildMessage validates that the fields required for the action are present
// and returns the structured message. It fails with ErrUnknownAction for an
// action outside the closed set; adding an action means extending the switch
// below and nothing else.
func BuildMessage(action Action, fields Fields, timestamp time.Time) (*StructuredMessage, error) {
	if strings.TrimSpace(fields.Owner) == "" {
		return nil, errOwnerRequired
	}

	switch action {
	case ActionDeleteEndpoint:
		if fields.URL == "" {
			return nil, errURLRequired
		}
		if fields.Nonce == "" {
			return nil, errNonceRequired
		}
	case ActionListMyEndpoints:
		// Owner only.
	case ActionTransferOwnership:
		if fields.URL == "" {
			return nil, errURLRequired
		}
		if fields.NewOwner == "" {
			return nil, errNewOwnerRequired
		}
		if fields.Nonce == "" {
			return nil, errNonceRequired
		}
	case ActionChallengeResponse:
		if fields.Nonce == "" {
			return nil, errNonceRequired
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	return &StructuredMessage{
		Action:    action,
		Owner:     fields.Owner,
		URL:       fields.URL,
		NewOwner:  fields.NewOwner,
		Nonce:     fields.Nonce,
		Timestamp: timestamp,
	}, nil
}

// Serialize produces the domain-separated byte encoding that is signed and
// verified. The domain is part of the payload itself, so the same logical
// message signed for two deployments yields non-interchangeable signatures.
// Field order is fixed and all fields are always present, which keeps the
// encoding deterministic and unambiguous.
func (m *StructuredMessage) Serialize(domain string) []byte {
	var b strings.Builder
	b.WriteString("x402-registry|domain:")
	b.WriteString(domain)
	b.WriteString("\naction=")
	b.WriteString(string(m.Action))
	b.WriteString("\nowner=")
	b.WriteString(m.Owner)
	b.WriteString("\nurl=")
	b.WriteString(m.URL)
	b.WriteString("\nnewOwner=")
	b.WriteString(m.NewOwner)
	b.WriteString("\nnonce=")
	b.WriteString(m.Nonce)
	b.WriteString("\ntimestamp=")
	b.WriteString(strconv.FormatInt(m.Timestamp.Unix(), 10))
	return []byte(b.String())
}
