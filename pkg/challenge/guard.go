// Package challenge implements the single-use challenge guard that protects
// destructive registry operations against signature replay. A challenge is
// issued for one owner and one action, lives for a bounded window, and is
// consumed with a conditional delete so it can never authorize two mutations
// even under concurrent requests.
package challenge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/x402-network/go-x402-registry-services/pkg/storage"
	"github.com/x402-network/go-x402-registry-services/pkg/types"
)

// DefaultTTL is the validity window of an issued challenge.
const DefaultTTL = 5 * time.Minute

// challengeKeyPrefix is the key namespace for persisted challenges.
const challengeKeyPrefix = "registry:challenge:"

// Static error variables.
var (
	// ErrChallengeInvalidOrConsumed is returned when a challenge does not
	// exist, was already used, or has expired.
	ErrChallengeInvalidOrConsumed = errors.New("challenge invalid or consumed")
	errOwnerRequired              = errors.New("owner is required")
	errActionRequired             = errors.New("action is required")
)

// Guard issues and consumes challenges against the key-value collaborator.
type Guard struct {
	kv  storage.KV
	ttl time.Duration
	// now is swappable for tests.
	now func() time.Time
}

// NewGuard constructs a Guard with the default validity window.
func NewGuard(kv storage.KV) *Guard {
	return NewGuardWithTTL(kv, DefaultTTL)
}

// NewGuardWithTTL constructs a Guard with a custom validity window.
func NewGuardWithTTL(kv storage.KV, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{kv: kv, ttl: ttl, now: time.Now}
}

// Issue creates a new single-use challenge bound to the owner and action and
// persists it under the owner's challenge namespace.
func (g *Guard) Issue(ctx context.Context, owner, action string) (*types.Challenge, error) {
	if owner == "" {
		return nil, errOwnerRequired
	}
	if action == "" {
		return nil, errActionRequired
	}

	var idBytes [16]byte
	if _, err := rand.Read(idBytes[:]); err != nil {
		return nil, fmt.Errorf("failed to generate challenge id: %w", err)
	}

	issuedAt := g.now()
	ch := &types.Challenge{
		ID:        hex.EncodeToString(idBytes[:]),
		Owner:     owner,
		Action:    action,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(g.ttl),
	}

	value, err := json.Marshal(ch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode challenge: %w", err)
	}

	if err := g.kv.PutIfAbsent(ctx, Key(owner, ch.ID), value); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	return ch, nil
}

// Peek returns the stored challenge without consuming it. Expired challenges
// are reaped on sight and reported as invalid.
func (g *Guard) Peek(ctx context.Context, owner, id string) (*types.Challenge, error) {
	value, found, err := g.kv.Get(ctx, Key(owner, id))
	if err != nil {
		return nil, fmt.Errorf("failed to read challenge: %w", err)
	}
	if !found {
		return nil, ErrChallengeInvalidOrConsumed
	}

	var ch types.Challenge
	if err := json.Unmarshal(value, &ch); err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", err)
	}

	if ch.Expired(g.now()) {
		// Best effort reap; the challenge is unusable either way.
		_, _ = g.kv.Delete(ctx, Key(owner, id))
		return nil, ErrChallengeInvalidOrConsumed
	}

	return &ch, nil
}

// Consume validates and removes the challenge in one pass. The removal is a
// single conditional write on the challenge key, so of any number of
// concurrent consumers exactly one succeeds.
func (g *Guard) Consume(ctx context.Context, owner, id string) (*types.Challenge, error) {
	ch, err := g.Peek(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	existed, err := g.kv.Delete(ctx, Key(owner, id))
	if err != nil {
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}
	if !existed {
		// Lost the race to another consumer.
		return nil, ErrChallengeInvalidOrConsumed
	}

	return ch, nil
}

// Key returns the storage key for a challenge.
func Key(owner, id string) string {
	return challengeKeyPrefix + owner + ":" + id
}
