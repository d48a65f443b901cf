// Package registry implements the registry entry store: CRUD and status
// transitions over registered x402 endpoints, keyed by owner+id and by a
// content hash of the normalized URL, on top of the key-value collaborator.
// All mutations run under the authorization decision engine; destructive
// mutations additionally consume a single-use challenge.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/x402-network/go-x402-registry-services/pkg/auth"
	"github.com/x402-network/go-x402-registry-services/pkg/challenge"
	"github.com/x402-network/go-x402-registry-services/pkg/identity"
	"github.com/x402-network/go-x402-registry-services/pkg/payment"
	"github.com/x402-network/go-x402-registry-services/pkg/storage"
	"github.com/x402-network/go-x402-registry-services/pkg/types"
	"github.com/x402-network/go-x402-registry-services/pkg/utils"
)

// Key namespaces in the key-value collaborator.
const (
	entryKeyPrefix   = "registry:entry:"
	urlHashKeyPrefix = "registry:url-hash:"
)

// Static error variables.
var (
	ErrAlreadyRegistered = errors.New("url already registered")
	ErrEntryNotFound     = errors.New("entry not found")
	// ErrStorageConflict is surfaced after the store's single retry of a
	// conditional write also lost its race.
	ErrStorageConflict   = errors.New("storage conflict")
	errURLNotRegistrable = errors.New("url is not registrable")
)

// AuthorizationError is returned when the decision engine denies an
// operation. It carries the specific reason so the transport layer can map
// it without string matching.
type AuthorizationError struct {
	Reason auth.DenialReason
}

func (e *AuthorizationError) Error() string {
	return "authorization denied: " + string(e.Reason)
}

// Prober confirms that a candidate URL implements the x402 handshake. The
// store treats it as an external collaborator; registration attaches its
// result but does not interpret it.
type Prober interface {
	Probe(ctx context.Context, url string, timeout time.Duration) types.ProbeResult
}

// Metadata carries the caller-supplied descriptive fields of a registration.
type Metadata struct {
	Name        string
	Description string
	Category    string
	Tags        []string
}

// Store is the registry entry store.
type Store struct {
	kv     storage.KV
	guard  *challenge.Guard
	prober Prober
	logger *slog.Logger
	// domain is the deployment domain structured signatures are bound to.
	domain string
	// adminAddress gates the by-status listing; compared by fingerprint.
	adminAddress string
	probeTimeout time.Duration
	now          func() time.Time
	newID        func() (string, error)
}

// Option configures a Store.
type Option func(*Store)

// WithProber attaches an endpoint prober invoked on registration.
func WithProber(p Prober, timeout time.Duration) Option {
	return func(s *Store) {
		s.prober = p
		if timeout > 0 {
			s.probeTimeout = timeout
		}
	}
}

// WithAdminAddress sets the designated administrator address for the
// by-status listing.
func WithAdminAddress(addr string) Option {
	return func(s *Store) { s.adminAddress = addr }
}

// WithLogger sets the logger used for non-fatal events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore constructs a registry store over the key-value collaborator.
// The domain binds structured signatures to this deployment.
func NewStore(kv storage.KV, guard *challenge.Guard, domain string, opts ...Option) *Store {
	s := &Store{
		kv:           kv,
		guard:        guard,
		domain:       domain,
		logger:       slog.Default(),
		probeTimeout: 10 * time.Second,
		now:          time.Now,
		newID:        randomID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Guard exposes the challenge guard so the transport layer can issue
// challenges for destructive operations.
func (s *Store) Guard() *challenge.Guard {
	return s.guard
}

// Domain returns the deployment domain structured signatures must be bound
// to.
func (s *Store) Domain() string {
	return s.domain
}

// Register creates an unverified entry for the URL, owned by owner. The
// URL-uniqueness check and the reservation are one conditional write on the
// url-hash key, so two concurrent registrations of the same URL produce
// exactly one entry and one ErrAlreadyRegistered. When a prober is attached
// its result is stored as the entry's probe snapshot; attaching the snapshot
// never flips the entry to verified by itself.
func (s *Store) Register(ctx context.Context, rawURL, owner string, meta Metadata) (*types.RegistryEntry, error) {
	if !utils.IsRegistrableURL(rawURL) {
		return nil, fmt.Errorf("%w: %s", errURLNotRegistrable, rawURL)
	}
	if _, err := identity.Parse(owner); err != nil {
		return nil, err
	}

	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate entry id: %w", err)
	}

	now := s.now()
	entry := &types.RegistryEntry{
		ID:           id,
		URL:          utils.NormalizeURL(rawURL),
		Owner:        owner,
		Name:         meta.Name,
		Description:  meta.Description,
		Category:     meta.Category,
		Tags:         meta.Tags,
		Status:       types.StatusUnverified,
		RegisteredAt: now,
		UpdatedAt:    now,
		Version:      1,
	}

	pointer, err := json.Marshal(types.URLPointer{Owner: owner, ID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to encode url pointer: %w", err)
	}

	// Reserving the url-hash key is the uniqueness check; everything else
	// hangs off it.
	if err := s.kv.PutIfAbsent(ctx, urlHashKey(entry.URL), pointer); err != nil {
		if errors.Is(err, storage.ErrKeyExists) {
			return nil, ErrAlreadyRegistered
		}
		return nil, fmt.Errorf("failed to reserve url: %w", err)
	}

	if err := s.putEntry(ctx, entry); err != nil {
		// Roll the reservation back so the URL is not orphaned.
		_, _ = s.kv.Delete(ctx, urlHashKey(entry.URL))
		return nil, err
	}

	if s.prober != nil {
		result := s.prober.Probe(ctx, entry.URL, s.probeTimeout)
		entry.ProbeData = &result
		entry.UpdatedAt = s.now()
		entry.Version++
		if err := s.putEntry(ctx, entry); err != nil {
			s.logger.Warn("failed to attach probe snapshot", "url", entry.URL, "error", err)
		}
	}

	return entry, nil
}

// Update applies the patch to the entry after the dual-path authorization
// check (signature or payment origin resolving to the entry's owner). Only
// provided fields change; UpdatedAt always advances. A conditional-write
// race is retried once before surfacing ErrStorageConflict.
func (s *Store) Update(ctx context.Context, id, owner string, patch types.EntryPatch, proof *auth.SignatureProof, pay payment.ProofSource) (*types.RegistryEntry, error) {
	entry, _, err := s.getEntry(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	decision := auth.Decide(auth.Request{
		Owner:     entry.Owner,
		Operation: auth.OpUpdate,
		Proof:     proof,
		Payment:   pay,
		Now:       s.now(),
	})
	if !decision.Authorized {
		return nil, &AuthorizationError{Reason: decision.Reason}
	}

	return s.mutateEntry(ctx, owner, id, func(e *types.RegistryEntry) {
		if patch.Name != nil {
			e.Name = *patch.Name
		}
		if patch.Description != nil {
			e.Description = *patch.Description
		}
		if patch.Category != nil {
			e.Category = *patch.Category
		}
		if patch.Tags != nil {
			e.Tags = *patch.Tags
		}
	})
}

// Transfer rewrites the entry's owner after destructive-operation
// authorization. The challenge named by the signed message is consumed with
// a conditional delete sequenced strictly before the entry rewrite, so a
// replayed challenge can never authorize a second transfer even under
// concurrent requests.
func (s *Store) Transfer(ctx context.Context, id, owner, newOwner string, proof *auth.SignatureProof) (*types.RegistryEntry, error) {
	if _, err := identity.Parse(newOwner); err != nil {
		return nil, err
	}

	entry, _, err := s.getEntry(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	if err := s.authorizeDestructive(ctx, entry, auth.OpTransfer, proof, newOwner); err != nil {
		return nil, err
	}

	now := s.now()
	entry.Owner = newOwner
	entry.UpdatedAt = now
	entry.Version++

	if err := s.putEntryAt(ctx, newOwner, entry); err != nil {
		return nil, err
	}
	if _, err := s.kv.Delete(ctx, entryKey(owner, id)); err != nil {
		return nil, fmt.Errorf("failed to remove previous owner's entry: %w", err)
	}

	pointer, err := json.Marshal(types.URLPointer{Owner: newOwner, ID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to encode url pointer: %w", err)
	}
	if err := s.kv.Put(ctx, urlHashKey(entry.URL), pointer); err != nil {
		return nil, fmt.Errorf("failed to repoint url: %w", err)
	}

	return entry, nil
}

// Delete removes the entry and its url-hash mapping after
// destructive-operation authorization and challenge consumption.
func (s *Store) Delete(ctx context.Context, id, owner string, proof *auth.SignatureProof) error {
	entry, _, err := s.getEntry(ctx, owner, id)
	if err != nil {
		return err
	}

	if err := s.authorizeDestructive(ctx, entry, auth.OpDelete, proof, ""); err != nil {
		return err
	}

	if _, err := s.kv.Delete(ctx, entryKey(owner, id)); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	if _, err := s.kv.Delete(ctx, urlHashKey(entry.URL)); err != nil {
		return fmt.Errorf("failed to delete url mapping: %w", err)
	}

	return nil
}

// authorizeDestructive runs the decision engine for delete/transfer with the
// challenge record the signed message references, then consumes that
// challenge. The signed message must name the entry's URL (and, for a
// transfer, the recipient); a signature over one entry never authorizes
// mutating another. Consumption is the replay barrier: of any number of
// concurrent requests carrying the same challenge, at most one reaches the
// mutation.
func (s *Store) authorizeDestructive(ctx context.Context, entry *types.RegistryEntry, op auth.Operation, proof *auth.SignatureProof, newOwner string) error {
	var ch *types.Challenge
	if proof != nil && proof.Structured != nil && proof.Structured.Nonce != "" {
		found, err := s.guard.Peek(ctx, entry.Owner, proof.Structured.Nonce)
		if err != nil && !errors.Is(err, challenge.ErrChallengeInvalidOrConsumed) {
			return fmt.Errorf("failed to look up challenge: %w", err)
		}
		ch = found
	}

	decision := auth.Decide(auth.Request{
		Owner:     entry.Owner,
		Operation: op,
		TargetURL: entry.URL,
		NewOwner:  newOwner,
		Proof:     proof,
		Challenge: ch,
		Now:       s.now(),
	})
	if !decision.Authorized {
		return &AuthorizationError{Reason: decision.Reason}
	}

	if _, err := s.guard.Consume(ctx, entry.Owner, ch.ID); err != nil {
		if errors.Is(err, challenge.ErrChallengeInvalidOrConsumed) {
			return &AuthorizationError{Reason: auth.ReasonChallengeInvalid}
		}
		return fmt.Errorf("failed to consume challenge: %w", err)
	}

	return nil
}

// mutateEntry reads, transforms, and conditionally writes an entry,
// retrying the read-apply-write cycle once when the swap lost a race.
func (s *Store) mutateEntry(ctx context.Context, owner, id string, apply func(*types.RegistryEntry)) (*types.RegistryEntry, error) {
	for attempt := 0; attempt < 2; attempt++ {
		entry, raw, err := s.getEntry(ctx, owner, id)
		if err != nil {
			return nil, err
		}

		apply(entry)
		entry.UpdatedAt = s.now()
		entry.Version++

		value, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("failed to encode entry: %w", err)
		}

		err = s.kv.CompareAndSwap(ctx, entryKey(owner, id), raw, value)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("failed to write entry: %w", err)
		}
	}

	return nil, ErrStorageConflict
}

// getEntry loads an entry and the raw stored bytes backing it (the expected
// value for a subsequent conditional write).
func (s *Store) getEntry(ctx context.Context, owner, id string) (*types.RegistryEntry, []byte, error) {
	raw, found, err := s.kv.Get(ctx, entryKey(owner, id))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read entry: %w", err)
	}
	if !found {
		return nil, nil, ErrEntryNotFound
	}

	var entry types.RegistryEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, nil, fmt.Errorf("failed to decode entry: %w", err)
	}

	return &entry, raw, nil
}

func (s *Store) putEntry(ctx context.Context, entry *types.RegistryEntry) error {
	return s.putEntryAt(ctx, entry.Owner, entry)
}

func (s *Store) putEntryAt(ctx context.Context, owner string, entry *types.RegistryEntry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	if err := s.kv.Put(ctx, entryKey(owner, entry.ID), value); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	return nil
}

func entryKey(owner, id string) string {
	return entryKeyPrefix + owner + ":" + id
}

func urlHashKey(normalizedURL string) string {
	return urlHashKeyPrefix + utils.URLHash(normalizedURL)
}

// randomID generates an opaque 32-character hex entry id.
func randomID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
