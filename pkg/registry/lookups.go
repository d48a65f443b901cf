package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/x402-network/go-x402-registry-services/pkg/auth"
	"github.com/x402-network/go-x402-registry-services/pkg/identity"
	"github.com/x402-network/go-x402-registry-services/pkg/payment"
	"github.com/x402-network/go-x402-registry-services/pkg/types"
)

var errNoAdminConfigured = errors.New("no administrator address configured")

// FindByID returns the entry stored under owner+id.
func (s *Store) FindByID(ctx context.Context, owner, id string) (*types.RegistryEntry, error) {
	entry, _, err := s.getEntry(ctx, owner, id)
	return entry, err
}

// FindByURL resolves the url-hash pointer and returns the entry registered
// for the normalized URL.
func (s *Store) FindByURL(ctx context.Context, rawURL string) (*types.RegistryEntry, error) {
	raw, found, err := s.kv.Get(ctx, urlHashKey(rawURL))
	if err != nil {
		return nil, fmt.Errorf("failed to read url mapping: %w", err)
	}
	if !found {
		return nil, ErrEntryNotFound
	}

	var pointer types.URLPointer
	if err := json.Unmarshal(raw, &pointer); err != nil {
		return nil, fmt.Errorf("failed to decode url pointer: %w", err)
	}

	return s.FindByID(ctx, pointer.Owner, pointer.ID)
}

// ListMine returns all entries owned by owner after the dual-path
// authorization check (signature or payment origin).
func (s *Store) ListMine(ctx context.Context, owner string, proof *auth.SignatureProof, pay payment.ProofSource) ([]*types.RegistryEntry, error) {
	decision := auth.Decide(auth.Request{
		Owner:     owner,
		Operation: auth.OpListMine,
		Proof:     proof,
		Payment:   pay,
		Now:       s.now(),
	})
	if !decision.Authorized {
		return nil, &AuthorizationError{Reason: decision.Reason}
	}

	return s.listByOwner(ctx, owner)
}

// ListByStatus returns all entries in the given status, for administrative
// review. The caller must be the registry's designated administrator
// address; the comparison is fingerprint equivalence, not a signature check.
func (s *Store) ListByStatus(ctx context.Context, status types.EntryStatus, callerAddress string) ([]*types.RegistryEntry, error) {
	if s.adminAddress == "" {
		return nil, errNoAdminConfigured
	}
	if !identity.Equivalent(callerAddress, s.adminAddress) {
		return nil, &AuthorizationError{Reason: auth.ReasonAddressMismatch}
	}

	items, err := s.kv.ListByPrefix(ctx, entryKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	var entries []*types.RegistryEntry
	for _, item := range items {
		var entry types.RegistryEntry
		if err := json.Unmarshal(item.Value, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode entry %q: %w", item.Key, err)
		}
		if entry.Status == status {
			entries = append(entries, &entry)
		}
	}

	return entries, nil
}

// RecordProbe stores a fresh probe snapshot on the entry. When markVerified
// is set and the probe confirmed the x402 handshake, the entry transitions
// to verified; the decision to set markVerified belongs to the surrounding
// trust policy, not to this store. Re-probing a verified entry keeps it
// verified.
func (s *Store) RecordProbe(ctx context.Context, owner, id string, result types.ProbeResult, markVerified bool) (*types.RegistryEntry, error) {
	return s.mutateEntry(ctx, owner, id, func(e *types.RegistryEntry) {
		snapshot := result
		e.ProbeData = &snapshot
		if markVerified && result.IsX402Endpoint {
			e.Status = types.StatusVerified
		}
	})
}

// listByOwner collects every entry under the owner's key namespace.
func (s *Store) listByOwner(ctx context.Context, owner string) ([]*types.RegistryEntry, error) {
	items, err := s.kv.ListByPrefix(ctx, entryKeyPrefix+owner+":")
	if err != nil {
		return nil, fmt.Errorf("failed to list entries for owner: %w", err)
	}

	var entries []*types.RegistryEntry
	for _, item := range items {
		var entry types.RegistryEntry
		if err := json.Unmarshal(item.Value, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode entry %q: %w", item.Key, err)
		}
		entries = append(entries, &entry)
	}

	return entries, nil
}
