package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/x402-network/go-x402-registry-services/pkg/types"
)

// Evict removes an entry without an authorization proof. It exists for the
// chain-driven ingestion path only: when the advertisement output backing an
// entry is spent, the spend itself is the revocation proof. Request-scoped
// callers must go through Delete.
func (s *Store) Evict(ctx context.Context, owner, id string) error {
	entry, _, err := s.getEntry(ctx, owner, id)
	if err != nil {
		return err
	}

	if _, err := s.kv.Delete(ctx, entryKey(owner, id)); err != nil {
		return fmt.Errorf("failed to evict entry: %w", err)
	}
	if _, err := s.kv.Delete(ctx, urlHashKey(entry.URL)); err != nil {
		return fmt.Errorf("failed to delete url mapping: %w", err)
	}

	return nil
}

// Query returns entries matching the filter. Discovery is public; no
// authorization applies. Owner-filtered queries stay within the owner's key
// namespace, everything else scans the entry namespace.
func (s *Store) Query(ctx context.Context, query types.EntryQuery) ([]*types.RegistryEntry, error) {
	if query.URL != nil {
		entry, err := s.FindByURL(ctx, *query.URL)
		if err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return []*types.RegistryEntry{entry}, nil
	}

	var entries []*types.RegistryEntry
	var err error
	if query.Owner != nil {
		entries, err = s.listByOwner(ctx, *query.Owner)
	} else {
		entries, err = s.listAll(ctx)
	}
	if err != nil {
		return nil, err
	}

	filtered := entries[:0]
	for _, entry := range entries {
		if query.Category != nil && entry.Category != *query.Category {
			continue
		}
		if query.Status != nil && entry.Status != *query.Status {
			continue
		}
		filtered = append(filtered, entry)
	}

	return paginate(filtered, query.Skip, query.Limit), nil
}

// paginate applies optional skip/limit to an already-filtered result set.
func paginate(entries []*types.RegistryEntry, skip, limit *int) []*types.RegistryEntry {
	if skip != nil && *skip > 0 {
		if *skip >= len(entries) {
			return nil
		}
		entries = entries[*skip:]
	}
	if limit != nil && *limit > 0 && *limit < len(entries) {
		entries = entries[:*limit]
	}
	return entries
}

// listAll collects every entry in the registry namespace.
func (s *Store) listAll(ctx context.Context) ([]*types.RegistryEntry, error) {
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
		entries = append(entries, &entry)
	}

	return entries, nil
}
