// Package lookup exposes the x402 endpoint registry to the BSV overlay
// network. It implements the overlay LookupService contract: on-chain x402
// advertisement tokens admitted under the registry topic are ingested as
// unverified entries, spends revoke them, and lookup questions are answered
// from the registry store.
package lookup

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bsv-blockchain/go-overlay-services/pkg/core/engine"
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/overlay/lookup"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/bsv-blockchain/go-sdk/transaction/template/pushdrop"

	"github.com/x402-network/go-x402-registry-services/pkg/identity"
	"github.com/x402-network/go-x402-registry-services/pkg/registry"
	"github.com/x402-network/go-x402-registry-services/pkg/storage"
	"github.com/x402-network/go-x402-registry-services/pkg/types"
)

// Constants for the x402 lookup service configuration.
const (
	// Topic is the topic manager topic for x402 endpoint advertisements.
	Topic = "tm_x402"
	// Service is the lookup service identifier.
	Service = "ls_x402"
	// Identifier is the protocol identifier expected in PushDrop fields.
	Identifier = "X402"

	// outpointKeyPrefix maps advertisement outpoints back to the entries
	// they created, so a spend can revoke the right entry.
	outpointKeyPrefix = "registry:outpoint:"
)

// Static error variables for err113 compliance.
var (
	errPushDropDecodeFailed      = errors.New("failed to decode PushDrop locking script")
	errInvalidPushDropFields     = errors.New("invalid PushDrop result: expected at least 4 fields")
	errInvalidIdentityKey        = errors.New("advertisement carries an unparseable identity key")
	errValidQueryMustBeProvided  = errors.New("a valid query must be provided")
	errLookupServiceNotSupported = errors.New("lookup service not supported")
	errInvalidStringQuery        = errors.New("invalid string query: only 'findAll' is supported")
	errQueryLimitInvalid         = errors.New("query.limit must be a positive number if provided")
	errQuerySkipInvalid          = errors.New("query.skip must be a non-negative number if provided")
	errQueryStatusInvalid        = errors.New("query.status must be 'unverified' or 'verified' if provided")
)

// Registry is the slice of the registry store the lookup service needs.
type Registry interface {
	Register(ctx context.Context, rawURL, owner string, meta registry.Metadata) (*types.RegistryEntry, error)
	Evict(ctx context.Context, owner, id string) error
	Query(ctx context.Context, query types.EntryQuery) ([]*types.RegistryEntry, error)
}

// LookupService implements the overlay LookupService contract for x402
// endpoint advertisements.
type LookupService struct {
	registry Registry
	kv       storage.KV
}

// Compile-time verification that LookupService implements
// engine.LookupService.
var _ engine.LookupService = (*LookupService)(nil)

// NewLookupService creates a new x402 lookup service instance.
func NewLookupService(reg Registry, kv storage.KV) *LookupService {
	return &LookupService{
		registry: reg,
		kv:       kv,
	}
}

// OutputAdmittedByTopic handles an output being admitted by topic. x402
// endpoint advertisements are PushDrop tokens; a valid one creates an
// unverified registry entry owned by the address of the advertised identity
// key.
//
// Expected PushDrop fields:
//   - fields[0]: Protocol identifier (must be "X402")
//   - fields[1]: Identity key (compressed public key bytes)
//   - fields[2]: Endpoint URL
//   - fields[3]: Category
func (s *LookupService) OutputAdmittedByTopic(ctx context.Context, payload *engine.OutputAdmittedByTopic) error {
	if payload.Topic != Topic {
		return nil // Silently ignore other topics
	}

	result := pushdrop.Decode(payload.LockingScript)
	if result == nil {
		return errPushDropDecodeFailed
	}

	if len(result.Fields) < 4 {
		return fmt.Errorf("%w: got %d", errInvalidPushDropFields, len(result.Fields))
	}

	if string(result.Fields[0]) != Identifier {
		return nil // Silently ignore other protocols
	}

	identityKey, err := ec.ParsePubKey(result.Fields[1])
	if err != nil {
		return fmt.Errorf("%w: %s", errInvalidIdentityKey, err.Error())
	}

	owner, err := identity.FromPublicKey(identityKey)
	if err != nil {
		return fmt.Errorf("%w: %s", errInvalidIdentityKey, err.Error())
	}

	endpointURL := string(result.Fields[2])
	category := string(result.Fields[3])

	entry, err := s.registry.Register(ctx, endpointURL, owner.String(), registry.Metadata{Category: category})
	if err != nil {
		if errors.Is(err, registry.ErrAlreadyRegistered) {
			return nil // Re-broadcast of a known advertisement
		}
		return err
	}

	pointer, err := json.Marshal(types.URLPointer{Owner: entry.Owner, ID: entry.ID})
	if err != nil {
		return fmt.Errorf("failed to encode outpoint pointer: %w", err)
	}

	return s.kv.Put(ctx, outpointKey(payload.Outpoint), pointer)
}

// OutputSpent handles an output being spent. Spending the advertisement
// output revokes the registry entry it created.
func (s *LookupService) OutputSpent(ctx context.Context, payload *engine.OutputSpent) error {
	if payload.Topic != Topic {
		return nil // Silently ignore other topics
	}

	return s.evictByOutpoint(ctx, payload.Outpoint)
}

// OutputEvicted handles an output being evicted from the mempool; the
// associated entry is revoked the same way as on spend.
func (s *LookupService) OutputEvicted(ctx context.Context, outpoint *transaction.Outpoint) error {
	return s.evictByOutpoint(ctx, outpoint)
}

// OutputNoLongerRetainedInHistory handles outputs no longer retained in
// history. The registry keeps no historical retention, so this is a no-op.
func (s *LookupService) OutputNoLongerRetainedInHistory(_ context.Context, _ *transaction.Outpoint, _ string) error {
	return nil
}

// OutputBlockHeightUpdated handles block height updates for transactions.
// The registry does not track block heights, so this is a no-op.
func (s *LookupService) OutputBlockHeightUpdated(_ context.Context, _ *chainhash.Hash, _ uint32, _ uint64) error {
	return nil
}

// Lookup performs a lookup query and returns matching registry entries.
//
// Supported query formats:
//   - String "findAll": Returns all registry entries
//   - Object with EntryQuery fields: Filters by owner, category, url, or
//     status, with pagination
func (s *LookupService) Lookup(ctx context.Context, question *lookup.LookupQuestion) (*lookup.LookupAnswer, error) {
	if len(question.Query) == 0 {
		return nil, errValidQueryMustBeProvided
	}

	if question.Service != Service {
		return nil, fmt.Errorf("%w: expected '%s', got '%s'", errLookupServiceNotSupported, Service, question.Service)
	}

	var queryInterface interface{}
	if err := json.Unmarshal(question.Query, &queryInterface); err != nil {
		return nil, fmt.Errorf("failed to parse query JSON: %w", err)
	}

	// Handle legacy "findAll" string query
	if queryStr, ok := queryInterface.(string); ok {
		if queryStr == "findAll" {
			entries, err := s.registry.Query(ctx, types.EntryQuery{})
			if err != nil {
				return nil, err
			}
			return entriesToLookupAnswer(entries), nil
		}
		return nil, fmt.Errorf("%w: got '%s'", errInvalidStringQuery, queryStr)
	}

	query, err := parseQueryObject(question.Query)
	if err != nil {
		return nil, fmt.Errorf("invalid query format: %w", err)
	}

	entries, err := s.registry.Query(ctx, *query)
	if err != nil {
		return nil, err
	}

	return entriesToLookupAnswer(entries), nil
}

// GetDocumentation returns the service documentation.
func (s *LookupService) GetDocumentation() string {
	return LookupDocumentation
}

// GetMetaData returns the service metadata.
func (s *LookupService) GetMetaData() *overlay.MetaData {
	return &overlay.MetaData{
		Name:        "x402 Endpoint Lookup Service",
		Description: "Provides lookup capabilities for registered x402 pay-per-call endpoints.",
	}
}

// evictByOutpoint resolves the outpoint pointer and revokes the entry it
// references. A missing pointer means the advertisement never produced an
// entry here and is not an error.
func (s *LookupService) evictByOutpoint(ctx context.Context, outpoint *transaction.Outpoint) error {
	raw, found, err := s.kv.Get(ctx, outpointKey(outpoint))
	if err != nil {
		return fmt.Errorf("failed to read outpoint pointer: %w", err)
	}
	if !found {
		return nil
	}

	var pointer types.URLPointer
	if err := json.Unmarshal(raw, &pointer); err != nil {
		return fmt.Errorf("failed to decode outpoint pointer: %w", err)
	}

	if err := s.registry.Evict(ctx, pointer.Owner, pointer.ID); err != nil && !errors.Is(err, registry.ErrEntryNotFound) {
		return err
	}

	_, err = s.kv.Delete(ctx, outpointKey(outpoint))
	return err
}

// parseQueryObject parses and validates a query object.
func parseQueryObject(raw json.RawMessage) (*types.EntryQuery, error) {
	var query types.EntryQuery
	if err := json.Unmarshal(raw, &query); err != nil {
		return nil, fmt.Errorf("failed to unmarshal query object: %w", err)
	}

	if query.Limit != nil && *query.Limit < 0 {
		return nil, errQueryLimitInvalid
	}
	if query.Skip != nil && *query.Skip < 0 {
		return nil, errQuerySkipInvalid
	}
	if query.Status != nil && *query.Status != types.StatusUnverified && *query.Status != types.StatusVerified {
		return nil, errQueryStatusInvalid
	}

	return &query, nil
}

// entriesToLookupAnswer wraps registry entries as a freeform lookup answer.
func entriesToLookupAnswer(entries []*types.RegistryEntry) *lookup.LookupAnswer {
	return &lookup.LookupAnswer{
		Type:   lookup.AnswerTypeFreeform,
		Result: entries,
	}
}

// outpointKey returns the storage key tying an advertisement outpoint to the
// entry it created.
func outpointKey(outpoint *transaction.Outpoint) string {
	return fmt.Sprintf("%s%s:%d", outpointKeyPrefix, hex.EncodeToString(outpoint.Txid[:]), outpoint.Index)
}
