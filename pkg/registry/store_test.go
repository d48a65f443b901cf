package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402-network/go-x402-registry-services/pkg/auth"
	"github.com/x402-network/go-x402-registry-services/pkg/challenge"
	"github.com/x402-network/go-x402-registry-services/pkg/identity"
	"github.com/x402-network/go-x402-registry-services/pkg/payment"
	"github.com/x402-network/go-x402-registry-services/pkg/sigverify"
	"github.com/x402-network/go-x402-registry-services/pkg/storage"
	"github.com/x402-network/go-x402-registry-services/pkg/types"
)

const (
	testDomain = "registry.example.com"
	testURL    = "https://api.example.com/v1/forecast"
)

type testActor struct {
	priv *ec.PrivateKey
	addr string
}

func newActor(t *testing.T) testActor {
	t.Helper()

	priv, err := ec.NewPrivateKey()
	require.NoError(t, err)

	addr, err := identity.FromPublicKey(priv.PubKey())
	require.NoError(t, err)

	return testActor{priv: priv, addr: addr.String()}
}

func newTestStore(t *testing.T, opts ...Option) (*Store, storage.KV) {
	t.Helper()

	kv := storage.NewMemoryKV()
	guard := challenge.NewGuard(kv)
	return NewStore(kv, guard, testDomain, opts...), kv
}

// destructiveProof issues a challenge and signs the matching structured
// message in one step.
func destructiveProof(t *testing.T, store *Store, actor testActor, action sigverify.Action, url, newOwner string) *auth.SignatureProof {
	t.Helper()

	ch, err := store.Guard().Issue(context.Background(), actor.addr, string(action))
	require.NoError(t, err)

	message, err := sigverify.BuildMessage(action, sigverify.Fields{
		Owner:    actor.addr,
		URL:      url,
		NewOwner: newOwner,
		Nonce:    ch.ID,
	}, time.Now())
	require.NoError(t, err)

	signature, err := sigverify.Sign(actor.priv, message, testDomain)
	require.NoError(t, err)

	return &auth.SignatureProof{
		Structured: message,
		Domain:     testDomain,
		Signature:  signature,
	}
}

// stubProber returns a canned result and records its calls.
type stubProber struct {
	result types.ProbeResult
	calls  int
}

func (p *stubProber) Probe(_ context.Context, _ string, _ time.Duration) types.ProbeResult {
	p.calls++
	return p.result
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	actor := newActor(t)

	entry, err := store.Register(ctx, testURL, actor.addr, Metadata{
		Name:     "Forecast API",
		Category: "weather_data",
		Tags:     []string{"weather", "forecast"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, testURL, entry.URL)
	assert.Equal(t, actor.addr, entry.Owner)
	assert.Equal(t, types.StatusUnverified, entry.Status, "new entries start unverified")
	assert.Equal(t, "Forecast API", entry.Name)
	assert.False(t, entry.RegisteredAt.IsZero())
	assert.Nil(t, entry.ProbeData)

	found, err := store.FindByID(ctx, actor.addr, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, found.ID)
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	actor := newActor(t)

	_, err := store.Register(ctx, "http://example.com/api", actor.addr, Metadata{})
	require.Error(t, err, "plain http without explicit port is not registrable")

	_, err = store.Register(ctx, testURL, "not-an-address", Metadata{})
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrInvalidAddress)
}

func TestRegisterDuplicateURL(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	actor := newActor(t)
	other := newActor(t)

	_, err := store.Register(ctx, testURL, actor.addr, Metadata{})
	require.NoError(t, err)

	// Same URL, different spelling, different owner: still one entry.
	_, err = store.Register(ctx, "HTTPS://API.EXAMPLE.COM/v1/forecast/", other.addr, Metadata{})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestRegisterConcurrentSameURL(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	const contenders = 8
	var wg sync.WaitGroup
	results := make([]error, contenders)

	for i := 0; i < contenders; i++ {
		actor := newActor(t)
		wg.Add(1)
		go func(i int, owner string) {
			defer wg.Done()
			_, results[i] = store.Register(ctx, testURL, owner, Metadata{})
		}(i, actor.addr)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyRegistered)
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent registration must win")
}

func TestRegisterWithProber(t *testing.T) {
	ctx := context.Background()
	prober := &stubProber{result: types.ProbeResult{
		IsX402Endpoint: true,
		PaymentAddress: "0xPayTo",
		ResponseTimeMs: 42,
	}}
	store, _ := newTestStore(t, WithProber(prober, 5*time.Second))
	actor := newActor(t)

	entry, err := store.Register(ctx, testURL, actor.addr, Metadata{})
	require.NoError(t, err)

	assert.Equal(t, 1, prober.calls)
	require.NotNil(t, entry.ProbeData)
	assert.True(t, entry.ProbeData.IsX402Endpoint)
	// A successful probe on registration still leaves the entry unverified;
	// the verification transition belongs to RecordProbe.
	assert.Equal(t, types.StatusUnverified, entry.Status)
}

func TestUpdateWithPaymentProof(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	actor := newActor(t)

	entry, err := store.Register(ctx, testURL, actor.addr, Metadata{Name: "Old"})
	require.NoError(t, err)

	name := "New Name"
	description := "updated"
	updated, err := store.Update(ctx, entry.ID, actor.addr, types.EntryPatch{
		Name:        &name,
		Description: &description,
	}, nil, payment.ProofSource{Outcome: &types.SettlementOutcome{
		Success: true,
		Payer:   actor.addr,
	}})
	require.NoError(t, err)

	assert.Equal(t, "New Name", updated.Name)
	assert.Equal(t, "updated", updated.Description)
	assert.Equal(t, entry.Category, updated.Category, "unpatched fields survive")
}

func TestUpdateWithSignatureProof(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	actor := newActor(t)

	entry, err := store.Register(ctx, testURL, actor.addr, Metadata{})
	require.NoError(t, err)

	signature, err := sigverify.SignSimple(actor.priv, "update my entry")
	require.NoError(t, err)

	name := "Signed Update"
	updated, err := store.Update(ctx, entry.ID, actor.addr, types.EntryPatch{Name: &name}, &auth.SignatureProof{
		Message:   "update my entry",
		Signature: signature,
	}, payment.ProofSource{})
	require.NoError(t, err)
	assert.Equal(t, "Signed Update", updated.Name)
}

func TestUpdateDeniedForStranger(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	actor := newActor(t)
	stranger := newActor(t)

	entry, err := store.Register(ctx, testURL, actor.addr, Metadata{})
	require.NoError(t, err)

	name := "Hijacked"
	_, err = store.Update(ctx, entry.ID, actor.addr, types.EntryPatch{Name: &name}, nil,
		payment.ProofSource{Outcome: &types.SettlementOutcome{
			Success: true,
			Payer:   stranger.addr,
		}})
	require.Error(t, err)

	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, auth.ReasonAddressMismatch, authErr.Reason)
}

func TestUpdateMissingEntry(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	actor := newActor(t)

	name := "anything"
	_, err := store.Update(ctx, "nope", actor.addr, types.EntryPatch{Name: &name}, nil, payment.ProofSource{})
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	actor := newActor(t)

	entry, err := store.Register(ctx, testURL, actor.addr, Metadata{})
	require.NoError(t, err)

	proof := destructiveProof(t, store, actor, sigverify.ActionDeleteEndpoint, entry.URL, "")
	require.NoError(t, store.Delete(ctx, entry.ID, actor.addr, proof))

	_, err = store.FindByID(ctx, actor.addr, entry.ID)
	assert.ErrorIs(t, err, ErrEntryNotFound)

	_, err = store.FindByURL(ctx, testURL)
	assert.ErrorIs(t, err, ErrEntryNotFound)

	// The URL is free again.
	_, err = store.Register(ctx, testURL, actor.addr, Metadata{})
	require.NoError(t, err)
}

func TestDeleteReplayDenied(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	actor := newActor(t)

	entry, err := store.Register(ctx, testURL, actor.addr, Metadata{})
	require.NoError(t, err)

	proof := destructiveProof(t, store, actor, sigverify.ActionDeleteEndpoint, entry.URL, "")
	require.NoError(t, store.Delete(ctx, entry.ID, actor.addr, proof))

	// Re-register, then replay the consumed proof against the new entry.
	second, err := store.Register(ctx, testURL, actor.addr, Metadata{})
	require.NoError(t, err)

	err = store.Delete(ctx, second.ID, actor.addr, proof)
	require.Error(t, err)

	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, auth.ReasonChallengeInvalid, authErr.Reason)

	// The second entry survived the replay attempt.
	_, err = store.FindByID(ctx, actor.addr, second.ID)
	require.NoError(t, err)
}

func TestDeleteRequiresStructuredProof(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	actor := newActor(t)

	entry, err := store.Register(ctx, testURL, actor.addr, Metadata{})
	require.NoError(t, err)

	signature, err := sigverify.SignSimple(actor.priv, "delete it")
	require.NoError(t, err)

	err = store.Delete(ctx, entry.ID, actor.addr, &auth.SignatureProof{
		Message:   "delete it",
		Signature: signature,
	})
	require.Error(t, err)

	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, auth.ReasonSignatureInvalid, authErr.Reason)
}

func TestDeleteSignatureBoundToEntryURL(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	actor := newActor(t)

	first, err := store.Register(ctx, testURL, actor.addr, Metadata{})
	require.NoError(t, err)
	second, err := store.Register(ctx, "https://api.example.com/v2/forecast", actor.addr, Metadata{})
	require.NoError(t, err)

	// A deletion signed over the first entry's URL must not delete the second.
	proof := destructiveProof(t, store, actor, sigverify.ActionDeleteEndpoint, first.URL, "")
	err = store.Delete(ctx, second.ID, actor.addr, proof)
	require.Error(t, err)

	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, auth.ReasonSignatureInvalid, authErr.Reason)

	// Both entries survived.
	_, err = store.FindByID(ctx, actor.addr, first.ID)
	require.NoError(t, err)
	_, err = store.FindByID(ctx, actor.addr, second.ID)
	require.NoError(t, err)
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	actor := newActor(t)
	recipient := newActor(t)

	entry, err := store.Register(ctx, testURL, actor.addr, Metadata{})
	require.NoError(t, err)

	proof := destructiveProof(t, store, actor, sigverify.ActionTransferOwnership, entry.URL, recipient.addr)
	transferred, err := store.Transfer(ctx, entry.ID, actor.addr, recipient.addr, proof)
	require.NoError(t, err)
	assert.Equal(t, recipient.addr, transferred.Owner)

	// The entry now lives under the new owner.
	_, err = store.FindByID(ctx, actor.addr, entry.ID)
	assert.ErrorIs(t, err, ErrEntryNotFound)

	found, err := store.FindByID(ctx, recipient.addr, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, recipient.addr, found.Owner)

	// The url-hash pointer follows the transfer.
	byURL, err := store.FindByURL(ctx, testURL)
	require.NoError(t, err)
	assert.Equal(t, recipient.addr, byURL.Owner)
}

func TestTransferExpiredChallengeDenied(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	// A nanosecond validity window: every issued challenge has expired by the
	// time the transfer request arrives.
	guard := challenge.NewGuardWithTTL(kv, time.Nanosecond)
	store := NewStore(kv, guard, testDomain)
	actor := newActor(t)
	recipient := newActor(t)

	entry, err := store.Register(ctx, testURL, actor.addr, Metadata{})
	require.NoError(t, err)

	ch, err := guard.Issue(ctx, actor.addr, string(sigverify.ActionTransferOwnership))
	require.NoError(t, err)

	message, err := sigverify.BuildMessage(sigverify.ActionTransferOwnership, sigverify.Fields{
		Owner:    actor.addr,
		URL:      entry.URL,
		NewOwner: recipient.addr,
		Nonce:    ch.ID,
	}, time.Now())
	require.NoError(t, err)
	signature, err := sigverify.Sign(actor.priv, message, testDomain)
	require.NoError(t, err)

	_, err = store.Transfer(ctx, entry.ID, actor.addr, recipient.addr, &auth.SignatureProof{
		Structured: message,
		Domain:     testDomain,
		Signature:  signature,
	})
	require.Error(t, err)

	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, auth.ReasonChallengeInvalid, authErr.Reason)

	// Ownership unchanged.
	found, err := store.FindByID(ctx, actor.addr, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, actor.addr, found.Owner)
}

func TestTransferSignatureBoundToRecipient(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	actor := newActor(t)
	recipient := newActor(t)
	interloper := newActor(t)

	entry, err := store.Register(ctx, testURL, actor.addr, Metadata{})
	require.NoError(t, err)

	// The message authorizes a transfer to recipient; executing it toward
	// anyone else is denied.
	proof := destructiveProof(t, store, actor, sigverify.ActionTransferOwnership, entry.URL, recipient.addr)
	_, err = store.Transfer(ctx, entry.ID, actor.addr, interloper.addr, proof)
	require.Error(t, err)

	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, auth.ReasonSignatureInvalid, authErr.Reason)

	// Ownership unchanged.
	found, err := store.FindByID(ctx, actor.addr, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, actor.addr, found.Owner)
}

func TestTransferRejectsInvalidNewOwner(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	actor := newActor(t)

	entry, err := store.Register(ctx, testURL, actor.addr, Metadata{})
	require.NoError(t, err)

	_, err = store.Transfer(ctx, entry.ID, actor.addr, "garbage", nil)
	assert.ErrorIs(t, err, identity.ErrInvalidAddress)
}

func TestEntryVersionPersists(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	actor := newActor(t)

	entry, err := store.Register(ctx, testURL, actor.addr, Metadata{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), entry.Version)

	// The version survives the storage round-trip and advances on mutation.
	found, err := store.FindByID(ctx, actor.addr, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), found.Version)

	name := "renamed"
	updated, err := store.Update(ctx, entry.ID, actor.addr, types.EntryPatch{Name: &name}, nil,
		payment.ProofSource{Outcome: &types.SettlementOutcome{
			Success: true,
			Payer:   actor.addr,
		}})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), updated.Version)

	found, err = store.FindByID(ctx, actor.addr, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), found.Version)
}

func TestFindByURLNormalizes(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	actor := newActor(t)

	entry, err := store.Register(ctx, testURL, actor.addr, Metadata{})
	require.NoError(t, err)

	found, err := store.FindByURL(ctx, "HTTPS://API.EXAMPLE.COM:443/v1/forecast/")
	require.NoError(t, err)
	assert.Equal(t, entry.ID, found.ID)
}

func TestListMine(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	actor := newActor(t)
	other := newActor(t)

	for i := 0; i < 3; i++ {
		_, err := store.Register(ctx, fmt.Sprintf("https://api.example.com/v%d", i), actor.addr, Metadata{})
		require.NoError(t, err)
	}
	_, err := store.Register(ctx, "https://other.example.com/api", other.addr, Metadata{})
	require.NoError(t, err)

	entries, err := store.ListMine(ctx, actor.addr, nil, payment.ProofSource{Outcome: &types.SettlementOutcome{
		Success: true,
		Payer:   actor.addr,
	}})
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	// No proof at all: denied.
	_, err = store.ListMine(ctx, actor.addr, nil, payment.ProofSource{})
	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, auth.ReasonNoProof, authErr.Reason)
}

func TestListByStatus(t *testing.T) {
	ctx := context.Background()
	admin := newActor(t)
	stranger := newActor(t)
	store, _ := newTestStore(t, WithAdminAddress(admin.addr))
	actor := newActor(t)

	entry, err := store.Register(ctx, testURL, actor.addr, Metadata{})
	require.NoError(t, err)

	_, err = store.Register(ctx, "https://api.example.com/v2", actor.addr, Metadata{})
	require.NoError(t, err)

	// Verify one entry via a confirming probe.
	_, err = store.RecordProbe(ctx, actor.addr, entry.ID, types.ProbeResult{IsX402Endpoint: true}, true)
	require.NoError(t, err)

	unverified, err := store.ListByStatus(ctx, types.StatusUnverified, admin.addr)
	require.NoError(t, err)
	assert.Len(t, unverified, 1)

	verified, err := store.ListByStatus(ctx, types.StatusVerified, admin.addr)
	require.NoError(t, err)
	assert.Len(t, verified, 1)
	assert.Equal(t, entry.ID, verified[0].ID)

	// Non-admin caller is denied.
	_, err = store.ListByStatus(ctx, types.StatusUnverified, stranger.addr)
	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, auth.ReasonAddressMismatch, authErr.Reason)
}

func TestListByStatusWithoutAdminConfigured(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	actor := newActor(t)

	_, err := store.ListByStatus(ctx, types.StatusUnverified, actor.addr)
	require.Error(t, err)
}

func TestRecordProbe(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	actor := newActor(t)

	entry, err := store.Register(ctx, testURL, actor.addr, Metadata{})
	require.NoError(t, err)

	// Failed probe: snapshot attached, status unchanged.
	updated, err := store.RecordProbe(ctx, actor.addr, entry.ID, types.ProbeResult{
		Error: "endpoint unreachable",
	}, true)
	require.NoError(t, err)
	require.NotNil(t, updated.ProbeData)
	assert.Equal(t, types.StatusUnverified, updated.Status)

	// Confirming probe without markVerified: still unverified.
	updated, err = store.RecordProbe(ctx, actor.addr, entry.ID, types.ProbeResult{IsX402Endpoint: true}, false)
	require.NoError(t, err)
	assert.Equal(t, types.StatusUnverified, updated.Status)

	// Confirming probe with markVerified: verified.
	updated, err = store.RecordProbe(ctx, actor.addr, entry.ID, types.ProbeResult{IsX402Endpoint: true}, true)
	require.NoError(t, err)
	assert.Equal(t, types.StatusVerified, updated.Status)

	// Re-probing a verified entry keeps it verified.
	updated, err = store.RecordProbe(ctx, actor.addr, entry.ID, types.ProbeResult{
		Error: "temporary outage",
	}, true)
	require.NoError(t, err)
	assert.Equal(t, types.StatusVerified, updated.Status)
}

func TestEvict(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	actor := newActor(t)

	entry, err := store.Register(ctx, testURL, actor.addr, Metadata{})
	require.NoError(t, err)

	require.NoError(t, store.Evict(ctx, actor.addr, entry.ID))

	_, err = store.FindByID(ctx, actor.addr, entry.ID)
	assert.ErrorIs(t, err, ErrEntryNotFound)
	_, err = store.FindByURL(ctx, testURL)
	assert.ErrorIs(t, err, ErrEntryNotFound)

	// Evicting again reports not found.
	assert.ErrorIs(t, store.Evict(ctx, actor.addr, entry.ID), ErrEntryNotFound)
}

func TestQuery(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	actor := newActor(t)
	other := newActor(t)

	_, err := store.Register(ctx, "https://a.example.com/api", actor.addr, Metadata{Category: "weather_data"})
	require.NoError(t, err)
	_, err = store.Register(ctx, "https://b.example.com/api", actor.addr, Metadata{Category: "search"})
	require.NoError(t, err)
	_, err = store.Register(ctx, "https://c.example.com/api", other.addr, Metadata{Category: "weather_data"})
	require.NoError(t, err)

	all, err := store.Query(ctx, types.EntryQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	category := "weather_data"
	weather, err := store.Query(ctx, types.EntryQuery{Category: &category})
	require.NoError(t, err)
	assert.Len(t, weather, 2)

	owned, err := store.Query(ctx, types.EntryQuery{Owner: &actor.addr})
	require.NoError(t, err)
	assert.Len(t, owned, 2)

	url := "https://b.example.com/api"
	byURL, err := store.Query(ctx, types.EntryQuery{URL: &url})
	require.NoError(t, err)
	require.Len(t, byURL, 1)
	assert.Equal(t, url, byURL[0].URL)

	missing := "https://missing.example.com/api"
	none, err := store.Query(ctx, types.EntryQuery{URL: &missing})
	require.NoError(t, err)
	assert.Empty(t, none)

	limit, skip := 1, 1
	page, err := store.Query(ctx, types.EntryQuery{Limit: &limit, Skip: &skip})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}
