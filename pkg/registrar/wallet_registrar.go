// Package registrar implements the client side of endpoint registration: a
// wallet-backed helper that advertises x402 endpoints on-chain as PushDrop
// tokens and produces the signed structured messages the registry requires
// for destructive operations.
package registrar

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bsv-blockchain/go-sdk/overlay"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/bsv-blockchain/go-sdk/transaction/template/pushdrop"
	"github.com/bsv-blockchain/go-sdk/wallet"
	"github.com/bsv-blockchain/go-wallet-toolbox/pkg/defs"
	"github.com/bsv-blockchain/go-wallet-toolbox/pkg/infra"
	"github.com/bsv-blockchain/go-wallet-toolbox/pkg/services"
	"github.com/bsv-blockchain/go-wallet-toolbox/pkg/storage"
	toolboxWallet "github.com/bsv-blockchain/go-wallet-toolbox/pkg/wallet"
	"github.com/bsv-blockchain/go-wallet-toolbox/pkg/wdk"

	"github.com/x402-network/go-x402-registry-services/pkg/identity"
	"github.com/x402-network/go-x402-registry-services/pkg/lookup"
	"github.com/x402-network/go-x402-registry-services/pkg/sigverify"
	"github.com/x402-network/go-x402-registry-services/pkg/utils"
)

// AdTokenValue is the satoshi value carried by an advertisement output.
const AdTokenValue = 1

// Static error variables for err113 compliance
var (
	errChainRequired         = errors.New("chain parameter is required and cannot be empty")
	errPrivateKeyRequired    = errors.New("privateKey parameter is required and cannot be empty")
	errNotInitialized        = errors.New("WalletRegistrar must be initialized before use")
	errAlreadyInitialized    = errors.New("WalletRegistrar is already initialized")
	errNoEndpoints           = errors.New("at least one endpoint is required")
	errEndpointURLInvalid    = errors.New("endpoint URL is not registrable")
	errCategoryInvalid       = errors.New("category must be lowercase words separated by underscores")
	errPrivateKeyAllZeros    = errors.New("private key cannot be all zeros")
	errPrivateKeyWrongLength = errors.New("private key must be exactly 32 bytes (64 hex characters)")
)

// Endpoint describes one x402 endpoint to advertise.
type Endpoint struct {
	// URL is the endpoint's pay-per-call URL.
	URL string
	// Category is the registry category for the endpoint.
	Category string
}

// Funder abstracts transaction creation so tests can run without a funded
// wallet.
type Funder interface {
	CreateAdvertisements(endpoints []Endpoint, identityKey string) (overlay.TaggedBEEF, error)
}

// WalletRegistrar advertises x402 endpoints on-chain and signs the structured
// messages the registry's authorization engine expects.
type WalletRegistrar struct {
	// chain specifies the blockchain network (e.g., "main", "test")
	chain string
	// privateKey is the owner's private key (hex format)
	privateKey string
	// domain is the signing domain the target registry verifies under
	domain string
	// initialized tracks whether the registrar has been initialized
	initialized bool
	// wallet provides transaction funding
	wallet wallet.Interface
	// identityKey is the hex-encoded identity key derived from the private key
	identityKey string
	// ownerAddress is the registry owner address derived from the private key
	ownerAddress string
	// Funder allows mocking
	Funder Funder
}

// NewWalletRegistrar creates a new WalletRegistrar instance. Constructing the
// registrar builds a toolbox wallet around the private key; Init must still
// be called before advertising.
func NewWalletRegistrar(chain, privateKey, domain string) (*WalletRegistrar, error) {
	if strings.TrimSpace(chain) == "" {
		return nil, errChainRequired
	}
	if strings.TrimSpace(privateKey) == "" {
		return nil, errPrivateKeyRequired
	}

	if _, err := hex.DecodeString(privateKey); err != nil {
		return nil, fmt.Errorf("privateKey must be a valid hexadecimal string: %w", err)
	}

	privKey, err := ec.PrivateKeyFromHex(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create private key object: %w", err)
	}

	// Initialize the wallet configuration
	cfg := infra.Defaults()
	cfg.ServerPrivateKey = privateKey
	activeServices := services.New(slog.Default(), cfg.Services)

	// Create storage manager for the wallet
	storageManager, errStorage := storage.NewGORMProvider(
		cfg.BSVNetwork,
		activeServices,
		storage.WithDBConfig(cfg.DBConfig),
		storage.WithFeeModel(cfg.FeeModel),
		storage.WithCommission(cfg.Commission),
		storage.WithSynchronizeTxStatuses(cfg.SynchronizeTxStatuses),
	)
	if errStorage != nil {
		return nil, fmt.Errorf("failed to create storage manager: %w", errStorage)
	}

	storageIdentityKey, errKey := wdk.IdentityKey(cfg.ServerPrivateKey)
	if errKey != nil {
		return nil, fmt.Errorf("failed to create storage identity key: %w", errKey)
	}

	if _, errMigrate := storageManager.Migrate(context.TODO(), "wallet-registrar", storageIdentityKey); errMigrate != nil {
		return nil, fmt.Errorf("failed to migrate storage: %w", errMigrate)
	}

	var network defs.BSVNetwork
	if chain == "test" {
		network = defs.NetworkTestnet
	} else {
		network = defs.NetworkMainnet
	}

	wlt, err := toolboxWallet.New(network, privKey, storageManager)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	return &WalletRegistrar{
		chain:      chain,
		privateKey: privateKey,
		domain:     domain,
		wallet:     wlt,
	}, nil
}

// Init validates the private key and derives the identity key and owner
// address. It must be called before advertising or signing.
func (r *WalletRegistrar) Init() error {
	if r.initialized {
		return errAlreadyInitialized
	}

	if err := r.validatePrivateKey(); err != nil {
		return fmt.Errorf("private key validation failed: %w", err)
	}

	privKey, err := ec.PrivateKeyFromHex(r.privateKey)
	if err != nil {
		return fmt.Errorf("failed to create private key: %w", err)
	}
	r.identityKey = hex.EncodeToString(privKey.PubKey().Compressed())

	owner, err := identity.FromPublicKey(privKey.PubKey())
	if err != nil {
		return fmt.Errorf("owner address derivation failed: %w", err)
	}
	r.ownerAddress = owner.String()

	r.initialized = true
	return nil
}

// IsInitialized returns whether the registrar has been initialized
func (r *WalletRegistrar) IsInitialized() bool {
	return r.initialized
}

// OwnerAddress returns the registry owner address derived from the private
// key. The registrar must be initialized.
func (r *WalletRegistrar) OwnerAddress() string {
	return r.ownerAddress
}

// IdentityKey returns the hex-encoded compressed identity key.
func (r *WalletRegistrar) IdentityKey() string {
	return r.identityKey
}

// AdvertiseEndpoints creates on-chain x402 advertisement tokens for the given
// endpoints and returns them as a tagged BEEF for submission to the overlay
// network. Each endpoint becomes one PushDrop output with fields
// [X402, identityKey, url, category].
func (r *WalletRegistrar) AdvertiseEndpoints(ctx context.Context, endpoints []Endpoint) (overlay.TaggedBEEF, error) {
	if !r.initialized {
		return overlay.TaggedBEEF{}, errNotInitialized
	}
	if len(endpoints) == 0 {
		return overlay.TaggedBEEF{}, errNoEndpoints
	}

	for i, endpoint := range endpoints {
		if err := validateEndpoint(endpoint); err != nil {
			return overlay.TaggedBEEF{}, fmt.Errorf("invalid endpoint at index %d: %w", i, err)
		}
	}

	// Use Funder for testing if available
	if r.Funder != nil {
		return r.Funder.CreateAdvertisements(endpoints, r.identityKey)
	}

	privKey, err := ec.PrivateKeyFromHex(r.privateKey)
	if err != nil {
		return overlay.TaggedBEEF{}, fmt.Errorf("failed to create private key from hex: %w", err)
	}
	keyDeriver := wallet.NewKeyDeriver(privKey)

	pd := pushdrop.PushDrop{
		Wallet: r.wallet,
	}

	outputs := make([]wallet.CreateActionOutput, 0, len(endpoints))
	for _, endpoint := range endpoints {
		protocol := wallet.Protocol{
			SecurityLevel: wallet.SecurityLevelEveryAppAndCounterparty,
			Protocol:      lookup.Identifier,
		}
		lockingScript, errLock := pd.Lock(
			ctx,
			[][]byte{
				[]byte(lookup.Identifier),
				keyDeriver.IdentityKey().ToDER(),
				[]byte(endpoint.URL),
				[]byte(endpoint.Category),
			},
			protocol,
			"1",
			wallet.Counterparty{Type: wallet.CounterpartyTypeAnyone},
			true, // forSelf
			true, // includeSignature
			pushdrop.LockBefore,
		)
		if errLock != nil {
			return overlay.TaggedBEEF{}, fmt.Errorf("failed to create locking script: %w", errLock)
		}
		outputs = append(outputs, wallet.CreateActionOutput{
			OutputDescription: fmt.Sprintf("x402 advertisement of %s", endpoint.URL),
			Satoshis:          AdTokenValue,
			LockingScript:     lockingScript.Bytes(),
		})
	}

	createActionResult, err := r.wallet.CreateAction(ctx, wallet.CreateActionArgs{
		Outputs:     outputs,
		Description: "x402 Endpoint Advertisement Issuance",
	}, "")
	if err != nil {
		return overlay.TaggedBEEF{}, fmt.Errorf("failed to create action for advertisements: %w", err)
	}

	tx, err := transaction.NewTransactionFromBytes(createActionResult.Tx)
	if err != nil {
		return overlay.TaggedBEEF{}, fmt.Errorf("failed to create transaction from tx: %w", err)
	}

	beef, err := transaction.NewBeefFromTransaction(tx)
	if err != nil {
		return overlay.TaggedBEEF{}, fmt.Errorf("failed to create BEEF from transaction: %w", err)
	}
	beefBytes, err := beef.Bytes()
	if err != nil {
		return overlay.TaggedBEEF{}, fmt.Errorf("failed to encode BEEF: %w", err)
	}

	return overlay.TaggedBEEF{
		Beef:   beefBytes,
		Topics: []string{lookup.Topic},
	}, nil
}

// SignDeletion builds and signs the structured message authorizing deletion
// of the entry registered for url. The challengeID must come from a
// previously issued challenge for the delete-endpoint action.
func (r *WalletRegistrar) SignDeletion(url, challengeID string, now time.Time) (*sigverify.StructuredMessage, string, error) {
	return r.signAction(sigverify.ActionDeleteEndpoint, sigverify.Fields{
		Owner: r.ownerAddress,
		URL:   url,
		Nonce: challengeID,
	}, now)
}

// SignTransfer builds and signs the structured message authorizing transfer
// of the entry registered for url to newOwner.
func (r *WalletRegistrar) SignTransfer(url, newOwner, challengeID string, now time.Time) (*sigverify.StructuredMessage, string, error) {
	return r.signAction(sigverify.ActionTransferOwnership, sigverify.Fields{
		Owner:    r.ownerAddress,
		URL:      url,
		NewOwner: newOwner,
		Nonce:    challengeID,
	}, now)
}

// SignListing builds and signs the structured message authorizing a
// list-my-endpoints query.
func (r *WalletRegistrar) SignListing(now time.Time) (*sigverify.StructuredMessage, string, error) {
	return r.signAction(sigverify.ActionListMyEndpoints, sigverify.Fields{
		Owner: r.ownerAddress,
	}, now)
}

// signAction builds the structured message and signs its serialization under
// the registrar's domain.
func (r *WalletRegistrar) signAction(action sigverify.Action, fields sigverify.Fields, now time.Time) (*sigverify.StructuredMessage, string, error) {
	if !r.initialized {
		return nil, "", errNotInitialized
	}

	message, err := sigverify.BuildMessage(action, fields, now)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build message: %w", err)
	}

	privKey, err := ec.PrivateKeyFromHex(r.privateKey)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create private key: %w", err)
	}

	signature, err := sigverify.Sign(privKey, message, r.domain)
	if err != nil {
		return nil, "", fmt.Errorf("failed to sign message: %w", err)
	}

	return message, signature, nil
}

// validatePrivateKey checks length and rejects degenerate keys.
func (r *WalletRegistrar) validatePrivateKey() error {
	privateKeyBytes, err := hex.DecodeString(r.privateKey)
	if err != nil {
		return fmt.Errorf("private key is not valid hex: %w", err)
	}

	if len(privateKeyBytes) != 32 {
		return fmt.Errorf("%w, got %d bytes", errPrivateKeyWrongLength, len(privateKeyBytes))
	}

	allZeros := true
	for _, b := range privateKeyBytes {
		if b != 0 {
			allZeros = false
			break
		}
	}
	if allZeros {
		return errPrivateKeyAllZeros
	}

	return nil
}

// validateEndpoint validates a single endpoint entry
func validateEndpoint(endpoint Endpoint) error {
	if !utils.IsRegistrableURL(endpoint.URL) {
		return fmt.Errorf("%w: %s", errEndpointURLInvalid, endpoint.URL)
	}
	if endpoint.Category != "" && !utils.IsValidCategoryName(endpoint.Category) {
		return fmt.Errorf("%w: %s", errCategoryInvalid, endpoint.Category)
	}
	return nil
}
