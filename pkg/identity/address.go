// Package identity implements the address codec for the x402 registry.
// It parses account addresses into a canonical form and exposes the
// network-independent identity fingerprint (the 20-byte public key hash)
// that every ownership comparison in the registry is made against.
package identity

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
)

// Network identifies the address encoding network.
type Network string

const (
	// NetworkMainnet is the production address encoding.
	NetworkMainnet Network = "mainnet"
	// NetworkTestnet is the test address encoding.
	NetworkTestnet Network = "testnet"
)

// ErrInvalidAddress is returned when an address string fails structural or
// checksum validation.
var ErrInvalidAddress = errors.New("invalid address")

// Address is a parsed account address. The fingerprint is a pure function of
// the address string; two addresses encoding the same public key hash under
// different network prefixes are equivalent for ownership purposes.
type Address struct {
	// addressString is the original encoded form.
	addressString string
	// network is the encoding network derived from the version prefix.
	network Network
	// pubKeyHash is the 20-byte identity fingerprint.
	pubKeyHash []byte
}

// Parse validates the structure and checksum of an address string and returns
// a value carrying the network and identity fingerprint. It fails with
// ErrInvalidAddress on malformed input.
func Parse(addr string) (*Address, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty string", ErrInvalidAddress)
	}

	decoded, err := script.NewAddressFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, err.Error())
	}

	if len(decoded.PublicKeyHash) != 20 {
		return nil, fmt.Errorf("%w: fingerprint must be 20 bytes, got %d", ErrInvalidAddress, len(decoded.PublicKeyHash))
	}

	return &Address{
		addressString: trimmed,
		network:       networkFromPrefix(trimmed),
		pubKeyHash:    decoded.PublicKeyHash,
	}, nil
}

// FromPublicKey derives the mainnet address for a public key. The verifiers
// use this to report a recovered signer in address form; since comparisons
// are made by fingerprint, the choice of network prefix does not matter.
func FromPublicKey(pub *ec.PublicKey) (*Address, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: nil public key", ErrInvalidAddress)
	}

	derived, err := script.NewAddressFromPublicKey(pub, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, err.Error())
	}

	return &Address{
		addressString: derived.AddressString,
		network:       NetworkMainnet,
		pubKeyHash:    derived.PublicKeyHash,
	}, nil
}

// String returns the original encoded address.
func (a *Address) String() string {
	return a.addressString
}

// Network returns the encoding network of the address.
func (a *Address) Network() Network {
	return a.network
}

// Fingerprint returns the 20-byte identity fingerprint as lowercase hex.
func (a *Address) Fingerprint() string {
	return hex.EncodeToString(a.pubKeyHash)
}

// FingerprintBytes returns a copy of the raw 20-byte identity fingerprint.
func (a *Address) FingerprintBytes() []byte {
	out := make([]byte, len(a.pubKeyHash))
	copy(out, a.pubKeyHash)
	return out
}

// Equivalent reports whether two address strings encode the same identity
// fingerprint. It returns true only when both parse successfully and their
// fingerprints match byte-for-byte. Any parse failure yields false, never an
// error; false is the safe default for untrusted input.
func Equivalent(a, b string) bool {
	parsedA, err := Parse(a)
	if err != nil {
		return false
	}

	parsedB, err := Parse(b)
	if err != nil {
		return false
	}

	return bytes.Equal(parsedA.pubKeyHash, parsedB.pubKeyHash)
}

// Fingerprint is a convenience that parses an address string and returns its
// fingerprint in one step.
func Fingerprint(addr string) (string, error) {
	parsed, err := Parse(addr)
	if err != nil {
		return "", err
	}
	return parsed.Fingerprint(), nil
}

// networkFromPrefix maps the leading version character of a base58check
// address to its network. Parse has already validated the version byte, so
// anything that is not the mainnet prefix is a testnet encoding.
func networkFromPrefix(addr string) Network {
	if strings.HasPrefix(addr, "1") {
		return NetworkMainnet
	}
	return NetworkTestnet
}
