// Package payment implements the payment-origin matcher: it resolves the
// identity fingerprint of whoever funded the current call, either from a
// settlement outcome reported by the payment facilitator or from the raw
// signed payment transaction itself. The registry accepts this as an
// alternative ownership proof for non-destructive operations.
package payment

import (
	"encoding/json"
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"

	"github.com/x402-network/go-x402-registry-services/pkg/identity"
	"github.com/x402-network/go-x402-registry-services/pkg/types"
)

// ProofSource bundles the material a caller may supply as payment-origin
// proof. Either field may be nil/empty; when both are present the explicit
// settlement outcome wins since it is what the facilitator actually settled.
type ProofSource struct {
	Outcome *types.SettlementOutcome
	RawTx   []byte
}

// Empty reports whether the source carries no proof material at all.
func (s ProofSource) Empty() bool {
	return s.Outcome == nil && len(s.RawTx) == 0
}

// settlementWire mirrors the near-duplicate field spellings different
// facilitators use for the payer address. They are normalized here, at the
// boundary, so only the canonical Payer field ever reaches the decision
// engine.
type settlementWire struct {
	Success      bool   `json:"success"`
	Payer        string `json:"payer"`
	PayerAddress string `json:"payerAddress"`
	From         string `json:"from"`
	TxID         string `json:"txid"`
	Transaction  string `json:"transaction"`
	Network      string `json:"network"`
}

// DecodeSettlementOutcome parses a facilitator settlement response and
// normalizes its payer field.
func DecodeSettlementOutcome(raw []byte) (*types.SettlementOutcome, error) {
	var wire settlementWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode settlement outcome: %w", err)
	}

	payer := wire.Payer
	if payer == "" {
		payer = wire.PayerAddress
	}
	if payer == "" {
		payer = wire.From
	}

	txid := wire.TxID
	if txid == "" {
		txid = wire.Transaction
	}

	return &types.SettlementOutcome{
		Success: wire.Success,
		Payer:   payer,
		TxID:    txid,
		Network: wire.Network,
	}, nil
}

// PayerFingerprint extracts the identity fingerprint of the payer from the
// proof source. It returns "" when no fingerprint can be determined; callers
// must treat that as "no proof available", not as an error.
func PayerFingerprint(source ProofSource) string {
	if source.Outcome != nil && source.Outcome.Success && source.Outcome.Payer != "" {
		fp, err := identity.Fingerprint(source.Outcome.Payer)
		if err == nil {
			return fp
		}
		// A malformed payer address in the outcome is still no proof;
		// fall through to the raw transaction if one was supplied.
	}

	if len(source.RawTx) > 0 {
		return fingerprintFromRawTx(source.RawTx)
	}

	return ""
}

// Matches reports whether the payment originated from the expected address,
// compared by fingerprint.
func Matches(source ProofSource, expectedAddress string) bool {
	payerFp := PayerFingerprint(source)
	if payerFp == "" {
		return false
	}

	expectedFp, err := identity.Fingerprint(expectedAddress)
	if err != nil {
		return false
	}

	return payerFp == expectedFp
}

// fingerprintFromRawTx deserializes a signed payment transaction and pulls
// the signer's public key out of the first P2PKH-style unlocking script.
// Working from the key directly avoids re-deriving an address string, which
// would require guessing a network version. Returns "" when nothing usable
// is found.
func fingerprintFromRawTx(rawTx []byte) string {
	tx, err := transaction.NewTransactionFromBytes(rawTx)
	if err != nil {
		return ""
	}

	for _, input := range tx.Inputs {
		if input.UnlockingScript == nil {
			continue
		}

		chunks, err := script.DecodeScript(*input.UnlockingScript)
		if err != nil || len(chunks) == 0 {
			continue
		}

		// A P2PKH spend pushes <sig> <pubkey>; the key is the last push.
		last := chunks[len(chunks)-1]
		if len(last.Data) == 0 {
			continue
		}

		pubKey, err := ec.ParsePubKey(last.Data)
		if err != nil {
			continue
		}

		addr, err := identity.FromPublicKey(pubKey)
		if err != nil {
			continue
		}

		return addr.Fingerprint()
	}

	return ""
}
