package payment

import (
	"testing"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402-network/go-x402-registry-services/pkg/identity"
	"github.com/x402-network/go-x402-registry-services/pkg/types"
)

func newPayer(t *testing.T) (*ec.PrivateKey, *identity.Address) {
	t.Helper()

	priv, err := ec.NewPrivateKey()
	require.NoError(t, err)

	addr, err := identity.FromPublicKey(priv.PubKey())
	require.NoError(t, err)

	return priv, addr
}

// buildSignedPaymentTx serializes a minimal one-input transaction whose
// input carries a P2PKH-style unlocking script: <sig> <pubkey>.
func buildSignedPaymentTx(t *testing.T, priv *ec.PrivateKey) []byte {
	t.Helper()

	unlocking := &script.Script{}
	// Signature push; the matcher only inspects the trailing pubkey push, so
	// placeholder DER bytes are enough here.
	require.NoError(t, unlocking.AppendPushData([]byte{0x30, 0x44, 0x02, 0x20, 0x01}))
	require.NoError(t, unlocking.AppendPushData(priv.PubKey().Compressed()))
	scriptBytes := []byte(*unlocking)

	var raw []byte
	raw = append(raw, 0x01, 0x00, 0x00, 0x00) // version
	raw = append(raw, 0x01)                   // input count
	raw = append(raw, make([]byte, 32)...)    // previous txid
	raw = append(raw, 0x00, 0x00, 0x00, 0x00) // previous output index
	raw = append(raw, byte(len(scriptBytes))) // unlocking script length
	raw = append(raw, scriptBytes...)
	raw = append(raw, 0xff, 0xff, 0xff, 0xff) // sequence
	raw = append(raw, 0x00)                   // output count
	raw = append(raw, 0x00, 0x00, 0x00, 0x00) // locktime

	// The fixture must round-trip through the deserializer the matcher uses.
	_, err := transaction.NewTransactionFromBytes(raw)
	require.NoError(t, err)

	return raw
}

func TestDecodeSettlementOutcome(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		expectedPayer string
		expectedTxID  string
	}{
		{
			name:          "canonical payer field",
			raw:           `{"success":true,"payer":"1Payer","txid":"abc","network":"base"}`,
			expectedPayer: "1Payer",
			expectedTxID:  "abc",
		},
		{
			name:          "payerAddress variant",
			raw:           `{"success":true,"payerAddress":"1Payer2","transaction":"def"}`,
			expectedPayer: "1Payer2",
			expectedTxID:  "def",
		},
		{
			name:          "from variant",
			raw:           `{"success":true,"from":"1Payer3"}`,
			expectedPayer: "1Payer3",
		},
		{
			name:          "payer wins over variants",
			raw:           `{"success":true,"payer":"1Canonical","payerAddress":"1Alt","from":"1Other"}`,
			expectedPayer: "1Canonical",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := DecodeSettlementOutcome([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.expectedPayer, outcome.Payer)
			assert.Equal(t, tt.expectedTxID, outcome.TxID)
		})
	}
}

func TestDecodeSettlementOutcomeMalformed(t *testing.T) {
	_, err := DecodeSettlementOutcome([]byte("not json"))
	require.Error(t, err)
}

func TestProofSourceEmpty(t *testing.T) {
	assert.True(t, ProofSource{}.Empty())
	assert.False(t, ProofSource{Outcome: &types.SettlementOutcome{}}.Empty())
	assert.False(t, ProofSource{RawTx: []byte{0x01}}.Empty())
}

func TestPayerFingerprintFromOutcome(t *testing.T) {
	_, addr := newPayer(t)

	fp := PayerFingerprint(ProofSource{Outcome: &types.SettlementOutcome{
		Success: true,
		Payer:   addr.String(),
	}})
	assert.Equal(t, addr.Fingerprint(), fp)
}

func TestPayerFingerprintFailedSettlement(t *testing.T) {
	_, addr := newPayer(t)

	// A settlement that did not succeed proves nothing.
	fp := PayerFingerprint(ProofSource{Outcome: &types.SettlementOutcome{
		Success: false,
		Payer:   addr.String(),
	}})
	assert.Empty(t, fp)
}

func TestPayerFingerprintNoProof(t *testing.T) {
	assert.Empty(t, PayerFingerprint(ProofSource{}))
	assert.Empty(t, PayerFingerprint(ProofSource{Outcome: &types.SettlementOutcome{Success: true}}))
}

func TestPayerFingerprintFromRawTx(t *testing.T) {
	priv, addr := newPayer(t)

	rawTx := buildSignedPaymentTx(t, priv)

	fp := PayerFingerprint(ProofSource{RawTx: rawTx})
	assert.Equal(t, addr.Fingerprint(), fp)
}

func TestPayerFingerprintMalformedRawTx(t *testing.T) {
	assert.Empty(t, PayerFingerprint(ProofSource{RawTx: []byte{0xde, 0xad}}))
}

func TestPayerFingerprintOutcomeFallsBackToRawTx(t *testing.T) {
	priv, addr := newPayer(t)

	// The outcome carries a malformed payer; the raw transaction still
	// resolves the origin.
	source := ProofSource{
		Outcome: &types.SettlementOutcome{Success: true, Payer: "garbage"},
		RawTx:   buildSignedPaymentTx(t, priv),
	}
	assert.Equal(t, addr.Fingerprint(), PayerFingerprint(source))
}

func TestMatches(t *testing.T) {
	priv, addr := newPayer(t)
	_, otherAddr := newPayer(t)

	source := ProofSource{RawTx: buildSignedPaymentTx(t, priv)}

	assert.True(t, Matches(source, addr.String()))
	assert.False(t, Matches(source, otherAddr.String()))
	assert.False(t, Matches(source, "not-an-address"))
	assert.False(t, Matches(ProofSource{}, addr.String()))
}

func TestMatchesTestnetEncoding(t *testing.T) {
	priv, _ := newPayer(t)

	testnet, err := script.NewAddressFromPublicKey(priv.PubKey(), false)
	require.NoError(t, err)

	source := ProofSource{RawTx: buildSignedPaymentTx(t, priv)}
	assert.True(t, Matches(source, testnet.AddressString), "fingerprint comparison must ignore network prefix")
}
