package sigverify

import (
	"encoding/base64"

	bsm "github.com/bsv-blockchain/go-sdk/compat/bsm"
	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"

	"github.com/x402-network/go-x402-registry-services/pkg/identity"
)

// VerificationResult reports the outcome of a signature check. Verification
// never raises: malformed signatures, recovery failures, and signer
// mismatches all come back as Valid=false with Error describing the failure,
// so callers can compose multiple proof attempts without exception-driven
// control flow.
type VerificationResult struct {
	Valid bool `json:"valid"`
	// RecoveredAddress is the mainnet-encoded address of the recovered
	// signer. It is populated whenever recovery itself succeeded, even if
	// the signer did not match the expected address.
	RecoveredAddress string `json:"recoveredAddress,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Verify checks a base64 compact signature over the domain-separated encoding
// of a structured message. The recovered signer is compared against
// expectedAddress by fingerprint equivalence, so a testnet encoding of the
// same key is accepted.
func Verify(message *StructuredMessage, domain, signature, expectedAddress string) VerificationResult {
	if message == nil {
		return VerificationResult{Error: "no message supplied"}
	}
	return verifyOver(message.Serialize(domain), signature, expectedAddress)
}

// VerifySimple checks a base64 compact signature over raw message bytes with
// no domain separation or field schema. It exists for lower-stakes flows;
// destructive operations must not accept it.
func VerifySimple(message, signature, expectedAddress string) VerificationResult {
	return verifyOver([]byte(message), signature, expectedAddress)
}

// Sign produces the base64 compact signature for a structured message under
// the given domain. The client-side registrar and the tests use it; the
// server core only ever verifies.
func Sign(priv *ec.PrivateKey, message *StructuredMessage, domain string) (string, error) {
	sig, err := bsm.SignMessage(priv, message.Serialize(domain))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// SignSimple produces the base64 compact signature over raw message bytes.
func SignSimple(priv *ec.PrivateKey, message string) (string, error) {
	sig, err := bsm.SignMessage(priv, []byte(message))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// verifyOver recovers the signer from the compact signature and compares it
// to the expected address by fingerprint.
func verifyOver(data []byte, signature, expectedAddress string) VerificationResult {
	sigBytes, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return VerificationResult{Error: "malformed signature encoding: " + err.Error()}
	}

	pubKey, _, err := bsm.PubKeyFromSignature(sigBytes, data)
	if err != nil {
		return VerificationResult{Error: "signature recovery failed: " + err.Error()}
	}

	recovered, err := identity.FromPublicKey(pubKey)
	if err != nil {
		return VerificationResult{Error: "failed to derive recovered address: " + err.Error()}
	}

	expected, err := identity.Parse(expectedAddress)
	if err != nil {
		return VerificationResult{
			RecoveredAddress: recovered.String(),
			Error:            "expected address is invalid: " + err.Error(),
		}
	}

	if expected.Fingerprint() != recovered.Fingerprint() {
		return VerificationResult{
			RecoveredAddress: recovered.String(),
			Error:            "signer does not match expected address",
		}
	}

	return VerificationResult{Valid: true, RecoveredAddress: recovered.String()}
}
