// Package auth implements the authorization decision engine. It is a pure
// function over its inputs: given a claimed owner, the operation being
// attempted, and whatever proof the caller supplied (a signature bundle, the
// origin of the payment that funded the call, or both), it answers
// authorized or denied-with-reason. It performs no I/O and no side effects;
// challenge consumption and entry mutation belong to the registry store.
package auth

import (
	"time"

	"github.com/x402-network/go-x402-registry-services/pkg/identity"
	"github.com/x402-network/go-x402-registry-services/pkg/payment"
	"github.com/x402-network/go-x402-registry-services/pkg/sigverify"
	"github.com/x402-network/go-x402-registry-services/pkg/types"
	"github.com/x402-network/go-x402-registry-services/pkg/utils"
)

// Operation is a registry mutation or query being authorized.
type Operation string

const (
	// OpRegister creates a new entry; there is no prior ownership to prove.
	OpRegister Operation = "register"
	// OpUpdate patches an existing entry's metadata.
	OpUpdate Operation = "update"
	// OpDelete removes an entry. Destructive; requires a structured
	// signature over a server-issued challenge.
	OpDelete Operation = "delete"
	// OpTransfer rewrites an entry's owner. Destructive; same requirements
	// as OpDelete.
	OpTransfer Operation = "transfer"
	// OpListMine lists the caller's own entries.
	OpListMine Operation = "list-mine"
)

// ReplayWindow bounds how old a structured message's timestamp may be before
// it is rejected regardless of signature validity.
const ReplayWindow = 5 * time.Minute

// DenialReason states exactly which part of the proof failed. Every denial
// carries one; the engine never reports a bare "unauthorized".
type DenialReason string

const (
	ReasonNoProof          DenialReason = "no proof supplied"
	ReasonSignatureInvalid DenialReason = "signature invalid"
	ReasonAddressMismatch  DenialReason = "address mismatch"
	ReasonTimestampExpired DenialReason = "timestamp expired"
	ReasonChallengeInvalid DenialReason = "challenge invalid or consumed"
)

// SignatureProof is a signature plus the material it was made over: either a
// structured message with its domain, or a raw simple-mode message.
type SignatureProof struct {
	// Structured is set in structured mode.
	Structured *sigverify.StructuredMessage
	// Domain is the deployment domain the structured message was signed
	// under.
	Domain string
	// Message is set in simple mode.
	Message string
	// Signature is the base64 compact signature.
	Signature string
}

// Request carries everything the engine needs to decide one call.
type Request struct {
	// Owner is the claimed owner address of the entry being acted on.
	Owner string
	// Operation is what the caller is attempting.
	Operation Operation
	// TargetURL is the URL of the entry being acted on. Destructive
	// operations require the signed message to name it; a signature over
	// one entry's URL never authorizes acting on another.
	TargetURL string
	// NewOwner is the transfer recipient. For OpTransfer the signed
	// message's NewOwner must resolve to the same key.
	NewOwner string
	// Proof is the optional signature bundle.
	Proof *SignatureProof
	// Payment is the optional payment-origin proof source.
	Payment payment.ProofSource
	// Challenge is the stored challenge record referenced by the signed
	// message, if the registry found one. Nil means none was found.
	Challenge *types.Challenge
	// Now is the decision instant; the zero value means time.Now().
	Now time.Time
}

// Decision is the engine's output.
type Decision struct {
	Authorized bool
	Reason     DenialReason
}

// Authorized is the success decision.
func Authorized() Decision {
	return Decision{Authorized: true}
}

// Denied builds a denial with the given reason.
func Denied(reason DenialReason) Decision {
	return Decision{Reason: reason}
}

// Decide applies the authorization policy for the request.
func Decide(req Request) Decision {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	switch req.Operation {
	case OpRegister:
		// Anyone may register a URL not already present; uniqueness is the
		// store's concern, not an authorization question.
		return Authorized()
	case OpUpdate, OpListMine:
		return decideDualPath(req)
	case OpDelete, OpTransfer:
		return decideDestructive(req, now)
	default:
		return Denied(ReasonNoProof)
	}
}

// decideDualPath authorizes update and list-mine: either a valid signature
// resolving to the owner or a payment funded by the owner is sufficient.
// Either proof is accepted independently; they are not required to agree.
func decideDualPath(req Request) Decision {
	hasSignature := req.Proof != nil && req.Proof.Signature != ""
	hasPayment := !req.Payment.Empty()

	if !hasSignature && !hasPayment {
		return Denied(ReasonNoProof)
	}

	var signatureDenial DenialReason
	if hasSignature {
		result := verifyProof(req.Proof, req.Owner)
		if result.Valid {
			return Authorized()
		}
		signatureDenial = classifySignatureFailure(result)
	}

	var payerFingerprint string
	if hasPayment {
		payerFingerprint = payment.PayerFingerprint(req.Payment)
		if payerFingerprint != "" && payment.Matches(req.Payment, req.Owner) {
			return Authorized()
		}
	}

	// Prefer the signature failure when one was attempted; it is the more
	// specific diagnosis.
	if hasSignature {
		return Denied(signatureDenial)
	}
	if payerFingerprint == "" {
		// A payment source that resolves to no payer at all proves nothing.
		return Denied(ReasonNoProof)
	}
	return Denied(ReasonAddressMismatch)
}

// decideDestructive authorizes delete and transfer: a structured signature
// over a live challenge, inside the replay window. Payment origin alone is
// never sufficient for an irrevocable operation.
func decideDestructive(req Request, now time.Time) Decision {
	if req.Proof == nil || req.Proof.Signature == "" {
		return Denied(ReasonNoProof)
	}

	// Simple-mode signatures are rejected outright for destructive
	// operations.
	if req.Proof.Structured == nil {
		return Denied(ReasonSignatureInvalid)
	}

	msg := req.Proof.Structured
	if msg.Action != requiredAction(req.Operation) {
		return Denied(ReasonSignatureInvalid)
	}

	result := sigverify.Verify(msg, req.Proof.Domain, req.Proof.Signature, req.Owner)
	if !result.Valid {
		return Denied(classifySignatureFailure(result))
	}

	// The signature must bind to the request's target, not merely be valid:
	// a message naming one entry's URL does not authorize acting on another,
	// and a transfer executes only to the recipient the message names.
	if utils.NormalizeURL(msg.URL) != utils.NormalizeURL(req.TargetURL) {
		return Denied(ReasonSignatureInvalid)
	}
	if req.Operation == OpTransfer && !identity.Equivalent(msg.NewOwner, req.NewOwner) {
		return Denied(ReasonSignatureInvalid)
	}

	if now.Sub(msg.Timestamp) > ReplayWindow || msg.Timestamp.Sub(now) > ReplayWindow {
		return Denied(ReasonTimestampExpired)
	}

	ch := req.Challenge
	if ch == nil ||
		ch.ID != msg.Nonce ||
		ch.Action != string(requiredAction(req.Operation)) ||
		!identity.Equivalent(ch.Owner, req.Owner) ||
		ch.Expired(now) {
		return Denied(ReasonChallengeInvalid)
	}

	return Authorized()
}

// verifyProof dispatches to the structured or simple verifier based on what
// the proof carries.
func verifyProof(proof *SignatureProof, expectedAddress string) sigverify.VerificationResult {
	if proof.Structured != nil {
		return sigverify.Verify(proof.Structured, proof.Domain, proof.Signature, expectedAddress)
	}
	return sigverify.VerifySimple(proof.Message, proof.Signature, expectedAddress)
}

// classifySignatureFailure maps a verifier result to the denial taxonomy: a
// recovered-but-wrong signer is an address mismatch, everything else is a
// signature failure.
func classifySignatureFailure(result sigverify.VerificationResult) DenialReason {
	if result.RecoveredAddress != "" {
		return ReasonAddressMismatch
	}
	return ReasonSignatureInvalid
}

// requiredAction maps a destructive operation to the structured action that
// must authorize it.
func requiredAction(op Operation) sigverify.Action {
	if op == OpTransfer {
		return sigverify.ActionTransferOwnership
	}
	return sigverify.ActionDeleteEndpoint
}
