// Package types defines the shared data model for the x402 endpoint registry:
// registry entries, probe results, challenges, settlement outcomes, and the
// query shapes used by the lookup layer.
package types

import (
	"time"
)

// EntryStatus is the verification status of a registry entry.
type EntryStatus string

const (
	// StatusUnverified marks an entry whose endpoint has not yet passed the
	// registry's trust rules.
	StatusUnverified EntryStatus = "unverified"
	// StatusVerified marks an entry whose endpoint passed a successful probe
	// combined with the registry's trust rules.
	StatusVerified EntryStatus = "verified"
)

// RegistryEntry represents one registered x402 endpoint.
type RegistryEntry struct {
	ID           string       `json:"id" bson:"id"`
	URL          string       `json:"url" bson:"url"`
	Owner        string       `json:"owner" bson:"owner"`
	Name         string       `json:"name" bson:"name"`
	Description  string       `json:"description" bson:"description"`
	Category     string       `json:"category" bson:"category"`
	Tags         []string     `json:"tags,omitempty" bson:"tags,omitempty"`
	Status       EntryStatus  `json:"status" bson:"status"`
	ProbeData    *ProbeResult `json:"probeData,omitempty" bson:"probeData,omitempty"`
	RegisteredAt time.Time    `json:"registeredAt" bson:"registeredAt"`
	UpdatedAt    time.Time    `json:"updatedAt" bson:"updatedAt"`

	// Version counts writes to the entry: 1 on registration, incremented on
	// every subsequent mutation. It is persisted with the entry.
	Version uint64 `json:"version" bson:"version"`
}

// EntryPatch carries the fields an update may change. Nil fields are left
// untouched.
type EntryPatch struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Category    *string   `json:"category,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
}

// URLPointer is the value stored under the url-hash uniqueness key. It points
// back at the owning entry.
type URLPointer struct {
	Owner string `json:"owner" bson:"owner"`
	ID    string `json:"id" bson:"id"`
}

// Challenge is a server-issued, single-use token bound to an owner and an
// action. It must be embedded in the signed payload of a destructive
// operation and is deleted on consumption or expiry.
type Challenge struct {
	ID        string    `json:"id" bson:"id"`
	Owner     string    `json:"owner" bson:"owner"`
	Action    string    `json:"action" bson:"action"`
	IssuedAt  time.Time `json:"issuedAt" bson:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt" bson:"expiresAt"`
}

// Expired reports whether the challenge validity window has passed at the
// given instant.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// ProbeResult is the outcome of probing a candidate URL. It is ephemeral and
// only persisted as a snapshot in RegistryEntry.ProbeData.
type ProbeResult struct {
	IsX402Endpoint bool              `json:"isX402Endpoint" bson:"isX402Endpoint"`
	PaymentAddress string            `json:"paymentAddress,omitempty" bson:"paymentAddress,omitempty"`
	AcceptedTokens []string          `json:"acceptedTokens,omitempty" bson:"acceptedTokens,omitempty"`
	Prices         map[string]string `json:"prices,omitempty" bson:"prices,omitempty"`
	ResponseTimeMs int64             `json:"responseTimeMs" bson:"responseTimeMs"`
	Error          string            `json:"error,omitempty" bson:"error,omitempty"`
}

// SettlementOutcome is the normalized result a payment-settlement collaborator
// surfaces after a call has been funded. Facilitators disagree on the field
// name for the payer, so all known spellings are accepted on decode and
// normalized into Payer (see payment.DecodeSettlementOutcome).
type SettlementOutcome struct {
	Success bool   `json:"success"`
	Payer   string `json:"payer,omitempty"`
	TxID    string `json:"txid,omitempty"`
	Network string `json:"network,omitempty"`
}

// EntryQuery filters registry lookups issued through the overlay lookup
// service.
type EntryQuery struct {
	Owner    *string      `json:"owner,omitempty"`
	Category *string      `json:"category,omitempty"`
	URL      *string      `json:"url,omitempty"`
	Status   *EntryStatus `json:"status,omitempty"`
	FindAll  *bool        `json:"findAll,omitempty"`
	Limit    *int         `json:"limit,omitempty"`
	Skip     *int         `json:"skip,omitempty"`
}
