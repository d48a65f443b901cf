package lookup

// TopicManagerDocumentation describes how the x402 topic manager validates
// advertisement outputs and the requirements for creating valid x402 tokens.
const TopicManagerDocumentation = `# x402 Topic Manager

**Protocol Name**: x402 (HTTP 402 pay-per-call endpoint advertisements)
**Manager Name**: ` + "`X402TopicManager`" + `

---

## Overview

The x402 Topic Manager identifies _admissible outputs_ in transactions that
advertise pay-per-call HTTP endpoints. It inspects transaction outputs (UTXOs)
whose locking script embeds metadata via a PushDrop payload. Outputs that meet
the x402 advertisement requirements are admitted under the ` + "`tm_x402`" + `
topic and ingested by the lookup service as unverified registry entries.

An **x402 advertisement token** is a UTXO declaring "this identity key offers
a pay-per-call endpoint at this URL." Spending the token revokes the
advertisement and the registry entry it created.

---

## Requirements for a Valid x402 Output

1. **PushDrop Fields**: At least four fields must be present, in this order:
   1. ` + "`\"X402\"`" + ` — The protocol identifier string.
   2. ` + "`identityKey`" + ` — The 33-byte compressed DER secp256k1 public key
      that owns the advertised endpoint. The registry entry's owner address is
      derived from this key.
   3. ` + "`url`" + ` — The endpoint URL. Must be registrable: ` + "`https`" + `
      (or ` + "`http`" + ` on a non-standard port), no loopback hosts, no
      fragment.
   4. ` + "`category`" + ` — The registry category. May be empty; when present
      it must be lowercase words separated by underscores.

2. **Decodable Locking Script**: The output must decode as a PushDrop payload.
   Outputs that do not decode are skipped without error.

---

## Gotchas and Tips

- **Field Ordering**: The fields must appear in the exact order above.
- **Loopback URLs**: ` + "`localhost`" + ` and loopback addresses are rejected;
  the registry only admits endpoints other parties can reach.
- **Funding**: Fund the advertisement output with at least one satoshi and
  keep it unspent; a spend revokes the registry entry.
`
