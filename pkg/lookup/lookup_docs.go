// Package lookup implements the x402 endpoint registry lookup service.
// This file contains the documentation for the x402 lookup service, separated
// from the implementation to improve code organization and maintainability.
package lookup

// LookupDocumentation contains the comprehensive documentation for the x402
// lookup service. This documentation describes how to use the service,
// including query formats, examples, and important considerations for
// developers.
const LookupDocumentation = `# x402 Endpoint Lookup Service

**Protocol Name**: x402 (HTTP 402 pay-per-call)
**Lookup Service Name**: ` + "`ls_x402`" + `

---

## Overview

The x402 Lookup Service is used to **query** the registered pay-per-call
endpoints in your overlay database. It allows you to discover API endpoints
that have been advertised on-chain or registered directly, together with
their ownership, verification status, and most recent probe snapshot.

This lookup service is typically invoked by sending a LookupQuestion with:
- ` + "`question.service = 'ls_x402'`" + `
- ` + "`question.query`" + ` containing parameters for searching.

---

## Purpose

- **Discovery**: Find all registered x402 endpoints.
- **Filtering**: Narrow results by owner address, category, URL, or
  verification status.

---

## Querying the x402 Lookup Service

When you call ` + "`lookup(question)`" + ` on the x402 Lookup Service, you must include:

1. **` + "`question.service`" + `** set to ` + "`\"ls_x402\"`" + `.
2. **` + "`question.query`" + `**: Can be one of the following:
   - ` + "`\"findAll\"`" + ` (string literal): Returns **all** registered endpoints.
   - An object with any combination of:
     - ` + "`owner`" + ` (string): Restrict to endpoints owned by this address.
       Ownership matching is fingerprint-based, so mainnet and testnet
       renderings of the same key match the same entries.
     - ` + "`category`" + ` (string): Restrict to a single category.
     - ` + "`url`" + ` (string): Look up the single entry registered for this URL.
       The URL is normalized before matching.
     - ` + "`status`" + ` (string): ` + "`\"unverified\"`" + ` or ` + "`\"verified\"`" + `.
     - ` + "`limit`" + ` (number): Maximum number of results to return.
     - ` + "`skip`" + ` (number): Number of results to skip, for pagination.

### Example Queries

Find everything:

` + "```json" + `
{ "service": "ls_x402", "query": "findAll" }
` + "```" + `

Find verified endpoints in a category, first page of ten:

` + "```json" + `
{
  "service": "ls_x402",
  "query": { "category": "weather_data", "status": "verified", "limit": 10 }
}
` + "```" + `

Resolve a single URL:

` + "```json" + `
{
  "service": "ls_x402",
  "query": { "url": "https://api.example.com/v1/forecast" }
}
` + "```" + `

---

## Answer Format

Answers are returned as a freeform result: an array of registry entries.
Each entry carries the endpoint URL, owner address, metadata (name,
description, category, tags), verification status, registration and update
timestamps, and the most recent probe snapshot when one exists.

---

## Advertisement Ingestion

Entries also enter the registry from chain: a PushDrop token admitted under
the ` + "`tm_x402`" + ` topic with fields
` + "`[\"X402\", identityKey, url, category]`" + ` creates an unverified entry owned
by the address of the advertised identity key. Spending the advertisement
output revokes the entry.
`
