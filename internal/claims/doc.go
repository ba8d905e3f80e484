// Package claims implements the proof-of-existence claim ledger: a mapping from
// an opaque proof to the identity that registered it and the block height at
// which it was registered.
//
// The ledger exposes three state transitions. CreateClaim registers an
// unclaimed proof for the caller. RevokeClaim lets the current owner drop the
// claim. TransferClaim moves an existing claim to the caller.
//
// TransferClaim is receiver-initiated: the caller becomes the new owner and the
// previous owner is not consulted. Any identity can therefore take over a claim
// held by someone else ("claim jumping"). This mirrors the behaviour of the
// runtime module the ledger was modelled on and is kept deliberately; callers
// that need owner consent must enforce it above this package.
//
// Storage, block heights and event delivery are injected collaborators (Store,
// Clock and Sink). Operations are serialized by the Ledger and either apply
// their full effect (write plus event) or nothing.
package claims
