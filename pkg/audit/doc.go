// Package audit implements the append-only, hash-linked execution ledger.
//
// Every execution attempt and policy violation becomes an immutable entry
// whose SHA-256 hash covers all of its fields plus the previous entry's
// hash. Rewriting any stored entry breaks recomputation from that point
// onward, so tampering is detectable by a single forward pass. The package
// detects tampering; it never repairs it.
package audit
