// Package cid computes content identifiers for uploaded content without
// writing anything to a block store.
//
// Identifiers are CIDv0 (base58btc, sha2-256, dag-pb) and match what
// `ipfs add --only-hash --cid-version=0` reports for the same bytes:
//
//   - Files are split into fixed 256 KiB chunks. Each chunk becomes a dag-pb
//     leaf carrying a UnixFS File message.
//   - Leaves are reduced with a balanced layout of at most 174 links per node.
//   - Image sets are imported as a directory tree. Directory links are sorted
//     by name, and the directory results are emitted after the files, root last.
//
// # Only-hash mode
//
// A Hasher never persists or fetches blocks. The block store it holds is the
// HashOnly capability, whose Get and Put return *UnsupportedOperationError.
// Any importer change that starts reading blocks back, or that is handed a
// different capability, fails loudly instead of silently drifting.
//
// # Determinism
//
// The CID is a pure function of the input bytes (and, for image sets, the
// NFC-normalised paths). Hashing errors are never retryable: the same bytes
// produce the same failure.
package cid
