// ABOUTME: Package identity handles admin public key encoding and normalization
// ABOUTME: Accepts hex and npub forms, converts signing keys to decryption keys

// Package identity provides parsing, normalization and conversion of the
// administrator public keys used throughout the console. Keys travel on the
// wire as 64-character lowercase hex; operators may also paste the bech32
// npub form, which normalizes to the same canonical hex.
package identity
