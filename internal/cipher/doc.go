// ABOUTME: Package cipher handles per-field asymmetric encryption of PII
// ABOUTME: Ephemeral X25519 ECDH with ChaCha20-Poly1305, decryption via a signer

// Package cipher implements the per-field encryption scheme used for user
// PII. Each field is sealed to the admin public key with a one-time ephemeral
// key; decryption is delegated to whatever holds the admin private key. The
// package also detects structurally invalid records, where a ciphertext and
// its ephemeral key companion do not travel together.
package cipher
