// ABOUTME: Package migration sequences the admin key rotation protocol
// ABOUTME: Prepare, decrypt-all, sign, submit, fail-closed at every step

// Package migration implements the admin key migration coordinator: the
// state machine that rotates the admin identity while re-encrypting every
// piece of user PII sealed to the old key. No server-side plaintext ever
// exists and no partial migration can be submitted: the execute RPC is only
// reached once every record has decrypted and the key holder has signed the
// authorization.
package migration
