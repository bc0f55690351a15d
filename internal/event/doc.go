// ABOUTME: Package event models signed authorization events for admin actions
// ABOUTME: Provides canonical serialization, id hashing, signing and verification

// Package event implements the signed authorization event that proves the
// holder of the admin private key approved a sensitive action, such as
// migrating the admin identity to a new public key.
package event
