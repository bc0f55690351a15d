// ABOUTME: Package signer abstracts the holder of the admin private key
// ABOUTME: Capability-probed interface with local key-file and remote agent backends

// Package signer defines the capability-probed interface to whatever holds
// the admin private key. The key holder is never assumed present: callers
// probe IsPresent and SupportsDecryption before starting any flow that needs
// it. Two implementations are provided: LocalSigner, which loads a key file
// directly, and AgentSigner, which talks to an external signing agent that
// may prompt its operator before approving each request.
package signer
