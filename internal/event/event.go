// ABOUTME: Authorization event type with canonical id hashing and ed25519 signatures
// ABOUTME: Kind 22242 events authorize admin key migration to a named new pubkey

package event

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// KindClientAuthorization is the event kind used for admin authorization
// proofs.
const KindClientAuthorization = 22242

// Tag names and values used by key-migration authorization events.
const (
	TagAction               = "action"
	TagNewPubkey            = "new_pubkey"
	ActionAdminKeyMigration = "admin_key_migration"
)

// Verification errors.
var (
	ErrBadID        = errors.New("event id does not match content")
	ErrBadSignature = errors.New("event signature is invalid")
	ErrUnsigned     = errors.New("event is not signed")
)

// Event is a structured, signable statement. Before signing only Kind,
// CreatedAt, Tags and Content are set; the signer fills in Pubkey, ID and Sig.
type Event struct {
	ID        string     `json:"id,omitempty"`
	Pubkey    string     `json:"pubkey,omitempty"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig,omitempty"`
}

// NewKeyMigrationAuthorization builds the unsigned event that authorizes
// migrating the admin identity to newPubkey (canonical hex).
func NewKeyMigrationAuthorization(newPubkey string) *Event {
	return &Event{
		CreatedAt: time.Now().Unix(),
		Kind:      KindClientAuthorization,
		Tags: [][]string{
			{TagAction, ActionAdminKeyMigration},
			{TagNewPubkey, newPubkey},
		},
		Content: "",
	}
}

// Serialize produces the canonical byte form the event id is computed over:
// a JSON array [0, pubkey, created_at, kind, tags, content].
func (e *Event) Serialize() ([]byte, error) {
	return json.Marshal([]any{0, e.Pubkey, e.CreatedAt, e.Kind, e.Tags, e.Content})
}

// ComputeID returns the hex sha256 of the canonical serialization.
func (e *Event) ComputeID() (string, error) {
	raw, err := e.Serialize()
	if err != nil {
		return "", fmt.Errorf("serializing event: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Sign fills in Pubkey, ID and Sig using the given private key. CreatedAt is
// stamped if the caller left it zero.
func (e *Event) Sign(priv ed25519.PrivateKey) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}
	e.Pubkey = hex.EncodeToString(priv.Public().(ed25519.PublicKey))

	id, err := e.ComputeID()
	if err != nil {
		return err
	}
	e.ID = id

	idBytes, err := hex.DecodeString(id)
	if err != nil {
		return fmt.Errorf("decoding event id: %w", err)
	}
	e.Sig = hex.EncodeToString(ed25519.Sign(priv, idBytes))
	return nil
}

// Verify checks that the id matches the content and the signature matches the
// embedded pubkey.
func (e *Event) Verify() error {
	if e.ID == "" || e.Sig == "" || e.Pubkey == "" {
		return ErrUnsigned
	}

	id, err := e.ComputeID()
	if err != nil {
		return err
	}
	if id != e.ID {
		return ErrBadID
	}

	pub, err := hex.DecodeString(e.Pubkey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad pubkey encoding", ErrBadSignature)
	}
	sig, err := hex.DecodeString(e.Sig)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: bad signature encoding", ErrBadSignature)
	}
	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return fmt.Errorf("%w: bad id encoding", ErrBadSignature)
	}
	if !ed25519.Verify(pub, idBytes, sig) {
		return ErrBadSignature
	}
	return nil
}

// Tag returns the second element of the first tag whose name matches, or "".
func (e *Event) Tag(name string) string {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// NewPubkey returns the migration target pubkey named by the event.
func (e *Event) NewPubkey() string { return e.Tag(TagNewPubkey) }

// Action returns the action the event authorizes.
func (e *Event) Action() string { return e.Tag(TagAction) }
