// ABOUTME: RemoteStore, the HTTP+JSON client for the encrypted record store
// ABOUTME: Rides the caller's CSRF-protected client for all mutating calls

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/SanctumAI/sanctum-sub000/internal/event"
)

// Key-migration RPC routes, relative to the API base.
const (
	PreparePath = "/admin/key-migration/prepare"
	ExecutePath = "/admin/key-migration/execute"
)

// ExecuteRequest is the JSON request body for the execute RPC.
type ExecuteRequest struct {
	NewPubkey   string                      `json:"new_pubkey"`
	Users       []DecryptedUserRecord       `json:"users"`
	FieldValues []DecryptedFieldValueRecord `json:"field_values"`
	Auth        *event.Event                `json:"auth"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// RemoteStore implements MigrationStore against the console service. The
// supplied client is expected to carry the SecureTransport so that execute,
// like every other admin mutation, is CSRF-protected.
type RemoteStore struct {
	baseURL string
	client  *http.Client
}

// NewRemoteStore builds a client for the API at baseURL, e.g.
// "https://console.example.com/api".
func NewRemoteStore(baseURL string, client *http.Client) *RemoteStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteStore{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Prepare fetches the encrypted snapshot and validates its counts.
func (s *RemoteStore) Prepare(ctx context.Context) (*MigrationPrepareResponse, error) {
	var snapshot MigrationPrepareResponse
	if err := s.post(ctx, PreparePath, nil, &snapshot); err != nil {
		return nil, err
	}
	if err := snapshot.Validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}
	return &snapshot, nil
}

// Execute submits the decrypted records and the signed authorization.
func (s *RemoteStore) Execute(ctx context.Context, newPubkey string, users []DecryptedUserRecord, fieldValues []DecryptedFieldValueRecord, auth *event.Event) (*MigrationResult, error) {
	req := ExecuteRequest{
		NewPubkey:   newPubkey,
		Users:       users,
		FieldValues: fieldValues,
		Auth:        auth,
	}
	var result MigrationResult
	if err := s.post(ctx, ExecutePath, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *RemoteStore) post(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s returned %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
