// ABOUTME: AgentSigner is an HTTP client for an external signing agent
// ABOUTME: Capabilities are probed once up front; sign/decrypt may block on approval

package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/SanctumAI/sanctum-sub000/internal/event"
)

// Agent protocol routes.
const (
	agentCapabilitiesPath = "/v1/capabilities"
	agentDecryptPath      = "/v1/decrypt"
	agentSignPath         = "/v1/sign"
)

// probeTimeout bounds only the capabilities probe. Decrypt and sign carry no
// timeout because the agent's operator may take arbitrarily long to decide.
const probeTimeout = 5 * time.Second

type agentCapabilities struct {
	Pubkey  string `json:"pubkey"`
	Decrypt bool   `json:"decrypt"`
}

type agentDecryptRequest struct {
	Ciphertext      string `json:"ciphertext"`
	EphemeralPubkey string `json:"ephemeral_pubkey"`
}

type agentDecryptResponse struct {
	Plaintext string `json:"plaintext"`
}

// AgentSigner talks to a signing agent over HTTP. The agent holds the admin
// private key and may ask its operator before approving each request.
type AgentSigner struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	present bool
	caps    agentCapabilities
}

// NewAgentSigner probes the agent at baseURL and returns a signer whose
// IsPresent and SupportsDecryption reflect the probe outcome. A nil client
// uses http.DefaultClient. The probe itself never returns an error: an
// unreachable agent is simply not present.
func NewAgentSigner(baseURL string, client *http.Client) *AgentSigner {
	if client == nil {
		client = http.DefaultClient
	}
	s := &AgentSigner{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  slog.Default().With("component", "signer"),
	}
	s.probe()
	return s
}

func (s *AgentSigner) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+agentCapabilitiesPath, nil)
	if err != nil {
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug("signing agent not reachable", "url", s.baseURL, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.logger.Debug("signing agent probe rejected", "status", resp.StatusCode)
		return
	}
	if err := json.NewDecoder(resp.Body).Decode(&s.caps); err != nil {
		s.logger.Debug("signing agent probe malformed", "error", err)
		return
	}
	s.present = true
}

// IsPresent reports whether the capabilities probe succeeded.
func (s *AgentSigner) IsPresent() bool { return s.present }

// SupportsDecryption reports whether the agent advertises field decryption.
func (s *AgentSigner) SupportsDecryption() bool { return s.present && s.caps.Decrypt }

// Pubkey returns the agent's advertised public key, if any.
func (s *AgentSigner) Pubkey() string { return s.caps.Pubkey }

// Decrypt asks the agent to open one encrypted field.
func (s *AgentSigner) Decrypt(ctx context.Context, ciphertext, ephemeralPubkey string) (string, error) {
	if !s.present {
		return "", ErrNotPresent
	}
	var out agentDecryptResponse
	err := s.post(ctx, agentDecryptPath, agentDecryptRequest{
		Ciphertext:      ciphertext,
		EphemeralPubkey: ephemeralPubkey,
	}, &out, ErrDecryptDeclined)
	if err != nil {
		return "", err
	}
	return out.Plaintext, nil
}

// SignEvent asks the agent to sign the event and returns the signed copy.
func (s *AgentSigner) SignEvent(ctx context.Context, ev *event.Event) (*event.Event, error) {
	if !s.present {
		return nil, ErrNotPresent
	}
	var signed event.Event
	if err := s.post(ctx, agentSignPath, ev, &signed, ErrSignDeclined); err != nil {
		return nil, err
	}
	if err := signed.Verify(); err != nil {
		return nil, fmt.Errorf("agent returned invalid signature: %w", err)
	}
	return &signed, nil
}

// post sends a JSON request and decodes a JSON response. A 403 from the agent
// means its operator declined and is mapped to declinedErr.
func (s *AgentSigner) post(ctx context.Context, path string, in, out any, declinedErr error) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding agent request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling signing agent: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return declinedErr
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("signing agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding agent response: %w", err)
	}
	return nil
}
