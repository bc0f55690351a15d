// ABOUTME: Development signing agent serving a local key over the agent protocol
// ABOUTME: Usage: sanctum-signer -key <path> [-addr localhost:7777] [-auto-approve]

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/SanctumAI/sanctum-sub000/internal/event"
	"github.com/SanctumAI/sanctum-sub000/internal/identity"
	"github.com/SanctumAI/sanctum-sub000/internal/signer"
)

func main() {
	addr := flag.String("addr", "localhost:7777", "Listen address")
	keyFile := flag.String("key", "", "Path to the admin key file")
	autoApprove := flag.Bool("auto-approve", false, "Approve all requests without prompting")
	flag.Parse()

	if *keyFile == "" {
		flag.Usage()
		os.Exit(1)
	}

	if err := run(*addr, *keyFile, *autoApprove); err != nil {
		log.Fatal(err)
	}
}

func run(addr, keyFile string, autoApprove bool) error {
	local, err := signer.LoadKeyFile(keyFile)
	if err != nil {
		return fmt.Errorf("loading key: %w", err)
	}

	npub, err := identity.EncodeNpub(local.Pubkey())
	if err != nil {
		return fmt.Errorf("encoding pubkey: %w", err)
	}
	fmt.Fprintf(os.Stderr, "serving identity %s on %s\n", npub, addr)
	if autoApprove {
		fmt.Fprintln(os.Stderr, "auto-approve enabled: every request will be granted")
	}

	agent := &devAgent{
		signer:      local,
		autoApprove: autoApprove,
		stdin:       bufio.NewReader(os.Stdin),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/capabilities", agent.handleCapabilities)
	mux.HandleFunc("POST /v1/decrypt", agent.handleDecrypt)
	mux.HandleFunc("POST /v1/sign", agent.handleSign)

	srv := &http.Server{Addr: addr, Handler: mux}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

// devAgent serves the signing agent protocol backed by a local key. Approval
// prompts are serialized so two requests never interleave on the terminal.
type devAgent struct {
	signer      *signer.LocalSigner
	autoApprove bool

	mu    sync.Mutex
	stdin *bufio.Reader
}

// approve asks the operator to grant one request.
func (a *devAgent) approve(what string) bool {
	if a.autoApprove {
		return true
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	fmt.Fprintf(os.Stderr, "approve %s? [y/N]: ", what)
	input, err := a.stdin.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(input))
	return answer == "y" || answer == "yes"
}

func (a *devAgent) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"pubkey":  a.signer.Pubkey(),
		"decrypt": true,
	})
}

type decryptRequest struct {
	Ciphertext      string `json:"ciphertext"`
	EphemeralPubkey string `json:"ephemeral_pubkey"`
}

func (a *devAgent) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	var req decryptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if !a.approve("decrypt request") {
		http.Error(w, "declined", http.StatusForbidden)
		return
	}

	plaintext, err := a.signer.Decrypt(r.Context(), req.Ciphertext, req.EphemeralPubkey)
	if err != nil {
		log.Printf("decrypt failed: %v", err)
		http.Error(w, "decryption failed", http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, map[string]string{"plaintext": plaintext})
}

func (a *devAgent) handleSign(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	what := fmt.Sprintf("signing kind-%d event (action %q)", ev.Kind, ev.Action())
	if !a.approve(what) {
		http.Error(w, "declined", http.StatusForbidden)
		return
	}

	signed, err := a.signer.SignEvent(r.Context(), &ev)
	if err != nil {
		log.Printf("sign failed: %v", err)
		http.Error(w, "signing failed", http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, signed)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
