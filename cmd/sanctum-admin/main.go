// ABOUTME: Admin CLI for the sanctum console
// ABOUTME: Drives login, settings and the admin key migration flow

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/SanctumAI/sanctum-sub000/internal/identity"
	"github.com/SanctumAI/sanctum-sub000/internal/migration"
	"github.com/SanctumAI/sanctum-sub000/internal/signer"
	"github.com/SanctumAI/sanctum-sub000/internal/store"
	"github.com/SanctumAI/sanctum-sub000/internal/transport"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(ctx)
	case "keygen":
		err = cmdKeygen(args)
	case "migrate-key":
		err = cmdMigrateKey(ctx, args)
	case "audit":
		err = cmdAudit(ctx)
	case "config":
		err = cmdConfig(ctx, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	yellow := color.New(color.FgYellow)

	fmt.Println("Usage: sanctum-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                  Show console health and signer status")
	fmt.Println("  keygen [path]           Generate a new admin key file")
	fmt.Println("  migrate-key <pubkey>    Rotate the admin key and re-encrypt all records")
	fmt.Println("  audit                   List completed key migrations")
	fmt.Println("  config get <key>        Read a console setting")
	fmt.Println("  config set <key> <val>  Update a console setting")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  SANCTUM_URL              Console API base (default: http://localhost:8080/api)")
	fmt.Println("  SANCTUM_SIGNER           Signing agent URL (preferred over a key file)")
	fmt.Println("  SANCTUM_KEY_FILE         Admin key file (used when no agent is configured)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  sanctum-admin keygen ~/.config/sanctum/admin.key")
	fmt.Println("  SANCTUM_SIGNER=http://localhost:7777 sanctum-admin migrate-key npub1...")
	fmt.Println()
}

func apiBase() string {
	if url := os.Getenv("SANCTUM_URL"); url != "" {
		return strings.TrimRight(url, "/")
	}
	return "http://localhost:8080/api"
}

// buildSigner picks the signing agent when SANCTUM_SIGNER is set, otherwise a
// key file. The migration flow itself decides whether the result is usable.
func buildSigner() (signer.Signer, error) {
	if agentURL := os.Getenv("SANCTUM_SIGNER"); agentURL != "" {
		return signer.NewAgentSigner(agentURL, nil), nil
	}
	if keyFile := os.Getenv("SANCTUM_KEY_FILE"); keyFile != "" {
		return signer.LoadKeyFile(keyFile)
	}
	return nil, fmt.Errorf("set SANCTUM_SIGNER or SANCTUM_KEY_FILE")
}

// login prompts for the admin password and authenticates the client, seeding
// the transport's cookie jar with the session and CSRF cookies.
func login(ctx context.Context, client *http.Client) error {
	fmt.Print("Admin password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}

	body, err := json.Marshal(map[string]string{"password": string(password)})
	if err != nil {
		return fmt.Errorf("encoding login request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase()+"/admin/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("invalid credentials")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login returned %d", resp.StatusCode)
	}
	return nil
}

// secureClient builds an HTTP client whose transport scopes cookies and CSRF
// headers to the console's API base.
func secureClient() (*http.Client, error) {
	rt, err := transport.New(apiBase())
	if err != nil {
		return nil, fmt.Errorf("building transport: %w", err)
	}
	return rt.Client(), nil
}

func cmdStatus(ctx context.Context) error {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	cyan := color.New(color.FgCyan)

	fmt.Println()
	cyan.Println("  Console")
	cyan.Println("  -------")
	fmt.Printf("  URL:     %s\n", apiBase())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBase()+"/admin/health", nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		red.Println("  Health:  unreachable")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			green.Println("  Health:  ok")
		} else {
			red.Printf("  Health:  status %d\n", resp.StatusCode)
		}
	}

	fmt.Println()
	cyan.Println("  Signer")
	cyan.Println("  ------")
	sgn, err := buildSigner()
	if err != nil {
		fmt.Printf("  %v\n\n", err)
		return nil
	}
	if !sgn.IsPresent() {
		red.Println("  Present:    no")
		fmt.Println()
		return nil
	}
	green.Println("  Present:    yes")
	if sgn.SupportsDecryption() {
		green.Println("  Decryption: supported")
	} else {
		red.Println("  Decryption: not supported")
	}
	if agent, ok := sgn.(*signer.AgentSigner); ok && agent.Pubkey() != "" {
		if npub, err := identity.EncodeNpub(agent.Pubkey()); err == nil {
			fmt.Printf("  Identity:   %s\n", npub)
		}
	}
	if local, ok := sgn.(*signer.LocalSigner); ok {
		if npub, err := identity.EncodeNpub(local.Pubkey()); err == nil {
			fmt.Printf("  Identity:   %s\n", npub)
		}
	}
	fmt.Println()
	return nil
}

func cmdKeygen(args []string) error {
	path := os.Getenv("SANCTUM_KEY_FILE")
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return fmt.Errorf("usage: sanctum-admin keygen <path>")
	}

	sgn, err := signer.GenerateKeyFile(path)
	if err != nil {
		return err
	}

	npub, err := identity.EncodeNpub(sgn.Pubkey())
	if err != nil {
		return fmt.Errorf("encoding pubkey: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Key file: %s\n", path)
	fmt.Printf("  Public key: %s\n", npub)
	fmt.Printf("  Hex:        %s\n", sgn.Pubkey())
	return nil
}

func cmdMigrateKey(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: sanctum-admin migrate-key <new-pubkey>")
	}
	rawTarget := args[0]

	sgn, err := buildSigner()
	if err != nil {
		return err
	}

	client, err := secureClient()
	if err != nil {
		return err
	}
	if err := login(ctx, client); err != nil {
		return err
	}

	remote := store.NewRemoteStore(apiBase(), client)
	coord := migration.NewCoordinator(sgn, remote)

	if coord.Open() == migration.StateError {
		return fmt.Errorf("%s", coord.Err().Message)
	}
	if coord.Submit(ctx, rawTarget) == migration.StateError {
		return fmt.Errorf("%s", coord.Err().Error())
	}

	snapshot := coord.Snapshot()
	target := coord.Target()
	npub, _ := identity.EncodeNpub(target)

	yellow := color.New(color.FgYellow)
	fmt.Println()
	yellow.Println("  About to rotate the admin key:")
	fmt.Printf("    New key:      %s\n", npub)
	fmt.Printf("    Users:        %d\n", snapshot.UserCount)
	fmt.Printf("    Field values: %d\n", snapshot.FieldValueCount)
	fmt.Println()
	fmt.Println("  Every record will be decrypted with the current key and re-encrypted")
	fmt.Println("  to the new one. The current key stops working when this completes.")
	fmt.Println()

	if !confirm("  Proceed? [yes/no]: ") {
		fmt.Println("Aborted.")
		return coord.Close()
	}

	fmt.Println("  Migrating...")
	if coord.Confirm(ctx) != migration.StateComplete {
		return fmt.Errorf("%s", coord.Err().Error())
	}

	result := coord.Result()
	green := color.New(color.FgGreen)
	fmt.Println()
	green.Println("  Migration complete!")
	fmt.Printf("    Users migrated:        %d\n", result.UsersMigrated)
	fmt.Printf("    Field values migrated: %d\n", result.FieldValuesMigrated)
	fmt.Println()
	return coord.Close()
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.ToLower(strings.TrimSpace(input)) == "yes"
}

func cmdAudit(ctx context.Context) error {
	client, err := secureClient()
	if err != nil {
		return err
	}
	if err := login(ctx, client); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBase()+"/admin/key-migration/audit", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling audit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("audit returned %d", resp.StatusCode)
	}

	var out struct {
		Entries []store.MigrationAuditEntry `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if len(out.Entries) == 0 {
		fmt.Println("No migrations yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MIGRATED\tOLD KEY\tNEW KEY\tUSERS\tVALUES")
	for _, e := range out.Entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
			e.MigratedAt.Format(time.RFC3339),
			shortKey(e.OldPubkey), shortKey(e.NewPubkey),
			e.UsersMigrated, e.FieldValuesMigrated)
	}
	return w.Flush()
}

// shortKey abbreviates a 64-char hex key for table output.
func shortKey(hexKey string) string {
	if len(hexKey) <= 16 {
		return hexKey
	}
	return hexKey[:8] + "…" + hexKey[len(hexKey)-8:]
}

func cmdConfig(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sanctum-admin config <get|set|list> [args]")
	}

	client, err := secureClient()
	if err != nil {
		return err
	}
	if err := login(ctx, client); err != nil {
		return err
	}

	switch args[0] {
	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: sanctum-admin config get <key>")
		}
		return configGet(ctx, client, args[1])
	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: sanctum-admin config set <key> <value>")
		}
		return configSet(ctx, client, args[1], args[2])
	case "list":
		return configList(ctx, client)
	default:
		return fmt.Errorf("unknown config subcommand: %s", args[0])
	}
}

func configGet(ctx context.Context, client *http.Client, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBase()+"/admin/config/"+key, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("setting %q not found", key)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("config get returned %d", resp.StatusCode)
	}

	var setting store.Setting
	if err := json.NewDecoder(resp.Body).Decode(&setting); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	fmt.Println(setting.Value)
	return nil
}

func configSet(ctx context.Context, client *http.Client, key, value string) error {
	body, err := json.Marshal(map[string]string{"value": value})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, apiBase()+"/admin/config/"+key, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("config set returned %d", resp.StatusCode)
	}

	color.Green("%s = %s", key, value)
	return nil
}

func configList(ctx context.Context, client *http.Client) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBase()+"/admin/config", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("config list returned %d", resp.StatusCode)
	}

	var out struct {
		Settings []store.Setting `json:"settings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVALUE\tUPDATED")
	for _, s := range out.Settings {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Key, s.Value, s.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}
