// ABOUTME: Entry point for the sanctum-console admin service
// ABOUTME: Commands: serve, bootstrap, hash-password, health

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/SanctumAI/sanctum-sub000/internal/config"
	"github.com/SanctumAI/sanctum-sub000/internal/identity"
	"github.com/SanctumAI/sanctum-sub000/internal/server"
	"github.com/SanctumAI/sanctum-sub000/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                           _
 ___  __ _ _ __   ___  ___| |_ _   _ _ __ ___
/ __|/ _' | '_ \ / __|/ __| __| | | | '_ ' _ \
\__ \ (_| | | | | (__| (__| |_| |_| | | | | | |
|___/\__,_|_| |_|\___|\___|\__|\__,_|_| |_| |_|
`

// getConfigPath returns the path to the console config file.
// Priority: SANCTUM_CONFIG env var > XDG_CONFIG_HOME/sanctum/console.yaml > ~/.config/sanctum/console.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SANCTUM_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "console.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "sanctum", "console.yaml")
}

// getDataPath returns the path to the sanctum data directory.
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "sanctum")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: sanctum-console <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                      Start the console service")
		fmt.Println("  bootstrap --pubkey KEY     Create config, database and admin identity")
		fmt.Println("  hash-password              Hash an admin password for the config file")
		fmt.Println("  health                     Check console health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "bootstrap":
		err = runBootstrap(ctx)
	case "hash-password":
		err = runHashPassword()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("API base: %s\n", cfg.Server.BasePath)
	fmt.Println()

	logger.Info("starting sanctum-console",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	sessions, err := server.NewSessionManager([]byte(cfg.Auth.SessionSecret))
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}

	srv := server.New(st, sessions, server.Config{
		BasePath:          cfg.Server.BasePath,
		AdminPasswordHash: cfg.Auth.AdminPasswordHash,
		SessionCookieName: cfg.Security.SessionCookieName,
		CSRFCookieName:    cfg.Security.CSRFCookieName,
	})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s/admin/health", cfg.Server.HTTPAddr, strings.TrimRight(cfg.Server.BasePath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// runBootstrap performs first-time setup of the console:
// 1. Creates the config file with a random session secret (if not exists)
// 2. Creates the database and seeds the admin identity
//
// One-command setup: sanctum-console bootstrap --pubkey <npub-or-hex>
func runBootstrap(ctx context.Context) error {
	var rawPubkey string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--pubkey" || arg == "-k":
			if i+1 >= len(args) {
				return fmt.Errorf("--pubkey requires a value")
			}
			rawPubkey = args[i+1]
			i++
		case strings.HasPrefix(arg, "--pubkey="):
			rawPubkey = strings.TrimPrefix(arg, "--pubkey=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if rawPubkey == "" {
		return fmt.Errorf("--pubkey flag is required")
	}
	pubkey, err := identity.Normalize(rawPubkey)
	if err != nil {
		return fmt.Errorf("invalid admin pubkey: %w", err)
	}

	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "console.db")

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	var cfg *config.Config
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating session secret: %w", err)
		}
		sessionSecret := base64.StdEncoding.EncodeToString(secretBytes)

		passwordHash, err := promptPasswordHash("Choose an admin password: ")
		if err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.MkdirAll(dataPath, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		configContent := fmt.Sprintf(`# sanctum-console configuration
# Generated by sanctum-console bootstrap

server:
  http_addr: "localhost:8080"
  base_path: "/api"

database:
  path: "%s"

auth:
  session_secret: "%s"
  admin_password_hash: "%s"

logging:
  level: "info"
  format: "text"
`, dbPath, sessionSecret, passwordHash)

		if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}

		green.Printf("  ✓ Created config: %s\n", configPath)

		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	if existing, err := st.AdminPubkey(ctx); err == nil {
		return fmt.Errorf("bootstrap already complete: admin identity %s exists", existing)
	} else if !errors.Is(err, store.ErrNoAdminIdentity) {
		return fmt.Errorf("checking admin identity: %w", err)
	}

	if err := st.SetAdminPubkey(ctx, pubkey); err != nil {
		return fmt.Errorf("seeding admin identity: %w", err)
	}

	npub, _ := identity.EncodeNpub(pubkey)
	green.Printf("  ✓ Admin identity: %s\n", npub)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	yellow.Println("  Ready to go:")
	fmt.Println("    sanctum-console serve    # start the console")
	fmt.Println("    sanctum-admin status     # check it from the CLI")
	fmt.Println()

	return nil
}

func runHashPassword() error {
	hash, err := promptPasswordHash("Password: ")
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

// promptPasswordHash reads a password without echo and returns its bcrypt hash.
func promptPasswordHash(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword(password, bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}
