// ABOUTME: First-run commands: interactive config writer and sysadmin bootstrap
// ABOUTME: Generates a random signing secret and stores a SYSADMIN token for srpgate-admin

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/srpgate/internal/auth"
	"github.com/2389/srpgate/internal/config"
	"github.com/2389/srpgate/internal/store"
)

// bootstrapTokenTTL is the lifetime of the token written by bootstrap.
const bootstrapTokenTTL = 30 * 24 * time.Hour

// newSecret returns a random base64 signing key with 32 bytes of entropy.
func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

// initAnswers is what runInit collects before rendering the file.
type initAnswers struct {
	HTTPAddr, GRPCAddr, OpsAddr string
	Driver, DBPath, DSN         string
	Secret                      string
	Group, Policy               string
	Tailscale                   bool
	TSHostname, TSAuthKey       string
	TSEphemeral, TSFunnel       bool
	LogLevel, LogFormat         string
}

func renderConfig(a initAnswers, generatedBy string) string {
	var cfg strings.Builder
	cfg.WriteString("# srpgate configuration\n")
	cfg.WriteString("# Generated by srpgate " + generatedBy + "\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n", a.HTTPAddr)
	fmt.Fprintf(&cfg, "  grpc_addr: %q\n", a.GRPCAddr)
	fmt.Fprintf(&cfg, "  ops_addr: %q\n\n", a.OpsAddr)

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  driver: %q\n", a.Driver)
	if a.Driver == string(store.DriverPostgres) {
		fmt.Fprintf(&cfg, "  dsn: %q\n\n", a.DSN)
	} else {
		fmt.Fprintf(&cfg, "  path: %q\n\n", a.DBPath)
	}

	cfg.WriteString("auth:\n")
	fmt.Fprintf(&cfg, "  jwt_secret: %q\n", a.Secret)
	cfg.WriteString("  token_ttl: \"24h\"\n\n")

	cfg.WriteString("handshake:\n")
	fmt.Fprintf(&cfg, "  group: %q\n", a.Group)
	fmt.Fprintf(&cfg, "  concurrent_login: %q\n", a.Policy)
	cfg.WriteString("  session_ttl: \"2m\"\n\n")

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.Tailscale)
	if a.Tailscale {
		fmt.Fprintf(&cfg, "  hostname: %q\n", a.TSHostname)
		if a.TSAuthKey != "" {
			fmt.Fprintf(&cfg, "  auth_key: %q\n", a.TSAuthKey)
		}
		fmt.Fprintf(&cfg, "  ephemeral: %t\n", a.TSEphemeral)
		fmt.Fprintf(&cfg, "  funnel: %t\n", a.TSFunnel)
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&cfg, "  format: %q\n\n", a.LogFormat)

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: true\n")
	cfg.WriteString("  path: \"/metrics\"\n")
	return cfg.String()
}

func defaultAnswers(secret string) initAnswers {
	return initAnswers{
		HTTPAddr:  "127.0.0.1:8080",
		GRPCAddr:  "127.0.0.1:50051",
		OpsAddr:   "127.0.0.1:9090",
		Driver:    string(store.DriverSQLite),
		DBPath:    filepath.Join(getDataPath(), "srpgate.db"),
		Secret:    secret,
		Group:     "rfc5054-2048",
		Policy:    "replace",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("srpgate configuration setup")
	fmt.Println("===========================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", config.DefaultPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	secret, err := newSecret()
	if err != nil {
		return err
	}
	a := defaultAnswers(secret)

	fmt.Println("\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, "HTTP address", a.HTTPAddr)
	a.GRPCAddr = prompt(reader, "gRPC address", a.GRPCAddr)
	a.OpsAddr = prompt(reader, "Ops address (health, metrics)", a.OpsAddr)

	fmt.Println("\n--- Database Configuration ---")
	a.Driver = prompt(reader, "Driver (sqlite/postgres)", a.Driver)
	if a.Driver == string(store.DriverPostgres) {
		a.DSN = prompt(reader, "Postgres DSN", "postgres://srpgate@localhost:5432/srpgate?sslmode=disable")
	} else {
		a.DBPath = prompt(reader, "SQLite database path", a.DBPath)
	}

	fmt.Println("\n--- Handshake Configuration ---")
	a.Group = prompt(reader, "SRP group", a.Group)
	a.Policy = prompt(reader, "Concurrent login policy (replace/reject)", a.Policy)

	fmt.Println("\n--- Tailscale Configuration ---")
	a.Tailscale = yes(prompt(reader, "Enable Tailscale?", "no"))
	if a.Tailscale {
		a.TSHostname = prompt(reader, "Tailscale hostname", "srpgate")
		a.TSAuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		a.TSEphemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		a.TSFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", a.LogLevel)
	a.LogFormat = prompt(reader, "Log format (text/json)", a.LogFormat)

	if err := writeConfigFile(outputFile, renderConfig(a, "init")); err != nil {
		return err
	}
	if a.Driver != string(store.DriverPostgres) {
		if err := os.MkdirAll(filepath.Dir(a.DBPath), 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Println("  srpgate serve")
	return nil
}

func writeConfigFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file holds the signing secret.
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// runBootstrap writes a config if none exists, brings the database schema up
// to date, and stores a SYSADMIN token for srpgate-admin.
//
//	srpgate bootstrap --identity root@example.com
func runBootstrap(ctx context.Context, args []string) error {
	var identity string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--identity" || arg == "-i":
			if i+1 >= len(args) {
				return errors.New("--identity requires a value")
			}
			identity = args[i+1]
			i++
		case strings.HasPrefix(arg, "--identity="):
			identity = strings.TrimPrefix(arg, "--identity=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	identity = store.NormalizeIdentity(identity)
	if identity == "" {
		return errors.New("--identity flag is required")
	}

	configPath := config.DefaultPath()
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		secret, err := newSecret()
		if err != nil {
			return err
		}
		a := defaultAnswers(secret)
		if err := os.MkdirAll(filepath.Dir(a.DBPath), 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
		if err := writeConfigFile(configPath, renderConfig(a, "bootstrap")); err != nil {
			return err
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.Open(ctx, store.Options{
		Driver: store.Driver(cfg.Database.Driver),
		Path:   cfg.Database.Path,
		DSN:    cfg.Database.DSN,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()
	green.Printf("  ✓ Database: %s\n", cfg.Database.Driver)

	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	})
	if err != nil {
		return fmt.Errorf("creating token issuer: %w", err)
	}
	token, claims, err := issuer.MintWithTTL(identity, auth.SessionSysadmin, "", bootstrapTokenTTL)
	if err != nil {
		return fmt.Errorf("minting token: %w", err)
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	if err := s.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:      "bootstrap",
		Action:     store.AuditTokenIssued,
		TargetType: "token",
		TargetID:   claims.JWTID,
		Detail:     map[string]any{"identity": identity, "session_type": claims.SessionType.String()},
	}); err != nil {
		return fmt.Errorf("writing audit log: %w", err)
	}

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Sysadmin Token")
	cyan.Println("  --------------")
	fmt.Printf("  Identity: %s\n", identity)
	fmt.Printf("  Type:     %s\n", claims.SessionType)
	fmt.Printf("  Token:    %s (expires %s)\n", tokenPath, claims.ExpiresAt.Format("Jan 02, 2006"))
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    srpgate serve                     # start the gateway")
	fmt.Println("    srpgate-admin user add <email>    # enroll a user")
	fmt.Println()
	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
