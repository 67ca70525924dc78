// ABOUTME: Commands that work on the database directly: enrollment, deletion and token minting
// ABOUTME: The verifier is derived locally so the password never leaves this process

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/srpgate/internal/auth"
	"github.com/2389/srpgate/internal/config"
	"github.com/2389/srpgate/internal/srp"
	"github.com/2389/srpgate/internal/store"
)

// openLocal loads the gateway config and opens its store.
func openLocal(ctx context.Context) (*config.Config, store.Store, error) {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	s, err := store.Open(ctx, store.Options{
		Driver: store.Driver(cfg.Database.Driver),
		Path:   cfg.Database.Path,
		DSN:    cfg.Database.DSN,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return cfg, s, nil
}

// cmdUser handles user subcommands.
func cmdUser(args []string) error {
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	ctx := context.Background()
	switch subcmd {
	case "add", "set-password":
		return cmdUserAdd(ctx, args, os.Stdout)
	case "list", "ls":
		return cmdUserList(remoteEnv{
			GRPCAddr: getEnv("SRPGATE_GRPC", "localhost:50051"),
			Token:    getToken(),
		}, args)
	case "delete", "rm", "remove":
		return cmdUserDelete(ctx, args)
	default:
		return fmt.Errorf("unknown user subcommand: %s (use add, list, delete)", subcmd)
	}
}

var userAddFlags = map[string]string{
	"--first": "first", "--last": "last", "--phone": "phone",
}

// cmdUserAdd enrolls a user, or rotates the credential of an existing one.
func cmdUserAdd(ctx context.Context, args []string, w io.Writer) error {
	p, err := parseArgs(args, userAddFlags)
	if err != nil {
		return err
	}
	if len(p.positional) != 1 {
		return errors.New("usage: srpgate-admin user add <email> [--first NAME] [--last NAME] [--phone NUMBER]")
	}
	identity := store.NormalizeIdentity(p.positional[0])

	cfg, s, err := openLocal(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	group, err := srp.LookupGroup(cfg.Handshake.Group)
	if err != nil {
		return err
	}
	kdf, err := srp.NewKDF(cfg.KDF.Algorithm, cfg.KDF.Time, cfg.KDF.MemoryKiB, cfg.KDF.Threads)
	if err != nil {
		return err
	}

	password, err := promptNewPassword(w)
	if err != nil {
		return err
	}
	salt, verifier, err := srp.NewVerifier(group, kdf, identity, password)
	if err != nil {
		return fmt.Errorf("deriving verifier: %w", err)
	}

	created := false
	if _, err := s.InsertProfile(ctx, &store.Profile{
		Identity:    identity,
		FirstName:   p.get("first"),
		LastName:    p.get("last"),
		PhoneNumber: p.get("phone"),
	}); err == nil {
		created = true
	} else if !errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("creating profile: %w", err)
	}

	if err := s.SetCredential(ctx, identity, salt, verifier); err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}

	if created {
		_ = s.AppendAuditLog(ctx, &store.AuditEntry{
			Actor: "admin-cli", Action: store.AuditProfileCreated, TargetType: "user", TargetID: identity,
		})
	}
	_ = s.AppendAuditLog(ctx, &store.AuditEntry{
		Actor: "admin-cli", Action: store.AuditCredentialSet, TargetType: "user", TargetID: identity,
		Detail: map[string]any{"group": group.Name, "kdf": cfg.KDF.Algorithm},
	})

	green := color.New(color.FgGreen)
	if created {
		green.Fprintf(w, "  ✓ Enrolled %s\n", identity)
	} else {
		green.Fprintf(w, "  ✓ Rotated credential for %s\n", identity)
	}
	return nil
}

// cmdUserDelete removes a user and their credential.
func cmdUserDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: srpgate-admin user delete <email>")
	}
	identity := store.NormalizeIdentity(args[0])

	_, s, err := openLocal(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.DeleteUser(ctx, identity); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("user %s not found", identity)
		}
		return fmt.Errorf("deleting user: %w", err)
	}
	_ = s.AppendAuditLog(ctx, &store.AuditEntry{
		Actor: "admin-cli", Action: store.AuditUserDeleted, TargetType: "user", TargetID: identity,
	})

	color.New(color.FgGreen).Printf("  ✓ Deleted %s\n", identity)
	return nil
}

// cmdToken handles token subcommands.
func cmdToken(args []string) error {
	if len(args) == 0 || args[0] != "create" {
		return errors.New("usage: srpgate-admin token create --identity EMAIL [--type USER|GUEST|SYSADMIN] [--ttl 24h]")
	}
	return cmdTokenCreate(context.Background(), args[1:])
}

var tokenFlags = map[string]string{
	"--identity": "identity", "-i": "identity",
	"--type": "type", "-t": "type",
	"--ttl": "ttl",
}

// cmdTokenCreate mints a token with the gateway's signing key.
func cmdTokenCreate(ctx context.Context, args []string) error {
	p, err := parseArgs(args, tokenFlags)
	if err != nil {
		return err
	}
	identity := store.NormalizeIdentity(p.get("identity"))
	if identity == "" {
		return errors.New("--identity is required")
	}

	st := auth.SessionUser
	if raw := p.get("type"); raw != "" {
		if st, err = auth.ParseSessionType(strings.ToUpper(raw)); err != nil {
			return err
		}
	}

	cfg, s, err := openLocal(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	ttl := cfg.Auth.TokenTTL
	if raw := p.get("ttl"); raw != "" {
		if ttl, err = time.ParseDuration(raw); err != nil || ttl <= 0 {
			return fmt.Errorf("invalid --ttl %q", raw)
		}
	}

	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		TTL:      cfg.Auth.TokenTTL,
	})
	if err != nil {
		return fmt.Errorf("creating token issuer: %w", err)
	}
	token, claims, err := issuer.MintWithTTL(identity, st, "", ttl)
	if err != nil {
		return fmt.Errorf("minting token: %w", err)
	}

	_ = s.AppendAuditLog(ctx, &store.AuditEntry{
		Actor: "admin-cli", Action: store.AuditTokenIssued, TargetType: "token", TargetID: claims.JWTID,
		Detail: map[string]any{"identity": identity, "session_type": st.String(), "ttl": ttl.String()},
	})

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(os.Stderr)
	cyan.Fprintln(os.Stderr, "  Token")
	cyan.Fprintln(os.Stderr, "  -----")
	fmt.Fprintf(os.Stderr, "  Identity: %s\n", identity)
	fmt.Fprintf(os.Stderr, "  Type:     %s\n", st)
	fmt.Fprintf(os.Stderr, "  Expires:  %s\n\n", claims.ExpiresAt.Local().Format(time.RFC1123))
	fmt.Println(token)
	return nil
}
