// ABOUTME: Commands that talk to a running gateway over HTTP and gRPC
// ABOUTME: Login runs the SRP handshake; admin listings use the Admin gRPC service

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"

	"github.com/2389/srpgate/internal/client"
	"github.com/2389/srpgate/internal/config"
	"github.com/2389/srpgate/internal/gateway"
	"github.com/2389/srpgate/internal/srp"
)

// rpcTimeout bounds every remote call.
const rpcTimeout = 10 * time.Second

// remoteEnv is where the gateway lives and how to authenticate to it.
type remoteEnv struct {
	HTTPURL  string
	GRPCAddr string
	Token    string
}

var errNoToken = errors.New("SRPGATE_TOKEN environment variable is required")

// createClient creates a gRPC client connection using the JSON codec.
func createClient(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return conn, nil
}

// authContext creates a context with the token in metadata.
func authContext(token string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	if token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "bearer "+token)
	}
	return ctx, cancel
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, req, resp any) error {
	return conn.Invoke(ctx, method, req, resp, grpc.CallContentSubtype(gateway.CodecName))
}

// loginParams picks the group and KDF from the local config when one exists.
func loginParams() (*srp.Group, srp.KDF, error) {
	groupName, kdfName := srp.DefaultGroup, "argon2id"
	var t, mem uint32
	var threads uint8
	if cfg, err := config.Load(config.DefaultPath()); err == nil {
		groupName, kdfName = cfg.Handshake.Group, cfg.KDF.Algorithm
		t, mem, threads = cfg.KDF.Time, cfg.KDF.MemoryKiB, cfg.KDF.Threads
	}
	groupName = getEnv("SRPGATE_GROUP", groupName)

	group, err := srp.LookupGroup(groupName)
	if err != nil {
		return nil, nil, err
	}
	kdf, err := srp.NewKDF(kdfName, t, mem, threads)
	if err != nil {
		return nil, nil, err
	}
	return group, kdf, nil
}

// cmdLogin runs the handshake and prints the token on stdout.
func cmdLogin(env remoteEnv, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: srpgate-admin login <email>")
	}
	group, kdf, err := loginParams()
	if err != nil {
		return err
	}
	c, err := client.New(env.HTTPURL, client.WithGroup(group), client.WithKDF(kdf))
	if err != nil {
		return err
	}

	password, err := promptPassword(os.Stderr, "Password: ")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	token, err := c.Login(ctx, args[0], password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	color.New(color.FgGreen).Fprintln(os.Stderr, "  ✓ Server proof verified")
	fmt.Println(token)
	return nil
}

// cmdMe shows the identity behind the current token.
func cmdMe(env remoteEnv) error {
	if env.Token == "" {
		return errNoToken
	}
	c, err := client.New(env.HTTPURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()

	me, err := c.Me(ctx, env.Token)
	if err != nil {
		return fmt.Errorf("me: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Identity")
	cyan.Println("  --------")
	fmt.Printf("  Identity:   %s\n", me.Identity)
	fmt.Printf("  Session:    %s\n", me.SessionType)
	fmt.Printf("  Token ID:   %s\n", me.TokenID)
	fmt.Printf("  Expires:    %s\n", me.ExpiresAt.Local().Format(time.RFC1123))
	fmt.Println()
	return nil
}

// cmdUserList lists users through the Admin service.
func cmdUserList(env remoteEnv, args []string) error {
	if env.Token == "" {
		return errNoToken
	}
	p, err := parseArgs(args, limitFlags)
	if err != nil {
		return err
	}
	limit, err := p.intFlag("limit", 100)
	if err != nil {
		return err
	}

	conn, err := createClient(env.GRPCAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := authContext(env.Token)
	defer cancel()

	var resp gateway.ListUsersResponse
	if err := invoke(ctx, conn, "/srpgate.v1.Admin/ListUsers", &gateway.ListUsersRequest{Limit: limit}, &resp); err != nil {
		return fmt.Errorf("ListUsers: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Users")
	cyan.Println("  -----")
	if len(resp.Users) == 0 {
		fmt.Println("  (no users)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  IDENTITY\tNAME\tVERIFIER\tCREATED")
	fmt.Fprintln(w, "  --------\t----\t--------\t-------")
	for _, u := range resp.Users {
		name := truncate(u.FirstName+" "+u.LastName, 24)
		verifier := "no"
		if u.HasVerifier {
			verifier = "yes"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", truncate(u.Identity, 36), name, verifier, u.CreatedAt.Local().Format("Jan 02 15:04"))
	}
	w.Flush()
	fmt.Println()
	return nil
}

// cmdAudit prints recent audit entries.
func cmdAudit(env remoteEnv, args []string) error {
	if env.Token == "" {
		return errNoToken
	}
	p, err := parseArgs(args, map[string]string{
		"--limit": "limit", "-n": "limit",
		"--actor": "actor", "--action": "action", "--target": "target",
	})
	if err != nil {
		return err
	}
	limit, err := p.intFlag("limit", 50)
	if err != nil {
		return err
	}

	conn, err := createClient(env.GRPCAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := authContext(env.Token)
	defer cancel()

	var resp gateway.ListAuditResponse
	if err := invoke(ctx, conn, "/srpgate.v1.Admin/ListAudit", &gateway.ListAuditRequest{
		Actor:    p.get("actor"),
		Action:   p.get("action"),
		TargetID: p.get("target"),
		Limit:    limit,
	}, &resp); err != nil {
		return fmt.Errorf("ListAudit: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Audit Log")
	cyan.Println("  ---------")
	if len(resp.Entries) == 0 {
		fmt.Println("  (no entries)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tACTOR\tACTION\tTARGET")
	fmt.Fprintln(w, "  ----\t-----\t------\t------")
	for _, e := range resp.Entries {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("Jan 02 15:04:05"),
			truncate(e.Actor, 32), e.Action,
			truncate(e.TargetType+":"+e.TargetID, 40))
	}
	w.Flush()
	fmt.Println()
	return nil
}

// cmdStatus checks the gateway health service and, with a token, the identity.
func cmdStatus(env remoteEnv) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()

	conn, err := createClient(env.GRPCAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := authContext("")
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		yellow.Printf("  Gateway:  ")
		color.Red("UNREACHABLE (%v)\n", err)
		return nil
	}
	green.Printf("  Gateway:  ")
	fmt.Printf("%s at %s\n", resp.GetStatus(), env.GRPCAddr)

	if env.Token == "" {
		yellow.Printf("  Identity: ")
		fmt.Println("(no token - set SRPGATE_TOKEN)")
		fmt.Println()
		return nil
	}

	ctx, cancel = authContext(env.Token)
	defer cancel()
	var me struct {
		Identity    string `json:"identity"`
		SessionType string `json:"sessionType"`
	}
	if err := invoke(ctx, conn, "/srpgate.v1.Account/Me", &gateway.MeRequest{}, &me); err != nil {
		yellow.Printf("  Identity: ")
		color.Red("auth failed (%v)\n", err)
	} else {
		green.Printf("  Identity: ")
		fmt.Printf("%s (%s)\n", me.Identity, me.SessionType)
	}
	fmt.Println()
	return nil
}
