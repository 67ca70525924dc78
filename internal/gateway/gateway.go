// ABOUTME: Gateway orchestrator that coordinates the HTTP API, gRPC and ops servers
// ABOUTME: Wires store, handshake engine, token issuer and gate, and manages their lifecycle

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/srpgate/internal/auth"
	"github.com/2389/srpgate/internal/config"
	"github.com/2389/srpgate/internal/handshake"
	"github.com/2389/srpgate/internal/metrics"
	"github.com/2389/srpgate/internal/oauth"
	"github.com/2389/srpgate/internal/sessions"
	"github.com/2389/srpgate/internal/srp"
	"github.com/2389/srpgate/internal/store"
)

// Gateway orchestrates the srpgate server components.
type Gateway struct {
	config      *config.Config
	store       store.Store
	sessions    *sessions.Store[*handshake.Session]
	engine      *handshake.Engine
	issuer      *auth.Issuer
	gate        *auth.Gate
	facebook    *oauth.Facebook
	metrics     *metrics.Metrics
	limiter     *clientLimiter
	grpcServer  *grpc.Server
	httpServer  *http.Server
	opsServer   *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// echoCount numbers /api/echo calls
	echoCount atomic.Int64
}

// openStore opens the configured credential store.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	s, err := store.Open(ctx, store.Options{
		Driver:         store.Driver(cfg.Database.Driver),
		Path:           cfg.Database.Path,
		DSN:            cfg.Database.DSN,
		ConnectTimeout: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway, opening the store named in cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	gw, err := NewWithStore(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// NewWithStore creates a Gateway around an already opened store. The
// gateway takes ownership of s and closes it on Shutdown.
func NewWithStore(cfg *config.Config, s store.Store, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	group, err := srp.LookupGroup(cfg.Handshake.Group)
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		config: cfg,
		store:  s,
		logger: logger,
	}

	gw.metrics = metrics.New(func() int { return gw.sessions.Len() })

	gw.sessions = sessions.New[*handshake.Session](cfg.Handshake.SessionTTL,
		sessions.WithSweepInterval(cfg.Handshake.SweepInterval),
		sessions.WithEvictHook(gw.metrics.SessionsEvicted),
	)

	gw.engine, err = handshake.NewEngine(s, gw.sessions, handshake.Config{
		Group:         group,
		LookupTimeout: cfg.Handshake.LookupTimeout,
		Policy:        handshake.Policy(cfg.Handshake.ConcurrentLogin),
	}, logger)
	if err != nil {
		gw.sessions.Close()
		return nil, fmt.Errorf("creating handshake engine: %w", err)
	}

	gw.issuer, err = auth.NewIssuer(auth.IssuerConfig{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		TTL:      cfg.Auth.TokenTTL,
	})
	if err != nil {
		gw.sessions.Close()
		return nil, fmt.Errorf("creating token issuer: %w", err)
	}

	gw.gate = auth.NewGate(gw.issuer, auth.GateConfig{
		CaseInsensitiveScheme: cfg.Auth.CaseInsensitiveScheme,
		OnReject:              gw.metrics.GateRejected,
	}, logger)

	if fb := cfg.OAuth.Facebook; fb.Enabled {
		gw.facebook, err = oauth.NewFacebook(oauth.Config{
			ClientID:     fb.ClientID,
			ClientSecret: fb.ClientSecret,
			RedirectURL:  fb.RedirectURL,
			Scopes:       fb.Scopes,
			AuthURL:      fb.AuthURL,
			TokenURL:     fb.TokenURL,
			ProfileURL:   fb.ProfileURL,
			StateTTL:     fb.StateTTL,
		}, gw.issuer, s, logger)
		if err != nil {
			gw.sessions.Close()
			return nil, fmt.Errorf("creating facebook login: %w", err)
		}
	}

	if cfg.Handshake.RateLimit > 0 {
		gw.limiter = newClientLimiter(cfg.Handshake.RateLimit, cfg.Handshake.RateBurst)
	}

	gw.grpcServer = createGRPCServer(gw.gate, gw.limiter, logger)
	registerGRPCServices(gw, gw.grpcServer)

	gw.httpServer = &http.Server{
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	gw.opsServer = &http.Server{
		Handler:           gw.OpsHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("gateway configured",
		"group", group.Name,
		"concurrent_login", cfg.Handshake.ConcurrentLogin,
		"session_ttl", cfg.Handshake.SessionTTL,
		"facebook", gw.facebook != nil,
		"rate_limit", cfg.Handshake.RateLimit,
	)
	return gw, nil
}

// Engine exposes the handshake engine, mainly for tests and tooling.
func (g *Gateway) Engine() *handshake.Engine {
	return g.engine
}

// Issuer exposes the token issuer.
func (g *Gateway) Issuer() *auth.Issuer {
	return g.issuer
}

// GRPCServer exposes the gRPC server so callers can serve it on their own listener.
func (g *Gateway) GRPCServer() *grpc.Server {
	return g.grpcServer
}

// setupTCPListeners creates standard TCP listeners for gRPC, HTTP and ops.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddresses() {
	if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled",
			"grpc_addr", g.config.Server.GRPCAddr,
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddresses()
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts the gRPC, HTTP and ops servers in goroutines, returning error channel.
func (g *Gateway) startServers(grpcLn, httpLn, opsLn net.Listener) chan error {
	errCh := make(chan error, 3)

	go func() {
		g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := g.grpcServer.Serve(grpcLn); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	go func() {
		g.logger.Info("ops server listening", "addr", opsLn.Addr().String())
		if err := g.opsServer.Serve(opsLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("ops server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	for {
		select {
		case additionalErr := <-errCh:
			g.logger.Error("additional server error", "error", additionalErr)
		default:
			return
		}
	}
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	// Health and metrics stay on a local listener even with Tailscale.
	opsListener, err := net.Listen("tcp", g.config.Server.OpsAddr)
	if err != nil {
		_ = grpcListener.Close()
		_ = httpListener.Close()
		return fmt.Errorf("listening on ops address: %w", err)
	}

	errCh := g.startServers(grpcListener, httpListener, opsListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "srpgate", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners creates a tsnet server and returns listeners for gRPC and HTTP.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = g.tsnetServer.Listen("tcp", ":50051")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	httpLn, err = g.createTailscaleHTTPListener(tsCfg, grpcLn)
	if err != nil {
		return nil, nil, err
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig, grpcLn net.Listener) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = grpcLn.Close()
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener(grpcLn)
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = grpcLn.Close()
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener(grpcLn net.Listener) (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all gateway servers and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "ops shutdown", g.opsServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	g.sessions.Close()
	if g.limiter != nil {
		g.limiter.Close()
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
