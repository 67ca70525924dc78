// ABOUTME: Facebook login via the OAuth 2.0 authorization code flow
// ABOUTME: State is a short-lived GUEST token; a successful callback yields a USER token

package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/2389/srpgate/internal/auth"
	"github.com/2389/srpgate/internal/store"
)

// stateSubject is the subject of every state token.
const stateSubject = "oauth:facebook"

// Callback errors. Transports map all of them to 401.
var (
	ErrInvalidState = errors.New("invalid oauth state")
	ErrExchange     = errors.New("oauth code exchange failed")
	ErrProfile      = errors.New("fetching provider profile failed")
	ErrNoEmail      = errors.New("provider profile has no email")
)

// Config configures the Facebook provider.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	ProfileURL   string
	StateTTL     time.Duration
	// HTTPClient is used for the token exchange and profile fetch. Nil means
	// http.DefaultClient.
	HTTPClient *http.Client
}

// Account is the profile returned by the provider.
type Account struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	AccessToken string `json:"-"`
}

// Result is a completed login.
type Result struct {
	Token   string
	Claims  *auth.Claims
	Account Account
	// Created is true when this login created the local profile.
	Created bool
}

// Facebook runs the authorization code flow against Facebook (or any
// provider with the same profile shape).
type Facebook struct {
	oauth      *oauth2.Config
	profileURL string
	stateTTL   time.Duration
	httpClient *http.Client
	issuer     *auth.Issuer
	profiles   store.ProfileStore
	logger     *slog.Logger
}

// NewFacebook creates the provider.
func NewFacebook(cfg Config, issuer *auth.Issuer, profiles store.ProfileStore, logger *slog.Logger) (*Facebook, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("oauth: client id and secret are required")
	}
	if cfg.AuthURL == "" || cfg.TokenURL == "" || cfg.ProfileURL == "" {
		return nil, errors.New("oauth: auth, token and profile URLs are required")
	}
	if issuer == nil || profiles == nil {
		return nil, errors.New("oauth: issuer and profile store are required")
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = time.Minute
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Facebook{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		profileURL: cfg.ProfileURL,
		stateTTL:   cfg.StateTTL,
		httpClient: cfg.HTTPClient,
		issuer:     issuer,
		profiles:   profiles,
		logger:     logger.With("component", "oauth", "provider", "facebook"),
	}, nil
}

// LoginURL returns the provider authorization URL with a fresh signed state.
func (f *Facebook) LoginURL() (string, error) {
	state, err := f.issuer.MintPurpose(stateSubject, auth.PurposeOAuthState, f.stateTTL)
	if err != nil {
		return "", fmt.Errorf("minting state: %w", err)
	}
	return f.oauth.AuthCodeURL(state), nil
}

func (f *Facebook) verifyState(state string) bool {
	claims, ok := f.issuer.VerifyPurpose(state, auth.PurposeOAuthState)
	return ok && claims.Subject == stateSubject
}

func (f *Facebook) clientContext(ctx context.Context) context.Context {
	if f.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
}

// Callback completes the flow: verify state, exchange the code, fetch the
// profile, create the local profile if missing, and mint a USER token that
// carries the provider access token.
func (f *Facebook) Callback(ctx context.Context, code, state string) (*Result, error) {
	if !f.verifyState(state) {
		return nil, ErrInvalidState
	}
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: missing code", ErrExchange)
	}

	ctx = f.clientContext(ctx)
	tok, err := f.oauth.Exchange(ctx, code)
	if err != nil {
		f.logger.Warn("code exchange failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrExchange, err)
	}

	account, err := f.fetchProfile(ctx, tok)
	if err != nil {
		f.logger.Warn("profile fetch failed", "error", err)
		return nil, err
	}

	created := true
	if _, err := f.profiles.InsertProfile(ctx, &store.Profile{
		Identity:  account.Email,
		FirstName: account.FirstName,
		LastName:  account.LastName,
	}); err != nil {
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("saving profile: %w", err)
		}
		created = false
	}

	token, claims, err := f.issuer.Mint(store.NormalizeIdentity(account.Email), auth.SessionUser, account.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("minting token: %w", err)
	}

	f.logger.Info("oauth login", "identity", claims.Subject, "created", created)
	return &Result{Token: token, Claims: claims, Account: *account, Created: created}, nil
}

// fetchProfile reads the account from the provider using the access token.
func (f *Facebook) fetchProfile(ctx context.Context, tok *oauth2.Token) (*Account, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.profileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfile, err)
	}
	resp, err := f.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfile, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrProfile, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var account Account
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&account); err != nil {
		return nil, fmt.Errorf("%w: decoding: %v", ErrProfile, err)
	}
	if strings.TrimSpace(account.Email) == "" {
		return nil, ErrNoEmail
	}
	account.AccessToken = tok.AccessToken
	return &account, nil
}
