// Package spotify implements the Spotify Web API surface the service
// depends on: the OAuth token lifecycle (authorization code, refresh and
// client-credentials grants) and the currently-playing playback call.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lfdiego/nowplaying-bridge/internal/config"
	"github.com/lfdiego/nowplaying-bridge/internal/credential"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultAccountsURL = "https://accounts.spotify.com"

	authorizePath = "/authorize"
	tokenPath     = "/api/token"

	// upstreamTimeout bounds every call to the accounts service.
	upstreamTimeout = 10 * time.Second
)

// DefaultGuardBand is the remaining-validity threshold below which the
// proactive refresh loop renews the access token, so user-facing requests
// never have to take the reactive refresh path.
const DefaultGuardBand = 10 * time.Minute

// scopes grant read access to the owner's playback state and nothing else.
var scopes = []string{"user-read-currently-playing", "user-read-playback-state"}

// ErrNotConfigured indicates the client id/secret pair is absent, so no
// grant can be attempted.
var ErrNotConfigured = errors.New("spotify client credentials not configured")

// Status is the read-only projection of the credential record served by the
// auth-status endpoint.
type Status struct {
	Authenticated   bool `json:"authenticated"`
	HasRefreshToken bool `json:"hasRefreshToken"`
	TokenExpired    bool `json:"tokenExpired"`
}

// Manager owns the credential record and the transitions between the
// unauthenticated, valid, expired and client-only states. All mutations of
// the record happen under the mutex; upstream calls do not, so two callers
// may race through a refresh. That is tolerated: the last successful
// response wins and a redundant refresh is safe upstream.
type Manager struct {
	oauth      *oauth2.Config
	app        oauth2.TokenSource
	store      *credential.Store
	httpClient *http.Client
	configured bool

	mu  sync.Mutex
	rec credential.Record

	now func() time.Time
}

// NewManager builds a Manager from configuration, loading any previously
// persisted record from the store.
func NewManager(cfg config.SpotifyConfig, store *credential.Store) *Manager {
	base := strings.TrimSuffix(cfg.AccountsURL, "/")
	if base == "" {
		base = defaultAccountsURL
	}

	httpClient := &http.Client{Timeout: upstreamTimeout}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  base + authorizePath,
			TokenURL: base + tokenPath,
			// Spotify requires the client pair as HTTP basic auth.
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	appCfg := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     base + tokenPath,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	// The client-credentials source caches its token until expiry, the same
	// arrangement the app-level sources elsewhere in this codebase use.
	appCtx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
	app := appCfg.TokenSource(appCtx)

	m := &Manager{
		oauth:      oauthCfg,
		app:        app,
		store:      store,
		httpClient: httpClient,
		configured: cfg.Configured(),
		now:        time.Now,
	}

	if store != nil {
		m.rec = store.Load()
	}

	return m
}

// AuthURL returns the Spotify authorization URL for the one-time human
// consent step.
func (m *Manager) AuthURL() string {
	return m.oauth.AuthCodeURL("")
}

// Record returns a copy of the current credential record.
func (m *Manager) Record() credential.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec
}

// Expired reports whether the current access token is absent or past its
// expiry.
func (m *Manager) Expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.Expired(m.now())
}

// Authorized reports whether an access token is present at all, expired or
// not. The background poller uses this to decide whether polling is
// worthwhile.
func (m *Manager) Authorized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.AccessToken != ""
}

// TokenExpiry returns the access token's expiry instant, or the zero time
// when no token has been issued.
func (m *Manager) TokenExpiry() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.Expiry()
}

// Status projects the credential record for the auth-status endpoint.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := m.rec.Expired(m.now())
	return Status{
		Authenticated:   m.rec.AccessToken != "" && !expired,
		HasRefreshToken: m.rec.RefreshToken != "",
		TokenExpired:    expired,
	}
}

// Exchange performs the one-time authorization-code grant. On success the
// record is replaced with the returned token triple and persisted; on
// failure the record is left untouched and the error returned so the admin
// page can prompt a retry.
func (m *Manager) Exchange(ctx context.Context, code string) error {
	if !m.configured {
		return ErrNotConfigured
	}

	tok, err := m.oauth.Exchange(m.callCtx(ctx), code)
	if err != nil {
		return fmt.Errorf("authorization code exchange rejected: %w", err)
	}

	m.mu.Lock()
	m.rec = credential.Record{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAt(tok),
	}
	rec := m.rec
	m.mu.Unlock()

	m.persist(rec)

	log.Info().Time("expiresAt", rec.Expiry()).Msg("spotify account connected")
	return nil
}

// Refresh exchanges the stored refresh token for a new access token. Spotify
// may rotate the refresh token; when the response omits one, the existing
// refresh token is retained. Returns false (never an error) on any failure,
// leaving the stale record in place for the caller to fall back.
func (m *Manager) Refresh(ctx context.Context) bool {
	if !m.configured {
		log.Warn().Msg("refresh skipped: client credentials not configured")
		return false
	}

	m.mu.Lock()
	refreshToken := m.rec.RefreshToken
	m.mu.Unlock()

	if refreshToken == "" {
		log.Info().Msg("refresh skipped: no refresh token available")
		return false
	}

	src := m.oauth.TokenSource(m.callCtx(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		log.Warn().Err(err).Msg("access token refresh failed")
		return false
	}

	m.mu.Lock()
	m.rec.AccessToken = tok.AccessToken
	m.rec.ExpiresAt = expiresAt(tok)
	if tok.RefreshToken != "" {
		m.rec.RefreshToken = tok.RefreshToken
	}
	rec := m.rec
	m.mu.Unlock()

	m.persist(rec)

	log.Info().Time("expiresAt", rec.Expiry()).Msg("access token refreshed")
	return true
}

// PlaybackToken returns a bearer token usable for the playback call:
// the current access token when valid, a refreshed one when not, or — when
// the refresh also fails — a degraded client-credentials token that can only
// reach public data (the currently-playing call will come back empty).
func (m *Manager) PlaybackToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	rec := m.rec
	m.mu.Unlock()

	if !rec.Expired(m.now()) {
		return rec.AccessToken, nil
	}

	if m.Refresh(ctx) {
		m.mu.Lock()
		token := m.rec.AccessToken
		m.mu.Unlock()
		return token, nil
	}

	if !m.configured {
		return "", ErrNotConfigured
	}

	log.Info().Msg("falling back to client-credentials token")
	tok, err := m.app.Token()
	if err != nil {
		return "", fmt.Errorf("client-credentials fallback failed: %w", err)
	}

	return tok.AccessToken, nil
}

// RefreshIfExpiring renews the access token when its remaining validity has
// dropped below the guard band. Called from the proactive refresh loop.
func (m *Manager) RefreshIfExpiring(ctx context.Context, guard time.Duration) {
	m.mu.Lock()
	rec := m.rec
	m.mu.Unlock()

	if rec.RefreshToken == "" || rec.ExpiresAt == 0 {
		return
	}

	remaining := rec.Expiry().Sub(m.now())
	if remaining >= guard {
		return
	}

	log.Info().Dur("remaining", remaining).Msg("proactively refreshing access token")
	if !m.Refresh(ctx) {
		log.Warn().Msg("proactive token refresh failed")
	}
}

// callCtx attaches the bounded-timeout HTTP client to a context for the
// oauth2 package to pick up.
func (m *Manager) callCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// persist mirrors the record to durable storage. A write failure is logged
// and swallowed: the next successful mutation retries implicitly.
func (m *Manager) persist(rec credential.Record) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(rec); err != nil {
		log.Warn().Err(err).Msg("token persistence failed")
	}
}

func expiresAt(tok *oauth2.Token) int64 {
	if tok.Expiry.IsZero() {
		return 0
	}
	return tok.Expiry.UnixMilli()
}
