package spotify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/lfdiego/nowplaying-bridge/internal/config"
	"github.com/lfdiego/nowplaying-bridge/internal/credential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockAccounts stands in for accounts.spotify.com, serving all three grant
// flows with configurable outcomes.
type mockAccounts struct {
	Server *httptest.Server

	ExchangeStatus int // authorization_code grant (200 if unset)
	RefreshStatus  int // refresh_token grant (200 if unset)
	AppStatus      int // client_credentials grant (200 if unset)

	AccessToken     string
	RefreshToken    string // included in responses when non-empty
	AppToken        string
	ExpiresIn       int
	GrantsRequested []string
}

func newMockAccounts(t *testing.T) *mockAccounts {
	t.Helper()

	mock := &mockAccounts{
		AccessToken: "issued-access-token",
		AppToken:    "issued-app-token",
		ExpiresIn:   3600,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "test-client-id" || pass != "test-client-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		// handler runs on the server goroutine: no require here
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		grant := r.PostFormValue("grant_type")
		mock.GrantsRequested = append(mock.GrantsRequested, grant)

		status := http.StatusOK
		body := map[string]any{
			"token_type": "Bearer",
			"expires_in": mock.ExpiresIn,
		}

		switch grant {
		case "authorization_code":
			status = mock.ExchangeStatus
			body["access_token"] = mock.AccessToken
			if mock.RefreshToken != "" {
				body["refresh_token"] = mock.RefreshToken
			}
		case "refresh_token":
			status = mock.RefreshStatus
			body["access_token"] = mock.AccessToken
			if mock.RefreshToken != "" {
				body["refresh_token"] = mock.RefreshToken
			}
		case "client_credentials":
			status = mock.AppStatus
			body["access_token"] = mock.AppToken
		default:
			status = http.StatusBadRequest
		}

		if status == 0 {
			status = http.StatusOK
		}

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}

		json.NewEncoder(w).Encode(body)
	})

	mock.Server = httptest.NewServer(mux)
	t.Cleanup(mock.Server.Close)
	return mock
}

func testConfig(accountsURL string) config.SpotifyConfig {
	return config.SpotifyConfig{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURI:  "https://example.com/callback",
		AccountsURL:  accountsURL,
	}
}

func testStore(t *testing.T, rec credential.Record) *credential.Store {
	t.Helper()

	store := credential.NewStore(filepath.Join(t.TempDir(), "tokens.json"))
	if rec != (credential.Record{}) {
		require.NoError(t, store.Save(rec))
	}
	return store
}

func expiredRecord() credential.Record {
	return credential.Record{
		AccessToken:  "stale-access-token",
		RefreshToken: "stored-refresh-token",
		ExpiresAt:    time.Now().Add(-time.Hour).UnixMilli(),
	}
}

func validRecord() credential.Record {
	return credential.Record{
		AccessToken:  "valid-access-token",
		RefreshToken: "stored-refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour).UnixMilli(),
	}
}

func TestExchange_StoresAndPersistsTokens(t *testing.T) {
	accounts := newMockAccounts(t)
	accounts.RefreshToken = "issued-refresh-token"

	store := testStore(t, credential.Record{})
	m := NewManager(testConfig(accounts.Server.URL), store)

	err := m.Exchange(context.Background(), "auth-code")
	require.NoError(t, err)

	rec := m.Record()
	assert.Equal(t, "issued-access-token", rec.AccessToken)
	assert.Equal(t, "issued-refresh-token", rec.RefreshToken)
	assert.Greater(t, rec.ExpiresAt, time.Now().UnixMilli())

	// persisted record survives a simulated restart
	assert.Equal(t, rec, store.Load())
}

func TestExchange_UpstreamRejection(t *testing.T) {
	accounts := newMockAccounts(t)
	accounts.ExchangeStatus = http.StatusBadRequest

	m := NewManager(testConfig(accounts.Server.URL), testStore(t, credential.Record{}))

	err := m.Exchange(context.Background(), "expired-code")
	assert.ErrorContains(t, err, "authorization code exchange rejected")

	// state remains unauthenticated
	assert.Equal(t, credential.Record{}, m.Record())
}

func TestExchange_NotConfigured(t *testing.T) {
	m := NewManager(config.SpotifyConfig{}, testStore(t, credential.Record{}))

	err := m.Exchange(context.Background(), "auth-code")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRefresh_RotatesWhenNewTokenReturned(t *testing.T) {
	accounts := newMockAccounts(t)
	accounts.RefreshToken = "rotated-refresh-token"

	store := testStore(t, expiredRecord())
	m := NewManager(testConfig(accounts.Server.URL), store)

	require.True(t, m.Refresh(context.Background()))

	rec := m.Record()
	assert.Equal(t, "issued-access-token", rec.AccessToken)
	assert.Equal(t, "rotated-refresh-token", rec.RefreshToken)
	assert.Equal(t, rec, store.Load())
}

func TestRefresh_RetainsRefreshTokenWhenOmitted(t *testing.T) {
	accounts := newMockAccounts(t)

	m := NewManager(testConfig(accounts.Server.URL), testStore(t, expiredRecord()))

	require.True(t, m.Refresh(context.Background()))

	rec := m.Record()
	assert.Equal(t, "issued-access-token", rec.AccessToken)
	assert.Equal(t, "stored-refresh-token", rec.RefreshToken)
}

func TestRefresh_NoRefreshToken(t *testing.T) {
	accounts := newMockAccounts(t)

	m := NewManager(testConfig(accounts.Server.URL), testStore(t, credential.Record{}))

	assert.False(t, m.Refresh(context.Background()))
	assert.Empty(t, accounts.GrantsRequested)
}

func TestRefresh_UpstreamRejection(t *testing.T) {
	accounts := newMockAccounts(t)
	accounts.RefreshStatus = http.StatusBadRequest

	m := NewManager(testConfig(accounts.Server.URL), testStore(t, expiredRecord()))

	assert.False(t, m.Refresh(context.Background()))

	// the stale record is left in place for manual re-authorization
	rec := m.Record()
	assert.Equal(t, "stale-access-token", rec.AccessToken)
	assert.Equal(t, "stored-refresh-token", rec.RefreshToken)
}

func TestPlaybackToken_ValidTokenReturnedDirectly(t *testing.T) {
	accounts := newMockAccounts(t)

	m := NewManager(testConfig(accounts.Server.URL), testStore(t, validRecord()))

	token, err := m.PlaybackToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "valid-access-token", token)

	// no upstream call for a valid token
	assert.Empty(t, accounts.GrantsRequested)
}

func TestPlaybackToken_RefreshesExpiredToken(t *testing.T) {
	accounts := newMockAccounts(t)

	m := NewManager(testConfig(accounts.Server.URL), testStore(t, expiredRecord()))

	token, err := m.PlaybackToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "issued-access-token", token)
	assert.Equal(t, []string{"refresh_token"}, accounts.GrantsRequested)
}

func TestPlaybackToken_FallsBackToClientCredentials(t *testing.T) {
	accounts := newMockAccounts(t)
	accounts.RefreshStatus = http.StatusBadRequest

	m := NewManager(testConfig(accounts.Server.URL), testStore(t, expiredRecord()))

	token, err := m.PlaybackToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "issued-app-token", token)
	assert.Equal(t, []string{"refresh_token", "client_credentials"}, accounts.GrantsRequested)
}

func TestPlaybackToken_NotConfigured(t *testing.T) {
	m := NewManager(config.SpotifyConfig{}, testStore(t, credential.Record{}))

	_, err := m.PlaybackToken(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestStatus_Unauthenticated(t *testing.T) {
	m := NewManager(config.SpotifyConfig{}, testStore(t, credential.Record{}))

	assert.Equal(t, Status{
		Authenticated:   false,
		HasRefreshToken: false,
		TokenExpired:    true,
	}, m.Status())
}

func TestStatus_Authenticated(t *testing.T) {
	accounts := newMockAccounts(t)

	m := NewManager(testConfig(accounts.Server.URL), testStore(t, validRecord()))

	assert.Equal(t, Status{
		Authenticated:   true,
		HasRefreshToken: true,
		TokenExpired:    false,
	}, m.Status())
}

func TestStatus_Expired(t *testing.T) {
	accounts := newMockAccounts(t)

	m := NewManager(testConfig(accounts.Server.URL), testStore(t, expiredRecord()))

	assert.Equal(t, Status{
		Authenticated:   false,
		HasRefreshToken: true,
		TokenExpired:    true,
	}, m.Status())
}

func TestRefreshIfExpiring(t *testing.T) {
	t.Run("refreshes inside the guard band", func(t *testing.T) {
		accounts := newMockAccounts(t)

		rec := validRecord()
		rec.ExpiresAt = time.Now().Add(5 * time.Minute).UnixMilli()
		m := NewManager(testConfig(accounts.Server.URL), testStore(t, rec))

		m.RefreshIfExpiring(context.Background(), DefaultGuardBand)

		assert.Equal(t, []string{"refresh_token"}, accounts.GrantsRequested)
		assert.Equal(t, "issued-access-token", m.Record().AccessToken)
	})

	t.Run("skips outside the guard band", func(t *testing.T) {
		accounts := newMockAccounts(t)

		m := NewManager(testConfig(accounts.Server.URL), testStore(t, validRecord()))

		m.RefreshIfExpiring(context.Background(), DefaultGuardBand)

		assert.Empty(t, accounts.GrantsRequested)
	})

	t.Run("skips without a refresh token", func(t *testing.T) {
		accounts := newMockAccounts(t)

		m := NewManager(testConfig(accounts.Server.URL), testStore(t, credential.Record{}))

		m.RefreshIfExpiring(context.Background(), DefaultGuardBand)

		assert.Empty(t, accounts.GrantsRequested)
	})
}

func TestAuthURL(t *testing.T) {
	accounts := newMockAccounts(t)

	m := NewManager(testConfig(accounts.Server.URL), testStore(t, credential.Record{}))

	u := m.AuthURL()
	assert.Contains(t, u, accounts.Server.URL+"/authorize")
	assert.Contains(t, u, "client_id=test-client-id")
	assert.Contains(t, u, "user-read-currently-playing")
}

func TestAuthorized(t *testing.T) {
	accounts := newMockAccounts(t)

	assert.False(t, NewManager(testConfig(accounts.Server.URL), testStore(t, credential.Record{})).Authorized())
	assert.True(t, NewManager(testConfig(accounts.Server.URL), testStore(t, expiredRecord())).Authorized())
}
