package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Server.ShutdownTimeoutSeconds)
	assert.Equal(t, "spotify-tokens.json", cfg.Store.TokenFile)
	assert.False(t, cfg.Observe.Enabled)
	assert.Equal(t, "nowplaying-bridge", cfg.Observe.ServiceName)
}

func TestLoad_SpotifyNotRequired(t *testing.T) {
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.False(t, cfg.Spotify.Configured())
}

func TestLoad_SpotifyConfigured(t *testing.T) {
	t.Setenv("SPOTIFY_CLIENT_ID", "client-id")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "client-secret")
	t.Setenv("SPOTIFY_REDIRECT_URI", "https://example.com/callback")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.True(t, cfg.Spotify.Configured())
	assert.Equal(t, "https://example.com/callback", cfg.Spotify.RedirectURI)
}

func TestLoad_PortOverride(t *testing.T) {
	t.Setenv("PORT", "8090")

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.Server.Port)
}

func TestAllowedOrigins_Defaults(t *testing.T) {
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	origins := cfg.Server.AllowedOrigins()
	assert.Contains(t, origins, "http://localhost:8080")
	assert.Contains(t, origins, "http://127.0.0.1:5500")
	assert.NotContains(t, origins, "")
}

func TestAllowedOrigins_FrontendURL(t *testing.T) {
	t.Setenv("FRONTEND_URL", "https://portfolio.example.com")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Contains(t, cfg.Server.AllowedOrigins(), "https://portfolio.example.com")
}

func TestAllowedOrigins_Extras(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	origins := cfg.Server.AllowedOrigins()
	assert.Contains(t, origins, "https://a.example.com")
	assert.Contains(t, origins, "https://b.example.com")
}

func TestValidate_InvalidPort(t *testing.T) {
	t.Setenv("PORT", "-1")

	_, err := Load(context.Background())
	assert.ErrorContains(t, err, "invalid server port")
}

func TestValidate_EmptyTokenFile(t *testing.T) {
	t.Setenv("SPOTIFY_TOKEN_FILE", "")

	_, err := Load(context.Background())
	assert.ErrorContains(t, err, "token file path")
}
