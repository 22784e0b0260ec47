package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lfdiego/nowplaying-bridge/internal/config"
)

const (
	defaultAPIURL = "https://api.spotify.com"

	currentlyPlayingPath = "/v1/me/player/currently-playing"
)

// ErrUnauthorized indicates the playback call was rejected with a 401: the
// bearer token is invalid or expired upstream.
var ErrUnauthorized = errors.New("spotify rejected the access token")

// Playing is the playback state returned by the currently-playing endpoint.
// Field shapes follow the Web API reference; only what the frontend renders
// is modeled.
type Playing struct {
	IsPlaying            bool   `json:"is_playing"`
	ProgressMs           int    `json:"progress_ms"`
	Timestamp            int64  `json:"timestamp"`
	CurrentlyPlayingType string `json:"currently_playing_type"`
	Item                 *Track `json:"item"`
}

// Track represents a Spotify track.
type Track struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Artists     []Artist    `json:"artists"`
	Album       Album       `json:"album"`
	DurationMS  int         `json:"duration_ms"`
	Explicit    bool        `json:"explicit"`
	ExternalURL ExternalURL `json:"external_urls"`
	URI         string      `json:"uri"`
}

// Artist represents a Spotify artist.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// Album represents a Spotify album.
type Album struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Images []Image `json:"images"`
	URI    string  `json:"uri"`
}

// Image represents an image resource.
type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// ExternalURL carries the public web link for a resource.
type ExternalURL struct {
	Spotify string `json:"spotify"`
}

// Client calls the Spotify Web API with a caller-supplied bearer token.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg config.SpotifyConfig) *Client {
	base := strings.TrimSuffix(cfg.APIURL, "/")
	if base == "" {
		base = defaultAPIURL
	}

	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: upstreamTimeout},
	}
}

// CurrentlyPlaying fetches the owner's playback state. A nil result with a
// nil error means nothing is playing (upstream 204 or empty body). A 401
// comes back as ErrUnauthorized so the caller can refresh and retry.
func (c *Client) CurrentlyPlaying(ctx context.Context, token string) (*Playing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+currentlyPlayingPath, nil)
	if err != nil {
		return nil, fmt.Errorf("build playback request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("playback request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode == http.StatusUnauthorized:
		io.Copy(io.Discard, resp.Body)
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("playback request returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read playback response: %w", err)
	}

	// some proxies turn the 204 into a 200 with no body
	if len(body) == 0 {
		return nil, nil
	}

	var playing Playing
	if err := json.Unmarshal(body, &playing); err != nil {
		return nil, fmt.Errorf("decode playback response: %w", err)
	}

	return &playing, nil
}
