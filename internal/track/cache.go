// Package track maintains the single-slot cache of the owner's currently
// playing Spotify track.
package track

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lfdiego/nowplaying-bridge/internal/spotify"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultFreshness is the window within which a cached snapshot is
	// served without an upstream call.
	DefaultFreshness = 30 * time.Second

	// DefaultPollInterval is the cadence of the background poll that keeps
	// the cache warm. The on-demand fetch path only covers the first
	// request and timer drift.
	DefaultPollInterval = 30 * time.Second
)

// TokenSource supplies bearer tokens for the playback call and the bounded
// refresh used on a 401. Implemented by spotify.Manager.
type TokenSource interface {
	PlaybackToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) bool
	Authorized() bool
}

// Player performs the upstream currently-playing call. Implemented by
// spotify.Client.
type Player interface {
	CurrentlyPlaying(ctx context.Context, token string) (*spotify.Playing, error)
}

// Cache holds the last fetched playback state. A nil payload with a recent
// fetchedAt means "nothing playing"; a zero fetchedAt means no fetch has
// succeeded yet. The snapshot is only overwritten after an upstream call
// resolves, so readers never observe a half-written value.
type Cache struct {
	tokens    TokenSource
	player    Player
	freshness time.Duration

	mu        sync.Mutex
	payload   *spotify.Playing
	fetchedAt time.Time

	now func() time.Time
}

func New(tokens TokenSource, player Player, freshness time.Duration) *Cache {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	return &Cache{
		tokens:    tokens,
		player:    player,
		freshness: freshness,
		now:       time.Now,
	}
}

// CurrentTrack returns the playback state: the cached snapshot when fresh,
// otherwise the result of a fresh fetch. Returns nil both for "nothing
// playing" and for any handled failure; failures leave the snapshot
// untouched so the next cycle retries.
func (c *Cache) CurrentTrack(ctx context.Context) *spotify.Playing {
	c.mu.Lock()
	if !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.freshness {
		payload := c.payload
		c.mu.Unlock()
		return payload
	}
	c.mu.Unlock()

	payload, ok := c.fetch(ctx)
	if !ok {
		return nil
	}

	c.store(payload)
	return payload
}

// Poll runs one background refresh cycle. Skipped entirely until the account
// has been authorized: the client-credentials fallback can't read private
// playback state, so polling without a user token is just noise.
func (c *Cache) Poll(ctx context.Context) {
	if !c.tokens.Authorized() {
		log.Debug().Msg("track poll skipped: not authorized")
		return
	}

	payload, ok := c.fetch(ctx)
	if !ok {
		return
	}

	c.store(payload)
}

// fetch performs the upstream call, refreshing and retrying exactly once on
// a 401. The bool result reports whether the fetch counts as successful
// (a "nothing playing" response does).
func (c *Cache) fetch(ctx context.Context) (*spotify.Playing, bool) {
	token, err := c.tokens.PlaybackToken(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("no playback token available")
		return nil, false
	}

	playing, err := c.player.CurrentlyPlaying(ctx, token)
	if errors.Is(err, spotify.ErrUnauthorized) {
		if !c.tokens.Refresh(ctx) {
			log.Warn().Msg("playback token rejected and refresh failed")
			return nil, false
		}

		token, err = c.tokens.PlaybackToken(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("no playback token after refresh")
			return nil, false
		}

		playing, err = c.player.CurrentlyPlaying(ctx, token)
	}

	if err != nil {
		log.Warn().Err(err).Msg("currently-playing fetch failed")
		return nil, false
	}

	return playing, true
}

func (c *Cache) store(payload *spotify.Playing) {
	c.mu.Lock()
	c.payload = payload
	c.fetchedAt = c.now()
	c.mu.Unlock()
}
