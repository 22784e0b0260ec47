package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/justinas/alice"
	"github.com/lfdiego/nowplaying-bridge/internal/config"
	"github.com/lfdiego/nowplaying-bridge/internal/credential"
	"github.com/lfdiego/nowplaying-bridge/internal/observe"
	"github.com/lfdiego/nowplaying-bridge/internal/server"
	"github.com/lfdiego/nowplaying-bridge/internal/spotify"
	"github.com/lfdiego/nowplaying-bridge/internal/track"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// refreshCheckInterval is how often the proactive refresh loop wakes up to
// compare the token's remaining validity against the guard band.
const refreshCheckInterval = 50 * time.Minute

func configureServerRoutes(cfg config.Config, auth *spotify.Manager, tracks *track.Cache) http.Handler {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	// The request body size is fairly limited to prevent accidental or
	// deliberate abuse: the only inbound payload is a short form with an
	// authorization code.
	requestLimitBytes := int64(20 << 10) // 20 KB
	requestLimiter := maxRequestSize(requestLimitBytes)

	cors := corsMiddleware(cfg.Server.AllowedOrigins())

	publicRouteMiddleware := alice.New(requestLimiter, cors)
	adminRouteMiddleware := alice.New(requestLimiter)

	// public JSON API consumed by the frontend
	mux.Handle("GET /api/current-track", publicRouteMiddleware.Then(handleCurrentTrack(tracks)))
	mux.Handle("GET /api/auth-status", publicRouteMiddleware.Then(handleAuthStatus(auth)))
	mux.Handle("POST /api/refresh-token", publicRouteMiddleware.Then(handleRefreshToken(auth)))

	// preflight requests are answered by the CORS middleware before the
	// inner handler is reached
	preflight := publicRouteMiddleware.Then(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	mux.Handle("OPTIONS /api/", preflight)

	// admin HTML routes for the one-time setup
	mux.Handle("GET /admin/auth/spotify", adminRouteMiddleware.Then(handleAdminAuth(auth, cfg.Spotify.RedirectURI)))
	mux.Handle("POST /manual-callback", adminRouteMiddleware.Then(handleManualCallback(auth)))
	mux.Handle("GET /callback", adminRouteMiddleware.Then(handleCallback()))
	mux.Handle("GET /admin/refresh-token", adminRouteMiddleware.Then(handleAdminRefresh(auth)))

	// healthchecks are not included in telemetry
	muxWithoutTelemetry.Handle("GET /health", adminRouteMiddleware.Then(handleHealthCheck()))

	return mux
}

func main() {
	// a local .env is a development convenience; absence is normal
	_ = godotenv.Load()

	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	if !cfg.Spotify.Configured() {
		log.Warn().Msg("spotify client credentials not configured: upstream calls will fail and the API will serve null")
	}

	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	// setup the token lifecycle, playback client and cache
	store := credential.NewStore(cfg.Store.TokenFile)
	auth := spotify.NewManager(cfg.Spotify, store)
	player := spotify.NewClient(cfg.Spotify)
	tracks := track.New(auth, player, track.DefaultFreshness)

	handler := configureServerRoutes(cfg, auth, tracks)

	// Two independent timers share the guarded state: the cache poller and
	// the proactive token refresh. Both stop when the server context is
	// cancelled at shutdown.
	go pollCurrentTrack(ctx, tracks)
	go refreshProactively(ctx, auth)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	httpServer.RegisterOnShutdown(func() {
		cancel()

		log.Info().Msg("telemetry: shutting down")
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Warn().Err(err).Msg("telemetry: shutdown failed")
		} else {
			log.Info().Msg("telemetry: shutdown complete")
		}
	})

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	if err := server.Serve(ctx, httpServer, shutdownTimeout); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// pollCurrentTrack keeps the now-playing cache warm so inbound requests are
// normally served without an upstream call.
func pollCurrentTrack(ctx context.Context, tracks *track.Cache) {
	defer func() {
		if r := recover(); r != nil {
			log.Info().Interface("recover", r).Msg("track poll failed; will attempt to continue.")
		}
	}()

	for {
		tracks.Poll(ctx)

		select {
		case <-time.After(track.DefaultPollInterval):
			// continue
		case <-ctx.Done():
			log.Info().Msg("track poll goroutine shutting down gracefully")
			return
		}
	}
}

// refreshProactively renews the access token before it expires, so the
// request path never has to take the reactive refresh.
func refreshProactively(ctx context.Context, auth *spotify.Manager) {
	defer func() {
		if r := recover(); r != nil {
			log.Info().Interface("recover", r).Msg("proactive refresh failed; will attempt to continue.")
		}
	}()

	for {
		select {
		case <-time.After(refreshCheckInterval):
			auth.RefreshIfExpiring(ctx, spotify.DefaultGuardBand)
		case <-ctx.Done():
			log.Info().Msg("refresh goroutine shutting down gracefully")
			return
		}
	}
}

func configureLogging() {
	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}
