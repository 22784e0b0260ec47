package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/lfdiego/nowplaying-bridge/internal/spotify"
	"github.com/rs/zerolog/log"
)

// trackSource supplies the cached playback state.
type trackSource interface {
	CurrentTrack(ctx context.Context) *spotify.Playing
}

// authService is the slice of the token lifecycle manager the HTTP surface
// needs.
type authService interface {
	AuthURL() string
	Status() spotify.Status
	Exchange(ctx context.Context, code string) error
	Refresh(ctx context.Context) bool
	TokenExpiry() time.Time
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "OK",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
}

// handleCurrentTrack serves the cached currently-playing payload. Failures
// have already been converted to a nil payload by the cache, so the response
// is always 200 with either the track JSON or a literal null.
func handleCurrentTrack(tracks trackSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, tracks.CurrentTrack(r.Context()))
	})
}

func handleAuthStatus(auth authService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, auth.Status())
	})
}

// handleRefreshToken is the manual refresh trigger used by the admin page.
func handleRefreshToken(auth authService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		if !auth.Status().HasRefreshToken {
			writeJSONError(w, http.StatusBadRequest, "No refresh token available. Please re-authenticate.")
			return
		}

		if !auth.Refresh(r.Context()) {
			writeJSONError(w, http.StatusInternalServerError, "Failed to refresh token")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"message":    "Token refreshed successfully",
			"expires_at": auth.TokenExpiry().UTC().Format(time.RFC3339),
		})
	})
}

// corsMiddleware allows cross-origin reads from the portfolio frontend.
// Requests without an Origin header (curl, same-origin) pass through
// untouched; unknown origins get no CORS headers and the browser blocks the
// response itself.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if _, ok := allowed[origin]; ok {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					w.Header().Add("Vary", "Origin")
				} else {
					log.Info().Str("origin", origin).Msg("CORS blocked origin")
				}
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		// status code already written; logging is all that's left
		log.Info().Msgf("failed to write JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5kb max: after this we'll assume the client is broken or malicious
		// and close the connection
		io.CopyN(io.Discard, r.Body, 5*1024)
	}
}
