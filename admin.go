package main

import (
	"html/template"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
)

// The admin pages are presentation glue around the token lifecycle manager:
// a one-time authorization page with a manual code form (Spotify won't
// redirect to localhost, so the owner pastes the code by hand), and a
// refresh trigger page. They are served to a single human, so plain
// server-rendered templates are plenty.

var adminTemplates = template.Must(template.New("admin").Parse(`
{{define "layout-top"}}<!doctype html>
<html>
<body style="font-family: sans-serif; text-align: center; padding: 50px; background: #121212; color: #fff;">
{{end}}
{{define "layout-bottom"}}</body>
</html>
{{end}}

{{define "auth"}}{{template "layout-top"}}
<h1 style="color: #1DB954;">Spotify Authentication</h1>
<p>Connect the Spotify account whose playback the portfolio should display.</p>
<p style="font-size: 0.9rem; opacity: 0.7;">Redirect URI: <code>{{.RedirectURI}}</code></p>
<a href="{{.AuthURL}}" style="display: inline-block; background: #1DB954; color: white; padding: 15px 30px; text-decoration: none; border-radius: 25px; font-weight: bold; margin: 20px;">Connect Spotify</a>
<div style="margin-top: 20px; padding: 15px; background: rgba(255,255,255,0.05); border-radius: 10px;">
  <h4 style="color: #1DB954; margin-top: 0;">Manual Code Entry</h4>
  <p style="font-size: 0.85rem;">If the redirect lands on the production domain, copy the 'code' query parameter and submit it here:</p>
  <form action="/manual-callback" method="post">
    <input type="text" name="code" placeholder="Paste authorization code here" style="padding: 8px 12px; width: 300px;">
    <button type="submit" style="padding: 8px 16px; background: #1DB954; color: white; border: none; border-radius: 5px;">Submit</button>
  </form>
</div>
{{template "layout-bottom"}}{{end}}

{{define "auth-success"}}{{template "layout-top"}}
<h1 style="color: #1DB954;">Spotify Connected</h1>
<p>The portfolio will now display the currently playing track.</p>
<a href="/api/current-track" style="color: #00FFFF;">Test API</a>
{{template "layout-bottom"}}{{end}}

{{define "auth-error"}}{{template "layout-top"}}
<h1 style="color: #ff4444;">Authentication Failed</h1>
<p>{{.Message}}</p>
<p style="font-size: 0.9rem; opacity: 0.8;">Common causes: the code expired, was already used, or the redirect URI doesn't match.</p>
<a href="/admin/auth/spotify" style="display: inline-block; background: #1DB954; color: white; padding: 10px 20px; text-decoration: none; border-radius: 15px; margin-top: 20px;">Try Again</a>
{{template "layout-bottom"}}{{end}}

{{define "refresh"}}{{template "layout-top"}}
<h1 style="color: #1DB954;">Refresh Spotify Token</h1>
<div style="margin: 20px 0; padding: 15px; background: rgba(255,255,255,0.05); border-radius: 10px;">
  <strong>Authenticated:</strong> {{if .Authenticated}}yes{{else}}no{{end}}<br>
  <strong>Has refresh token:</strong> {{if .HasRefreshToken}}yes{{else}}no{{end}}<br>
  <strong>Token expired:</strong> {{if .TokenExpired}}yes{{else}}no{{end}}
</div>
<button onclick="refreshToken()" style="background: #1DB954; color: white; padding: 15px 30px; border: none; border-radius: 25px; font-weight: bold; cursor: pointer;">Refresh Token Now</button>
<div id="result" style="margin-top: 20px;"></div>
<script>
  async function refreshToken() {
    const result = document.getElementById('result');
    try {
      const response = await fetch('/api/refresh-token', { method: 'POST' });
      const data = await response.json();
      result.textContent = data.success
        ? 'Token refreshed, expires at ' + data.expires_at
        : 'Error: ' + data.error;
    } catch (err) {
      result.textContent = 'Error: ' + err.message;
    }
  }
</script>
{{template "layout-bottom"}}{{end}}
`))

func renderAdminPage(w http.ResponseWriter, statusCode int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := adminTemplates.ExecuteTemplate(w, name, data); err != nil {
		log.Info().Msgf("failed to render admin page %q: %v", name, err)
	}
}

// handleAdminAuth renders the one-time authorization page.
func handleAdminAuth(auth authService, redirectURI string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		renderAdminPage(w, http.StatusOK, "auth", struct {
			AuthURL     string
			RedirectURI string
		}{
			AuthURL:     auth.AuthURL(),
			RedirectURI: redirectURI,
		})
	})
}

// handleManualCallback exchanges a hand-pasted authorization code for the
// token triple.
func handleManualCallback(auth authService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		if err := r.ParseForm(); err != nil {
			renderAdminPage(w, http.StatusBadRequest, "auth-error", struct{ Message string }{
				Message: "Malformed form submission. Please try again.",
			})
			return
		}

		code := r.PostFormValue("code")
		if code == "" {
			renderAdminPage(w, http.StatusBadRequest, "auth-error", struct{ Message string }{
				Message: "No authorization code provided. Please try again.",
			})
			return
		}

		if err := auth.Exchange(r.Context(), code); err != nil {
			log.Info().Msgf("authorization code exchange failed: %v", err)
			renderAdminPage(w, http.StatusInternalServerError, "auth-error", struct{ Message string }{
				Message: "The authorization code was rejected by Spotify.",
			})
			return
		}

		renderAdminPage(w, http.StatusOK, "auth-success", nil)
	})
}

// handleCallback is the registered OAuth redirect target. Spotify won't
// redirect to localhost, so in practice the code arrives via the manual
// form; this route simply forwards any code it does receive to the admin
// page.
func handleCallback() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		code := r.URL.Query().Get("code")
		if code == "" {
			renderAdminPage(w, http.StatusBadRequest, "auth-error", struct{ Message string }{
				Message: "No authorization code provided. Please use the manual form.",
			})
			return
		}

		http.Redirect(w, r, "/admin/auth/spotify?code="+url.QueryEscape(code), http.StatusFound)
	})
}

// handleAdminRefresh renders the manual refresh trigger page.
func handleAdminRefresh(auth authService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		renderAdminPage(w, http.StatusOK, "refresh", auth.Status())
	})
}
