// Package credential persists the Spotify OAuth token triple as a flat JSON
// file so a restart resumes without re-authorization.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// Record is the token triple vended by the Spotify accounts service. A zero
// Record means "never authorized".
type Record struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresAt is the access token expiry as milliseconds since the epoch.
	// Zero when no token has been issued.
	ExpiresAt int64 `json:"expires_at,omitempty"`
}

// Expired reports whether the access token is unusable: absent, or at/past
// its expiry instant.
func (r Record) Expired(now time.Time) bool {
	return r.AccessToken == "" || now.UnixMilli() >= r.ExpiresAt
}

// Expiry returns the expiry instant, or the zero time when unset.
func (r Record) Expiry() time.Time {
	if r.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.ExpiresAt)
}

// Store reads and writes a Record at a fixed path. Writes replace the file
// wholesale; there is no partial update or versioning.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the stored record. Any failure (missing file, empty file,
// malformed JSON) is recoverable: the zero record is returned and a warning
// logged, so a broken token file never prevents startup.
func (s *Store) Load() Record {
	var rec Record

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Info().Str("path", s.path).Msg("no token file found, starting fresh")
		} else {
			log.Warn().Err(err).Str("path", s.path).Msg("token file unreadable, starting fresh")
		}
		return rec
	}

	if len(data) == 0 {
		log.Info().Str("path", s.path).Msg("token file is empty, starting fresh")
		return rec
	}

	if err := json.Unmarshal(data, &rec); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("token file malformed, starting fresh")
		return Record{}
	}

	log.Info().Time("expiresAt", rec.Expiry()).Msg("loaded tokens from file")
	return rec
}

// Save serializes the record and overwrites the token file. The write goes
// through a temp file and rename so a crash mid-write can't leave a
// half-written file behind.
func (s *Store) Save(rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token record: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}

	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write token file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace token file: %w", err)
	}

	return nil
}
