// Package session manages persistent, isolated browsing-session directories,
// one per burner account. Validity is derived by inspecting the session's
// cookies, never stored.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ozeron/spyglass/app/browser"
	"github.com/ozeron/spyglass/app/target"
)

// AuthCookieName is the platform session cookie whose presence marks a
// previously authenticated session.
const AuthCookieName = "auth_token"

const cookieOrigin = "https://x.com"

// Store maps burner account identifiers to session directories and reports
// their authentication status.
type Store struct {
	baseDir string
	engine  browser.Engine
	proxy   target.ProxyConfig
}

func NewStore(baseDir string, engine browser.Engine, proxy target.ProxyConfig) *Store {
	return &Store{baseDir: baseDir, engine: engine, proxy: proxy}
}

// DirectoryFor derives the session directory path for an account, creating
// it if absent.
func (s *Store) DirectoryFor(accountID string) (string, error) {
	dir := filepath.Join(s.baseDir, accountID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}
	return dir, nil
}

// HasArtifacts reports whether the account's session directory exists and is
// non-empty, a heuristic for "previously authenticated at least once".
func (s *Store) HasArtifacts(accountID string) bool {
	dir := filepath.Join(s.baseDir, accountID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	return len(entries) > 0
}

// IsAuthenticated launches a headless, non-interactive session against the
// account's directory and inspects it for the platform auth cookie. The
// launch is read-only from the core's perspective; only what the engine
// itself persists changes on disk.
func (s *Store) IsAuthenticated(ctx context.Context, accountID string) (bool, error) {
	if !s.HasArtifacts(accountID) {
		return false, nil
	}

	dir, err := s.DirectoryFor(accountID)
	if err != nil {
		return false, err
	}

	handle, err := s.engine.Launch(ctx, browser.Options{
		SessionDir: dir,
		Headless:   true,
		Proxy:      s.proxy,
	})
	if err != nil {
		return false, fmt.Errorf("failed to launch session check: %w", err)
	}
	defer func() {
		if err := handle.Close(); err != nil {
			slog.Warn("Failed to close session check browser", "account", accountID, "error", err)
		}
	}()

	cookies, err := handle.Cookies(ctx, cookieOrigin)
	if err != nil {
		return false, fmt.Errorf("failed to read session cookies: %w", err)
	}

	for _, c := range cookies {
		if c.Name == AuthCookieName {
			return true, nil
		}
	}
	return false, nil
}
