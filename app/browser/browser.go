// Package browser defines the narrow contract this system requires from a
// page-rendering/automation engine. The orchestration core depends only on
// this interface; engine internals (CDP wiring, stealth patches, viewport
// handling) live behind it.
package browser

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ozeron/spyglass/app/target"
)

// Options configure a single engine launch. SessionDir selects the persistent
// browsing profile; the engine holds an exclusive lock on it for the lifetime
// of the handle.
type Options struct {
	SessionDir string
	Headless   bool
	Proxy      target.ProxyConfig
	UserAgent  string
}

// Cookie is the subset of browser cookie state the core inspects.
type Cookie struct {
	Name   string
	Value  string
	Domain string
}

// Engine launches browsing sessions.
type Engine interface {
	Launch(ctx context.Context, opts Options) (Handle, error)
}

// Handle is one live browsing session. All navigation methods honor the
// passed context; Close releases the session directory lock and must always
// be called.
type Handle interface {
	// Navigate loads the given URL, waiting at most timeout for the
	// document to be ready.
	Navigate(ctx context.Context, url string, timeout time.Duration) error

	// CurrentURL reports the address the session ended up at, after any
	// redirects.
	CurrentURL(ctx context.Context) (string, error)

	// WaitForURL blocks until the session's URL contains substr. It carries
	// no internal timeout; cancellation is the caller's context.
	WaitForURL(ctx context.Context, substr string) error

	// Press sends a single keyboard key to the page.
	Press(ctx context.Context, key string) error

	// Extract evaluates a selector script against the page and returns its
	// JSON result. A nil result with nil error means no matching element.
	Extract(ctx context.Context, script string) (json.RawMessage, error)

	// Cookies returns the session's cookies for the given URL.
	Cookies(ctx context.Context, url string) ([]Cookie, error)

	Close() error
}
