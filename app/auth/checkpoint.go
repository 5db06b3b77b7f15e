// Package auth implements the session-authentication checkpoint every scrape
// cycle must clear before touching target content.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ozeron/spyglass/app/browser"
)

// ErrSessionExpired marks a dead session detected in headless mode. It is
// terminal for the target's loop: retrying cannot heal it, only a manual
// login can.
var ErrSessionExpired = errors.New("session expired in headless mode, manual login required")

// State is the checkpoint's position in its lifecycle.
type State string

const (
	StateUnknown               State = "UNKNOWN"
	StateChecking              State = "CHECKING"
	StateAuthenticated         State = "AUTHENTICATED"
	StateLoginRequired         State = "LOGIN_REQUIRED"
	StateWaitingForManualLogin State = "WAITING_FOR_MANUAL_LOGIN"
	StateAuthFailed            State = "AUTH_FAILED"
)

const (
	homeURL     = "https://x.com/home"
	homePattern = "/home"

	navigationTimeout = 30 * time.Second
	checkSettle       = 3 * time.Second
	// Time for cookies and local storage to flush after a manual login.
	loginSettle = 5 * time.Second
)

// Checkpoint decides whether a session may proceed. Its state is readable
// concurrently so the control surface can show an "awaiting human" marker
// while a manual login is pending.
type Checkpoint struct {
	mu    sync.RWMutex
	state State

	// OnTransition, when set, is invoked after every state change. Must be
	// set before Run and must not block.
	OnTransition func(State)

	// Settle is the pause after the home navigation before inspecting the
	// URL; LoginSettle lets cookies and local storage flush after a manual
	// login.
	Settle      time.Duration
	LoginSettle time.Duration

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewCheckpoint() *Checkpoint {
	return &Checkpoint{
		state:       StateUnknown,
		Settle:      checkSettle,
		LoginSettle: loginSettle,
		sleep:       sleepCtx,
	}
}

// State returns the current checkpoint state.
func (c *Checkpoint) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Checkpoint) transition(s State) {
	c.mu.Lock()
	c.state = s
	callback := c.OnTransition
	c.mu.Unlock()

	if callback != nil {
		callback(s)
	}
}

// Run drives the state machine against a live session. interactive means a
// human can see the browser window and may complete a login; in headless
// mode a login redirect is fatal for the job.
func (c *Checkpoint) Run(ctx context.Context, handle browser.Handle, interactive bool) error {
	c.transition(StateChecking)

	if err := handle.Navigate(ctx, homeURL, navigationTimeout); err != nil {
		c.transition(StateAuthFailed)
		return fmt.Errorf("failed to navigate to home: %w", err)
	}
	if err := c.sleep(ctx, c.Settle); err != nil {
		c.transition(StateAuthFailed)
		return err
	}

	url, err := handle.CurrentURL(ctx)
	if err != nil {
		c.transition(StateAuthFailed)
		return fmt.Errorf("failed to read current URL: %w", err)
	}

	if !isLoginRedirect(url) {
		c.transition(StateAuthenticated)
		return nil
	}

	c.transition(StateLoginRequired)
	slog.Warn("Authentication checkpoint triggered", "url", url)

	if !interactive {
		c.transition(StateAuthFailed)
		return ErrSessionExpired
	}

	c.transition(StateWaitingForManualLogin)
	slog.Info("Paused for manual login", "hint", "log in in the browser window; execution resumes on the home page")

	// No timeout here. A human may take arbitrarily long; the caller's
	// context is the only way out.
	if err := handle.WaitForURL(ctx, homePattern); err != nil {
		c.transition(StateAuthFailed)
		return fmt.Errorf("manual login wait aborted: %w", err)
	}

	slog.Info("Manual login detected, waiting for session storage to settle")
	if err := c.sleep(ctx, c.LoginSettle); err != nil {
		c.transition(StateAuthFailed)
		return err
	}

	c.transition(StateAuthenticated)
	return nil
}

func isLoginRedirect(url string) bool {
	return strings.Contains(url, "login")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
