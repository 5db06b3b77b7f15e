// Package preflight runs the one-time startup gate: the proxy-leak check and
// burner session verification. A suspected leak refuses all operation; no
// partial startup is permitted.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ozeron/spyglass/app/browser"
	"github.com/ozeron/spyglass/app/session"
	"github.com/ozeron/spyglass/app/target"
)

// ErrProxyLeak means the proxy exposed the same public identity as the
// direct connection. Security-fatal.
var ErrProxyLeak = errors.New("proxy is leaking: public IP identical with and without proxy")

// ErrIPUnobtainable means one of the two probes could not determine a public
// identity. Fail closed.
var ErrIPUnobtainable = errors.New("could not determine public IP for leak check")

// ErrSessionUnseedable means a burner has no valid session and the
// environment cannot open an interactive window to seed one.
var ErrSessionUnseedable = errors.New("burner session invalid and no interactive login possible")

const loginURL = "https://x.com/i/flow/login"

// Check is the startup preflight over the configured proxy and burners.
type Check struct {
	engine   browser.Engine
	sessions *session.Store
	proxy    target.ProxyConfig
	headless bool

	// poll interval while waiting for a seeded login cookie.
	pollInterval time.Duration
}

func NewCheck(engine browser.Engine, sessions *session.Store, proxy target.ProxyConfig, headless bool) *Check {
	return &Check{
		engine:       engine,
		sessions:     sessions,
		proxy:        proxy,
		headless:     headless,
		pollInterval: time.Second,
	}
}

// Run executes the proxy leak gate and then verifies each burner's session,
// opening an interactive login window where one is needed and possible.
func (c *Check) Run(ctx context.Context, burners []string) error {
	slog.Info("Preflight: starting security scan")

	if err := c.checkProxy(ctx); err != nil {
		return err
	}

	for _, burner := range burners {
		if err := c.verifySession(ctx, burner); err != nil {
			return fmt.Errorf("preflight failed for burner %s: %w", burner, err)
		}
	}

	slog.Info("Preflight passed, system standing by")
	return nil
}

func (c *Check) checkProxy(ctx context.Context) error {
	if !c.proxy.Configured() {
		slog.Warn("No proxy configured, running on raw IP")
		return nil
	}

	slog.Info("Preflight: testing proxy connection", "server", c.proxy.Server)

	type probe struct {
		ip  string
		err error
	}
	homeCh := make(chan probe, 1)
	proxyCh := make(chan probe, 1)

	go func() {
		ip, err := PublicIP(ctx, c.engine, target.ProxyConfig{})
		homeCh <- probe{ip, err}
	}()
	go func() {
		ip, err := PublicIP(ctx, c.engine, c.proxy)
		proxyCh <- probe{ip, err}
	}()

	home := <-homeCh
	proxied := <-proxyCh

	if home.err != nil || proxied.err != nil {
		slog.Error("Preflight: network check failed", "home_error", home.err, "proxy_error", proxied.err)
		return ErrIPUnobtainable
	}
	if home.ip == proxied.ip {
		slog.Error("Preflight: proxy is leaking", "ip", home.ip)
		return ErrProxyLeak
	}

	slog.Info("Preflight: proxy secure", "cloaked_ip", proxied.ip)
	return nil
}

// verifySession checks the burner's authentication artifacts and, if they are
// missing or stale, forces one interactive launch so a human can seed the
// session. In a headless-only environment an invalid session is fatal for
// startup.
func (c *Check) verifySession(ctx context.Context, burner string) error {
	ok, err := c.sessions.IsAuthenticated(ctx, burner)
	if err != nil {
		slog.Warn("Preflight: session inspection failed", "burner", burner, "error", err)
	}
	if ok {
		slog.Info("Preflight: session valid", "burner", burner)
		return nil
	}

	if c.headless {
		slog.Error("Preflight: session invalid and environment is headless", "burner", burner)
		return ErrSessionUnseedable
	}

	slog.Warn("Preflight: session invalid, opening login window", "burner", burner)
	return c.seedSession(ctx, burner)
}

func (c *Check) seedSession(ctx context.Context, burner string) error {
	dir, err := c.sessions.DirectoryFor(burner)
	if err != nil {
		return err
	}

	handle, err := c.engine.Launch(ctx, browser.Options{
		SessionDir: dir,
		Headless:   false,
		Proxy:      c.proxy,
	})
	if err != nil {
		return fmt.Errorf("failed to launch login window: %w", err)
	}
	defer handle.Close()

	if err := handle.Navigate(ctx, loginURL, 30*time.Second); err != nil {
		return fmt.Errorf("failed to open login flow: %w", err)
	}

	slog.Info("Preflight: waiting for manual login", "burner", burner)

	// Poll the session cookies until the human finishes. No timeout here;
	// the process context is the only way out.
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cookies, err := handle.Cookies(ctx, "https://x.com")
			if err != nil {
				continue
			}
			for _, cookie := range cookies {
				if cookie.Name == session.AuthCookieName {
					slog.Info("Preflight: login confirmed, letting session settle", "burner", burner)
					settle := time.NewTimer(5 * time.Second)
					defer settle.Stop()
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-settle.C:
					}
					return nil
				}
			}
		}
	}
}
