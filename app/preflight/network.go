package preflight

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ozeron/spyglass/app/browser"
	"github.com/ozeron/spyglass/app/target"
)

const (
	ipProbeURL     = "https://api64.ipify.org?format=json"
	ipProbeTimeout = 15 * time.Second

	// Throwaway session identity for IP probes; never a burner's directory.
	probeSessionName = "ip_check"
)

const ipProbeScript = `JSON.parse(document.body.textContent)`

// PublicIP launches a minimal, isolated headless session and reports the
// externally observed network identity. proxy zero value means direct.
func PublicIP(ctx context.Context, engine browser.Engine, proxy target.ProxyConfig) (string, error) {
	dir := filepath.Join(os.TempDir(), "spyglass", probeSessionName)
	if proxy.Configured() {
		dir += "_proxied"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create probe session directory: %w", err)
	}

	handle, err := engine.Launch(ctx, browser.Options{
		SessionDir: dir,
		Headless:   true,
		Proxy:      proxy,
	})
	if err != nil {
		return "", fmt.Errorf("failed to launch probe session: %w", err)
	}
	defer handle.Close()

	if err := handle.Navigate(ctx, ipProbeURL, ipProbeTimeout); err != nil {
		return "", fmt.Errorf("failed to reach IP probe: %w", err)
	}

	raw, err := handle.Extract(ctx, ipProbeScript)
	if err != nil {
		return "", fmt.Errorf("failed to read IP probe response: %w", err)
	}
	if raw == nil {
		return "", fmt.Errorf("empty IP probe response")
	}

	var payload struct {
		IP string `json:"ip"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("failed to parse IP probe response: %w", err)
	}
	if payload.IP == "" {
		return "", fmt.Errorf("IP probe returned no address")
	}

	return payload.IP, nil
}
