package target

// ProxyConfig describes an upstream proxy for all engine traffic. The zero
// value means a direct connection; callers must check Configured before use.
type ProxyConfig struct {
	Server   string `yaml:"server"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Configured reports whether a proxy server is set.
func (p ProxyConfig) Configured() bool {
	return p.Server != ""
}

// Target describes one surveillance target: whose posts to collect and
// through which burner identity. Immutable once a job is enqueued.
type Target struct {
	// Account is the handle of the account being observed.
	Account string `yaml:"account"`
	// Burner is the identifier of the credentialed scraping identity. It
	// selects the persistent browsing-session directory.
	Burner string `yaml:"burner"`
	// Proxy optionally overrides the process-wide proxy for this target.
	Proxy ProxyConfig `yaml:"proxy"`

	Enabled bool `yaml:"enabled"`
}
