package cfg

type Cfg struct {
	// Storage configuration
	DBPath      string
	SessionsDir string
	RedisAddr   string

	// Application configuration
	TargetsDir   string
	Port         string
	APIAccessKey string

	// Scheduling configuration
	Concurrency     int
	RatePerSec      float64
	MinDelayMinutes int
	MaxDelayMinutes int
	MaxAttempts     int

	// Browsing configuration
	EngineMode       string
	Headless         bool
	DisableSeedCheck bool
	Iterations       int
	ProxyServer      string
	ProxyUsername    string
	ProxyPassword    string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
