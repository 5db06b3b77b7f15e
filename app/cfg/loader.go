package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DBPath      string `long:"db-path" env:"DB_PATH" default:"./spyglass.db" description:"SQLite database path"`
	SessionsDir string `long:"sessions-dir" env:"SESSIONS_DIR" default:"./sessions" description:"Directory for per-burner browser session state"`
	RedisAddr   string `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address for the durable job queue (empty = in-process queue)"`

	// Application configuration
	TargetsDir   string `long:"targets-dir" env:"TARGETS_DIR" default:"./targets" description:"Directory containing target configuration files"`
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP control server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for control endpoints (optional)"`

	// Scheduling configuration
	Concurrency     int     `long:"concurrency" env:"CONCURRENCY" default:"1" description:"Number of concurrent surveillance workers"`
	RatePerSec      float64 `long:"rate-per-sec" env:"RATE_PER_SEC" default:"1" description:"Maximum job starts per second"`
	MinDelayMinutes int     `long:"min-delay" env:"MIN_DELAY_MINUTES" default:"20" description:"Minimum minutes between cycles for a target"`
	MaxDelayMinutes int     `long:"max-delay" env:"MAX_DELAY_MINUTES" default:"45" description:"Maximum minutes between cycles for a target"`
	MaxAttempts     int     `long:"max-attempts" env:"MAX_ATTEMPTS" default:"2" description:"Attempt cap per job before it is marked failed"`

	// Browsing configuration
	EngineMode       string `long:"engine" env:"ENGINE_MODE" default:"mock" description:"Browsing engine implementation"`
	Headless         bool   `long:"headless" env:"HEADLESS" description:"Run browser sessions without a visible window"`
	DisableSeedCheck bool   `long:"disable-seed-check" env:"DISABLE_SEED_CHECK" description:"Skip the forced interactive launch for unseeded sessions"`
	Iterations       int    `long:"iterations" env:"ITERATIONS" default:"5" description:"Content advances per surveillance cycle"`
	ProxyServer      string `long:"proxy-server" env:"PROXY_SERVER" description:"Default proxy server URL (optional)"`
	ProxyUsername    string `long:"proxy-username" env:"PROXY_USERNAME" description:"Default proxy username"`
	ProxyPassword    string `long:"proxy-password" env:"PROXY_PASSWORD" description:"Default proxy password"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36" description:"User agent string for browser sessions"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:           raw.DBPath,
		SessionsDir:      raw.SessionsDir,
		RedisAddr:        raw.RedisAddr,
		TargetsDir:       raw.TargetsDir,
		Port:             raw.Port,
		APIAccessKey:     raw.APIAccessKey,
		Concurrency:      raw.Concurrency,
		RatePerSec:       raw.RatePerSec,
		MinDelayMinutes:  raw.MinDelayMinutes,
		MaxDelayMinutes:  raw.MaxDelayMinutes,
		MaxAttempts:      raw.MaxAttempts,
		EngineMode:       raw.EngineMode,
		Headless:         raw.Headless,
		DisableSeedCheck: raw.DisableSeedCheck,
		Iterations:       raw.Iterations,
		ProxyServer:      raw.ProxyServer,
		ProxyUsername:    raw.ProxyUsername,
		ProxyPassword:    raw.ProxyPassword,
		UserAgent:        raw.UserAgent,
		Timezone:         raw.Timezone,
		Debug:            raw.Debug,
		Version:          GetVersion(),
	}

	if cfg.MaxDelayMinutes < cfg.MinDelayMinutes {
		return nil, fmt.Errorf("max delay (%d min) must not be below min delay (%d min)",
			cfg.MaxDelayMinutes, cfg.MinDelayMinutes)
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
