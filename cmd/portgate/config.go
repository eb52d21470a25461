package main

import (
	"fmt"
	"time"

	"github.com/matst80/portgate/internal/config"
	"gopkg.in/alecthomas/kingpin.v2"
)

// cli holds the parsed command line before it is folded into a config.Config.
type cli struct {
	app *kingpin.Application

	relay          *[]string
	configFile     *string
	idleTimeout    *time.Duration
	dialTimeout    *time.Duration
	metricsAddr    *string
	debug          *bool
	redisAddr      *string
	redisPassword  *string
	redisDB        *int
	redisKey       *string
	connRate       *int
	globalConnRate *int
	connBurst      *int
	maxSessions    *int64
}

func newCLI() *cli {
	app := kingpin.New("portgate", "Authorization-gated TCP relay. Calling http://<host>:<control_port>/<secret> authorizes the caller's IP; /list shows authorized IPs.")
	app.HelpFlag.Short('h')
	return &cli{
		app:            app,
		relay:          app.Arg("relay", "<control_port>-<secret>-<listen_port>-<destination>, or the same four values as separate arguments. A bare destination port means 127.0.0.1:<port>.").Strings(),
		configFile:     app.Flag("config.file", "Optional yaml configuration file; command-line values take precedence.").String(),
		idleTimeout:    app.Flag("idle-timeout", "Hard cap on each forwarding session, e.g. 300s. 0 disables.").Duration(),
		dialTimeout:    app.Flag("dial-timeout", "Timeout for connecting to the destination (default 10s).").Duration(),
		metricsAddr:    app.Flag("metrics", "Address for /metrics, /healthz and /readyz. Empty disables.").String(),
		debug:          app.Flag("debug", "Enable debug logs.").Bool(),
		redisAddr:      app.Flag("redis", "Redis address for a shared allow-set. Empty keeps it in memory.").String(),
		redisPassword:  app.Flag("redis-password", "Redis password.").String(),
		redisDB:        app.Flag("redis-db", "Redis database number.").Int(),
		redisKey:       app.Flag("redis-key", "Redis SET holding authorized IPs.").String(),
		connRate:       app.Flag("conn-rate", "Relay admissions per second per source IP. 0 is unlimited.").Int(),
		globalConnRate: app.Flag("global-conn-rate", "Relay admissions per second overall. 0 is unlimited.").Int(),
		connBurst:      app.Flag("conn-burst", "Burst size for the admission rate limits.").Int(),
		maxSessions:    app.Flag("max-sessions", "Maximum concurrent forwarding sessions. 0 is unlimited.").Int64(),
	}
}

// parse turns args into a validated config. Every failure wraps config.ErrUsage
// so main can treat them the same way.
func (c *cli) parse(args []string) (*config.Config, error) {
	if _, err := c.app.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrUsage, err)
	}

	cfg := &config.Config{}
	if *c.configFile != "" {
		fc, err := config.LoadFile(*c.configFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrUsage, err)
		}
		cfg.Merge(fc)
	}
	cfg.Merge(&config.Config{
		IdleTimeout: *c.idleTimeout,
		DialTimeout: *c.dialTimeout,
		MetricsAddr: *c.metricsAddr,
		Debug:       *c.debug,
		Redis: config.RedisConfig{
			Addr:     *c.redisAddr,
			Password: *c.redisPassword,
			DB:       *c.redisDB,
			Key:      *c.redisKey,
		},
		Limits: config.LimitsConfig{
			ConnRate:       *c.connRate,
			GlobalConnRate: *c.globalConnRate,
			Burst:          *c.connBurst,
			MaxSessions:    *c.maxSessions,
		},
	})
	// Relay arguments may be omitted only when the file already carries them.
	if len(*c.relay) > 0 || *c.configFile == "" {
		rc, err := config.ParseArgs(*c.relay)
		if err != nil {
			return nil, err
		}
		cfg.Merge(rc)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
