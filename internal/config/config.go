// Package config builds the immutable relay configuration from the command
// line and an optional yaml file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUsage marks argument errors that should print usage and exit.
var ErrUsage = errors.New("usage")

const (
	DefaultDialTimeout = 10 * time.Second
	DefaultRedisKey    = "portgate:allowed"
	// ReferenceIdleTimeout is the conventional session cap. None applies unless configured.
	ReferenceIdleTimeout = 300 * time.Second
)

// Config is read-only once main has built it.
type Config struct {
	ControlPort int           `yaml:"control_port"`
	Secret      string        `yaml:"secret"`
	ListenPort  int           `yaml:"listen_port"`
	Dest        string        `yaml:"dest"`
	IdleTimeout time.Duration `yaml:"idle_timeout"` // hard cap on a forwarding session, 0 disables
	DialTimeout time.Duration `yaml:"dial_timeout"`
	MetricsAddr string        `yaml:"metrics_addr"` // empty disables the metrics server
	Debug       bool          `yaml:"debug"`
	Redis       RedisConfig   `yaml:"redis"`
	Limits      LimitsConfig  `yaml:"limits"`
}

// RedisConfig selects a shared allow-set; an empty Addr keeps it in memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// LimitsConfig bounds relay admissions. Zero values mean unlimited.
type LimitsConfig struct {
	ConnRate       int   `yaml:"conn_rate"`        // admissions per second per source ip
	GlobalConnRate int   `yaml:"global_conn_rate"` // admissions per second overall
	Burst          int   `yaml:"burst"`
	MaxSessions    int64 `yaml:"max_sessions"`
}

// ControlAddr is where the HTTP control endpoint binds.
func (c *Config) ControlAddr() string { return net.JoinHostPort("0.0.0.0", strconv.Itoa(c.ControlPort)) }

// ListenAddr is where the relay accepts inbound connections.
func (c *Config) ListenAddr() string { return net.JoinHostPort("0.0.0.0", strconv.Itoa(c.ListenPort)) }

// ParseArgs accepts either the single "<control_port>-<secret>-<listen_port>-<destination>"
// argument or the same four values as separate arguments.
func ParseArgs(args []string) (*Config, error) {
	switch len(args) {
	case 1:
		return ParseTuple(args[0])
	case 4:
		return build(args[0], args[1], args[2], args[3])
	case 0:
		return nil, fmt.Errorf("%w: missing relay arguments", ErrUsage)
	default:
		return nil, fmt.Errorf("%w: expected 1 or 4 relay arguments, got %d", ErrUsage, len(args))
	}
}

// ParseTuple parses the '-'-delimited form. The destination is the remainder
// after the third '-', so a destination host may itself contain '-'.
func ParseTuple(raw string) (*Config, error) {
	parts := strings.SplitN(raw, "-", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: %q must have 4 '-'-separated parts", ErrUsage, raw)
	}
	return build(parts[0], parts[1], parts[2], parts[3])
}

func build(controlPort, secret, listenPort, dest string) (*Config, error) {
	cp, err := parsePort("control port", controlPort)
	if err != nil {
		return nil, err
	}
	lp, err := parsePort("listen port", listenPort)
	if err != nil {
		return nil, err
	}
	if err := validateSecret(secret); err != nil {
		return nil, err
	}
	d, err := ParseDest(dest)
	if err != nil {
		return nil, err
	}
	return &Config{ControlPort: cp, Secret: secret, ListenPort: lp, Dest: d}, nil
}

func parsePort(name, s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || p < 1 || p > 65535 {
		return 0, fmt.Errorf("%w: invalid %s %q", ErrUsage, name, s)
	}
	return p, nil
}

// ParseDest turns a bare port into 127.0.0.1:<port> and checks host:port otherwise.
func ParseDest(s string) (string, error) {
	s = strings.TrimSpace(s)
	if p, err := strconv.Atoi(s); err == nil {
		if p < 1 || p > 65535 {
			return "", fmt.Errorf("%w: invalid destination port %q", ErrUsage, s)
		}
		return net.JoinHostPort("127.0.0.1", s), nil
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil || host == "" {
		return "", fmt.Errorf("%w: invalid destination %q", ErrUsage, s)
	}
	if _, err := parsePort("destination port", port); err != nil {
		return "", err
	}
	return s, nil
}

// validateSecret keeps the secret usable as a single URL path segment that
// cannot shadow /list.
func validateSecret(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty secret", ErrUsage)
	}
	if s == "list" {
		return fmt.Errorf("%w: secret must not be \"list\"", ErrUsage)
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '~':
		default:
			return fmt.Errorf("%w: secret contains invalid character %q", ErrUsage, r)
		}
	}
	if s == "." || s == ".." {
		return fmt.Errorf("%w: invalid secret %q", ErrUsage, s)
	}
	return nil
}

// LoadFile reads a yaml config. Relay fields left out of the file are
// expected to come from the command line.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if c.Dest != "" {
		if c.Dest, err = ParseDest(c.Dest); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// Merge overlays every non-zero field of o onto c.
func (c *Config) Merge(o *Config) {
	if o == nil {
		return
	}
	if o.ControlPort != 0 {
		c.ControlPort = o.ControlPort
	}
	if o.Secret != "" {
		c.Secret = o.Secret
	}
	if o.ListenPort != 0 {
		c.ListenPort = o.ListenPort
	}
	if o.Dest != "" {
		c.Dest = o.Dest
	}
	if o.IdleTimeout != 0 {
		c.IdleTimeout = o.IdleTimeout
	}
	if o.DialTimeout != 0 {
		c.DialTimeout = o.DialTimeout
	}
	if o.MetricsAddr != "" {
		c.MetricsAddr = o.MetricsAddr
	}
	if o.Debug {
		c.Debug = true
	}
	if o.Redis.Addr != "" {
		c.Redis.Addr = o.Redis.Addr
	}
	if o.Redis.Password != "" {
		c.Redis.Password = o.Redis.Password
	}
	if o.Redis.DB != 0 {
		c.Redis.DB = o.Redis.DB
	}
	if o.Redis.Key != "" {
		c.Redis.Key = o.Redis.Key
	}
	if o.Limits.ConnRate != 0 {
		c.Limits.ConnRate = o.Limits.ConnRate
	}
	if o.Limits.GlobalConnRate != 0 {
		c.Limits.GlobalConnRate = o.Limits.GlobalConnRate
	}
	if o.Limits.Burst != 0 {
		c.Limits.Burst = o.Limits.Burst
	}
	if o.Limits.MaxSessions != 0 {
		c.Limits.MaxSessions = o.Limits.MaxSessions
	}
}

// SetDefaults sets default values
func (c *Config) SetDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.Redis.Key == "" {
		c.Redis.Key = DefaultRedisKey
	}
	if c.Limits.Burst == 0 {
		c.Limits.Burst = max(c.Limits.ConnRate, c.Limits.GlobalConnRate, 1)
	}
}

// Validate checks a merged config before startup.
func (c *Config) Validate() error {
	if c.ControlPort < 1 || c.ControlPort > 65535 {
		return fmt.Errorf("%w: invalid control port %d", ErrUsage, c.ControlPort)
	}
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return fmt.Errorf("%w: invalid listen port %d", ErrUsage, c.ListenPort)
	}
	if c.Dest == "" {
		return fmt.Errorf("%w: missing destination", ErrUsage)
	}
	if err := validateSecret(c.Secret); err != nil {
		return err
	}
	if c.IdleTimeout < 0 || c.DialTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrUsage)
	}
	if c.Limits.ConnRate < 0 || c.Limits.GlobalConnRate < 0 || c.Limits.MaxSessions < 0 {
		return fmt.Errorf("%w: limits must not be negative", ErrUsage)
	}
	return nil
}
