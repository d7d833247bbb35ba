package shared

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"

	"matrix-convolution/kernel"
)

const (
	// Port numbers
	CoordinatorPort = "1234"

	// Default addresses
	DefaultListenAddr    = ":1234"          // For local binding
	LocalCoordinatorAddr = "localhost:1234" // For local connections
)

// WithDefaultPort appends CoordinatorPort to addr if it has no port.
func WithDefaultPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return net.JoinHostPort(addr, CoordinatorPort)
	}
	return addr
}

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("invalid configuration")

// Config holds every runtime setting. It is read once at startup.
type Config struct {
	ListenAddr      string `toml:"listen_addr"`
	CoordinatorAddr string `toml:"coordinator_addr"`
	Strategy        string `toml:"strategy"`
	Parallelism     int    `toml:"parallelism"`
	BlockWidth      int    `toml:"block_width"`
	DialAttempts    int    `toml:"dial_attempts"`
	DialBackoff     string `toml:"dial_backoff"`
	ReportPath      string `toml:"report_path"`
	Debug           bool   `toml:"debug"`
	LogFormat       string `toml:"log_format"`
}

// DefaultConfig returns the settings used when nothing overrides them.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      DefaultListenAddr,
		CoordinatorAddr: LocalCoordinatorAddr,
		Strategy:        kernel.NameVectorized,
		DialAttempts:    5,
		DialBackoff:     "2s",
		LogFormat:       "text",
	}
}

// LoadConfig layers defaults, the TOML file at path (if path is not empty)
// and CONVFARM_* environment variables.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("%w: reading %s: %v", ErrConfig, path, err)
		}
		if err := cfg.decodeTOML(data); err != nil {
			return cfg, fmt.Errorf("%w: %s: %v", ErrConfig, path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) decodeTOML(data []byte) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(c)
}

// ApplyEnv overrides settings from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"CONVFARM_LISTEN":       &c.ListenAddr,
		"CONVFARM_COORDINATOR":  &c.CoordinatorAddr,
		"CONVFARM_STRATEGY":     &c.Strategy,
		"CONVFARM_DIAL_BACKOFF": &c.DialBackoff,
		"CONVFARM_REPORT":       &c.ReportPath,
		"CONVFARM_LOG_FORMAT":   &c.LogFormat,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"CONVFARM_PARALLELISM":   &c.Parallelism,
		"CONVFARM_BLOCK_WIDTH":   &c.BlockWidth,
		"CONVFARM_DIAL_ATTEMPTS": &c.DialAttempts,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q is not an integer", ErrConfig, key, v)
			}
			*dst = n
		}
	}

	if v, ok := lookup("CONVFARM_DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: CONVFARM_DEBUG=%q is not a boolean", ErrConfig, v)
		}
		c.Debug = b
	}
	return nil
}

// Backoff returns the parsed dial backoff.
func (c Config) Backoff() time.Duration {
	d, _ := time.ParseDuration(c.DialBackoff)
	return d
}

// KernelOptions returns the kernel options implied by the config.
func (c Config) KernelOptions() []kernel.Option {
	return []kernel.Option{
		kernel.WithParallelism(c.Parallelism),
		kernel.WithBlockWidth(c.BlockWidth),
	}
}

// Validate checks the configuration for values that cannot work.
func (c Config) Validate() error {
	switch c.Strategy {
	case kernel.NameReference, kernel.NameVectorized:
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrConfig, c.Strategy)
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("%w: parallelism %d is negative", ErrConfig, c.Parallelism)
	}
	if c.BlockWidth < 0 || c.BlockWidth%8 != 0 {
		return fmt.Errorf("%w: block width %d is not a multiple of 8", ErrConfig, c.BlockWidth)
	}
	if c.DialAttempts < 1 {
		return fmt.Errorf("%w: dial attempts must be at least 1", ErrConfig)
	}
	if d, err := time.ParseDuration(c.DialBackoff); err != nil || d < 0 {
		return fmt.Errorf("%w: dial backoff %q", ErrConfig, c.DialBackoff)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrConfig, c.LogFormat)
	}
	if c.ListenAddr == "" || c.CoordinatorAddr == "" {
		return fmt.Errorf("%w: listen and coordinator addresses are required", ErrConfig)
	}
	return nil
}
