package broker

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the broker settings. Every field can be set from the
// environment; see the env tags for names and defaults.
type Config struct {
	// Addr is the TCP listen address for the broker protocol.
	Addr string `env:"BROKER_ADDR" envDefault:":8080"`
	// AdminAddr enables the HTTP admin API, metrics and the WebSocket
	// endpoint. Empty disables it.
	AdminAddr string `env:"BROKER_ADMIN_ADDR"`

	// ReadBufferSize bounds a single request; longer requests are cut.
	ReadBufferSize int `env:"BROKER_READ_BUFFER" envDefault:"1024"`
	// WriteBufferSize is the per-connection bufio size used to coalesce
	// outbound frames.
	WriteBufferSize int `env:"BROKER_WRITE_BUFFER" envDefault:"65536"`
	// OutboundDepth is the number of frames queued per connection before
	// pushes are dropped and replies disconnect the client.
	OutboundDepth int `env:"BROKER_OUT_DEPTH" envDefault:"1024"`

	NoDelay        bool          `env:"BROKER_NODELAY" envDefault:"true"`
	LogConnections bool          `env:"BROKER_LOG_CONN" envDefault:"true"`
	StatsInterval  time.Duration `env:"BROKER_STATS_INTERVAL" envDefault:"0s"`
	// CloseLinger caps how long queued output is flushed to a peer that
	// already disconnected or is being shut down.
	CloseLinger time.Duration `env:"BROKER_CLOSE_LINGER" envDefault:"1s"`
}

// DefaultConfig returns the configuration with every default applied and
// the process environment ignored.
func DefaultConfig() Config {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("broker: invalid config defaults: %v", err))
	}
	return cfg
}

// LoadConfig reads optional dotenv files (".env" when none are given) and
// then parses the environment. Missing dotenv files are not an error.
func LoadConfig(files ...string) (Config, error) {
	var cfg Config
	if err := LoadEnv(&cfg, files...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// LoadEnv fills any env-tagged struct the same way LoadConfig does.
func LoadEnv(target any, files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("broker: load dotenv: %w", err)
	}
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("broker: parse environment: %w", err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: listen address is required", ErrInvalidConfig)
	case c.ReadBufferSize <= 0:
		return fmt.Errorf("%w: read buffer must be positive, got %d", ErrInvalidConfig, c.ReadBufferSize)
	case c.WriteBufferSize <= 0:
		return fmt.Errorf("%w: write buffer must be positive, got %d", ErrInvalidConfig, c.WriteBufferSize)
	case c.OutboundDepth <= 0:
		return fmt.Errorf("%w: outbound depth must be positive, got %d", ErrInvalidConfig, c.OutboundDepth)
	case c.StatsInterval < 0 || c.CloseLinger < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	return nil
}
