package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the runtime configuration. Environment variables provide the
// defaults; command-line flags override them.
type Config struct {
	InputPath      string        `env:"GEOSTORY_INPUT"`
	ScenariosDir   string        `env:"GEOSTORY_SCENARIOS_DIR" envDefault:"input/scenarios"`
	FPS            int           `env:"GEOSTORY_FPS" envDefault:"30"`
	Speed          float64       `env:"GEOSTORY_SPEED" envDefault:"1"`
	Duration       time.Duration `env:"GEOSTORY_DURATION"` // wall-clock run limit, 0 = none
	ServeAddr      string        `env:"GEOSTORY_SERVE"`
	Preload        bool          `env:"GEOSTORY_PRELOAD" envDefault:"true"`
	PreloadTimeout time.Duration `env:"GEOSTORY_PRELOAD_TIMEOUT" envDefault:"30s"`
	ExitOnStop     bool          `env:"GEOSTORY_EXIT_ON_STOP" envDefault:"true"`
	ShowStats      bool          `env:"GEOSTORY_STATS"`
	BenchmarkLog   string        `env:"GEOSTORY_BENCHMARK_LOG" envDefault:"benchmark.log"`
	FaultBuffer    int           `env:"GEOSTORY_FAULT_BUFFER" envDefault:"64"`
	OpenFileLimit  uint64        `env:"GEOSTORY_OPEN_FILES" envDefault:"2048"`

	LogLevel string `env:"GEOSTORY_LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"GEOSTORY_LOG_JSON"`

	// Tour generation
	GenerateOutput string        `env:"GEOSTORY_GENERATE"`
	WaypointsPath  string        `env:"GEOSTORY_WAYPOINTS"`
	TourDuration   time.Duration `env:"GEOSTORY_TOUR_DURATION" envDefault:"2m"`

	BuildVersion string `env:"GEOSTORY_BUILD_VERSION" envDefault:"dev"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads Config from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values after flags have been applied.
func (c *Config) Validate() error {
	if c.FPS <= 0 || c.FPS > 240 {
		return fmt.Errorf("fps must be in 1..240, got %d", c.FPS)
	}
	if c.Duration < 0 {
		return fmt.Errorf("duration must not be negative, got %s", c.Duration)
	}
	if c.FaultBuffer < 1 {
		return fmt.Errorf("fault buffer must be positive, got %d", c.FaultBuffer)
	}
	if c.GenerateOutput != "" && c.WaypointsPath == "" {
		return fmt.Errorf("tour generation needs a waypoints file")
	}
	return nil
}
