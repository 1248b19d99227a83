// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Puzzle  PuzzleConfig  `toml:"puzzle"`
	Effort  EffortConfig  `toml:"effort"`
	Backend BackendConfig `toml:"backend"`
	Server  ServerConfig  `toml:"server"`
}

// PuzzleConfig maps puzzle settings.
type PuzzleConfig struct {
	Puzzles         *int    `toml:"puzzles"`
	RotationStep    *int    `toml:"rotation-step"`
	Tolerance       *int    `toml:"tolerance"`
	Pool            *string `toml:"pool"`
	FeedbackDelayMs *int    `toml:"feedback-delay-ms"`
}

// EffortConfig maps effort task settings.
type EffortConfig struct {
	WaitMs               *int     `toml:"wait-ms"`
	CalculationDelayMs   *int     `toml:"calculation-delay-ms"`
	DebounceMs           *int     `toml:"debounce-ms"`
	SkipMarketDisclosure []string `toml:"skip-market-disclosure"`
}

// BackendConfig maps the remote backend settings. An empty URL selects the
// local database.
type BackendConfig struct {
	URL       *string `toml:"url"`
	TimeoutMs *int    `toml:"timeout-ms"`
}

// ServerConfig maps the serve command settings.
type ServerConfig struct {
	Addr *string `toml:"addr"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	return cfg, nil
}

// Defaults rendered into the config template.
type Defaults struct {
	Puzzles            int
	RotationStep       int
	Tolerance          int
	FeedbackDelayMs    int64
	WaitMs             int64
	CalculationDelayMs int64
	DebounceMs         int64
	BackendTimeoutMs   int64
	ServerAddr         string
}

// Template returns a commented config file listing every key with its default.
func Template(d Defaults) string {
	return fmt.Sprintf(`# proofwork configuration
# Uncomment a value to enable it. CLI flags override config values.

[puzzle]
# puzzles = %d                 # Puzzles per task
# rotation-step = %d           # Degrees per rotation click
# tolerance = %d               # A glyph counts as upright within this many degrees
# pool = ""                    # Puzzle strings (.txt, one per line, or .yaml list)
# feedback-delay-ms = %d     # How long "Puzzle complete" stays visible

[effort]
# wait-ms = %d               # Time-based wait
# calculation-delay-ms = %d  # Typing indicator after the last puzzle
# debounce-ms = %d           # Metric report window
# skip-market-disclosure = []  # Groups that go straight to job seeker disclosure

[backend]
# url = ""                     # Remote backend; empty uses the local database
# timeout-ms = %d           # Request timeout

[server]
# addr = %q
`,
		d.Puzzles,
		d.RotationStep,
		d.Tolerance,
		d.FeedbackDelayMs,
		d.WaitMs,
		d.CalculationDelayMs,
		d.DebounceMs,
		d.BackendTimeoutMs,
		d.ServerAddr,
	)
}
