// Package config loads the optional fujiraw.toml. The file supplies
// defaults; command line flags always win.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config mirrors the fujiraw.toml keys.
type Config struct {
	OutputDir     string `toml:"output_dir"`
	PollInterval  int    `toml:"poll_interval_ms"`
	PollTimeout   int    `toml:"poll_timeout_s"`
	USBTimeout    int    `toml:"usb_timeout_ms"`
	PreviewListen string `toml:"preview_listen"`

	Debug DebugConfig `toml:"debug"`
}

type DebugConfig struct {
	PTP  bool `toml:"ptp"`
	USB  bool `toml:"usb"`
	Data bool `toml:"data"`
}

// Default is the configuration used when no file exists.
func Default() Config {
	return Config{
		OutputDir:     ".",
		PollInterval:  1000,
		PollTimeout:   30,
		USBTimeout:    5000,
		PreviewListen: "localhost:42839",
	}
}

// Load reads path on top of the defaults. A missing file is only an
// error when the path was given explicitly.
func Load(path string, explicit bool) (Config, error) {
	cfg := Default()

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("loading %s: %w", path, err)
	}
	if undec := meta.Undecoded(); len(undec) > 0 {
		return Config{}, fmt.Errorf("loading %s: unknown key %q", path, undec[0].String())
	}

	if cfg.PollInterval <= 0 {
		return Config{}, fmt.Errorf("loading %s: poll_interval_ms must be positive", path)
	}
	if cfg.PollTimeout <= 0 {
		return Config{}, fmt.Errorf("loading %s: poll_timeout_s must be positive", path)
	}
	return cfg, nil
}
