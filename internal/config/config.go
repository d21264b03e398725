// Package config loads operational defaults (timeouts, log verbosity)
// from an optional .env file overridden by environment variables.
// Device selection (VID/PID, busid, serial) is not config-file state;
// it is supplied per invocation as CLI flags.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Defaults holds the operational knobs a flashing run falls back to
// when a flag is not set.
type Defaults struct {
	ControlTimeout time.Duration
	DataTimeout    time.Duration
	LogLevel       string
	LogFormat      string
}

var (
	defaults       *Defaults
	defaultsLoaded bool
)

// LoadDefaults loads Defaults from a .env file (if present) in the
// nearest directory at or above the working directory that holds a
// go.mod, or in the filesystem root when there is none, overridden by
// LTHOR_* environment variables. The result is cached after the first
// call.
func LoadDefaults() (*Defaults, error) {
	if defaults != nil && defaultsLoaded {
		return defaults, nil
	}

	d := &Defaults{
		ControlTimeout: 4000 * time.Millisecond,
		DataTimeout:    8000 * time.Millisecond,
		LogLevel:       "info",
		LogFormat:      "text",
	}

	envPath := filepath.Join(findProjectRoot(), ".env")
	if data, err := os.ReadFile(envPath); err == nil {
		parseEnvFile(string(data), d)
	}

	if v := os.Getenv("LTHOR_CONTROL_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			d.ControlTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("LTHOR_DATA_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			d.DataTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("LTHOR_LOG_LEVEL"); v != "" {
		d.LogLevel = v
	}
	if v := os.Getenv("LTHOR_LOG_FORMAT"); v != "" {
		d.LogFormat = v
	}

	defaults = d
	defaultsLoaded = true
	return d, nil
}

func parseEnvFile(content string, d *Defaults) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		switch key {
		case "LTHOR_CONTROL_TIMEOUT_MS":
			if ms, err := strconv.Atoi(value); err == nil {
				d.ControlTimeout = time.Duration(ms) * time.Millisecond
			}
		case "LTHOR_DATA_TIMEOUT_MS":
			if ms, err := strconv.Atoi(value); err == nil {
				d.DataTimeout = time.Duration(ms) * time.Millisecond
			}
		case "LTHOR_LOG_LEVEL":
			d.LogLevel = value
		case "LTHOR_LOG_FORMAT":
			d.LogFormat = value
		}
	}
}

func findProjectRoot() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}
