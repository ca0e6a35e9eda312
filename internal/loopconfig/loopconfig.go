// Package loopconfig parses loopr's KEY=VALUE runtime config file
// (loopr/config): timeout, iteration caps, and the test command.
package loopconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/loopr-dev/loopr/internal/errs"
)

// Config holds the loop driver's tunables.
type Config struct {
	CodexTimeoutMinutes int64
	MaxIterations       int64
	MaxMissingStatus    int64
	TestCommand         string
}

// Default returns the built-in defaults: 15 minute timeout, 50 iteration
// cap, missing-status cap of 2, and `just test` as the test command.
func Default() Config {
	return Config{
		CodexTimeoutMinutes: 15,
		MaxIterations:       50,
		MaxMissingStatus:    2,
		TestCommand:         "just test",
	}
}

// Load parses the KEY=VALUE text at path, starting from Default and
// overriding recognized keys. A missing file yields the defaults.
// Blank lines and lines starting with # are ignored; an inline # truncates
// a value; unknown keys are silently ignored for forward compatibility.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, errs.IO(fmt.Sprintf("read %s", path), err)
	}

	for lineNo, line := range strings.Split(string(data), "\n") {
		lineNo++ // 1-indexed for messages
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		key, value, ok := strings.Cut(trimmed, "=")
		if !ok {
			return Config{}, errs.Parse(fmt.Sprintf(
				"invalid config line %d: %q (expected KEY=VALUE)", lineNo, trimmed), nil)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if idx := strings.Index(value, "#"); idx >= 0 {
			value = strings.TrimSpace(value[:idx])
		}
		if value == "" {
			return Config{}, errs.Parse(fmt.Sprintf(
				"empty value for %s on line %d", key, lineNo), nil)
		}

		if err := apply(&cfg, key, value, lineNo); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func apply(cfg *Config, key, value string, lineNo int) error {
	switch key {
	case "CODEX_TIMEOUT_MINUTES":
		return setInt(&cfg.CodexTimeoutMinutes, key, value, lineNo, true)
	case "MAX_ITERATIONS":
		return setInt(&cfg.MaxIterations, key, value, lineNo, false)
	case "MAX_MISSING_STATUS":
		return setInt(&cfg.MaxMissingStatus, key, value, lineNo, true)
	case "TEST_COMMAND":
		if strings.TrimSpace(value) == "" {
			return errs.Parse(fmt.Sprintf("TEST_COMMAND must be non-empty on line %d", lineNo), nil)
		}
		cfg.TestCommand = value
		return nil
	default:
		return nil
	}
}

func setInt(dst *int64, key, value string, lineNo int, mustBePositive bool) error {
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return errs.Parse(fmt.Sprintf("invalid int for %s on line %d: %q", key, lineNo, value), nil)
	}
	if mustBePositive && parsed <= 0 {
		return errs.Parse(fmt.Sprintf("%s must be > 0 on line %d", key, lineNo), nil)
	}
	if !mustBePositive && parsed < 0 {
		return errs.Parse(fmt.Sprintf("%s must be >= 0 on line %d", key, lineNo), nil)
	}
	*dst = parsed
	return nil
}
