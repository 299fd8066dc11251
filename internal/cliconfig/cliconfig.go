// Package cliconfig resolves ptyshare's run configuration from CLI
// flags with environment-variable fallback, the same envOr pattern the
// teacher's serve command uses, trimmed to the small flag set this
// spec needs.
package cliconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the fully resolved, validated set of options needed to
// start one ptyshare session and its HTTP surface.
type Config struct {
	Listen   string
	Command  string
	Args     []string
	ReadOnly bool
	Headless bool
	UUID     string
	Title    string
	LogLevel string
	LogFile  string
}

// Documented default values for the CLI flags below.
const (
	DefaultListen = "127.0.0.1:8000"
)

// envOr returns the environment variable named by key, or fallback if
// it is unset or empty.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envBoolOr parses the environment variable named by key as a bool, or
// returns fallback if it is unset or unparseable.
func envBoolOr(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// Flags is the raw set of values parsed off the command line, before
// environment-variable fallback and validation are applied.
type Flags struct {
	Listen   string
	Command  string
	Args     []string
	ReadOnly bool
	Headless bool
	UUID     string
	Title    string
	LogLevel string
	LogFile  string
}

// Resolve merges CLI flags with PTYSHARE_* environment variable
// fallbacks and validates the result.
func Resolve(f Flags) (Config, error) {
	cfg := Config{
		Listen:   f.Listen,
		Command:  f.Command,
		Args:     f.Args,
		ReadOnly: f.ReadOnly,
		Headless: f.Headless,
		UUID:     f.UUID,
		Title:    f.Title,
		LogLevel: f.LogLevel,
		LogFile:  f.LogFile,
	}

	if cfg.Listen == "" {
		cfg.Listen = envOr("PTYSHARE_LISTEN", DefaultListen)
	}
	if cfg.Command == "" {
		cfg.Command = envOr("PTYSHARE_COMMAND", defaultShell())
	}
	if !cfg.ReadOnly {
		cfg.ReadOnly = envBoolOr("PTYSHARE_READONLY", false)
	}
	if !cfg.Headless {
		cfg.Headless = envBoolOr("PTYSHARE_HEADLESS", false)
	}
	if cfg.UUID == "" {
		cfg.UUID = envOr("PTYSHARE_UUID", "")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = envOr("PTYSHARE_LOG_LEVEL", "info")
	}
	if cfg.LogFile == "" {
		cfg.LogFile = envOr("PTYSHARE_LOG_FILE", "")
	}

	if strings.TrimSpace(cfg.Command) == "" {
		return Config{}, fmt.Errorf("cliconfig: no command to run (set --command or PTYSHARE_COMMAND)")
	}
	return cfg, nil
}

func defaultShell() string {
	return os.Getenv("SHELL")
}
