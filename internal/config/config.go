// Package config loads controller configuration from environment
// variables and CLI flags into a single struct.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/doomcode/doomcode/internal/pty"
)

// Config carries every knob the controller CLI needs, whether it came
// from a flag or a DOOMCODE_* environment variable. Flags win when both
// are set; Load only fills in the environment/default side, callers
// overlay flag values afterward.
type Config struct {
	WSURL   string
	HTTPURL string
	WorkDir string
	Agent   string
	Reuse   bool

	DebugSession bool
	DebugPTY     bool

	EnterMode      pty.EnterMode
	Typewrite      bool
	TypewriteDelay time.Duration

	// StateDir is {WorkDir}/.doomcode, created with 0700.
	StateDir string
}

const stateDirName = ".doomcode"

// Load reads defaults and DOOMCODE_* environment overrides, creating
// the state directory as a side effect.
func Load(workDir string) (*Config, error) {
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("config: getwd: %w", err)
		}
	}

	stateDir := filepath.Join(workDir, stateDirName)
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("config: create state dir: %w", err)
	}

	cfg := &Config{
		WSURL:          "ws://localhost:8080",
		HTTPURL:        "http://localhost:8080",
		WorkDir:        workDir,
		Agent:          "claude",
		DebugSession:   boolEnv("DOOMCODE_DEBUG_SESSION"),
		DebugPTY:       boolEnv("DOOMCODE_DEBUG_PTY"),
		EnterMode:      enterModeEnv("DOOMCODE_ENTER_MODE", pty.EnterModeCRLF),
		Typewrite:      boolEnv("DOOMCODE_TYPEWRITE"),
		TypewriteDelay: durationMSEnv("DOOMCODE_TYPEWRITE_DELAY_MS", 5*time.Millisecond),
		StateDir:       stateDir,
	}

	if addr := os.Getenv("DOOMCODE_RELAY_ADDR"); addr != "" {
		cfg.WSURL = "ws://" + addr
		cfg.HTTPURL = "http://" + addr
	}

	return cfg, nil
}

// SessionFilePath is where persisted session state lives.
func (c *Config) SessionFilePath() string {
	return filepath.Join(c.StateDir, "session.json")
}

// LogFilePath returns {StateDir}/logs/controller.log. The controller
// logger writes only to stderr and does not use this path.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.StateDir, "logs", "controller.log")
}

func boolEnv(name string) bool {
	v := os.Getenv(name)
	return v == "1" || v == "true"
}

func enterModeEnv(name string, def pty.EnterMode) pty.EnterMode {
	switch os.Getenv(name) {
	case "cr":
		return pty.EnterModeCR
	case "lf":
		return pty.EnterModeLF
	case "crlf":
		return pty.EnterModeCRLF
	default:
		return def
	}
}

func durationMSEnv(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
