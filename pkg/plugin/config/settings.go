// Package config loads and validates the tunables that govern browser and
// page pool sizing, process flags, and render timeouts.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Valid values for BrowserKind.
var validBrowserKinds = []string{"chrome", "edge"}

// Config contains the settings governing browser process management, pool
// sizing, and render timeouts.
type Config struct {
	MaxBrowsers           int           `env:"BROWSERPDF_MAX_BROWSERS, overwrite, default=4"`
	MaxPagesPerBrowser    int           `env:"BROWSERPDF_MAX_PAGES_PER_BROWSER, overwrite, default=10"`
	ResponseTimeout       time.Duration `env:"BROWSERPDF_RESPONSE_TIMEOUT, overwrite, default=30s"`
	NoSandbox             bool          `env:"BROWSERPDF_NO_SANDBOX, overwrite"`
	DisableDevShmUsage    bool          `env:"BROWSERPDF_DISABLE_DEV_SHM_USAGE, overwrite"`
	BrowserKind           string        `env:"BROWSERPDF_BROWSER_KIND, overwrite, default=chrome"`
	BrowserExecutablePath string        `env:"BROWSERPDF_BROWSER_EXECUTABLE_PATH, overwrite"`
	JsCompletionTimeout   time.Duration `env:"BROWSERPDF_JS_COMPLETION_TIMEOUT, overwrite, default=3s"`
	RemoteDevToolsURL     string        `env:"BROWSERPDF_REMOTE_DEVTOOLS_URL, overwrite"`
	InheritProcessOutput  bool          `env:"BROWSERPDF_INHERIT_PROCESS_OUTPUT, overwrite"`
}

// Default returns a Config populated with the same defaults Load falls
// back to when no environment variables are set.
func Default() Config {
	return Config{
		MaxBrowsers:         4,
		MaxPagesPerBrowser:  10,
		ResponseTimeout:     30 * time.Second,
		BrowserKind:         "chrome",
		JsCompletionTimeout: 3 * time.Second,
	}
}

// Validate checks the current settings, returning an error describing the
// first invalid field found.
func (c *Config) Validate() error {
	if !slices.Contains(validBrowserKinds, c.BrowserKind) {
		return fmt.Errorf("browser kind %q must be one of %v", c.BrowserKind, validBrowserKinds)
	}

	if c.MaxBrowsers <= 0 {
		return errors.New("max browsers must be positive")
	}

	if c.MaxPagesPerBrowser <= 0 {
		return errors.New("max pages per browser must be positive")
	}

	if c.ResponseTimeout <= 0 {
		return errors.New("response timeout must be positive")
	}

	if c.JsCompletionTimeout <= 0 {
		return errors.New("js completion timeout must be positive")
	}

	if c.RemoteDevToolsURL != "" {
		u, err := url.Parse(c.RemoteDevToolsURL)
		if err != nil {
			return fmt.Errorf("remote devtools url: %w", err)
		}

		if u.Scheme == "" || u.Host == "" {
			return errors.New("remote devtools url is invalid")
		}
	}

	return nil
}

// String implements fmt.Stringer.
func (c *Config) String() string {
	executablePath := "auto-discovered"
	if c.BrowserExecutablePath != "" {
		executablePath = c.BrowserExecutablePath
	}

	remote := "none"
	if c.RemoteDevToolsURL != "" {
		remote = c.RemoteDevToolsURL
	}

	return fmt.Sprintf(
		"MaxBrowsers: %d; MaxPagesPerBrowser: %d; ResponseTimeout: %s; "+
			"NoSandbox: %v; DisableDevShmUsage: %v; BrowserKind: %s; BrowserExecutablePath: %s; "+
			"JsCompletionTimeout: %s; RemoteDevToolsURL: %s; InheritProcessOutput: %v",
		c.MaxBrowsers, c.MaxPagesPerBrowser, c.ResponseTimeout,
		c.NoSandbox, c.DisableDevShmUsage, c.BrowserKind, executablePath,
		c.JsCompletionTimeout, remote, c.InheritProcessOutput,
	)
}

// Load builds a Config from its defaults, overridden by any
// BROWSERPDF_* environment variables present, then validates it.
func Load(ctx context.Context) (Config, error) {
	cfg := Default()

	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("error in reading config env vars: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("error in config settings: %w", err)
	}

	return cfg, nil
}
