// Package plugin assembles the rendering core into a single entry point:
// load Config, bring up a Browser Pool sized from it, and hand back a
// ready-to-use Report Service. A caller embeds this package rather than
// driving config/chrome/report separately.
package plugin

import (
	"context"
	"fmt"

	"github.com/corvidlabs/browserpdf/pkg/plugin/chrome"
	"github.com/corvidlabs/browserpdf/pkg/plugin/config"
	"github.com/corvidlabs/browserpdf/pkg/plugin/report"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
)

// New loads Config from the environment, starts a Browser Pool sized from
// it, and returns a Report Service ready to accept GenerateReport calls.
// The returned func shuts the pool down, killing every pooled browser;
// callers should defer it.
func New(ctx context.Context, logger log.Logger) (*report.Service, func(), error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger.Info("provisioned config", "config", cfg.String())

	browserCfg := chrome.BrowserConfig{
		Kind:                 chrome.Kind(cfg.BrowserKind),
		ExecutablePath:       cfg.BrowserExecutablePath,
		NoSandbox:            cfg.NoSandbox,
		DisableDevShmUsage:   cfg.DisableDevShmUsage,
		MaxPagesPerBrowser:   cfg.MaxPagesPerBrowser,
		ResponseTimeout:      cfg.ResponseTimeout,
		RemoteDevToolsURL:    cfg.RemoteDevToolsURL,
		InheritProcessOutput: cfg.InheritProcessOutput,
	}

	browsers := chrome.NewPool(cfg.MaxBrowsers, browserCfg, logger)

	// WaitForCompletion stays false by default: config only governs how
	// long a JS wait lasts once a caller opts into one on a per-request
	// JsSettings value; it never forces every render through the wait.
	defaultJsSettings := chrome.DefaultJsSettings()
	defaultJsSettings.CompletionTimeout = cfg.JsCompletionTimeout

	svc := report.New(logger, browsers, defaultJsSettings)

	return svc, browsers.Shutdown, nil
}
