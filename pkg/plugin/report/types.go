// Package report exposes the single public operation of the rendering
// core: turn an HTML string and a page-layout description into a PDF
// byte stream, by borrowing a Browser from a process-wide BrowserPool.
package report

import (
	"errors"

	"github.com/corvidlabs/browserpdf/pkg/plugin/chrome"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
)

// Status is the exhaustive sum type GenerateReport resolves to.
// Callers switch on it instead of inspecting an error chain.
type Status int

const (
	StatusSuccess Status = iota
	StatusServerBusy
	StatusCancelled
	StatusBrowserError
	StatusJsTimeout
)

// String renders the Status the way it would appear in a log line or an
// HTTP status mapping at the caller's boundary.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusServerBusy:
		return "server_busy"
	case StatusCancelled:
		return "cancelled"
	case StatusBrowserError:
		return "browser_error"
	case StatusJsTimeout:
		return "js_timeout"
	default:
		return "unknown"
	}
}

// StatusOf classifies err into one of the five Status variants.
// A nil error is StatusSuccess; any
// error that doesn't match a known sentinel is treated as
// StatusBrowserError. Besides protocol and process-level failures, that
// includes the empty-html rejection (errEmptyHTML).
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, chrome.ErrPoolLimitReached):
		return StatusServerBusy
	case errors.Is(err, chrome.ErrCancelled):
		return StatusCancelled
	case errors.Is(err, chrome.ErrJsTimeout):
		return StatusJsTimeout
	default:
		return StatusBrowserError
	}
}

// Service is the report-generation facade: a single operation shared by
// every concurrent request, holding no per-request mutable state. It
// owns the process-wide BrowserPool; the pool owns everything below it.
type Service struct {
	browsers          *chrome.BrowserPool
	defaultJsSettings chrome.JsSettings
	logger            log.Logger
}

// New builds a Service around an already-constructed BrowserPool.
// defaultJsSettings is applied whenever a caller passes the zero value
// JsSettings, so GenerateReport always has a concrete readiness timeout
// and flag name to work with.
func New(logger log.Logger, browsers *chrome.BrowserPool, defaultJsSettings chrome.JsSettings) *Service {
	return &Service{
		browsers:          browsers,
		defaultJsSettings: defaultJsSettings,
		logger:            logger.With("subsystem", "report"),
	}
}
