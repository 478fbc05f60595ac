package report

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/corvidlabs/browserpdf/pkg/plugin/chrome"
	"github.com/corvidlabs/browserpdf/pkg/plugin/helpers"
)

// errEmptyHTML guards the precondition that html is non-empty.
// It matches no chrome sentinel, so it classifies as StatusBrowserError,
// although an empty document is a caller mistake, not a pool or protocol
// failure.
var errEmptyHTML = errors.New("report: html must not be empty")

// GenerateReport is the sole public operation of the core:
// acquire a Browser, delegate the render to it, and resolve the outcome
// to one of the five Status variants. html is rendered verbatim;
// pageSettings governs paper size/margins/background; jsSettings
// controls whether the render waits for a JS readiness signal before
// printing. A zero-value jsSettings falls back to the Service's
// configured default.
func (s *Service) GenerateReport(ctx context.Context, sink chrome.ByteSink, html string, pageSettings chrome.PageSettings, jsSettings chrome.JsSettings) Status {
	defer helpers.TimeTrack(time.Now(), "report generation", s.logger)

	if html == "" {
		s.logger.Warn("rejected report request with empty html")

		return StatusOf(errEmptyHTML)
	}

	if jsSettings == (chrome.JsSettings{}) {
		jsSettings = s.defaultJsSettings
	}

	browser, err := s.browsers.Acquire(ctx)
	if err != nil {
		status := StatusOf(err)
		s.logger.Warn("could not acquire a browser", "status", status.String(), "error", err)

		return status
	}

	err = browser.GenerateReport(ctx, sink, html, pageSettings, jsSettings)
	status := StatusOf(err)

	switch status {
	case StatusSuccess:
		s.logger.Debug("report generated")
	case StatusJsTimeout:
		s.logger.Info("javascript readiness signal not observed in time")
	case StatusCancelled:
		s.logger.Debug("report generation cancelled by caller")
	default:
		s.logger.Error("report generation failed", "status", status.String(), "error", err)
	}

	return status
}

// GenerateReportTo renders into a plain io.Writer, wrapping it in the
// default chrome.WriterSink. Callers that need an early-stop backpressure
// signal use GenerateReport with their own ByteSink instead.
func (s *Service) GenerateReportTo(ctx context.Context, w io.Writer, html string, pageSettings chrome.PageSettings, jsSettings chrome.JsSettings) Status {
	return s.GenerateReport(ctx, chrome.NewWriterSink(w), html, pageSettings, jsSettings)
}
