package chrome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/corvidlabs/browserpdf/pkg/plugin/devtools"
	"github.com/corvidlabs/browserpdf/pkg/plugin/helpers"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
)

// pageAcquireMaxRetries bounds how many times GenerateReport tries to
// acquire a page from a saturated page pool before giving up with
// ErrPoolLimitReached.
const pageAcquireMaxRetries = 3

// minSupportedProtocolVersion is the oldest CDP protocol version this
// package is known to work against. An older report is logged, never
// rejected.
const minSupportedProtocolVersion = "1.3"

// Browser owns one Chromium process (or one remote endpoint), its
// top-level Connection, and its PagePool. Requests borrow pages from it;
// they never own the Browser itself.
type Browser struct {
	proc     *process // nil for a remote browser
	conn     *devtools.Connection
	wsOrigin string // e.g. "ws://127.0.0.1:9222", shared host:port for page URLs
	pages    *pagePool
	logger   log.Logger
}

// newBrowser starts (or attaches to) a Chromium instance and brings up
// its top-level Connection and PagePool.
func newBrowser(ctx context.Context, cfg BrowserConfig, logger log.Logger) (*Browser, error) {
	logger = logger.With("subsystem", "chromium")

	wsURL, proc, err := resolveBrowserEndpoint(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	conn := devtools.NewConnection(wsURL, cfg.ResponseTimeout, logger)
	if err := conn.Init(ctx); err != nil {
		if proc != nil {
			proc.kill()
		}

		return nil, fmt.Errorf("%w: %v", ErrBrowserStart, err)
	}

	b := &Browser{
		proc:     proc,
		conn:     conn,
		wsOrigin: wsOriginOf(wsURL),
		logger:   logger,
	}

	b.pages = newPagePool(cfg.MaxPagesPerBrowser, b.newPage)

	b.logBrowserVersion(ctx)

	return b, nil
}

// wsOriginOf strips the path off a browser-level DevTools WebSocket URL
// (.../devtools/browser/<uuid>), leaving the "ws://host:port" origin that
// page-level URLs are built from.
func wsOriginOf(wsURL string) string {
	const scheme = "ws://"
	if !strings.HasPrefix(wsURL, scheme) {
		return wsURL
	}

	rest := wsURL[len(scheme):]
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		rest = rest[:idx]
	}

	return scheme + rest
}

func resolveBrowserEndpoint(ctx context.Context, cfg BrowserConfig, logger log.Logger) (string, *process, error) {
	if cfg.RemoteDevToolsURL != "" {
		wsURL, err := discoverRemoteWsURL(ctx, cfg.RemoteDevToolsURL)

		return wsURL, nil, err
	}

	executable, err := FindBrowserExecutable(ctx, cfg.Kind, cfg.ExecutablePath)
	if err != nil {
		return "", nil, err
	}

	proc, wsURL, err := launchProcess(ctx, executable, cfg, logger)

	return wsURL, proc, err
}

// discoverRemoteWsURL fetches /json/version from an already-running
// Chromium's HTTP debug endpoint and extracts the browser-level
// WebSocket URL, mirroring the contract of the local handshake file.
func discoverRemoteWsURL(ctx context.Context, baseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/json/version", nil)
	if err != nil {
		return "", fmt.Errorf("%w: build /json/version request: %v", ErrBrowserStart, err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch /json/version: %v", ErrBrowserStart, err)
	}
	defer resp.Body.Close()

	var payload struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode /json/version: %v", ErrBrowserStart, err)
	}

	if payload.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("%w: /json/version returned no webSocketDebuggerUrl", ErrBrowserStart)
	}

	return payload.WebSocketDebuggerURL, nil
}

// logBrowserVersion issues Browser.getVersion and warns when the running
// Chromium reports an older protocol than this package expects. Never
// fails the caller.
func (b *Browser) logBrowserVersion(ctx context.Context) {
	raw, err := b.conn.RPC(ctx, "Browser.getVersion", nil)
	if err != nil {
		b.logger.Debug("could not fetch browser version", "error", err)

		return
	}

	var version devtools.BrowserVersion
	if err := json.Unmarshal(raw, &version); err != nil {
		return
	}

	b.logger.Info("chromium connected", "product", version.Product, "userAgent", version.UserAgent,
		"protocolVersion", version.ProtocolVersion)

	if helpers.SemverCompare("v"+version.ProtocolVersion, "v"+minSupportedProtocolVersion) < 0 {
		b.logger.Warn("chromium reports an older devtools protocol than expected",
			"protocolVersion", version.ProtocolVersion, "minSupported", minSupportedProtocolVersion)
	}
}

// newPage creates a fresh tab via Target.createTarget and opens its
// dedicated Connection.
func (b *Browser) newPage(ctx context.Context) (*page, error) {
	raw, err := b.conn.RPC(ctx, "Target.createTarget", map[string]any{"url": "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("%w: create target: %v", ErrBrowserError, err)
	}

	var created devtools.CreatedTarget
	if err := json.Unmarshal(raw, &created); err != nil {
		return nil, fmt.Errorf("%w: decode created target: %v", ErrBrowserError, err)
	}

	pageURL := b.pageWsURL(created.TargetID)

	conn := devtools.NewConnection(pageURL, b.conn.ResponseTimeout(), b.logger)
	if err := conn.Init(ctx); err != nil {
		b.conn.FireAndForget("Target.closeTarget", map[string]any{"targetId": created.TargetID})

		return nil, fmt.Errorf("%w: dial page: %v", ErrBrowserError, err)
	}

	return newPageHandle(created.TargetID, conn, b.conn, b.logger), nil
}

// pageWsURL builds the page-level WebSocket URL for targetID, sharing the
// browser's own host:port.
func (b *Browser) pageWsURL(targetID string) string {
	return b.wsOrigin + "/devtools/page/" + targetID
}

// Pages returns the Browser's PagePool.
func (b *Browser) Pages() *pagePool {
	return b.pages
}

// GenerateReport runs one render against this Browser: acquire a page
// (retrying while the Page Pool is saturated), run the render pipeline,
// and return the page to the pool or dispose of it depending on the
// outcome.
func (b *Browser) GenerateReport(ctx context.Context, sink ByteSink, html string, pageSettings PageSettings, jsSettings JsSettings) error {
	pg, err := b.acquirePage(ctx)
	if err != nil {
		return err
	}

	err = pg.render(ctx, html, pageSettings, jsSettings, sink)

	switch {
	case err == nil, errors.Is(err, ErrJsTimeout), errors.Is(err, ErrCancelled):
		// A JS-readiness timeout or a cancellation mid-stream leaves the
		// tab's CDP connection and document state unaffected, so the page
		// goes back to the pool rather than being torn down.
		b.pages.release(pg)
	default:
		b.pages.dispose(pg)
	}

	return err
}

// acquirePage retries page-pool acquisition up to pageAcquireMaxRetries
// times, sleeping ResponseTimeout/3 between attempts while the pool
// reports ErrPoolLimitReached. A page-factory failure (BrowserError)
// returns immediately without consuming a retry.
func (b *Browser) acquirePage(ctx context.Context) (*page, error) {
	backoff := b.conn.ResponseTimeout() / 3

	var lastErr error

	for attempt := 0; attempt < pageAcquireMaxRetries; attempt++ {
		pg, err := b.pages.acquire(ctx)
		if err == nil {
			return pg, nil
		}

		if !errors.Is(err, ErrPoolLimitReached) {
			return nil, err
		}

		lastErr = err

		if attempt == pageAcquireMaxRetries-1 {
			break
		}

		timer := time.NewTimer(backoff)

		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()

			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
	}

	return nil, lastErr
}

// shutdown kills the Chromium process (if local), disposes the
// Connection and every pooled page, and removes the user-data directory.
func (b *Browser) shutdown() {
	b.pages.disposeAll()
	b.conn.Dispose()

	if b.proc != nil {
		b.proc.kill()
	}
}

// alive reports whether the backing process is still running. Always
// true for a remote browser, since its lifecycle is external.
func (b *Browser) alive() bool {
	if b.proc == nil {
		return true
	}

	select {
	case <-b.proc.exited:
		return false
	default:
		return true
	}
}
