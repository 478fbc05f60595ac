package chrome

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
	"github.com/stretchr/testify/require"
)

// newTestBrowser spins a fake CDP server plus a /json/version HTTP
// endpoint pointing at it, and attaches a real Browser to it through the
// RemoteDevToolsURL path, so the full
// newBrowser/newPage/GenerateReport chain runs without spawning Chromium.
func newTestBrowser(t *testing.T, respond func(method string, id int64, raw []byte) []byte, cfg BrowserConfig) *Browser {
	t.Helper()

	wsAddr := startFakeCDPServer(t, respond)

	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"webSocketDebuggerUrl": "ws://" + wsAddr + "/devtools/browser/FAKE",
		})
	}))
	t.Cleanup(httpSrv.Close)

	cfg.RemoteDevToolsURL = httpSrv.URL
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 2 * time.Second
	}

	if cfg.MaxPagesPerBrowser <= 0 {
		cfg.MaxPagesPerBrowser = 2
	}

	b, err := newBrowser(context.Background(), cfg, log.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(b.shutdown)

	return b
}

func standardCDPResponder(t *testing.T, extra func(method string, id int64) []byte) func(string, int64, []byte) []byte {
	t.Helper()

	return func(method string, id int64, raw []byte) []byte {
		switch method {
		case "Browser.getVersion":
			return cdpResult(id, map[string]any{"product": "HeadlessChrome/120.0", "protocolVersion": "1.3", "userAgent": "fake"})
		case "Target.createTarget":
			return cdpResult(id, map[string]any{"targetId": "T1"})
		case "Page.getFrameTree":
			return cdpResult(id, map[string]any{"frameTree": map[string]any{"frame": map[string]any{"id": "F1"}}})
		case "Page.printToPDF":
			return cdpResult(id, map[string]any{"stream": ""})
		default:
			if extra != nil {
				if out := extra(method, id); out != nil {
					return out
				}
			}

			return nil
		}
	}
}

func TestBrowserGenerateReportSuccessReturnsPageToPool(t *testing.T) {
	t.Parallel()

	b := newTestBrowser(t, standardCDPResponder(t, nil), BrowserConfig{MaxPagesPerBrowser: 1})

	sink := newFakeSink()

	err := b.GenerateReport(context.Background(), sink, "<h1>Hi</h1>", DefaultPageSettings(), DefaultJsSettings())
	require.NoError(t, err)
	require.True(t, sink.complete)

	require.Equal(t, 1, b.pages.total)
	require.Len(t, b.pages.idle, 1, "the page must be back on the idle stack, not leaked as checked-out")
}

func TestBrowserGenerateReportDisposesPageOnProtocolError(t *testing.T) {
	t.Parallel()

	calls := newCallCounter()
	responder := standardCDPResponder(t, func(method string, id int64) []byte {
		if method == "IO.read" {
			return nil // will never be hit; printToPDF below forces the failure earlier
		}

		return nil
	})

	// Override Page.printToPDF to return an undecodable result, forcing a
	// BrowserError from the render pipeline.
	addr := startFakeCDPServer(t, func(method string, id int64, raw []byte) []byte {
		if method == "Page.printToPDF" {
			calls.next("Page.printToPDF")

			return cdpResult(id, map[string]any{"stream": 12345}) // wrong type: decode fails
		}

		return responder(method, id, raw)
	})

	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"webSocketDebuggerUrl": "ws://" + addr + "/devtools/browser/FAKE"})
	}))
	t.Cleanup(httpSrv.Close)

	cfg := BrowserConfig{RemoteDevToolsURL: httpSrv.URL, MaxPagesPerBrowser: 1, ResponseTimeout: 2 * time.Second}

	b, err := newBrowser(context.Background(), cfg, log.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(b.shutdown)

	sink := newFakeSink()

	err = b.GenerateReport(context.Background(), sink, "<h1>Hi</h1>", DefaultPageSettings(), DefaultJsSettings())
	require.ErrorIs(t, err, ErrBrowserError)

	require.Equal(t, 0, b.pages.total, "a page that errors mid-pipeline must be disposed, not leaked")
	require.Empty(t, b.pages.idle)
}

func TestBrowserAcquirePageExhaustsRetriesWhenPoolSaturated(t *testing.T) {
	t.Parallel()

	b := newTestBrowser(t, standardCDPResponder(t, nil),
		BrowserConfig{MaxPagesPerBrowser: 1, ResponseTimeout: 300 * time.Millisecond})

	// Hold the only page so the pool stays saturated for the duration.
	pg, err := b.pages.acquire(context.Background())
	require.NoError(t, err)

	start := time.Now()

	_, err = b.acquirePage(context.Background())
	require.ErrorIs(t, err, ErrPoolLimitReached)
	require.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond,
		"two backoff sleeps must separate the three attempts")

	b.pages.release(pg)
}

func TestBrowserAcquirePageBackoffHonorsCancellation(t *testing.T) {
	t.Parallel()

	b := newTestBrowser(t, standardCDPResponder(t, nil),
		BrowserConfig{MaxPagesPerBrowser: 1, ResponseTimeout: 30 * time.Second})

	pg, err := b.pages.acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		_, err := b.acquirePage(ctx)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("acquirePage did not observe cancellation during its backoff sleep")
	}

	b.pages.release(pg)
}

func TestBrowserGenerateReportJsTimeoutReturnsPageToPool(t *testing.T) {
	t.Parallel()

	responder := standardCDPResponder(t, func(method string, id int64) []byte {
		if method == "Runtime.evaluate" {
			return cdpResult(id, map[string]any{"result": map[string]any{"value": "Signal timeout"}, "wasThrown": false})
		}

		return nil
	})

	b := newTestBrowser(t, responder, BrowserConfig{MaxPagesPerBrowser: 1})

	sink := newFakeSink()
	js := JsSettings{WaitForCompletion: true, CompletionTimeout: 100 * time.Millisecond, ReadinessFlagName: "reportIsReady"}

	err := b.GenerateReport(context.Background(), sink, "<h1>Hi</h1>", DefaultPageSettings(), js)
	require.ErrorIs(t, err, ErrJsTimeout)

	require.Equal(t, 1, b.pages.total)
	require.Len(t, b.pages.idle, 1, "a JS-readiness timeout is not a protocol failure; the page must be reusable")
}
