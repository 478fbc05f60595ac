package chrome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/corvidlabs/browserpdf/pkg/plugin/devtools"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
)

// classifyRPCErr maps a devtools.Connection RPC failure onto the page
// pipeline's own taxonomy. A context cancellation reported by the
// Connection (mid-call, not just between calls) must surface as
// ErrCancelled rather than ErrBrowserError, so a caller-initiated abort
// is never misreported as a protocol failure.
func classifyRPCErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, devtools.ErrCancelled) {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	return fmt.Errorf("%w: %v", ErrBrowserError, err)
}

// pageReadChunkSize is the fixed IO.read request size; not auto-tuned.
const pageReadChunkSize = 51200

// ByteSink is the output capability a render writes decoded PDF bytes
// into. It owns backpressure: Write may block, and Stopped signals the
// writer should abandon the stream early.
type ByteSink interface {
	Write(ctx context.Context, p []byte) error
	Complete() error
	Stopped() <-chan struct{}
}

// page is one acquired, reusable browser tab ("BrowserPage" in the data
// model). It owns its targetId and its dedicated Connection.
type page struct {
	targetID    string
	conn        *devtools.Connection
	browserConn *devtools.Connection
	logger      log.Logger
}

func newPageHandle(targetID string, conn, browserConn *devtools.Connection, logger log.Logger) *page {
	return &page{
		targetID:    targetID,
		conn:        conn,
		browserConn: browserConn,
		logger:      logger.With("targetId", targetID),
	}
}

// dispose tears down the page's own Connection and asks the browser to
// close the underlying target. Target.closeTarget is fire-and-forget:
// a failed close is never surfaced.
func (p *page) dispose() {
	p.conn.Dispose()
	p.browserConn.FireAndForget("Target.closeTarget", map[string]any{"targetId": p.targetID})
}

// release clears session state before the page is pushed back onto the
// pool, fire-and-forget, so no cookie set by one request leaks into the
// next one that reuses this tab.
func (p *page) release() {
	p.conn.FireAndForget("Network.clearBrowserCookies", nil)
}

// render executes the print pipeline: set content, optionally
// wait for JS readiness, print to PDF, stream the result into sink.
func (p *page) render(ctx context.Context, html string, pageSettings PageSettings, jsSettings JsSettings, sink ByteSink) error {
	p.conn.FireAndForget("Network.setCacheDisabled", map[string]any{"cacheDisabled": false})

	frameID, err := p.frameID(ctx)
	if err != nil {
		return classifyRPCErr(err)
	}

	p.conn.FireAndForget("Page.setDocumentContent", map[string]any{"frameId": frameID, "html": html})

	if jsSettings.WaitForCompletion {
		if err := p.waitForReadiness(ctx, jsSettings); err != nil {
			return err
		}
	}

	stream, err := p.printToPDF(ctx, pageSettings)
	if err != nil {
		return classifyRPCErr(err)
	}

	if stream == "" {
		return sink.Complete() //nolint:wrapcheck
	}

	return p.streamPDF(ctx, stream, sink)
}

func (p *page) frameID(ctx context.Context) (string, error) {
	raw, err := p.conn.RPC(ctx, "Page.getFrameTree", nil)
	if err != nil {
		return "", fmt.Errorf("get frame tree: %w", err)
	}

	var tree devtools.FrameTreeResult
	if err := json.Unmarshal(raw, &tree); err != nil {
		return "", fmt.Errorf("decode frame tree: %w", err)
	}

	return tree.FrameTree.Frame.ID, nil
}

// readinessScript polls a window-level flag, resolving once it becomes
// true or the given timeout elapses.
const readinessScript = `
new Promise((resolve) => {
	const flag = %q;
	const deadline = Date.now() + %d;
	const poll = () => {
		if (window[flag]) {
			resolve("Signal received");
			return;
		}
		if (Date.now() >= deadline) {
			resolve("Signal timeout");
			return;
		}
		setTimeout(poll, 25);
	};
	poll();
})
`

// readinessRPCSlack pads the readiness evaluate's RPC deadline past the
// script's own timeout, covering the round trip to the browser. The
// script resolves "Signal timeout" on its own at CompletionTimeout; only
// a wedged tab ever runs into the padded deadline.
const readinessRPCSlack = 5 * time.Second

func (p *page) waitForReadiness(ctx context.Context, jsSettings JsSettings) error {
	expr := fmt.Sprintf(readinessScript, jsSettings.ReadinessFlagName, jsSettings.CompletionTimeout.Milliseconds())

	// The readiness wait is bounded by the user-chosen CompletionTimeout,
	// not the connection-wide ResponseTimeout: the two are independent,
	// and a completion window longer than ResponseTimeout must not be
	// cut short and misreported as a protocol failure.
	raw, err := p.conn.RPCWithTimeout(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expr,
		"awaitPromise":  true,
		"returnByValue": true,
	}, jsSettings.CompletionTimeout+readinessRPCSlack)
	if err != nil {
		return classifyRPCErr(err)
	}

	var result devtools.EvaluateResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("%w: decode evaluate result: %v", ErrBrowserError, err)
	}

	if result.WasThrown {
		return fmt.Errorf("%w: readiness script threw", ErrBrowserError)
	}

	if result.Result.Value != "Signal received" {
		return ErrJsTimeout
	}

	return nil
}

func (p *page) printToPDF(ctx context.Context, s PageSettings) (string, error) {
	params := map[string]any{
		"landscape":       s.Orientation == Landscape,
		"paperHeight":     s.PaperHeightInches,
		"paperWidth":      s.PaperWidthInches,
		"marginTop":       s.MarginTopInches,
		"marginBottom":    s.MarginBottomInches,
		"marginLeft":      s.MarginLeftInches,
		"marginRight":     s.MarginRightInches,
		"printBackground": s.PrintBackground,
		"transferMode":    "ReturnAsStream",
	}

	if s.HeaderTemplate != "" {
		params["displayHeaderFooter"] = true
		params["headerTemplate"] = s.HeaderTemplate
	}

	raw, err := p.conn.RPC(ctx, "Page.printToPDF", params)
	if err != nil {
		return "", fmt.Errorf("print to pdf: %w", err)
	}

	var result devtools.PrintToPDFResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decode print to pdf result: %w", err)
	}

	return result.Stream, nil
}

// streamPDF drains the Page.printToPDF stream handle via IO.read,
// decoding base64 chunks and writing them to sink, honoring cancellation
// and sink backpressure on every iteration.
func (p *page) streamPDF(ctx context.Context, handle string, sink ByteSink) error {
	var (
		decoder devtools.Base64Decoder
		buf     []byte // decode destination, recycled across IO.read iterations
	)

	closeStream := func() {
		p.conn.FireAndForget("IO.close", map[string]any{"handle": handle})
	}

	for {
		select {
		case <-ctx.Done():
			closeStream()

			return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		case <-sink.Stopped():
			closeStream()

			return nil
		default:
		}

		raw, err := p.conn.RPC(ctx, "IO.read", map[string]any{"handle": handle, "size": pageReadChunkSize})
		if err != nil {
			closeStream()

			return classifyRPCErr(err)
		}

		var chunk devtools.IOReadResult
		if err := json.Unmarshal(raw, &chunk); err != nil {
			closeStream()

			return fmt.Errorf("%w: decode io read result: %v", ErrBrowserError, err)
		}

		decoded, err := decodeChunk(&decoder, buf, chunk)
		if err != nil {
			closeStream()

			return fmt.Errorf("%w: %v", ErrBrowserError, err)
		}

		buf = decoded

		if len(decoded) > 0 {
			if err := sink.Write(ctx, decoded); err != nil {
				closeStream()

				return fmt.Errorf("%w: sink write: %v", ErrBrowserError, err)
			}
		}

		if chunk.EOF {
			closeStream()

			return sink.Complete() //nolint:wrapcheck
		}
	}
}

func decodeChunk(decoder *devtools.Base64Decoder, buf []byte, chunk devtools.IOReadResult) ([]byte, error) {
	if !chunk.Base64Encoded {
		return []byte(chunk.Data), nil
	}

	return decoder.PushInto(buf, []byte(chunk.Data))
}
