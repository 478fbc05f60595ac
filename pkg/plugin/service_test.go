package plugin

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/corvidlabs/browserpdf/pkg/plugin/chrome"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
	. "github.com/smartystreets/goconvey/convey"
)

func fakeChromiumEndpoint(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go func() {
				if _, err := ws.Upgrade(conn); err != nil {
					_ = conn.Close()

					return
				}

				for {
					data, err := wsutil.ReadClientText(conn)
					if err != nil {
						return
					}

					var req struct {
						ID     int64  `json:"id"`
						Method string `json:"method"`
					}

					if err := json.Unmarshal(data, &req); err != nil {
						continue
					}

					var out []byte

					switch req.Method {
					case "Browser.getVersion":
						out, _ = json.Marshal(map[string]any{"id": req.ID, "result": map[string]any{"product": "HeadlessChrome/120", "protocolVersion": "1.3"}})
					case "Target.createTarget":
						out, _ = json.Marshal(map[string]any{"id": req.ID, "result": map[string]any{"targetId": "T1"}})
					case "Page.getFrameTree":
						out, _ = json.Marshal(map[string]any{"id": req.ID, "result": map[string]any{"frameTree": map[string]any{"frame": map[string]any{"id": "F1"}}}})
					case "Page.printToPDF":
						out, _ = json.Marshal(map[string]any{"id": req.ID, "result": map[string]any{"stream": "S1"}})
					case "IO.read":
						out, _ = json.Marshal(map[string]any{"id": req.ID, "result": map[string]any{
							"base64Encoded": true,
							"data":          base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 service wiring test")),
							"eof":           true,
						}})
					default:
						continue
					}

					if err := wsutil.WriteServerText(conn, out); err != nil {
						return
					}
				}
			}()
		}
	}()

	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"webSocketDebuggerUrl": "ws://" + ln.Addr().String() + "/devtools/browser/FAKE"})
	}))
	t.Cleanup(httpSrv.Close)

	return httpSrv.URL
}

func TestNewService(t *testing.T) {
	Convey("Given environment-provided configuration", t, func() {
		Convey("With an invalid browser kind", func() {
			t.Setenv("BROWSERPDF_BROWSER_KIND", "safari")

			svc, shutdown, err := New(context.Background(), log.NewNullLogger())

			Convey("New fails validation before starting any browser", func() {
				So(err, ShouldNotBeNil)
				So(svc, ShouldBeNil)
				So(shutdown, ShouldBeNil)
			})
		})

		Convey("Pointed at a running (fake) Chromium endpoint", func() {
			endpoint := fakeChromiumEndpoint(t)

			// GoConvey re-runs the outer func per leaf, so the invalid kind
			// set by the previous leaf is still in the environment here.
			t.Setenv("BROWSERPDF_BROWSER_KIND", "chrome")
			t.Setenv("BROWSERPDF_REMOTE_DEVTOOLS_URL", endpoint)
			t.Setenv("BROWSERPDF_MAX_BROWSERS", "1")
			t.Setenv("BROWSERPDF_MAX_PAGES_PER_BROWSER", "1")

			svc, shutdown, err := New(context.Background(), log.NewNullLogger())
			So(err, ShouldBeNil)

			defer shutdown()

			Convey("The assembled Service can generate a report end to end into a plain writer", func() {
				var buf bytes.Buffer

				status := svc.GenerateReportTo(context.Background(), &buf, "<h1>Hi</h1>", chrome.DefaultPageSettings(), chrome.JsSettings{})
				So(status.String(), ShouldEqual, "success")
				So(buf.String(), ShouldStartWith, "%PDF-")
			})
		})
	})
}
