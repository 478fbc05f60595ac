package chrome

import (
	"encoding/base64"
	"encoding/json"
	"net"
	"sync"
	"testing"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/require"
)

// startFakeCDPServer accepts any number of WebSocket clients (a render
// uses one Connection for the browser and one per page) and dispatches
// every inbound frame to respond by method name. Returning nil from
// respond skips writing a reply, matching a fire-and-forget command.
func startFakeCDPServer(t *testing.T, respond func(method string, id int64, raw []byte) []byte) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go serveFakeCDPConn(conn, respond)
		}
	}()

	return ln.Addr().String()
}

func serveFakeCDPConn(conn net.Conn, respond func(method string, id int64, raw []byte) []byte) {
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

		out := respond(req.Method, req.ID, data)
		if out == nil {
			continue
		}

		if err := wsutil.WriteServerText(conn, out); err != nil {
			return
		}
	}
}

func cdpResult(id int64, result any) []byte {
	payload, _ := json.Marshal(map[string]any{"id": id, "result": result})

	return payload
}

// callCounter gives test responders a thread-safe way to keep state
// across the two connections one render opens (browser-level + page).
type callCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCallCounter() *callCounter {
	return &callCounter{counts: make(map[string]int)}
}

func (c *callCounter) next(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counts[method]++

	return c.counts[method]
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}
