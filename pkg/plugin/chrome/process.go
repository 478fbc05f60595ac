package chrome

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/grafana/grafana-plugin-sdk-go/backend/log"
	fsnotify "gopkg.in/fsnotify/fsnotify.v1"
)

const (
	devToolsActivePortFile = "DevToolsActivePort"
	handshakeTimeout       = 10 * time.Second
	handshakeMaxAttempts   = 5
	handshakeBaseBackoff   = 100 * time.Millisecond
)

// browserArgs returns the fixed Chromium flag set, with --no-sandbox and
// --disable-dev-shm-usage appended when configured.
func browserArgs(userDataDir string, cfg BrowserConfig) []string {
	args := []string{
		"--headless=new",
		"--disable-gpu",
		"--hide-scrollbars",
		"--mute-audio",
		"--disable-background-networking",
		"--disable-background-timer-throttling",
		"--disable-default-apps",
		"--disable-extensions",
		"--disable-hang-monitor",
		"--disable-prompt-on-repost",
		"--disable-sync",
		"--disable-translate",
		"--metrics-recording-only",
		"--no-first-run",
		"--disable-crash-reporter",
		`--remote-debugging-port=0`,
		"--user-data-dir=" + userDataDir,
	}

	if cfg.NoSandbox {
		args = append(args, "--no-sandbox")
	}

	if cfg.DisableDevShmUsage {
		args = append(args, "--disable-dev-shm-usage")
	}

	return args
}

// process wraps a spawned Chromium: its command handle, its temp
// user-data directory, and the exit tracking needed to tell a crashed
// process from one that was deliberately killed.
type process struct {
	cmd         *exec.Cmd
	userDataDir string
	exited      chan struct{}
	exitErr     error
}

// launchProcess starts Chromium and blocks until its DevTools endpoint is
// ready, returning the WebSocket URL to dial.
func launchProcess(ctx context.Context, executable string, cfg BrowserConfig, logger log.Logger) (*process, string, error) {
	userDataDir, err := os.MkdirTemp("", "browserpdf-chrome-*")
	if err != nil {
		return nil, "", fmt.Errorf("%w: create user-data dir: %v", ErrBrowserStart, err)
	}

	cmd := exec.CommandContext(ctx, executable, browserArgs(userDataDir, cfg)...)

	if cfg.InheritProcessOutput {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(userDataDir)

		return nil, "", fmt.Errorf("%w: start process: %v", ErrBrowserStart, err)
	}

	p := &process{cmd: cmd, userDataDir: userDataDir, exited: make(chan struct{})}

	go func() {
		p.exitErr = cmd.Wait()
		close(p.exited)
	}()

	wsURL, err := discoverDevToolsURL(ctx, userDataDir, p.exited, logger)
	if err != nil {
		p.kill()

		return nil, "", err
	}

	return p, wsURL, nil
}

func (p *process) kill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}

	<-p.exited
	_ = os.RemoveAll(p.userDataDir)
}

// discoverDevToolsURL watches userDataDir for the DevToolsActivePort
// handshake file, tolerating the race between process start and file
// creation.
func discoverDevToolsURL(ctx context.Context, userDataDir string, exited <-chan struct{}, logger log.Logger) (string, error) {
	path := filepath.Join(userDataDir, devToolsActivePortFile)

	// The watcher goes up before the existence probe: a file created in
	// the gap between the two is then guaranteed to be seen one way or
	// the other.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return "", fmt.Errorf("%w: create fs watcher: %v", ErrBrowserStart, err)
	}
	defer watcher.Close()

	if err := watcher.Add(userDataDir); err != nil {
		return "", fmt.Errorf("%w: watch user-data dir: %v", ErrBrowserStart, err)
	}

	if lines, err := readHandshakeFile(path); err == nil {
		return buildWsURL(lines), nil
	}

	deadline := time.NewTimer(handshakeTimeout)
	defer deadline.Stop()

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return "", fmt.Errorf("%w: fs watcher closed", ErrBrowserStart)
			}

			if filepath.Base(ev.Name) != devToolsActivePortFile {
				continue
			}

			lines, err := readHandshakeWithRetry(path)
			if err != nil {
				continue
			}

			return buildWsURL(lines), nil
		case werr, ok := <-watcher.Errors:
			if ok {
				logger.Warn("devtools active port watcher error", "error", werr)
			}
		case <-exited:
			return "", fmt.Errorf("%w: process exited before handshake", ErrBrowserStart)
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		case <-deadline.C:
			return "", fmt.Errorf("%w: handshake timed out after %s", ErrBrowserStart, handshakeTimeout)
		}
	}
}

func readHandshakeWithRetry(path string) ([]string, error) {
	var lastErr error

	for attempt := 1; attempt <= handshakeMaxAttempts; attempt++ {
		lines, err := readHandshakeFile(path)
		if err == nil {
			return lines, nil
		}

		lastErr = err
		time.Sleep(time.Duration(attempt) * handshakeBaseBackoff)
	}

	return nil, lastErr
}

func readHandshakeFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	defer f.Close()

	var lines []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	if len(lines) < 2 {
		return nil, fmt.Errorf("devtools active port file has %d lines, want >= 2", len(lines))
	}

	return lines, nil
}

func buildWsURL(lines []string) string {
	port := lines[0]
	path := lines[1]

	return fmt.Sprintf("ws://127.0.0.1:%s%s", port, path)
}
