package chrome

import (
	"context"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"time"
)

// candidateNames lists the binary names recognized for each browser Kind
// across platforms.
var candidateNames = map[Kind][]string{
	KindChrome: {
		"google-chrome", "google-chrome-stable", "chromium", "chromium-browser",
		"chrome", "chrome.exe", "chrome-headless-shell", "chrome-headless-shell.exe",
	},
	KindEdge: {"microsoft-edge", "msedge", "msedge.exe"},
}

// searchRoots lists the platform-specific directories walked when looking
// for a browser executable: the standard system install locations for the
// host platform. PATH itself is not consulted.
func searchRoots() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{`C:\Program Files\Google\Chrome\Application`, `C:\Program Files (x86)\Google\Chrome\Application`}
	case "darwin":
		return []string{"/Applications/Google Chrome.app/Contents/MacOS", "/Applications/Chromium.app/Contents/MacOS"}
	default:
		return []string{"/usr/bin", "/usr/local/bin", "/opt/google/chrome", "/opt/chromium.org/chromium"}
	}
}

// FindBrowserExecutable locates a usable binary for kind, verifying it
// can actually run headless before returning it. An explicit path always
// wins over discovery.
func FindBrowserExecutable(ctx context.Context, kind Kind, explicitPath string) (string, error) {
	if explicitPath != "" {
		if err := verifyExecutable(ctx, explicitPath); err != nil {
			return "", fmt.Errorf("configured browser executable %s: %w", explicitPath, err)
		}

		return explicitPath, nil
	}

	names := candidateNames[kind]

	for _, root := range searchRoots() {
		var found string

		_ = filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
			if err != nil || found != "" {
				return nil //nolint:nilerr
			}

			if !info.IsDir() && slices.Contains(names, info.Name()) {
				if verifyErr := verifyExecutable(ctx, path); verifyErr == nil {
					found = path
				}
			}

			return nil
		})

		if found != "" {
			return found, nil
		}
	}

	return "", fmt.Errorf("%w: no %s executable found under %v", ErrBrowserStart, kind, searchRoots())
}

// verifyExecutable runs path headless against an empty document and
// confirms it exits cleanly, guarding against a binary that exists on
// disk but can't actually launch (missing shared libs, wrong arch, a
// broken snap confinement).
func verifyExecutable(parent context.Context, path string) error {
	ctx, cancel := context.WithTimeout(parent, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, "--headless", "--no-sandbox", "--disable-gpu", "--dump-dom", "about:blank")

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}

	return nil
}
