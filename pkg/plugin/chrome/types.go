// Package chrome drives one or more locally-spawned Chromium-family
// processes over the Chrome DevTools Protocol: launching them, pooling
// their tabs, and running the print-to-PDF pipeline against each.
package chrome

import "time"

// Orientation selects the page orientation passed to Page.printToPDF.
type Orientation string

const (
	Portrait  Orientation = "portrait"
	Landscape Orientation = "landscape"
)

// Kind names a supported browser family, used to drive executable
// discovery when BrowserConfig.ExecutablePath is unset.
type Kind string

const (
	KindChrome Kind = "chrome"
	KindEdge   Kind = "edge"
)

// PageSettings describes the physical layout of the printed page. It is
// immutable for the lifetime of one render.
type PageSettings struct {
	Orientation        Orientation
	PaperWidthInches   float64
	PaperHeightInches  float64
	MarginTopInches    float64
	MarginBottomInches float64
	MarginLeftInches   float64
	MarginRightInches  float64
	PrintBackground    bool
	HeaderTemplate     string
}

// DefaultPageSettings returns the stock layout: portrait,
// US-letter sized, 0.4 inch margins, background printing on.
func DefaultPageSettings() PageSettings {
	return PageSettings{
		Orientation:        Portrait,
		PaperWidthInches:   8.5,
		PaperHeightInches:  11,
		MarginTopInches:    0.4,
		MarginBottomInches: 0.4,
		MarginLeftInches:   0.4,
		MarginRightInches:  0.4,
		PrintBackground:    true,
	}
}

// JsSettings governs the optional JavaScript-readiness wait before
// printing.
type JsSettings struct {
	WaitForCompletion bool
	CompletionTimeout time.Duration
	ReadinessFlagName string
}

// DefaultJsSettings returns WaitForCompletion disabled, a 3 second
// timeout and the "reportIsReady" flag name.
func DefaultJsSettings() JsSettings {
	return JsSettings{
		WaitForCompletion: false,
		CompletionTimeout: 3 * time.Second,
		ReadinessFlagName: "reportIsReady",
	}
}

// BrowserConfig governs how a single Browser is started and how big its
// page pool is allowed to grow.
type BrowserConfig struct {
	Kind               Kind
	ExecutablePath     string
	NoSandbox          bool
	DisableDevShmUsage bool

	MaxPagesPerBrowser int
	ResponseTimeout    time.Duration

	// RemoteDevToolsURL, when set, points the Browser factory at an
	// already-running Chromium's /json/version endpoint instead of
	// spawning a local process.
	RemoteDevToolsURL string

	// InheritProcessOutput, when true, connects the spawned Chromium's
	// stdout/stderr to this process's own, instead of discarding them.
	InheritProcessOutput bool
}
