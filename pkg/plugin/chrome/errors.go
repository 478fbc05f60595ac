package chrome

import "errors"

var (
	ErrBrowserStart     = errors.New("browser failed to start")
	ErrPoolLimitReached = errors.New("pool limit reached")
	ErrCancelled        = errors.New("operation cancelled")
	ErrBrowserError     = errors.New("browser protocol error")
	ErrJsTimeout        = errors.New("javascript completion signal not observed")
)
