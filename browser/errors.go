package browser

import "errors"

var (
	// ErrPoolExhausted is returned when every session slot is taken after one bounded wait.
	ErrPoolExhausted = errors.New("browser pool exhausted")
	// ErrPoolShuttingDown is returned by Acquire once Shutdown has been called.
	ErrPoolShuttingDown = errors.New("browser pool shutting down")
	// ErrBrowserDisconnected is reported for sessions invalidated by a browser crash.
	ErrBrowserDisconnected = errors.New("browser disconnected")
)

// ErrSessionExpired is the close reason of a session force-released by its idle timer.
var ErrSessionExpired = errors.New("browser session idle timeout")
