// Package browser manages a bounded pool of headless Chrome sessions shared by
// the marketplace scrapers that need JavaScript-rendered pages.
package browser

import (
	"context"
	"time"
)

// SessionOptions configures one acquired session.
type SessionOptions struct {
	UserAgent      string
	ViewportWidth  int64
	ViewportHeight int64
	Locale         string
	// Timeout is the idle timeout after which the pool force-releases the session.
	Timeout time.Duration
}

// Browser is one running browser process.
type Browser interface {
	// NewTab opens an isolated tab configured with opts. The returned context
	// drives the tab and cancel closes it.
	NewTab(opts SessionOptions) (ctx context.Context, cancel context.CancelFunc, err error)
	// Disconnected is closed when the browser process goes away.
	Disconnected() <-chan struct{}
	Close() error
}

// Launcher starts browser processes.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context) (Browser, error)

func (f LauncherFunc) Launch(ctx context.Context) (Browser, error) { return f(ctx) }
