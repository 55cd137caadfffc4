package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// ChromeLauncher starts headless Chrome through chromedp.
type ChromeLauncher struct {
	// ExecPath overrides binary discovery when set.
	ExecPath string
}

// Launch starts a headless Chrome and waits until its first target is ready.
func (l ChromeLauncher) Launch(ctx context.Context) (Browser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	bin := l.ExecPath
	if bin == "" {
		bin = FindChromeBinary()
	}
	if bin != "" {
		opts = append(opts, chromedp.ExecPath(bin))
	}

	// The browser must outlive the context of whichever Acquire started it.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()

	select {
	case err := <-started:
		if err != nil {
			cancelBrowser()
			cancelAlloc()
			return nil, fmt.Errorf("browser: start chrome: %w", err)
		}
	case <-ctx.Done():
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("browser: start chrome: %w", ctx.Err())
	}

	return &chromeBrowser{ctx: browserCtx, cancelCtx: cancelBrowser, cancelAlloc: cancelAlloc}, nil
}

type chromeBrowser struct {
	ctx         context.Context
	cancelCtx   context.CancelFunc
	cancelAlloc context.CancelFunc
}

func (b *chromeBrowser) NewTab(opts SessionOptions) (context.Context, context.CancelFunc, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx)

	var actions []chromedp.Action
	if opts.UserAgent != "" || opts.Locale != "" {
		override := emulation.SetUserAgentOverride(opts.UserAgent)
		if opts.Locale != "" {
			override = override.WithAcceptLanguage(opts.Locale)
		}
		actions = append(actions, override)
	}
	if opts.Locale != "" {
		actions = append(actions, emulation.SetLocaleOverride().WithLocale(opts.Locale))
	}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		actions = append(actions, chromedp.EmulateViewport(opts.ViewportWidth, opts.ViewportHeight))
	}

	// Run with no actions still creates the tab target.
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("browser: open tab: %w", err)
	}
	return tabCtx, cancel, nil
}

func (b *chromeBrowser) Disconnected() <-chan struct{} { return b.ctx.Done() }

func (b *chromeBrowser) Close() error {
	err := chromedp.Cancel(b.ctx)
	b.cancelCtx()
	b.cancelAlloc()
	if err != nil && err != context.Canceled {
		return fmt.Errorf("browser: close chrome: %w", err)
	}
	return nil
}

// FindChromeBinary locates a Chrome/Chromium binary, honouring CHROME_BIN.
func FindChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
