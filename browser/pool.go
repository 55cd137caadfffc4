package browser

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"resale-pricer/metrics"
	"resale-pricer/utils"
)

const (
	defaultMaxSessions    = 3
	defaultBackoff        = 2 * time.Second
	defaultSessionTimeout = 60 * time.Second
	defaultLaunchTimeout  = 30 * time.Second
)

// Session is one acquired browser tab. It belongs to exactly one caller until released.
type Session struct {
	id      uint64
	pool    *Pool
	ctx     context.Context
	cancel  context.CancelFunc
	created time.Time
	timer   *time.Timer

	once   sync.Once
	done   chan struct{}
	reason error
}

// Context drives the tab; pass it to chromedp.Run. It is cancelled when the
// session is released, times out, or the browser goes away.
func (s *Session) Context() context.Context { return s.ctx }

// Created returns when the session was acquired.
func (s *Session) Created() time.Time { return s.created }

// Done is closed once the session has been released for any reason.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session closed: nil for a normal Release, otherwise
// ErrSessionExpired, ErrBrowserDisconnected or ErrPoolShuttingDown.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.reason
	default:
		return nil
	}
}

// Release returns the session to its pool. Safe to call more than once.
func (s *Session) Release() { s.pool.Release(s) }

func (s *Session) close(reason error) {
	s.once.Do(func() {
		if s.timer != nil {
			s.timer.Stop()
		}
		s.reason = reason
		s.cancel()
		close(s.done)
	})
}

type launch struct {
	done    chan struct{}
	browser Browser
	err     error
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Live      int
	Pending   int
	Launches  int
	Exhausted int
}

// Pool bounds concurrent browser sessions over a single, lazily started browser process.
type Pool struct {
	launcher       Launcher
	maxSessions    int
	backoff        time.Duration
	sessionTimeout time.Duration
	launchTimeout  time.Duration
	logger         *utils.Logger
	metrics        *metrics.Manager

	mu        sync.Mutex
	browser   Browser
	launching *launch
	live      map[uint64]*Session
	pending   int
	released  chan struct{}
	nextID    uint64
	closed    bool
	launches  int
	exhausted int

	shutdownOnce sync.Once
}

// NewPool creates a pool. No browser is started until the first Acquire.
func NewPool(launcher Launcher, opts ...Option) *Pool {
	p := &Pool{
		launcher:       launcher,
		maxSessions:    defaultMaxSessions,
		backoff:        defaultBackoff,
		sessionTimeout: defaultSessionTimeout,
		launchTimeout:  defaultLaunchTimeout,
		live:           make(map[uint64]*Session),
		released:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = utils.NewLoggerTo(os.Stdout, utils.LevelWarn)
	}
	return p
}

// Acquire opens a new session. If the pool is full it waits once, up to the
// acquire backoff or until another session is released, and then fails with
// ErrPoolExhausted.
func (p *Pool) Acquire(ctx context.Context, opts SessionOptions) (*Session, error) {
	if err := p.reserve(ctx); err != nil {
		return nil, err
	}

	b, err := p.ensureBrowser(ctx)
	if err != nil {
		p.unreserve()
		return nil, err
	}

	tabCtx, cancel, err := b.NewTab(opts)
	if err != nil {
		p.unreserve()
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = p.sessionTimeout
	}
	s := &Session{
		pool:    p,
		ctx:     tabCtx,
		cancel:  cancel,
		created: time.Now(),
		done:    make(chan struct{}),
	}

	p.mu.Lock()
	p.pending--
	switch {
	case p.closed:
		p.wake()
		p.mu.Unlock()
		s.close(ErrPoolShuttingDown)
		return nil, ErrPoolShuttingDown
	case p.browser != b:
		p.wake()
		p.mu.Unlock()
		s.close(ErrBrowserDisconnected)
		return nil, ErrBrowserDisconnected
	}
	p.nextID++
	s.id = p.nextID
	p.live[s.id] = s
	s.timer = time.AfterFunc(timeout, func() { p.expire(s) })
	live := len(p.live)
	p.mu.Unlock()

	p.metrics.PoolLiveSessions(live)
	p.logger.Debug("[browser] Session %d acquired (%d/%d live)", s.id, live, p.maxSessions)
	return s, nil
}

// Do acquires a session, runs fn with its context and releases it. The session
// is also released as soon as ctx is done, which aborts any chromedp action in fn.
func (p *Pool) Do(ctx context.Context, opts SessionOptions, fn func(ctx context.Context) error) error {
	s, err := p.Acquire(ctx, opts)
	if err != nil {
		return err
	}
	defer p.Release(s)

	stop := context.AfterFunc(ctx, func() { p.release(s, ctx.Err()) })
	defer stop()

	if err := fn(s.Context()); err != nil {
		if reason := s.Err(); reason != nil {
			return fmt.Errorf("%w: %w", reason, err)
		}
		return err
	}
	return nil
}

// Release returns a session. It is idempotent and safe after the session
// already timed out or the pool shut down.
func (p *Pool) Release(s *Session) {
	if s == nil {
		return
	}
	p.release(s, nil)
}

// Shutdown closes every live session and then the browser. Later Acquire
// calls fail with ErrPoolShuttingDown. Safe to call more than once.
func (p *Pool) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		sessions := p.live
		p.live = make(map[uint64]*Session)
		b := p.browser
		p.browser = nil
		p.wake()
		p.mu.Unlock()

		for _, s := range sessions {
			s.close(ErrPoolShuttingDown)
		}
		p.metrics.PoolLiveSessions(0)

		if b != nil {
			if err := b.Close(); err != nil {
				p.logger.Warn("[browser] Closing browser: %v", err)
			}
		}
		p.logger.Info("[browser] Pool shut down (%d sessions closed)", len(sessions))
	})
}

// Stats reports live and pending sessions and lifetime counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Live:      len(p.live),
		Pending:   p.pending,
		Launches:  p.launches,
		Exhausted: p.exhausted,
	}
}

// reserve claims a session slot so that live plus in-progress acquisitions
// never exceed maxSessions.
func (p *Pool) reserve(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrPoolShuttingDown
		}
		if len(p.live)+p.pending < p.maxSessions {
			p.pending++
			p.mu.Unlock()
			return nil
		}
		if attempt > 0 {
			p.exhausted++
			p.mu.Unlock()
			p.metrics.PoolExhausted()
			return ErrPoolExhausted
		}
		wake := p.released
		p.mu.Unlock()

		timer := time.NewTimer(p.backoff)
		select {
		case <-wake:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("browser: acquire: %w", ctx.Err())
		}
		timer.Stop()
	}
}

func (p *Pool) unreserve() {
	p.mu.Lock()
	p.pending--
	p.wake()
	p.mu.Unlock()
}

// ensureBrowser returns the running browser, starting one if needed.
// Concurrent callers share a single in-flight launch.
func (p *Pool) ensureBrowser(ctx context.Context) (Browser, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolShuttingDown
	}
	if p.browser != nil {
		b := p.browser
		p.mu.Unlock()
		return b, nil
	}
	l := p.launching
	if l == nil {
		l = &launch{done: make(chan struct{})}
		p.launching = l
		go p.launch(l)
	}
	p.mu.Unlock()

	select {
	case <-l.done:
	case <-ctx.Done():
		return nil, fmt.Errorf("browser: waiting for launch: %w", ctx.Err())
	}
	return l.browser, l.err
}

// launch runs detached from any caller's context so one cancelled Acquire
// does not fail the others waiting on the same start.
func (p *Pool) launch(l *launch) {
	ctx, cancel := context.WithTimeout(context.Background(), p.launchTimeout)
	defer cancel()

	p.logger.Info("[browser] Launching browser")
	b, err := p.launcher.Launch(ctx)

	p.mu.Lock()
	p.launching = nil
	switch {
	case err != nil:
		l.err = fmt.Errorf("browser: launch: %w", err)
	case p.closed:
		l.err = ErrPoolShuttingDown
	default:
		p.browser = b
		p.launches++
		l.browser = b
	}
	closed := p.closed
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("[browser] Launch failed: %v", err)
	} else if closed {
		_ = b.Close()
	} else {
		p.metrics.PoolLaunched()
		go p.watch(b)
	}
	close(l.done)
}

// watch invalidates every session when the browser disconnects. The next
// Acquire launches a replacement.
func (p *Pool) watch(b Browser) {
	<-b.Disconnected()

	p.mu.Lock()
	if p.browser != b {
		p.mu.Unlock()
		return
	}
	p.browser = nil
	sessions := p.live
	p.live = make(map[uint64]*Session)
	p.wake()
	p.mu.Unlock()

	p.logger.Warn("[browser] Browser disconnected, invalidated %d sessions", len(sessions))
	for _, s := range sessions {
		s.close(ErrBrowserDisconnected)
	}
	p.metrics.PoolLiveSessions(0)
	_ = b.Close()
}

func (p *Pool) expire(s *Session) {
	p.logger.Warn("[browser] Session %d idle for too long, force-releasing", s.id)
	p.release(s, ErrSessionExpired)
}

func (p *Pool) release(s *Session, reason error) {
	p.mu.Lock()
	_, ok := p.live[s.id]
	if ok {
		delete(p.live, s.id)
		p.wake()
	}
	live := len(p.live)
	p.mu.Unlock()

	s.close(reason)
	if ok {
		p.metrics.PoolLiveSessions(live)
		p.logger.Debug("[browser] Session %d released (%d/%d live)", s.id, live, p.maxSessions)
	}
}

// wake signals goroutines waiting for a free slot. Callers hold p.mu.
func (p *Pool) wake() {
	close(p.released)
	p.released = make(chan struct{})
}
