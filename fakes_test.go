package html2pdf

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Fake browser
// ---------------------------------------------------------------------------

// fakeEngine is an in-memory Engine. Each NewContext call returns a fresh
// fakeContext configured by newContext.
type fakeEngine struct {
	id         int
	newContext func() (*fakeContext, error)
	pingErr    error
	closeErr   error

	opened atomic.Int32 // contexts created
	open   atomic.Int32 // contexts not yet closed
	closed atomic.Bool

	mu       sync.Mutex
	contexts []*fakeContext
}

func (e *fakeEngine) NewContext(context.Context) (RenderContext, error) {
	fc := &fakeContext{pdf: []byte("%PDF-1.7 fake")}
	if e.newContext != nil {
		var err error
		if fc, err = e.newContext(); err != nil {
			return nil, err
		}
	}
	fc.engine = e
	fc.released = make(chan struct{})
	e.opened.Add(1)
	e.open.Add(1)

	e.mu.Lock()
	e.contexts = append(e.contexts, fc)
	e.mu.Unlock()
	return fc, nil
}

func (e *fakeEngine) Ping(context.Context) error { return e.pingErr }

func (e *fakeEngine) Close() error {
	e.closed.Store(true)
	return e.closeErr
}

func (e *fakeEngine) lastContext() *fakeContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.contexts) == 0 {
		return nil
	}
	return e.contexts[len(e.contexts)-1]
}

// fakeContext records what the pipeline asked of it.
type fakeContext struct {
	engine   *fakeEngine
	released chan struct{}

	secureErr  error
	loadErr    error
	loadHangs  bool // Load ignores its context and blocks until Close
	pdf        []byte
	pdfErr     error
	pdfPanics  bool
	closeCalls atomic.Int32

	mu       sync.Mutex
	policy   SecurityPolicy
	viewport Viewport
	html     string
}

func (c *fakeContext) Secure(_ context.Context, p SecurityPolicy) error {
	c.mu.Lock()
	c.policy = p
	c.mu.Unlock()
	return c.secureErr
}

func (c *fakeContext) SetViewport(_ context.Context, v Viewport) error {
	c.mu.Lock()
	c.viewport = v
	c.mu.Unlock()
	return nil
}

func (c *fakeContext) Load(_ context.Context, html string) error {
	c.mu.Lock()
	c.html = html
	c.mu.Unlock()
	if c.loadHangs {
		<-c.released
		return errors.New("context closed")
	}
	return c.loadErr
}

func (c *fakeContext) PDF(context.Context, PDFOptions) ([]byte, error) {
	if c.pdfPanics {
		panic("printer on fire")
	}
	return c.pdf, c.pdfErr
}

func (c *fakeContext) Close(context.Context) error {
	if c.closeCalls.Add(1) == 1 {
		close(c.released)
		c.engine.open.Add(-1)
	}
	return nil
}

func (c *fakeContext) loadedHTML() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.html
}

// fakeLauncher returns a LaunchFunc that records every engine it starts.
// failAt makes the launch of that index fail (-1 never fails).
func fakeLauncher(failAt int, configure func(*fakeEngine)) (LaunchFunc, *[]*fakeEngine) {
	var (
		mu      sync.Mutex
		engines []*fakeEngine
	)
	launch := func(_ context.Context, index int) (Engine, error) {
		if index == failAt {
			return nil, ErrBrowserLaunch
		}
		e := &fakeEngine{id: index}
		if configure != nil {
			configure(e)
		}
		mu.Lock()
		engines = append(engines, e)
		mu.Unlock()
		return e, nil
	}
	return launch, &engines
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
