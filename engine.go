package html2pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"github.com/alnah/go-html2pdf/internal/process"
)

// Engine is one long-lived browser process. It must support many
// concurrent rendering contexts.
type Engine interface {
	NewContext(ctx context.Context) (RenderContext, error)
	Ping(ctx context.Context) error
	Close() error
}

// RenderContext is an ephemeral browsing context used by exactly one
// request.
type RenderContext interface {
	Secure(ctx context.Context, policy SecurityPolicy) error
	SetViewport(ctx context.Context, v Viewport) error
	Load(ctx context.Context, html string) error
	PDF(ctx context.Context, opts PDFOptions) ([]byte, error)
	Close(ctx context.Context) error
}

// LaunchFunc starts the engine for pool slot index.
type LaunchFunc func(ctx context.Context, index int) (Engine, error)

// Compile-time interface checks.
var (
	_ Engine        = (*rodEngine)(nil)
	_ RenderContext = (*rodContext)(nil)
)

// documentURL is the synthetic address the sanitized document is served
// from. Relative references in the document resolve against it.
const documentURL = "https://document.html2pdf.invalid/"

// LaunchConfig configures browser processes.
type LaunchConfig struct {
	Bin       string // empty uses the binary managed by rod
	Headless  bool
	NoSandbox bool     // OS-level sandbox; containers usually need it off
	Flags     []string // extra command line switches, "--name" or "--name=value"
}

// DefaultBrowserFlags returns the switches every pooled browser starts with.
func DefaultBrowserFlags() []string {
	return []string{
		"--disable-gpu",
		"--disable-setuid-sandbox",
		"--disable-dev-shm-usage",
		"--disable-web-security",
		"--disable-features=IsolateOrigins",
		"--disable-extensions",
		"--disable-sync",
		"--disable-translate",
		"--hide-scrollbars",
		"--mute-audio",
		"--no-first-run",
		"--safebrowsing-disable-auto-update",
		"--disable-background-networking",
		"--disable-default-apps",
		"--disable-domain-reliability",
		"--disable-breakpad",
		"--disable-component-update",
		"--disable-notifications",
		"--ignore-certificate-errors",
	}
}

// DefaultLaunchConfig returns a headless, OS-sandbox-free configuration.
func DefaultLaunchConfig() LaunchConfig {
	return LaunchConfig{
		Headless:  true,
		NoSandbox: true,
		Flags:     DefaultBrowserFlags(),
	}
}

// RodLauncher returns a LaunchFunc that starts Chromium through go-rod.
// Rod downloads a managed Chromium on first use when Bin is empty and no
// system browser is found.
func RodLauncher(cfg LaunchConfig) LaunchFunc {
	return func(ctx context.Context, _ int) (Engine, error) {
		return launchRodEngine(ctx, cfg)
	}
}

// rodEngine is a Chromium process driven over CDP.
type rodEngine struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	pid      int
}

func launchRodEngine(ctx context.Context, cfg LaunchConfig) (*rodEngine, error) {
	l := launcher.New().Context(ctx)
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}
	l = l.Headless(cfg.Headless).NoSandbox(cfg.NoSandbox)
	for _, f := range cfg.Flags {
		name, values := splitFlag(f)
		if name == "" {
			continue
		}
		l = l.Set(flags.Flag(name), values...)
	}

	u, err := l.Launch()
	if err != nil {
		l.Kill()
		return nil, fmt.Errorf("%w: %v", ErrBrowserLaunch, err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("%w: %v", ErrBrowserConnect, err)
	}
	return &rodEngine{launcher: l, browser: browser, pid: l.PID()}, nil
}

// splitFlag turns "--name=a,b" into ("name", ["a", "b"]).
func splitFlag(f string) (string, []string) {
	f = strings.TrimLeft(strings.TrimSpace(f), "-")
	name, value, found := strings.Cut(f, "=")
	if !found || value == "" {
		return name, nil
	}
	return name, strings.Split(value, ",")
}

// NewContext opens a page inside a fresh incognito browser context, so no
// cookies or storage are shared between requests.
func (e *rodEngine) NewContext(ctx context.Context) (RenderContext, error) {
	incognito, err := e.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPageCreate, err)
	}
	// Keep handles detached from the request context so Close still works
	// after it expired.
	incognito = incognito.Context(context.Background())

	page, err := incognito.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = incognito.Close()
		return nil, fmt.Errorf("%w: %v", ErrPageCreate, err)
	}
	return &rodContext{browser: incognito, page: page.Context(context.Background())}, nil
}

// Ping asks the browser for its version.
func (e *rodEngine) Ping(ctx context.Context) error {
	if _, err := (proto.BrowserGetVersion{}).Call(e.browser.Context(ctx)); err != nil {
		return fmt.Errorf("%w: %v", ErrBrowserConnect, err)
	}
	return nil
}

// openPages counts page targets across every browser context.
func (e *rodEngine) openPages(ctx context.Context) (int, error) {
	pages, err := e.browser.Context(ctx).Pages()
	if err != nil {
		return 0, err
	}
	return len(pages), nil
}

// Close shuts the browser down and kills any process left behind.
func (e *rodEngine) Close() error {
	err := e.browser.Close()
	e.launcher.Kill()
	if e.pid > 0 {
		process.KillTree(e.pid)
	}
	// Waits for the exit, then removes the temporary profile.
	e.launcher.Cleanup()
	return err
}

// rodContext is one incognito page.
type rodContext struct {
	browser *rod.Browser // incognito browser context owning page
	page    *rod.Page
	router  *rod.HijackRouter

	mu     sync.Mutex
	html   string
	served bool
}

// Secure installs the sandbox: page CSP bypass, request interception,
// capability removal and disabled scripting. It must run before Load.
func (c *rodContext) Secure(ctx context.Context, policy SecurityPolicy) error {
	page := c.page.Context(ctx)

	if policy.BypassPageCSP {
		if err := (proto.PageSetBypassCSP{Enabled: true}).Call(page); err != nil {
			return fmt.Errorf("%w: bypass CSP: %v", ErrPageSecure, err)
		}
	}

	// The router listens on the detached page so it lives until Close. Its
	// Fetch.enable calls use that page too, so ctx bounds them from outside.
	router, err := within(ctx, func() (*rod.HijackRouter, error) {
		r := c.page.HijackRequests()
		if err := r.Add("*", "", c.intercept(policy)); err != nil {
			_ = r.Stop()
			return nil, err
		}
		return r, nil
	}, func(r *rod.HijackRouter) {
		if r != nil {
			_ = r.Stop()
		}
	})
	if err != nil {
		return fmt.Errorf("%w: request interception: %v", ErrPageSecure, err)
	}
	c.router = router
	go router.Run()

	if _, err := page.EvalOnNewDocument(capabilityScript); err != nil {
		return fmt.Errorf("%w: capability removal: %v", ErrPageSecure, err)
	}
	if err := (proto.EmulationSetScriptExecutionDisabled{Value: true}).Call(page); err != nil {
		return fmt.Errorf("%w: disable scripts: %v", ErrPageSecure, err)
	}
	return nil
}

// within runs fn and gives up once ctx is done. A result that arrives after
// that is passed to discard.
func within[T any](ctx context.Context, fn func() (T, error), discard func(T)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; discard != nil {
				discard(r.v)
			}
		}()
		var zero T
		return zero, ctx.Err()
	}
}

// intercept answers every paused request of the page.
func (c *rodContext) intercept(policy SecurityPolicy) func(*rod.Hijack) {
	return func(h *rod.Hijack) {
		resourceType := h.Request.Type()
		topLevel := resourceType == proto.NetworkResourceTypeDocument &&
			h.Request.URL().String() == documentURL && c.claimDocument()

		switch policy.Decide(resourceType, topLevel) {
		case VerdictServeDocument:
			c.mu.Lock()
			body := c.html
			c.mu.Unlock()
			h.Response.SetHeader(policy.documentHeaders()...)
			h.Response.SetBody(body)
		case VerdictAllow:
			h.ContinueRequest(&proto.FetchContinueRequest{})
		default:
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		}
	}
}

// claimDocument reports true exactly once: only the first navigation to the
// document address is the top-level load.
func (c *rodContext) claimDocument() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.served {
		return false
	}
	c.served = true
	return true
}

func (c *rodContext) SetViewport(ctx context.Context, v Viewport) error {
	if err := c.page.Context(ctx).SetViewport(v.toProto()); err != nil {
		return fmt.Errorf("%w: viewport: %v", ErrPageSecure, err)
	}
	return nil
}

// Load navigates to the document address, which the interception handler
// answers with html, and waits for DOMContentLoaded.
func (c *rodContext) Load(ctx context.Context, html string) error {
	c.mu.Lock()
	c.html = html
	c.mu.Unlock()

	page := c.page.Context(ctx)
	wait := page.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := page.Navigate(documentURL); err != nil {
		return fmt.Errorf("%w: %v", ErrPageLoad, err)
	}
	wait()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPageLoad, err)
	}
	return nil
}

// PDF prints the loaded document.
func (c *rodContext) PDF(ctx context.Context, opts PDFOptions) ([]byte, error) {
	reader, err := c.page.Context(ctx).PDF(opts.toProto())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPDFGeneration, err)
	}
	defer func() { _ = reader.Close() }()

	buf, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: reading PDF stream: %v", ErrPDFGeneration, err)
	}
	return buf, nil
}

// Close stops interception, closes the page and disposes the incognito
// context.
func (c *rodContext) Close(ctx context.Context) error {
	var errs []error
	if c.router != nil {
		errs = append(errs, c.router.Stop())
	}
	errs = append(errs, c.page.Context(ctx).Close())
	errs = append(errs, c.browser.Context(ctx).Close())
	return errors.Join(errs...)
}
