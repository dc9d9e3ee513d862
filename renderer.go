package html2pdf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Timeout defaults.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultCloseTimeout = 5 * time.Second
)

// Render outcomes reported to an Observer.
const (
	OutcomeSuccess     = "success"
	OutcomeRateLimited = "rate_limited"
	OutcomeFailed      = "failed"
)

// Observer receives one call per finished render. stage is the failing
// stage for OutcomeFailed and StageCleanedUp otherwise.
type Observer interface {
	ObserveRender(outcome string, stage Stage, d time.Duration)
}

// Request is one HTML document to print.
type Request struct {
	ClientID  string // rate limiting key, usually the client IP
	RequestID string // correlation id, generated when empty
	HTML      string
}

// Result holds the printed document.
type Result struct {
	PDF       []byte
	RequestID string
	Instance  int
	Duration  time.Duration
}

// Renderer runs the pipeline: admission, sanitizing, acquisition, secured
// loading, export and unconditional cleanup of the rendering context.
// It is safe for concurrent use.
type Renderer struct {
	pool         Pool
	admitter     Admitter
	sanitizer    Sanitizer
	policy       SecurityPolicy
	pdf          PDFOptions
	viewport     Viewport
	timeout      time.Duration
	closeTimeout time.Duration
	logger       *zap.Logger
	observer     Observer
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithAdmitter sets the admission gate. nil admits everything.
func WithAdmitter(a Admitter) Option {
	return func(r *Renderer) { r.admitter = a }
}

// WithSanitizer replaces the default PatternSanitizer.
func WithSanitizer(s Sanitizer) Option {
	return func(r *Renderer) {
		if s != nil {
			r.sanitizer = s
		}
	}
}

// WithSecurityPolicy replaces the default policy.
func WithSecurityPolicy(p SecurityPolicy) Option {
	return func(r *Renderer) { r.policy = p }
}

// WithPDFOptions sets the export options.
func WithPDFOptions(o PDFOptions) Option {
	return func(r *Renderer) { r.pdf = o }
}

// WithViewport sets the viewport of every rendering context.
func WithViewport(v Viewport) Option {
	return func(r *Renderer) { r.viewport = v }
}

// WithTimeout sets the budget that bounds navigation, content load and
// export, each on its own.
func WithTimeout(d time.Duration) Option {
	return func(r *Renderer) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithCloseTimeout bounds closing a rendering context.
func WithCloseTimeout(d time.Duration) Option {
	return func(r *Renderer) {
		if d > 0 {
			r.closeTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Renderer) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver sets a metrics observer.
func WithObserver(o Observer) Option {
	return func(r *Renderer) { r.observer = o }
}

// NewRenderer creates a Renderer drawing browsers from pool.
func NewRenderer(pool Pool, opts ...Option) *Renderer {
	r := &Renderer{
		pool:         pool,
		sanitizer:    PatternSanitizer{},
		policy:       DefaultSecurityPolicy(),
		pdf:          DefaultPDFOptions(),
		viewport:     DefaultViewport(),
		timeout:      DefaultTimeout,
		closeTimeout: DefaultCloseTimeout,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render prints req.HTML to PDF.
//
// A rejected admission returns ErrRateLimited and never touches the pool.
// Every other failure is a *RenderError (errors.Is ErrRenderingFailed);
// use Project to turn it into a caller-safe message.
func (r *Renderer) Render(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	log := r.logger.With(zap.String("request_id", req.RequestID))

	if r.admitter != nil && !r.admitter.Admit(req.ClientID) {
		log.Info("request rate limited", zap.String("client", req.ClientID))
		r.observe(OutcomeRateLimited, StageRateChecked, time.Since(start))
		return nil, fmt.Errorf("%w: client %s", ErrRateLimited, req.ClientID)
	}

	pdf, instance, err := r.render(ctx, req, log)
	elapsed := time.Since(start)
	if err != nil {
		stage := StageReceived
		var re *RenderError
		if errors.As(err, &re) {
			stage = re.Stage
		}
		log.Warn("render failed", zap.String("stage", string(stage)), zap.Int("instance", instance),
			zap.Duration("elapsed", elapsed), zap.Error(err))
		r.observe(OutcomeFailed, stage, elapsed)
		return nil, err
	}

	log.Debug("render finished", zap.Int("instance", instance), zap.Int("bytes", len(pdf)),
		zap.Duration("elapsed", elapsed))
	r.observe(OutcomeSuccess, StageCleanedUp, elapsed)
	return &Result{PDF: pdf, RequestID: req.RequestID, Instance: instance, Duration: elapsed}, nil
}

// render walks the stages from SANITIZED to CLEANED_UP. The deferred block
// is the only exit: it recovers panics, closes the rendering context,
// reports the outcome to the pool and wraps failures in a RenderError.
func (r *Renderer) render(ctx context.Context, req Request, log *zap.Logger) (pdf []byte, instance int, err error) {
	stage := StageSanitized
	instance = -1
	var (
		inst *Instance
		rc   RenderContext
	)

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("internal error: %v", p)
		}
		if rc != nil {
			r.closeContext(rc, log)
		}
		if inst != nil {
			r.pool.Release(inst, err)
		}
		if err != nil {
			pdf = nil
			err = &RenderError{RequestID: req.RequestID, Stage: stage, Instance: instance, Err: err}
		}
	}()

	clean := r.sanitizer.Sanitize(req.HTML)

	stage = StageAcquired
	inst, err = r.pool.Acquire()
	if err != nil {
		return nil, instance, err
	}
	instance = inst.ID()

	stage = StageContextOpened
	err = r.withTimeout(ctx, func(ctx context.Context) error {
		var openErr error
		rc, openErr = inst.Engine().NewContext(ctx)
		return openErr
	})
	if err != nil {
		return nil, instance, err
	}

	stage = StageSecured
	err = r.withTimeout(ctx, func(ctx context.Context) error {
		if err := rc.Secure(ctx, r.policy); err != nil {
			return err
		}
		return rc.SetViewport(ctx, r.viewport)
	})
	if err != nil {
		return nil, instance, err
	}

	stage = StageContentLoaded
	if err = r.load(ctx, rc, clean); err != nil {
		return nil, instance, err
	}

	stage = StageRendered
	err = r.withTimeout(ctx, func(ctx context.Context) error {
		var exportErr error
		pdf, exportErr = rc.PDF(ctx, r.pdf)
		return exportErr
	})
	if err != nil {
		return nil, instance, err
	}
	if len(pdf) == 0 {
		return nil, instance, fmt.Errorf("%w: empty document", ErrPDFGeneration)
	}

	stage = StageCleanedUp
	return pdf, instance, nil
}

// load races the context's own navigation timeout against an explicit
// timer of the same length. Whichever settles first decides; the loser is
// abandoned and stopped when the context closes.
func (r *Renderer) load(ctx context.Context, rc RenderContext, html string) error {
	loadCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("internal error: %v", p)
			}
		}()
		done <- rc.Load(loadCtx, html)
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return ErrContentLoadTimeout
	}
}

// withTimeout runs fn under the operation timeout.
func (r *Renderer) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return fn(opCtx)
}

// closeContext closes rc within the close timeout. Errors are logged and
// otherwise ignored.
func (r *Renderer) closeContext(rc RenderContext, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), r.closeTimeout)
	defer cancel()
	if err := rc.Close(ctx); err != nil {
		log.Debug("closing rendering context", zap.Error(err))
	}
}

func (r *Renderer) observe(outcome string, stage Stage, d time.Duration) {
	if r.observer != nil {
		r.observer.ObserveRender(outcome, stage, d)
	}
}
