package html2pdf

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for library operations.
var (
	// Caller-visible outcomes.
	ErrRateLimited     = errors.New("too many requests")
	ErrRenderingFailed = errors.New("failed to generate PDF")
	ErrStartupFailed   = errors.New("browser pool startup failed")

	// Pool errors.
	ErrPoolClosed = errors.New("browser pool is closed")
	ErrEmptyPool  = errors.New("browser pool is empty")

	// Browser and page errors. These are wrapped by RenderError and never
	// reach an HTTP client.
	ErrBrowserLaunch      = errors.New("failed to launch browser")
	ErrBrowserConnect     = errors.New("failed to connect to browser")
	ErrPageCreate         = errors.New("failed to create browser page")
	ErrPageSecure         = errors.New("failed to secure browser page")
	ErrPageLoad           = errors.New("failed to load page")
	ErrContentLoadTimeout = errors.New("content loading timeout")
	ErrPDFGeneration      = errors.New("PDF generation failed")

	// Option validation errors.
	ErrInvalidPDFOptions = errors.New("invalid PDF options")
)

// Stage names a step of the rendering pipeline.
type Stage string

// Pipeline stages, in execution order.
const (
	StageReceived      Stage = "received"
	StageRateChecked   Stage = "rate_checked"
	StageSanitized     Stage = "sanitized"
	StageAcquired      Stage = "acquired"
	StageContextOpened Stage = "context_opened"
	StageSecured       Stage = "secured"
	StageContentLoaded Stage = "content_loaded"
	StageRendered      Stage = "rendered"
	StageCleanedUp     Stage = "cleaned_up"
)

// RenderError is the single failure variant of the pipeline. It keeps the
// internal cause for logs while Project exposes only an opaque message.
type RenderError struct {
	RequestID string
	Stage     Stage // stage that was being entered when the failure happened
	Instance  int   // pool instance id, -1 before acquisition
	Err       error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s failed at %s: %v", e.RequestID, e.Stage, e.Err)
}

// Unwrap exposes both ErrRenderingFailed and the internal cause.
func (e *RenderError) Unwrap() []error {
	return []error{ErrRenderingFailed, e.Err}
}

// StartupError reports which pool instance failed to launch.
type StartupError struct {
	Index int
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("%v: instance %d: %v", ErrStartupFailed, e.Index, e.Err)
}

func (e *StartupError) Unwrap() []error {
	return []error{ErrStartupFailed, e.Err}
}

// PublicError is the projection of a pipeline error that may be shown to
// callers.
type PublicError struct {
	Status    int    `json:"-"`
	Message   string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// Public response messages.
const (
	msgRateLimited     = "Too many requests"
	msgRenderingFailed = "Failed to generate PDF"
)

// Project maps any pipeline error to what the caller is allowed to see.
// Only rate limiting is distinguishable; every other cause collapses to an
// opaque failure that carries the request id for correlation.
func Project(err error, requestID string) PublicError {
	if errors.Is(err, ErrRateLimited) {
		return PublicError{Status: http.StatusTooManyRequests, Message: msgRateLimited}
	}
	return PublicError{
		Status:    http.StatusInternalServerError,
		Message:   msgRenderingFailed,
		RequestID: requestID,
	}
}
