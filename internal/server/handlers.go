package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	html2pdf "github.com/alnah/go-html2pdf"
)

// Response headers of a rendered document.
const (
	pdfContentType        = "application/pdf"
	pdfContentDisposition = "attachment; filename=ActivityReport.pdf"
)

// Validation messages.
const (
	msgInvalidBody  = "html must be a non-empty string of at most 5242880 characters"
	msgBodyTooLarge = "request body too large"
)

type renderRequest struct {
	HTML string `json:"html" binding:"required,min=1,max=5242880"`
}

type healthResponse struct {
	Status    string                    `json:"status"`
	Instances []html2pdf.InstanceStatus `json:"instances"`
}

type handlers struct {
	renderer Renderer
	health   HealthChecker
	logger   *zap.Logger
}

// render handles POST /html2pdf. Invalid bodies never reach the renderer.
func (h *handlers) render(c *gin.Context) {
	var req renderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		msg := msgInvalidBody
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = msgBodyTooLarge
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	id := requestIDFrom(c)
	// A client disconnect does not abort the render; it ends on its own
	// timeout.
	ctx := context.WithoutCancel(c.Request.Context())

	res, err := h.renderer.Render(ctx, html2pdf.Request{
		ClientID:  c.ClientIP(),
		RequestID: id,
		HTML:      req.HTML,
	})
	if err != nil {
		pub := html2pdf.Project(err, id)
		c.AbortWithStatusJSON(pub.Status, pub)
		return
	}

	c.Header("Content-Length", strconv.Itoa(len(res.PDF)))
	c.Header("Content-Disposition", pdfContentDisposition)
	c.Header("X-Content-Type-Options", "nosniff")
	c.Data(http.StatusOK, pdfContentType, res.PDF)
}

// healthz handles GET /healthz: 200 while at least one browser is READY.
func (h *handlers) healthz(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, healthResponse{Status: "ok", Instances: []html2pdf.InstanceStatus{}})
		return
	}

	statuses := h.health.HealthCheck(c.Request.Context())
	for _, s := range statuses {
		if s.State == html2pdf.StateReady {
			c.JSON(http.StatusOK, healthResponse{Status: "ok", Instances: statuses})
			return
		}
	}
	h.logger.Warn("no ready browser", zap.Int("instances", len(statuses)))
	c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Instances: statuses})
}
