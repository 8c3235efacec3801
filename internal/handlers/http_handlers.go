package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"

	"raffle/internal/models"
	"raffle/internal/realtime"
	"raffle/internal/services"
	"raffle/internal/tabular"
)

// HTTPHandler holds the dependencies for the HTTP handlers, like the raffle service.
type HTTPHandler struct {
	service   *services.RaffleService
	templates *template.Template
	hub       *realtime.Hub
}

// NewHTTPHandler creates a new HTTPHandler. hub may be nil when live screens are disabled.
func NewHTTPHandler(service *services.RaffleService, templates *template.Template, hub *realtime.Hub) *HTTPHandler {
	return &HTTPHandler{
		service:   service,
		templates: templates,
		hub:       hub,
	}
}

// renderPage is a helper to perform a two-step template rendering.
// It first executes the content template into a buffer, then executes the main
// layout template, passing the rendered content as a variable.
func (h *HTTPHandler) renderPage(c *gin.Context, pageData gin.H, contentTmpl string) {
	buf := new(bytes.Buffer)
	if err := h.templates.ExecuteTemplate(buf, contentTmpl, pageData); err != nil {
		logger.Errorf("Error executing content template %s: %v", contentTmpl, err)
		c.String(http.StatusInternalServerError, "Template rendering error")
		return
	}

	pageData["PageContent"] = template.HTML(buf.String())

	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(c.Writer, "layout.html", pageData); err != nil {
		logger.Errorf("Error executing layout template: %v", err)
		c.String(http.StatusInternalServerError, "Template rendering error")
	}
}

// RegisterPublicRoutes registers routes that need no session.
func (h *HTTPHandler) RegisterPublicRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Health)
}

// RegisterTenantRoutes registers the raffle control surface. The group must run TenantMiddleware.
func (h *HTTPHandler) RegisterTenantRoutes(router *gin.RouterGroup) {
	router.GET("/", h.ShowIndex)
	router.GET("/ws", h.ServeWS)

	api := router.Group("/api")
	api.GET("/status", h.GetStatus)
	api.POST("/participants", h.UploadParticipants)
	api.POST("/raffle/start", h.StartRaffle)
	api.POST("/raffle/draw", h.PerformDraw)
	api.POST("/raffle/confirm", h.ConfirmCandidate)
	api.POST("/raffle/reject", h.RejectCandidate)
	api.POST("/raffle/restart", h.RestartRaffle)
	api.DELETE("/session", h.ClearSession)
	api.GET("/winners", h.GetWinners)
	api.GET("/export", h.ExportWinners)
	api.POST("/export/save", h.SaveExport)
}

func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ShowIndex renders the raffle page for the caller's session.
func (h *HTTPHandler) ShowIndex(c *gin.Context) {
	data := gin.H{
		"title":  "Raffle",
		"Status": h.service.Status(tenantID(c)),
	}
	h.renderPage(c, data, "index.html")
}

func (h *HTTPHandler) GetStatus(c *gin.Context) {
	h.respond(c, h.service.Status(tenantID(c)), nil)
}

// UploadParticipants handles a CSV or XLSX participant table upload.
func (h *HTTPHandler) UploadParticipants(c *gin.Context) {
	fileHeader, err := c.FormFile("participants")
	if err != nil {
		h.badRequest(c, fmt.Sprintf("Error retrieving file: %v", err))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		h.badRequest(c, fmt.Sprintf("Error opening file: %v", err))
		return
	}
	defer file.Close()

	status, err := h.service.LoadParticipants(tenantID(c), file, fileHeader.Filename)
	h.respond(c, status, err)
}

// StartRaffle accepts either a JSON body or form fields.
func (h *HTTPHandler) StartRaffle(c *gin.Context) {
	var req services.StartRequest
	if err := c.ShouldBind(&req); err != nil {
		h.badRequest(c, fmt.Sprintf("Invalid start request: %v", err))
		return
	}
	// An empty seed box on the form means "not reproducible", not seed 0.
	if c.ContentType() != gin.MIMEJSON && strings.TrimSpace(c.PostForm("seed")) == "" {
		req.Seed = nil
	}

	status, err := h.service.Start(tenantID(c), req)
	h.respond(c, status, err)
}

// PerformDraw selects the candidate for the current prize. Any spin animation
// on screens runs after this returns; it never changes the candidate.
func (h *HTTPHandler) PerformDraw(c *gin.Context) {
	status, err := h.service.Draw(tenantID(c))
	h.respond(c, status, err)
}

func (h *HTTPHandler) ConfirmCandidate(c *gin.Context) {
	status, err := h.service.Confirm(tenantID(c))
	h.respond(c, status, err)
}

func (h *HTTPHandler) RejectCandidate(c *gin.Context) {
	status, err := h.service.Reject(tenantID(c))
	h.respond(c, status, err)
}

func (h *HTTPHandler) RestartRaffle(c *gin.Context) {
	status, err := h.service.Restart(tenantID(c))
	h.respond(c, status, err)
}

// ClearSession drops the loaded table and any raffle in progress.
func (h *HTTPHandler) ClearSession(c *gin.Context) {
	id := tenantID(c)
	h.service.ClearSession(id)
	h.respond(c, h.service.Status(id), nil)
}

func (h *HTTPHandler) GetWinners(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"winners": h.service.Winners(tenantID(c))})
}

// ExportWinners handles the request to download the winners as CSV or XLSX.
func (h *HTTPHandler) ExportWinners(c *gin.Context) {
	mode, format, ok := h.exportParams(c)
	if !ok {
		return
	}

	file, err := h.service.Export(tenantID(c), mode, format)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment;filename=%s", file.Name))
	c.Data(http.StatusOK, file.ContentType, file.Data)
}

// SaveExport writes the export through the configured sink and returns its location.
func (h *HTTPHandler) SaveExport(c *gin.Context) {
	mode, format, ok := h.exportParams(c)
	if !ok {
		return
	}

	location, err := h.service.SaveExport(c.Request.Context(), tenantID(c), mode, format)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"location": location})
}

func (h *HTTPHandler) exportParams(c *gin.Context) (tabular.ExportMode, tabular.Format, bool) {
	mode, err := tabular.ParseExportMode(c.Query("mode"))
	if err != nil {
		h.badRequest(c, err.Error())
		return "", "", false
	}
	format, err := tabular.ParseFormat(c.Query("format"))
	if err != nil {
		h.badRequest(c, err.Error())
		return "", "", false
	}
	return mode, format, true
}

// respond writes the session status: an HTML fragment for htmx requests, JSON otherwise.
func (h *HTTPHandler) respond(c *gin.Context, status services.SessionStatus, err error) {
	if isHTMX(c) {
		data := gin.H{"Status": status}
		if err != nil {
			data["Error"] = err.Error()
		}
		c.Header("Content-Type", "text/html; charset=utf-8")
		if tmplErr := h.templates.ExecuteTemplate(c.Writer, "raffle_status.html", data); tmplErr != nil {
			logger.Errorf("Error executing template: %v", tmplErr)
			c.String(http.StatusInternalServerError, "Template error")
		}
		return
	}

	if err != nil {
		c.JSON(statusCode(err), gin.H{"error": err.Error(), "kind": models.Kind(err), "status": status})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *HTTPHandler) fail(c *gin.Context, err error) {
	if code := statusCode(err); code >= http.StatusInternalServerError {
		logger.Errorf("Request %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	_ = c.Error(err)
	c.JSON(statusCode(err), gin.H{"error": err.Error(), "kind": models.Kind(err)})
}

func (h *HTTPHandler) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "kind": "bad_request"})
}

// statusCode maps the error taxonomy onto HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, models.ErrConfiguration), errors.Is(err, models.ErrSchema), errors.Is(err, models.ErrMissingField):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrExhaustedPool), errors.Is(err, models.ErrEmptyPool):
		return http.StatusConflict
	case errors.Is(err, models.ErrExport):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func isHTMX(c *gin.Context) bool {
	return c.GetHeader("HX-Request") == "true"
}
