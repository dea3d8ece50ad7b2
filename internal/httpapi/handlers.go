package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"voiceai-agency/internal/auth"
	"voiceai-agency/internal/callsession"
	"voiceai-agency/internal/rbac"
	"voiceai-agency/internal/reporting"
	"voiceai-agency/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth    *auth.Manager
	Widgets *callsession.Registry
	Reports *reporting.Service
}

// --- Widgets ---

type mountResponse struct {
	WidgetID string           `json:"widget_id"`
	Token    string           `json:"token"`
	View     callsession.View `json:"view"`
}

// MountWidget creates a widget for a new page view and issues its visitor token.
func (h Handlers) MountWidget(c *gin.Context) {
	if h.Auth == nil || h.Widgets == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "widgets not configured"})
		return
	}
	w, err := h.Widgets.Mount()
	if err != nil {
		logger.FromGin(c).Error("widget mount failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "widget mount failed"})
		return
	}
	tok, err := h.Auth.Issue(time.Now(), w.ID(), rbac.RoleVisitor)
	if err != nil {
		_ = h.Widgets.Unmount(w.ID())
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusCreated, mountResponse{WidgetID: w.ID(), Token: tok, View: w.View()})
}

func (h Handlers) GetWidget(c *gin.Context) {
	w, ok := h.widget(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, w.View())
}

type startRequest struct {
	// Microphone is the browser's getUserMedia outcome: granted, denied or error.
	Microphone string `json:"microphone"`
}

// StartCall starts a session. Start failures are part of the view, not the status code.
func (h Handlers) StartCall(c *gin.Context) {
	w, ok := h.widget(c)
	if !ok {
		return
	}
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	mic, err := microphoneFor(req.Microphone)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := w.Start(c.Request.Context(), mic); err != nil {
		if errors.Is(err, callsession.ErrClosed) {
			c.AbortWithStatusJSON(http.StatusGone, gin.H{"error": "widget closed"})
			return
		}
		logger.FromGin(c).Info("call start failed", "widget_id", w.ID(), "err", err)
	}
	c.JSON(http.StatusOK, w.View())
}

func (h Handlers) EndCall(c *gin.Context) {
	w, ok := h.widget(c)
	if !ok {
		return
	}
	w.End()
	c.JSON(http.StatusOK, w.View())
}

// UnmountWidget tears the widget down when the page goes away.
func (h Handlers) UnmountWidget(c *gin.Context) {
	id, ok := widgetID(c)
	if !ok {
		return
	}
	if err := h.Widgets.Unmount(id); err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "widget not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// WidgetEvents streams the widget view as server-sent "view" events until the
// client disconnects or the widget is unmounted.
func (h Handlers) WidgetEvents(c *gin.Context) {
	w, ok := h.widget(c)
	if !ok {
		return
	}
	// The stream outlives the server write timeout.
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	views, cancel := w.Watch()
	defer cancel()

	ctx := c.Request.Context()
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(out io.Writer) bool {
		select {
		case v, ok := <-views:
			if !ok {
				return false
			}
			c.SSEvent("view", v)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (h Handlers) widget(c *gin.Context) (*callsession.Widget, bool) {
	if h.Widgets == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "widgets not configured"})
		return nil, false
	}
	id, ok := widgetID(c)
	if !ok {
		return nil, false
	}
	w, err := h.Widgets.Get(id)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "widget not found"})
		return nil, false
	}
	return w, true
}

func widgetID(c *gin.Context) (string, bool) {
	id, err := auth.Subject(c.Request.Context())
	if err != nil || id == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "widget token required"})
		return "", false
	}
	return id, true
}

// --- Reports ---

// CallsReport aggregates recorded call outcomes over [from, to).
// RBAC: admin or super_admin.
func (h Handlers) CallsReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reports not configured"})
		return
	}
	from, err := parseTime(c.Query("from"), "from")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	to, err := parseTime(c.Query("to"), "to")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		Range: reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be before to"})
			return
		}
		logger.FromGin(c).Error("calls report failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func parseTime(v, name string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("%s required", name)
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC3339", name)
	}
	return t.UTC(), nil
}

// Convenience middleware bundles.

func RequireSubjectAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireSubject(), rbac.RequireAnyRole(roles...)}
}
