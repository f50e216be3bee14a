package recovery

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"cart-recovery/internal/alerts"
	"cart-recovery/internal/calltrack"
	"cart-recovery/internal/provider"
	"cart-recovery/internal/scheduler"
	"cart-recovery/internal/settings"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Recovery     *Service
	Settings     *settings.Service
	Scheduler    *scheduler.Service
	Tracker      *calltrack.Tracker
	Alerts       *alerts.Service
	Suppressions *Registry
	Client       provider.Client
}

// HandleProviderWebhook receives SuperU call status callbacks. Signature and
// timestamp are verified before the body is even parsed; an unauthenticated
// delivery learns nothing about call state.
func (h Handlers) HandleProviderWebhook(c *gin.Context) {
	rawBody, err := c.GetRawData()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	sig := c.GetHeader("X-SuperU-Signature")
	if sig == "" {
		sig = c.GetHeader("X-Signature")
	}
	ts := c.GetHeader("X-SuperU-Timestamp")
	if ts == "" {
		ts = c.GetHeader("X-Timestamp")
	}
	if err := h.Client.VerifyWebhookSignature(rawBody, sig, ts); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	if len(rawBody) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "webhook payload is required"})
		return
	}
	var payload map[string]any
	if err := json.Unmarshal(rawBody, &payload); err != nil || payload == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "webhook payload must be a JSON object"})
		return
	}

	result, err := h.Recovery.IngestProviderCallback(c.Request.Context(), payload)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "webhook ingestion failed"})
		return
	}
	if !result.Accepted {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": result.Reason})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"received":       true,
		"matched":        result.Matched,
		"idempotent":     result.Idempotent,
		"reason":         result.Reason,
		"callId":         result.CallID,
		"providerCallId": result.ProviderCallID,
		"status":         result.Status,
		"outcome":        result.Outcome,
	})
}

func (h Handlers) ListJobs(c *gin.Context) {
	limit := intQuery(c, "limit", 100)
	status := scheduler.JobStatus(c.Query("status"))
	jobs, err := h.Scheduler.ListJobs(c.Request.Context(), limit, status)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "job listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h Handlers) ListCalls(c *gin.Context) {
	limit := intQuery(c, "limit", 100)
	status := calltrack.CallStatus(c.Query("status"))
	calls, err := h.Tracker.List(c.Request.Context(), limit, status)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": calls})
}

func (h Handlers) ListAlerts(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	severity := alerts.Severity(c.Query("severity"))
	got, err := h.Alerts.List(c.Request.Context(), limit, severity)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "alert listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": got})
}

func (h Handlers) GetStats(c *gin.Context) {
	set, err := h.Settings.Get(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "settings load failed"})
		return
	}
	stats, err := h.Alerts.Snapshot(c.Request.Context(), time.Now().UTC(), set)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h Handlers) GetSettings(c *gin.Context) {
	set, err := h.Settings.Get(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "settings load failed"})
		return
	}
	c.JSON(http.StatusOK, set)
}

func (h Handlers) UpdateSettings(c *gin.Context) {
	var patch settings.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	set, err := h.Settings.Update(c.Request.Context(), patch)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "settings update failed"})
		return
	}
	c.JSON(http.StatusOK, set)
}

type suppressRequest struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

func (h Handlers) ListSuppressions(c *gin.Context) {
	got, err := h.Suppressions.List(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "suppression listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"suppressions": got})
}

func (h Handlers) Suppress(c *gin.Context) {
	var req suppressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "userId required"})
		return
	}
	if err := h.Suppressions.Suppress(c.Request.Context(), req.UserID, req.Reason); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "suppression failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"suppressed": true, "userId": req.UserID})
}

func (h Handlers) Unsuppress(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	if err := h.Suppressions.Unsuppress(c.Request.Context(), userID); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "unsuppression failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"suppressed": false, "userId": userID})
}

// RunCycle triggers one recovery cycle on demand.
func (h Handlers) RunCycle(c *gin.Context) {
	report, err := h.Recovery.RunCycle(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "cycle failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func intQuery(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
