package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gramflow/internal/auth"
	"gramflow/internal/queue"
	"gramflow/internal/ratelimit"
	"gramflow/internal/reporting"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Admission *ratelimit.Service
	Rollover  *ratelimit.RolloverJob
	Replayer  *queue.Replayer
	Queue     queue.Queue
	Reports   *reporting.Service
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// Login issues an access token.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.TenantID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, tenant_id, role required"})
		return
	}
	token, err := h.Auth.Issue(time.Now(), req.UserID, req.TenantID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token})
}

// --- Rate limit ---

// GetRateLimitStats returns the caller's standing in the current window.
func (h Handlers) GetRateLimitStats(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	stats, err := h.Admission.UserStats(c.Request.Context(), tenantID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "usage lookup failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetCurrentWindow returns the active hourly window.
func (h Handlers) GetCurrentWindow(c *gin.Context) {
	c.JSON(http.StatusOK, h.Admission.GetCurrentWindow())
}

// --- Reports ---

// GetUsageReport summarizes the caller's usage over archived windows.
// Query params: from, to (RFC 3339); defaults to the last 24 hours.
func (h Handlers) GetUsageReport(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}

	rng, err := parseRange(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid time range"})
		return
	}
	out, err := h.Reports.TenantUsage(c.Request.Context(), reporting.UsageSummaryRequest{
		TenantID: tenantID,
		Range:    rng,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Admin ---

// AdminAppStatus reports the shared pool's standing.
// RBAC: super_admin (support read-only).
func (h Handlers) AdminAppStatus(c *gin.Context) {
	limited, err := h.Admission.IsAppLimitReached(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "ledger unavailable"})
		return
	}
	depth, err := h.Queue.Size(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "queue lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"window":            h.Admission.GetCurrentWindow(),
		"app_limit_reached": limited,
		"queue_depth":       depth,
	})
}

// AdminRollover archives the previous window on demand.
// RBAC: super_admin.
func (h Handlers) AdminRollover(c *gin.Context) {
	did, err := h.Rollover.RolloverIfExpired(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rollover failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"archived": did})
}

type drainRequest struct {
	MaxItems int `json:"max_items"`
}

// AdminDrainQueue replays deferred calls against the current window.
// RBAC: super_admin.
func (h Handlers) AdminDrainQueue(c *gin.Context) {
	var req drainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.MaxItems <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "max_items must be positive"})
		return
	}
	res, err := h.Replayer.ProcessQueuedCalls(c.Request.Context(), req.MaxItems)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "drain failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"processed":    res.Processed,
		"still_queued": res.StillQueued,
		"dropped":      res.Dropped,
	})
}

func parseRange(c *gin.Context) (reporting.TimeRange, error) {
	now := time.Now().UTC()
	rng := reporting.TimeRange{From: now.Add(-24 * time.Hour), To: now}

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return reporting.TimeRange{}, err
		}
		rng.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return reporting.TimeRange{}, err
		}
		rng.To = t
	}
	return rng, nil
}
