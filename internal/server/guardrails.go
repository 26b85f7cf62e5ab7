package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type emailScanRequest struct {
	AccountID string `json:"account_id" binding:"required"`
	Email     string `json:"email" binding:"required"`
	ClientIP  string `json:"client_ip"`
}

// CheckEmailScan gates one email breach scan. A cached result short-circuits
// everything; otherwise the cooldown, duplicate-block, and rate windows all
// have to admit the scan.
func (s *Server) CheckEmailScan(c *gin.Context) {
	var req emailScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()

	cached, found, err := s.guardrails.CachedBreachResult(ctx, req.Email)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if found {
		c.JSON(http.StatusOK, gin.H{"cached": true, "result": cached})
		return
	}

	if err := s.guardrails.AllowEmailScan(ctx, req.AccountID, req.Email, req.ClientIP); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type emailScanResultRequest struct {
	Email  string          `json:"email" binding:"required"`
	Result json.RawMessage `json:"result" binding:"required"`
}

// StoreEmailScanResult caches a completed breach scan so repeat lookups are
// served without spending guardrail budget.
func (s *Server) StoreEmailScanResult(c *gin.Context) {
	var req emailScanResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.guardrails.StoreBreachResult(c.Request.Context(), req.Email, req.Result); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type aiInsightRequest struct {
	ClientIP string `json:"client_ip"`
}

// CheckAIInsight rate-limits AI insight generation per client IP.
func (s *Server) CheckAIInsight(c *gin.Context) {
	var req aiInsightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	ip := strings.TrimSpace(req.ClientIP)
	if ip == "" {
		ip = c.ClientIP()
	}

	if err := s.guardrails.AllowAIInsight(c.Request.Context(), ip); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
