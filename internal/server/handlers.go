package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ndhoang/fraudguard/internal/engine"
	"github.com/ndhoang/fraudguard/internal/idgen"
	"github.com/ndhoang/fraudguard/internal/logging"
	"github.com/ndhoang/fraudguard/internal/transaction"
	"github.com/ndhoang/fraudguard/internal/validation"
)

// scoreTransaction handles POST /api/v1/transactions.
// It validates the submitted transaction, runs the full scoring pipeline,
// and returns the verdict. A storage failure is a 500: a verdict that was
// never recorded must not look like a success.
func (s *Server) scoreTransaction(c *gin.Context) {
	ctx := c.Request.Context()

	var txn transaction.Transaction
	if err := c.ShouldBindJSON(&txn); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	txn.Description = validation.SanitizeString(txn.Description, 500)
	txn.Category = validation.SanitizeString(txn.Category, 200)
	txn.Geolocation = validation.SanitizeString(txn.Geolocation, 200)
	txn.DeviceID = validation.SanitizeString(txn.DeviceID, 200)

	if err := txn.Validate(); err != nil {
		var fields transaction.FieldErrors
		if errors.As(err, &fields) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_failed",
				"message": "Transaction failed validation",
				"fields":  fields,
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
		})
		return
	}

	if !validation.IsValidIP(txn.SourceIP) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": "Transaction failed validation",
			"fields": transaction.FieldErrors{
				{Field: "source_ip", Message: "must be a valid IP address"},
			},
		})
		return
	}

	// Callers may omit the ID and timestamp; fill them here so every
	// stored analysis has both.
	if txn.ID == "" {
		txn.ID = idgen.WithPrefix("txn_")
	}
	if txn.Timestamp.IsZero() {
		txn.Timestamp = time.Now().UTC()
	}

	verdict, err := s.engine.Process(ctx, &txn)
	if err != nil {
		logging.L(ctx).Error("scoring failed",
			"transaction_id", txn.ID,
			"user_id", txn.UserID,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to score transaction",
		})
		return
	}

	c.JSON(http.StatusOK, verdict)
}

// verifyTransaction handles POST /api/v1/transactions/:id/verify.
// Analyst feedback: marking a transaction legitimate clears its fraud flag
// and folds it back into the user's behavioral profile.
func (s *Server) verifyTransaction(c *gin.Context) {
	ctx := c.Request.Context()
	txnID := c.Param("id")

	var req struct {
		UserID     string `json:"userId" binding:"required"`
		Legitimate *bool  `json:"legitimate" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "userId and legitimate are required",
		})
		return
	}

	if err := s.engine.VerifyTransaction(ctx, txnID, req.UserID, *req.Legitimate); err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Transaction not found",
			})
			return
		}
		logging.L(ctx).Error("verification failed",
			"transaction_id", txnID,
			"user_id", req.UserID,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to verify transaction",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactionId": txnID,
		"verified":      true,
		"legitimate":    *req.Legitimate,
	})
}

// userProfile handles GET /api/v1/users/:id/profile.
func (s *Server) userProfile(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("id")

	limit := s.queryLimit(c, 20)

	baseline, recent, err := s.engine.Profile(ctx, userID, limit)
	if err != nil {
		logging.L(ctx).Error("profile lookup failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load profile",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"profile":            baseline,
		"recentTransactions": recent,
	})
}

// userAlerts handles GET /api/v1/users/:id/alerts.
func (s *Server) userAlerts(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("id")

	limit := s.queryLimit(c, 20)

	list, err := s.alerts.Recent(ctx, userID, limit)
	if err != nil {
		logging.L(ctx).Error("alert lookup failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load alerts",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": list,
		"count":  len(list),
	})
}

// queryLimit parses the optional ?limit= query parameter, capped at the
// configured history limit.
func (s *Server) queryLimit(c *gin.Context, def int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > s.cfg.HistoryLimit {
		return s.cfg.HistoryLimit
	}
	return n
}
