package server

import (
	"errors"
	"net/http"
	"strconv"

	"slot-ledger-go/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) health(c *gin.Context) {
	if err := s.ledger.HealthCheck(c.Request.Context()); err != nil {
		zap.L().Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listSlots(c *gin.Context) {
	slots, err := s.ledger.ListSlots(c.Request.Context(), ownerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": slots})
}

func (s *Server) getSlot(c *gin.Context) {
	slot, err := s.ledger.GetSlot(c.Request.Context(), ownerFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, slot)
}

func (s *Server) claimSlot(c *gin.Context) {
	claim, err := s.ledger.ClaimSlot(c.Request.Context(), ownerFrom(c), c.Param("id"))
	if err != nil {
		s.metrics.CountClaimRequest(claimResult(err))
		writeError(c, err)
		return
	}
	s.metrics.CountClaimRequest("claimed")
	c.JSON(http.StatusOK, claim)
}

func (s *Server) listWallets(c *gin.Context) {
	wallets, err := s.ledger.ListWallets(c.Request.Context(), ownerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallets": wallets})
}

const maxHistoryLimit = 100

func (s *Server) transactionHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		abort(c, http.StatusBadRequest, "INVALID_ARGUMENT", "limit must be a positive integer")
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		abort(c, http.StatusBadRequest, "INVALID_ARGUMENT", "offset must be a non-negative integer")
		return
	}
	limit = min(limit, maxHistoryLimit)

	transactions, err := s.ledger.GetTransactionHistory(c.Request.Context(), ownerFrom(c), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": transactions})
}

func (s *Server) state(c *gin.Context) {
	state, err := s.ledger.State(c.Request.Context(), ownerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) serveWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		zap.L().Warn("Failed to upgrade websocket connection", zap.Error(err))
		return
	}
	s.hub.ServeConn(conn, ownerFrom(c))
}

func claimResult(err error) string {
	switch {
	case errors.Is(err, store.ErrSlotNotFound):
		return "not_found"
	case errors.Is(err, store.ErrSlotNotExpired):
		return "not_expired"
	case errors.Is(err, store.ErrSlotAlreadyClaimed):
		return "already_claimed"
	case store.IsContention(err):
		return "contended"
	}
	return "error"
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrSlotNotFound):
		abort(c, http.StatusNotFound, "NOT_FOUND", "Slot not found")
	case errors.Is(err, store.ErrSlotNotExpired):
		abort(c, http.StatusConflict, "NOT_YET_EXPIRED", "Slot has not expired yet")
	case errors.Is(err, store.ErrSlotAlreadyClaimed):
		abort(c, http.StatusConflict, "ALREADY_CLAIMED", "Slot already claimed")
	case errors.Is(err, store.ErrInsufficientFunds):
		abort(c, http.StatusConflict, "INSUFFICIENT_FUNDS", "Insufficient funds")
	case store.IsContention(err):
		c.Header("Retry-After", "1")
		abort(c, http.StatusServiceUnavailable, "CONTENDED", "Slot is busy, retry shortly")
	default:
		zap.L().Error("Request failed",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		abort(c, http.StatusInternalServerError, "INTERNAL", "Internal server error")
	}
}
