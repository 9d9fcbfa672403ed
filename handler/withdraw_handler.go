package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/paychan_backend/service"
)

// WithdrawHandler 提现订单签发与状态上报。
type WithdrawHandler struct {
	ledger *service.LedgerService
}

func NewWithdrawHandler(ledger *service.LedgerService) *WithdrawHandler {
	return &WithdrawHandler{ledger: ledger}
}

type createOrderRequest struct {
	Kind   string `json:"kind" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// POST /api/v1/withdraw/order
func (h *WithdrawHandler) CreateOrder(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	issued, err := h.ledger.Reserve(c, userID, req.Kind, amount)
	if err != nil {
		writeLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, issued)
}

type submittedRequest struct {
	OrderID string `json:"order_id" binding:"required"`
	TxHash  string `json:"tx_hash" binding:"required"`
}

// POST /api/v1/withdraw/submitted
func (h *WithdrawHandler) MarkSubmitted(c *gin.Context) {
	var req submittedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.ledger.MarkSubmitted(c, req.OrderID, req.TxHash); err != nil {
		writeLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GET /api/v1/withdraw/order/:orderId
func (h *WithdrawHandler) GetOrder(c *gin.Context) {
	order, err := h.ledger.Order(c, c.Param("orderId"))
	if err != nil {
		writeLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// writeLedgerError 错误分级映射：可重试 → 503，终态 → 4xx。
func writeLedgerError(c *gin.Context, err error) {
	switch {
	case service.IsRetryable(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "retryable": true})
	case errors.Is(err, service.ErrOrderNotFound), errors.Is(err, service.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "retryable": false})
	case errors.Is(err, service.ErrOrderExpired):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "retryable": false})
	case errors.Is(err, service.ErrInsufficientBalance),
		errors.Is(err, service.ErrPrincipalLocked),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidKind):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "retryable": false})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "retryable": false})
	}
}
