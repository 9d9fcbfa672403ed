package service

import "errors"

// 错误分级：retryable 的让客户端重新申请订单/签名，
// terminal 的直接拒绝，绝不带着同一份签名自动重试。
var (
	// terminal
	ErrAccountNotFound     = errors.New("account not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidKind         = errors.New("unknown withdrawal kind")
	ErrInvalidAmount       = errors.New("withdrawal amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient available balance")
	ErrPrincipalLocked     = errors.New("principal is still locked")
	ErrSignerUnavailable   = errors.New("authorization signer unavailable")
	ErrOrderExpired        = errors.New("order already expired")

	// retryable
	ErrRateStale       = errors.New("exchange rate snapshot is stale")
	ErrRateUnavailable = errors.New("exchange rate unavailable")
)

// IsRetryable 区分可重试与终态错误，给 HTTP 层映射状态码。
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateStale) || errors.Is(err, ErrRateUnavailable)
}
