package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper 过期清扫器：周期性把超时未确认的订单过期并恢复预留余额。
// 清扫和对账共用账本的签发临界区，对账一旦确认，清扫对该单永远是空操作。
type Sweeper struct {
	ledger   *LedgerService
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(ledger *LedgerService, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{ledger: ledger, interval: interval, logger: logger}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ledger.Expire(ctx)
			if err != nil {
				s.logger.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("expired stale orders", zap.Int("count", n))
			}
		}
	}
}
