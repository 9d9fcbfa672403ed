package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/paychan_backend/contract"
	"github.com/paychan_backend/model"
	"github.com/paychan_backend/repository"
)

// ProcessorConfig 事件处理参数。
type ProcessorConfig struct {
	BatchSize    int
	PollInterval time.Duration
	UsdtDecimals int32
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:    100,
		PollInterval: 2 * time.Second,
		UsdtDecimals: 6,
	}
}

// Processor 消费扫块器落库的原始日志，对账到订单账本：
// Deposited → 本金入账，Withdrawn/XplWithdrawn → 订单确认。
// 每条事件在一个事务里处理并标记，重复投递被账本幂等吸收。
type Processor struct {
	events *repository.EventRepository
	ledger *LedgerService
	cfg    ProcessorConfig
	logger *zap.Logger
}

func NewProcessor(events *repository.EventRepository, ledger *LedgerService, cfg ProcessorConfig, logger *zap.Logger) *Processor {
	return &Processor{events: events, ledger: ledger, cfg: cfg, logger: logger}
}

// Run 长驻处理循环。
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error("event batch failed", zap.Error(err))
			}
		}
	}
}

// ProcessBatch 处理一批未消费事件，返回处理条数。
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	evs, err := p.events.FetchUnprocessed(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, ev := range evs {
		if err := p.processEvent(ctx, ev); err != nil {
			return 0, fmt.Errorf("event id=%d tx=%s: %w", ev.ID, ev.TxHash, err)
		}
	}
	return len(evs), nil
}

func (p *Processor) processEvent(ctx context.Context, ev model.OnchainEvent) error {
	l, err := rebuildLog(ev)
	if err != nil {
		p.logger.Warn("unparseable event row, skipping", zap.Uint("id", ev.ID), zap.Error(err))
		return p.markProcessed(ctx, ev.ID)
	}

	if len(l.Topics) == 0 {
		return p.markProcessed(ctx, ev.ID)
	}
	switch l.Topics[0] {
	case contract.DepositedTopic:
		dep, err := contract.ParseDeposited(l)
		if err != nil {
			return err
		}
		amount := fromBaseUnits(dep.Amount, p.cfg.UsdtDecimals)
		if err := p.ledger.CreditDeposit(ctx, dep.User.Hex(), amount, dep.OrderID, ev.TxHash, ev.BlockNumber); err != nil {
			return err
		}
		p.logger.Info("deposit credited",
			zap.String("order_id", dep.OrderID), zap.String("user", dep.User.Hex()))

	case contract.WithdrawnTopic:
		wd, err := contract.ParseWithdrawn(l)
		if err != nil {
			return err
		}
		if err := p.reconcile(ctx, wd.OrderID, ev); err != nil {
			return err
		}

	case contract.XplWithdrawnTopic:
		wd, err := contract.ParseXplWithdrawn(l)
		if err != nil {
			return err
		}
		if err := p.reconcile(ctx, wd.OrderID, ev); err != nil {
			return err
		}

	default:
		// 非本合约关心的事件，标记跳过
	}

	return p.markProcessed(ctx, ev.ID)
}

func (p *Processor) reconcile(ctx context.Context, orderID string, ev model.OnchainEvent) error {
	err := p.ledger.Reconcile(ctx, orderID, ev.TxHash, ev.BlockNumber)
	if errors.Is(err, ErrOrderNotFound) {
		// 链上出现了账本不认识的订单号，留痕人工排查，不阻塞消费
		p.logger.Error("withdrawal event without matching order",
			zap.String("order_id", orderID), zap.String("tx_hash", ev.TxHash))
		return nil
	}
	if err != nil {
		return err
	}
	p.logger.Info("withdrawal order confirmed",
		zap.String("order_id", orderID), zap.String("tx_hash", ev.TxHash))
	return nil
}

func (p *Processor) markProcessed(ctx context.Context, id uint) error {
	return p.events.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return p.events.MarkProcessed(tx, id)
	})
}

func rebuildLog(ev model.OnchainEvent) (types.Log, error) {
	var topics []common.Hash
	if err := json.Unmarshal([]byte(ev.Topics), &topics); err != nil {
		return types.Log{}, fmt.Errorf("unmarshal topics: %w", err)
	}
	return types.Log{
		Address:     common.HexToAddress(ev.Address),
		Topics:      topics,
		Data:        ev.Data,
		BlockNumber: uint64(ev.BlockNumber),
		TxHash:      common.HexToHash(ev.TxHash),
		Index:       uint(ev.LogIndex),
	}, nil
}
