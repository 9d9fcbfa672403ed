package service

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/paychan_backend/repository"
)

// ChainClient 扫块器需要的 RPC 子集，*ethclient.Client 直接满足。
type ChainClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// ScannerConfig 扫块参数。
type ScannerConfig struct {
	Contract         common.Address
	Confirmations    uint64
	InitialStep      uint64
	MinStep          uint64
	MaxStep          uint64
	SuccessThreshold int
	PollInterval     time.Duration
	ReorgCheckDepth  int
}

func DefaultScannerConfig(contract common.Address) ScannerConfig {
	return ScannerConfig{
		Contract:         contract,
		Confirmations:    12,
		InitialStep:      200,
		MinStep:          10,
		MaxStep:          2000,
		SuccessThreshold: 5,
		PollInterval:     3 * time.Second,
		ReorgCheckDepth:  100,
	}
}

// Scanner 拉取 PaymentChannel 合约日志落库，持久化块检查点。
// 步长随 RPC 成败自适应伸缩；启动时比对最近检查点哈希做重组检测。
type Scanner struct {
	chain       ChainClient
	db          *gorm.DB
	checkpoints *repository.CheckpointRepository
	events      *repository.EventRepository
	cfg         ScannerConfig
	logger      *zap.Logger

	mu           sync.Mutex
	step         uint64
	successCount int
	failureCount int
}

func NewScanner(
	chain ChainClient,
	db *gorm.DB,
	checkpoints *repository.CheckpointRepository,
	events *repository.EventRepository,
	cfg ScannerConfig,
	logger *zap.Logger,
) *Scanner {
	return &Scanner{
		chain:       chain,
		db:          db,
		checkpoints: checkpoints,
		events:      events,
		cfg:         cfg,
		logger:      logger,
		step:        cfg.InitialStep,
	}
}

// Run 长驻扫块循环，ctx 取消后退出。
func (s *Scanner) Run(ctx context.Context) {
	if err := s.detectAndHandleReorg(ctx); err != nil {
		s.logger.Warn("reorg detection failed", zap.Error(err))
	}
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.StepOnce(ctx); err != nil {
				s.logger.Error("scan step failed", zap.Error(err))
			}
		}
	}
}

// StepOnce 扫一个区间：[last+1, min(last+step, latest-confirmations)]。
func (s *Scanner) StepOnce(ctx context.Context) error {
	header, err := s.chain.HeaderByNumber(ctx, nil)
	if err != nil {
		s.adjustStepOnFailure()
		return err
	}
	latest := header.Number.Uint64()
	if latest <= s.cfg.Confirmations {
		return nil
	}
	safe := latest - s.cfg.Confirmations

	last, err := s.checkpoints.Last(ctx)
	if err != nil {
		s.adjustStepOnFailure()
		return err
	}
	start := uint64(last + 1)
	if start > safe {
		return nil
	}

	s.mu.Lock()
	step := s.step
	s.mu.Unlock()
	end := start + step - 1
	if end > safe {
		end = safe
	}

	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(start),
		ToBlock:   new(big.Int).SetUint64(end),
		Addresses: []common.Address{s.cfg.Contract},
	}
	logs, err := s.chain.FilterLogs(ctx, q)
	if err != nil {
		s.adjustStepOnFailure()
		return err
	}

	endHeader, err := s.chain.HeaderByNumber(ctx, new(big.Int).SetUint64(end))
	if err != nil {
		s.adjustStepOnFailure()
		return err
	}

	// 日志和检查点同事务落库：不会出现日志入库了而检查点没推进的半截状态
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(logs) > 0 {
			if err := s.events.InsertLogs(tx, logs); err != nil {
				return err
			}
		}
		return s.checkpoints.Persist(tx, int64(end), endHeader.Hash().Hex())
	})
	if err != nil {
		s.adjustStepOnFailure()
		return err
	}

	s.logger.Debug("scanned block range",
		zap.Uint64("from", start), zap.Uint64("to", end),
		zap.Uint64("safe", safe), zap.Int("logs", len(logs)))
	s.adjustStepOnSuccess()
	return nil
}

// detectAndHandleReorg 启动时比对最近 N 个检查点与链上块哈希，
// 从新到旧一直走到真正的分叉点（最老的哈希不一致处），一次回滚
// 全部分叉区间；遇到第一个匹配的检查点即可停，更老的必然一致。
func (s *Scanner) detectAndHandleReorg(ctx context.Context) error {
	pbs, err := s.checkpoints.Recent(ctx, s.cfg.ReorgCheckDepth)
	if err != nil {
		return err
	}
	forkPoint := int64(-1)
	for _, pb := range pbs {
		header, err := s.chain.HeaderByNumber(ctx, big.NewInt(pb.BlockNumber))
		if err != nil {
			// 节点裁剪掉的历史块跳过
			continue
		}
		if header.Hash().Hex() == pb.BlockHash {
			break
		}
		s.logger.Warn("reorg detected at checkpoint",
			zap.Int64("block", pb.BlockNumber),
			zap.String("db_hash", pb.BlockHash),
			zap.String("chain_hash", header.Hash().Hex()))
		forkPoint = pb.BlockNumber
	}
	if forkPoint < 0 {
		return nil
	}
	return s.checkpoints.RollbackAbove(ctx, forkPoint-1)
}

func (s *Scanner) adjustStepOnSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successCount++
	s.failureCount = 0
	if s.successCount >= s.cfg.SuccessThreshold {
		newStep := uint64(float64(s.step) * 1.5)
		if newStep > s.cfg.MaxStep {
			newStep = s.cfg.MaxStep
		}
		if newStep > s.step {
			s.logger.Info("increasing scan step", zap.Uint64("from", s.step), zap.Uint64("to", newStep))
			s.step = newStep
		}
		s.successCount = 0
	}
}

func (s *Scanner) adjustStepOnFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount++
	s.successCount = 0
	newStep := uint64(float64(s.step) * 0.5)
	if newStep < s.cfg.MinStep {
		newStep = s.cfg.MinStep
	}
	if newStep < s.step {
		s.logger.Info("decreasing scan step", zap.Uint64("from", s.step), zap.Uint64("to", newStep))
		s.step = newStep
	}
}
