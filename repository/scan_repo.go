package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ethereum/go-ethereum/core/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/paychan_backend/model"
)

// CheckpointRepository 扫块检查点持久化。
type CheckpointRepository struct {
	db    *gorm.DB
	chain string
}

func NewCheckpointRepository(db *gorm.DB, chain string) *CheckpointRepository {
	return &CheckpointRepository{db: db, chain: chain}
}

// Last 最后已处理块号，没有记录时返回 0。
func (r *CheckpointRepository) Last(ctx context.Context) (int64, error) {
	var pb model.ProcessedBlock
	err := r.db.WithContext(ctx).
		Where("chain = ?", r.chain).
		Order("block_number desc").Limit(1).First(&pb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return pb.BlockNumber, nil
}

func (r *CheckpointRepository) Persist(tx *gorm.DB, block int64, hash string) error {
	pb := model.ProcessedBlock{
		Chain:       r.chain,
		BlockNumber: block,
		BlockHash:   hash,
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&pb).Error
}

// Recent 最近 n 条检查点，重组检测用。
func (r *CheckpointRepository) Recent(ctx context.Context, n int) ([]model.ProcessedBlock, error) {
	var pbs []model.ProcessedBlock
	if err := r.db.WithContext(ctx).
		Where("chain = ?", r.chain).
		Order("block_number desc").Limit(n).Find(&pbs).Error; err != nil {
		return nil, err
	}
	return pbs, nil
}

// RollbackAbove 重组回滚：删掉高于 blockNumber 的检查点，
// 并把对应区间的事件重新标记为未处理。
func (r *CheckpointRepository) RollbackAbove(ctx context.Context, blockNumber int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chain = ? AND block_number > ?", r.chain, blockNumber).
			Delete(&model.ProcessedBlock{}).Error; err != nil {
			return err
		}
		return tx.Model(&model.OnchainEvent{}).
			Where("chain = ? AND block_number > ?", r.chain, blockNumber).
			Update("processed", false).Error
	})
}

// EventRepository 原始链上日志落库与消费。
type EventRepository struct {
	db    *gorm.DB
	chain string
}

func NewEventRepository(db *gorm.DB, chain string) *EventRepository {
	return &EventRepository{db: db, chain: chain}
}

func (r *EventRepository) DB() *gorm.DB { return r.db }

// InsertLogs 批量落库，tx_hash+log_index 冲突直接跳过（幂等）。
func (r *EventRepository) InsertLogs(tx *gorm.DB, logs []types.Log) error {
	for _, l := range logs {
		topicsJSON, err := json.Marshal(l.Topics)
		if err != nil {
			return err
		}
		ev := model.OnchainEvent{
			Chain:       r.chain,
			BlockNumber: int64(l.BlockNumber),
			BlockHash:   l.BlockHash.Hex(),
			TxHash:      l.TxHash.Hex(),
			LogIndex:    int(l.Index),
			Address:     l.Address.Hex(),
			Topics:      string(topicsJSON),
			Data:        l.Data,
			Processed:   false,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ev).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *EventRepository) FetchUnprocessed(ctx context.Context, limit int) ([]model.OnchainEvent, error) {
	var evs []model.OnchainEvent
	if err := r.db.WithContext(ctx).
		Where("chain = ? AND processed = ?", r.chain, false).
		Order("block_number asc, id asc").Limit(limit).Find(&evs).Error; err != nil {
		return nil, err
	}
	return evs, nil
}

func (r *EventRepository) MarkProcessed(tx *gorm.DB, id uint) error {
	return tx.Model(&model.OnchainEvent{}).Where("id = ?", id).Update("processed", true).Error
}
