package model

import (
	"time"

	"gorm.io/gorm"
)

// 扫块检查点：对账器重启后从最后已处理块续扫，保证事件不丢。
type ProcessedBlock struct {
	ID          uint   `gorm:"primaryKey"`
	Chain       string `gorm:"size:32;index:idx_chain_block,unique"`
	BlockNumber int64  `gorm:"index:idx_chain_block,unique"`
	BlockHash   string `gorm:"size:128"`
	CreatedAt   time.Time
}

// 原始链上日志：扫块器按 tx_hash+log_index 去重落库，处理器异步消费。
type OnchainEvent struct {
	ID          uint   `gorm:"primaryKey"`
	Chain       string `gorm:"size:32;uniqueIndex:idx_event_unique,priority:1"`
	BlockNumber int64  `gorm:"index"`
	BlockHash   string `gorm:"size:128"`
	TxHash      string `gorm:"size:128;uniqueIndex:idx_event_unique,priority:2"`
	LogIndex    int    `gorm:"uniqueIndex:idx_event_unique,priority:3"`
	Address     string `gorm:"size:128"`  // 产出日志的合约地址
	Topics      string `gorm:"type:text"` // JSON 编码的 topic 列表
	Data        []byte `gorm:"type:bytea"`
	Processed   bool   `gorm:"index"`
	CreatedAt   time.Time
}

// AutoMigrate 建表入口。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AccountBalance{},
		&WithdrawOrder{},
		&NonceCounter{},
		&DepositRecord{},
		&ProcessedBlock{},
		&OnchainEvent{},
	)
}
