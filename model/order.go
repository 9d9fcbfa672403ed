package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 提现订单状态机：pending → on_chain_submitted → confirmed | failed | expired
const (
	OrderStatusPending   = "pending"
	OrderStatusSubmitted = "on_chain_submitted"
	OrderStatusConfirmed = "confirmed"
	OrderStatusFailed    = "failed"
	OrderStatusExpired   = "expired"
)

// 提现类型
const (
	KindPrincipal = "principal" // 本金，1:1 稳定币
	KindProfit    = "profit"    // 收益，按汇率快照折算成原生代币
)

// 出金资产
const (
	AssetUsdt = "USDT"
	AssetXpl  = "XPL"
)

// 账户余额表：链下权威账本。本金只随链上充提事件变动，
// 收益在下单时乐观扣减、失败时恢复。
type AccountBalance struct {
	UserID        uint64          `gorm:"primaryKey;autoIncrement" json:"user_id"`
	WalletAddress string          `gorm:"size:64;uniqueIndex" json:"wallet_address"` // 小写存储
	Principal     decimal.Decimal `gorm:"type:decimal(32,8)" json:"principal"`
	Profit        decimal.Decimal `gorm:"type:decimal(32,8)" json:"profit"`
	LockedUntil   time.Time       `json:"locked_until"` // 此前本金不可提
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// 提现订单表：一条订单对应一次签名授权。OrderID 在授权 key 的
// nonce 空间生命周期内全局唯一，是链上事件对账的关键。
type WithdrawOrder struct {
	ID              uint            `gorm:"primaryKey" json:"-"`
	OrderID         string          `gorm:"size:64;uniqueIndex" json:"order_id"`
	UserID          uint64          `gorm:"index" json:"user_id"`
	WalletAddress   string          `gorm:"size:64;index" json:"wallet_address"`
	Kind            string          `gorm:"size:16" json:"kind"`
	RequestedAmount decimal.Decimal `gorm:"type:decimal(32,8)" json:"requested_amount"` // 稳定币计
	PayoutAmount    decimal.Decimal `gorm:"type:decimal(32,18)" json:"payout_amount"`   // 实际授权出金
	StablecoinValue decimal.Decimal `gorm:"type:decimal(32,8)" json:"stablecoin_value"` // 签名绑定的稳定币价值
	PayoutAsset     string          `gorm:"size:8" json:"payout_asset"`
	Nonce           uint64          `gorm:"uniqueIndex" json:"nonce"`
	Signature       string          `gorm:"size:256" json:"signature"` // 0x 前缀 hex
	Status          string          `gorm:"size:24;index" json:"status"`
	TxHash          *string         `gorm:"size:128" json:"tx_hash,omitempty"`
	BlockNumber     *int64          `json:"block_number,omitempty"`
	ConfirmedAt     *time.Time      `json:"confirmed_at,omitempty"`

	// 汇率快照（仅收益提现），留痕供审计
	Rate           decimal.Decimal `gorm:"type:decimal(32,18)" json:"rate"`
	RateSource     string          `gorm:"size:64" json:"rate_source"`
	RateObservedAt time.Time       `json:"rate_observed_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Nonce 计数表：每个授权地址一行，链下计数只是建议值，
// 链上消耗记录才是事实源，不一致时向前追平。
type NonceCounter struct {
	Authority string    `gorm:"primaryKey;size:64"`
	NextNonce uint64    `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

// 充值入账表：按 order_id + tx_hash 去重，事件重复投递不会重复记账。
type DepositRecord struct {
	ID            uint            `gorm:"primaryKey" json:"-"`
	UserID        uint64          `gorm:"index" json:"user_id"`
	WalletAddress string          `gorm:"size:64;index" json:"wallet_address"`
	OrderID       string          `gorm:"size:64;index:idx_deposit_unique,unique" json:"order_id"`
	TxHash        string          `gorm:"size:128;index:idx_deposit_unique,unique" json:"tx_hash"`
	Amount        decimal.Decimal `gorm:"type:decimal(32,8)" json:"amount"`
	BlockNumber   int64           `json:"block_number"`
	CreatedAt     time.Time       `json:"created_at"`
}
