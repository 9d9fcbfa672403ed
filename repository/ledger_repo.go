package repository

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/paychan_backend/model"
)

// 账本相关仓储。方法接收执行器（*gorm.DB，可以是事务句柄），
// 订单服务在一个事务里串起余额、nonce 和订单三张表。

type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

func (r *BalanceRepository) DB() *gorm.DB { return r.db }

func (r *BalanceRepository) GetByUserID(tx *gorm.DB, userID uint64) (*model.AccountBalance, error) {
	var b model.AccountBalance
	if err := tx.Where("user_id = ?", userID).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BalanceRepository) GetByWallet(tx *gorm.DB, wallet string) (*model.AccountBalance, error) {
	var b model.AccountBalance
	if err := tx.Where("wallet_address = ?", strings.ToLower(wallet)).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// GetOrCreateByWallet 首次见到的地址建一条零余额记录（登录或首笔充值时）。
func (r *BalanceRepository) GetOrCreateByWallet(tx *gorm.DB, wallet string) (*model.AccountBalance, error) {
	wallet = strings.ToLower(wallet)
	b, err := r.GetByWallet(tx, wallet)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	nb := model.AccountBalance{WalletAddress: wallet}
	if err := tx.Create(&nb).Error; err != nil {
		return nil, err
	}
	return &nb, nil
}

func (r *BalanceRepository) Save(tx *gorm.DB, b *model.AccountBalance) error {
	return tx.Save(b).Error
}

type NonceRepository struct {
	db *gorm.DB
}

func NewNonceRepository(db *gorm.DB) *NonceRepository {
	return &NonceRepository{db: db}
}

// Allocate 在当前事务内取出并递增授权地址的下一个 nonce。
// 调用方负责串行化（订单服务的签发临界区）。
func (r *NonceRepository) Allocate(tx *gorm.DB, authority string) (uint64, error) {
	authority = strings.ToLower(authority)
	var counter model.NonceCounter
	err := tx.Where("authority = ?", authority).First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		counter = model.NonceCounter{Authority: authority, NextNonce: 0}
		if err := tx.Create(&counter).Error; err != nil {
			return 0, err
		}
	} else if err != nil {
		return 0, err
	}
	nonce := counter.NextNonce
	if err := tx.Model(&model.NonceCounter{}).
		Where("authority = ?", authority).
		Updates(map[string]interface{}{"next_nonce": nonce + 1, "updated_at": time.Now()}).Error; err != nil {
		return 0, err
	}
	return nonce, nil
}

// SyncForward 链上计数领先时向前追平，绝不回退（已分配的 nonce 视为烧掉）。
func (r *NonceRepository) SyncForward(tx *gorm.DB, authority string, next uint64) error {
	authority = strings.ToLower(authority)
	var counter model.NonceCounter
	err := tx.Where("authority = ?", authority).First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(&model.NonceCounter{Authority: authority, NextNonce: next}).Error
	}
	if err != nil {
		return err
	}
	if next <= counter.NextNonce {
		return nil
	}
	return tx.Model(&model.NonceCounter{}).
		Where("authority = ?", authority).
		Update("next_nonce", next).Error
}

type DepositRepository struct {
	db *gorm.DB
}

func NewDepositRepository(db *gorm.DB) *DepositRepository {
	return &DepositRepository{db: db}
}

func (r *DepositRepository) Exists(tx *gorm.DB, orderID, txHash string) (bool, error) {
	var count int64
	if err := tx.Model(&model.DepositRecord{}).
		Where("order_id = ? AND tx_hash = ?", orderID, txHash).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *DepositRepository) Create(tx *gorm.DB, rec *model.DepositRecord) error {
	return tx.Create(rec).Error
}

func (r *DepositRepository) ListByUser(userID uint64, page, size int) ([]*model.DepositRecord, int64, error) {
	var list []*model.DepositRecord
	var total int64
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size
	r.db.Model(&model.DepositRecord{}).Where("user_id = ?", userID).Count(&total)
	if err := r.db.Where("user_id = ?", userID).
		Order("id desc").Offset(offset).Limit(size).Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}
