package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/paychan_backend/model"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(tx *gorm.DB, order *model.WithdrawOrder) error {
	return tx.Create(order).Error
}

func (r *OrderRepository) GetByOrderID(tx *gorm.DB, orderID string) (*model.WithdrawOrder, error) {
	var order model.WithdrawOrder
	if err := tx.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) Save(tx *gorm.DB, order *model.WithdrawOrder) error {
	return tx.Save(order).Error
}

// FindStale 找出超时未落账的订单，过期清扫用。
func (r *OrderRepository) FindStale(tx *gorm.DB, cutoff time.Time, limit int) ([]*model.WithdrawOrder, error) {
	var orders []*model.WithdrawOrder
	if err := tx.
		Where("status IN ? AND created_at < ?",
			[]string{model.OrderStatusPending, model.OrderStatusSubmitted}, cutoff).
		Order("id asc").Limit(limit).Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *OrderRepository) ListByUser(userID uint64, page, size int) ([]*model.WithdrawOrder, int64, error) {
	var list []*model.WithdrawOrder
	var total int64
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size
	r.db.Model(&model.WithdrawOrder{}).Where("user_id = ?", userID).Count(&total)
	if err := r.db.Where("user_id = ?", userID).
		Order("id desc").Offset(offset).Limit(size).Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}
