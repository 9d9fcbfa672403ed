package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/paychan_backend/authsig"
	"github.com/paychan_backend/model"
	"github.com/paychan_backend/repository"
)

// LedgerConfig 账本参数。
type LedgerConfig struct {
	FeeRate      decimal.Decimal // 收益提现手续费率，从稳定币价值中先扣
	OrderTTL     time.Duration   // 超过此时长未确认的订单由清扫器过期
	UsdtDecimals int32
	XplDecimals  int32
}

// IssuedOrder 签发结果，原样返回给客户端提交链上交易。
type IssuedOrder struct {
	OrderID         string          `json:"order_id"`
	Kind            string          `json:"kind"`
	Nonce           uint64          `json:"nonce"`
	Signature       string          `json:"signature"`
	PayoutAmount    decimal.Decimal `json:"payout_amount"`
	PayoutAsset     string          `json:"payout_asset"`
	StablecoinValue decimal.Decimal `json:"stablecoin_value"`
	Rate            decimal.Decimal `json:"rate"`
}

// LedgerService 链下订单账本：签发提现授权、对账、过期清扫。
// 签发走唯一的互斥临界区，这是全系统仅有的串行点——同一授权
// key 的 nonce 空间里绝不允许出现两份同 nonce 的有效签名。
type LedgerService struct {
	db       *gorm.DB
	balances *repository.BalanceRepository
	orders   *repository.OrderRepository
	nonces   *repository.NonceRepository
	deposits *repository.DepositRepository
	signer   authsig.Signer
	rates    RateQuoter
	cfg      LedgerConfig
	logger   *zap.Logger

	mu  sync.Mutex
	now func() time.Time
}

func NewLedgerService(
	db *gorm.DB,
	balances *repository.BalanceRepository,
	orders *repository.OrderRepository,
	nonces *repository.NonceRepository,
	deposits *repository.DepositRepository,
	signer authsig.Signer,
	rates RateQuoter,
	cfg LedgerConfig,
	logger *zap.Logger,
) *LedgerService {
	return &LedgerService{
		db:       db,
		balances: balances,
		orders:   orders,
		nonces:   nonces,
		deposits: deposits,
		signer:   signer,
		rates:    rates,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Reserve 申请提现：校验余额、取汇率快照（收益）、分配 orderId 和
// nonce、签名、乐观扣减余额、落 pending 订单，整个在一个事务里。
// 签名失败会回滚事务，nonce 不会被烧掉。
func (s *LedgerService) Reserve(ctx context.Context, userID uint64, kind string, amount decimal.Decimal) (*IssuedOrder, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	// 超出稳定币精度的请求直接拒绝：多出来的小数位签不进 base-unit
	// 金额里，却会从余额里扣掉，变成收不回的粉尘
	if !amount.Equal(amount.Truncate(s.cfg.UsdtDecimals)) {
		return nil, fmt.Errorf("%w: at most %d decimal places", ErrInvalidAmount, s.cfg.UsdtDecimals)
	}
	if kind != model.KindPrincipal && kind != model.KindProfit {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	// 汇率快照在签名之前取：过期汇率直接拒单，不产生任何签名
	var quote RateQuote
	if kind == model.KindProfit {
		var err error
		quote, err = s.rates.Quote(ctx)
		if err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var issued *IssuedOrder
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bal, err := s.balances.GetByUserID(tx, userID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		recipient := common.HexToAddress(bal.WalletAddress)
		now := s.now()

		orderID := s.newOrderID(now, userID)
		authority := strings.ToLower(s.signer.Address().Hex())
		nonce, err := s.nonces.Allocate(tx, authority)
		if err != nil {
			return fmt.Errorf("allocate nonce: %w", err)
		}

		order := &model.WithdrawOrder{
			OrderID:         orderID,
			UserID:          userID,
			WalletAddress:   bal.WalletAddress,
			Kind:            kind,
			RequestedAmount: amount,
			Nonce:           nonce,
			Status:          model.OrderStatusPending,
		}

		var digest [32]byte
		switch kind {
		case model.KindPrincipal:
			if now.Before(bal.LockedUntil) {
				return fmt.Errorf("%w until %s", ErrPrincipalLocked, bal.LockedUntil.Format(time.RFC3339))
			}
			if bal.Principal.LessThan(amount) {
				return ErrInsufficientBalance
			}
			base := toBaseUnits(amount, s.cfg.UsdtDecimals)
			order.PayoutAmount = fromBaseUnits(base, s.cfg.UsdtDecimals)
			order.StablecoinValue = order.PayoutAmount
			order.PayoutAsset = model.AssetUsdt
			digest, err = authsig.PrincipalMessage{
				Recipient: recipient,
				Amount:    base,
				OrderID:   orderID,
				Nonce:     nonce,
			}.Digest()
			if err != nil {
				return err
			}
			bal.Principal = bal.Principal.Sub(amount)

		case model.KindProfit:
			if bal.Profit.LessThan(amount) {
				return ErrInsufficientBalance
			}
			fee := amount.Mul(s.cfg.FeeRate)
			stableValue := amount.Sub(fee)
			native := stableValue.DivRound(quote.Rate, 18)
			nativeBase := toBaseUnits(native, s.cfg.XplDecimals)
			stableBase := toBaseUnits(stableValue, s.cfg.UsdtDecimals)
			order.PayoutAmount = fromBaseUnits(nativeBase, s.cfg.XplDecimals)
			order.StablecoinValue = fromBaseUnits(stableBase, s.cfg.UsdtDecimals)
			order.PayoutAsset = model.AssetXpl
			order.Rate = quote.Rate
			order.RateSource = quote.Source
			order.RateObservedAt = quote.ObservedAt
			digest, err = authsig.ProfitMessage{
				Recipient:       recipient,
				NativeAmount:    nativeBase,
				StablecoinValue: stableBase,
				OrderID:         orderID,
				Nonce:           nonce,
			}.Digest()
			if err != nil {
				return err
			}
			bal.Profit = bal.Profit.Sub(amount)
		}

		sig, err := s.signer.Sign(ctx, digest)
		if err != nil {
			// 事务回滚，nonce 计数不前进，余额不动
			return fmt.Errorf("%w: %v", ErrSignerUnavailable, err)
		}
		order.Signature = "0x" + common.Bytes2Hex(sig)

		if err := s.balances.Save(tx, bal); err != nil {
			return err
		}
		if err := s.orders.Create(tx, order); err != nil {
			return err
		}

		issued = &IssuedOrder{
			OrderID:         order.OrderID,
			Kind:            order.Kind,
			Nonce:           order.Nonce,
			Signature:       order.Signature,
			PayoutAmount:    order.PayoutAmount,
			PayoutAsset:     order.PayoutAsset,
			StablecoinValue: order.StablecoinValue,
			Rate:            order.Rate,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("withdrawal order issued",
		zap.String("order_id", issued.OrderID),
		zap.String("kind", issued.Kind),
		zap.Uint64("nonce", issued.Nonce))
	return issued, nil
}

// MarkSubmitted 客户端上报交易哈希：pending → on_chain_submitted。
// 已提交/已确认时幂等返回。
func (s *LedgerService) MarkSubmitted(ctx context.Context, orderID, txHash string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orders.GetByOrderID(tx, orderID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		switch order.Status {
		case model.OrderStatusPending:
			order.Status = model.OrderStatusSubmitted
			order.TxHash = &txHash
			return s.orders.Save(tx, order)
		case model.OrderStatusSubmitted, model.OrderStatusConfirmed:
			return nil
		default:
			return ErrOrderExpired
		}
	})
}

// Reconcile 链上事件回账：任意状态只确认一次，重复投递是空操作。
// 对账永远赢过过期——清扫器先过期了订单、事件又到达时，重新扣回
// 已恢复的余额并确认。
func (s *LedgerService) Reconcile(ctx context.Context, orderID, txHash string, blockNumber int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orders.GetByOrderID(tx, orderID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if order.Status == model.OrderStatusConfirmed {
			return nil
		}
		if order.Status == model.OrderStatusExpired || order.Status == model.OrderStatusFailed {
			bal, err := s.balances.GetByUserID(tx, order.UserID)
			if err != nil {
				return err
			}
			s.applyDebit(bal, order)
			if err := s.balances.Save(tx, bal); err != nil {
				return err
			}
			s.logger.Warn("order confirmed after expiry, reservation re-applied",
				zap.String("order_id", orderID))
		}
		now := s.now()
		order.Status = model.OrderStatusConfirmed
		order.TxHash = &txHash
		order.BlockNumber = &blockNumber
		order.ConfirmedAt = &now
		return s.orders.Save(tx, order)
	})
}

// Expire 过期清扫：恢复乐观扣减的余额，nonce 保持烧毁不复用。
// 已确认的订单不会被扫到（对账优先）。
func (s *LedgerService) Expire(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.cfg.OrderTTL)
	expired := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale, err := s.orders.FindStale(tx, cutoff, 200)
		if err != nil {
			return err
		}
		for _, order := range stale {
			bal, err := s.balances.GetByUserID(tx, order.UserID)
			if err != nil {
				return err
			}
			s.applyCredit(bal, order)
			if err := s.balances.Save(tx, bal); err != nil {
				return err
			}
			order.Status = model.OrderStatusExpired
			if err := s.orders.Save(tx, order); err != nil {
				return err
			}
			expired++
			s.logger.Info("withdrawal order expired, reservation restored",
				zap.String("order_id", order.OrderID),
				zap.Uint64("nonce", order.Nonce))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}

// CreditDeposit 充值事件入账，按 orderId+txHash 幂等。
// 和签发/对账/清扫共用同一临界区：余额的读-改-写不允许和
// 任何在途扣减交错，否则入账会被并发提交覆盖掉。
func (s *LedgerService) CreditDeposit(ctx context.Context, wallet string, amount decimal.Decimal, orderID, txHash string, blockNumber int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dup, err := s.deposits.Exists(tx, orderID, txHash)
		if err != nil {
			return err
		}
		if dup {
			return nil
		}
		bal, err := s.balances.GetOrCreateByWallet(tx, wallet)
		if err != nil {
			return err
		}
		bal.Principal = bal.Principal.Add(amount)
		if err := s.balances.Save(tx, bal); err != nil {
			return err
		}
		return s.deposits.Create(tx, &model.DepositRecord{
			UserID:        bal.UserID,
			WalletAddress: bal.WalletAddress,
			OrderID:       orderID,
			TxHash:        txHash,
			Amount:        amount,
			BlockNumber:   blockNumber,
		})
	})
}

// SyncNonce 从链上状态向前追平本地 nonce 计数。
func (s *LedgerService) SyncNonce(ctx context.Context, next uint64) error {
	authority := strings.ToLower(s.signer.Address().Hex())
	return s.nonces.SyncForward(s.db.WithContext(ctx), authority, next)
}

// AccountByWallet 登录/首充时按钱包地址取账户，不存在则建零余额账户。
func (s *LedgerService) AccountByWallet(ctx context.Context, wallet string) (*model.AccountBalance, error) {
	return s.balances.GetOrCreateByWallet(s.db.WithContext(ctx), wallet)
}

func (s *LedgerService) Balance(ctx context.Context, userID uint64) (*model.AccountBalance, error) {
	bal, err := s.balances.GetByUserID(s.db.WithContext(ctx), userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	return bal, err
}

func (s *LedgerService) Order(ctx context.Context, orderID string) (*model.WithdrawOrder, error) {
	order, err := s.orders.GetByOrderID(s.db.WithContext(ctx), orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	return order, err
}

func (s *LedgerService) WithdrawHistory(userID uint64, page, size int) ([]*model.WithdrawOrder, int64, error) {
	return s.orders.ListByUser(userID, page, size)
}

func (s *LedgerService) DepositHistory(userID uint64, page, size int) ([]*model.DepositRecord, int64, error) {
	return s.deposits.ListByUser(userID, page, size)
}

func (s *LedgerService) applyDebit(bal *model.AccountBalance, order *model.WithdrawOrder) {
	if order.Kind == model.KindPrincipal {
		bal.Principal = bal.Principal.Sub(order.RequestedAmount)
	} else {
		bal.Profit = bal.Profit.Sub(order.RequestedAmount)
	}
}

func (s *LedgerService) applyCredit(bal *model.AccountBalance, order *model.WithdrawOrder) {
	if order.Kind == model.KindPrincipal {
		bal.Principal = bal.Principal.Add(order.RequestedAmount)
	} else {
		bal.Profit = bal.Profit.Add(order.RequestedAmount)
	}
}

// newOrderID 可读订单号：时间戳 + 账户后缀 + 随机段。
func (s *LedgerService) newOrderID(now time.Time, userID uint64) string {
	return fmt.Sprintf("W-%s-%d-%s", now.UTC().Format("20060102150405"), userID, strings.Split(uuid.NewString(), "-")[0])
}

func toBaseUnits(d decimal.Decimal, decimals int32) *big.Int {
	return d.Shift(decimals).Truncate(0).BigInt()
}

func fromBaseUnits(v *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(v, -decimals)
}
