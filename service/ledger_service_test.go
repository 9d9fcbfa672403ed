package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/paychan_backend/authsig"
	"github.com/paychan_backend/model"
	"github.com/paychan_backend/repository"
)

const (
	// hardhat 默认测试账户 #0
	testAuthorityPriv = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testWallet        = "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"
)

var testDBCounter atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:ledgertest%d?mode=memory&cache=shared", testDBCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(db))
	return db
}

type stubQuoter struct {
	quote RateQuote
	err   error
}

func (s *stubQuoter) Quote(ctx context.Context) (RateQuote, error) {
	if s.err != nil {
		return RateQuote{}, s.err
	}
	return s.quote, nil
}

type failingSigner struct{ addr common.Address }

func (f failingSigner) Sign(ctx context.Context, digest [32]byte) ([]byte, error) {
	return nil, errors.New("hsm offline")
}
func (f failingSigner) Address() common.Address { return f.addr }

type ledgerFixture struct {
	db     *gorm.DB
	svc    *LedgerService
	signer *authsig.LocalSigner
	quoter *stubQuoter
}

func newLedgerFixture(t *testing.T, cfg LedgerConfig) *ledgerFixture {
	t.Helper()
	db := newTestDB(t)
	signer, err := authsig.NewLocalSigner(testAuthorityPriv)
	require.NoError(t, err)
	quoter := &stubQuoter{quote: RateQuote{
		Rate:       decimal.RequireFromString("0.09"),
		Source:     "test-oracle",
		ObservedAt: time.Now(),
	}}
	svc := NewLedgerService(db,
		repository.NewBalanceRepository(db),
		repository.NewOrderRepository(db),
		repository.NewNonceRepository(db),
		repository.NewDepositRepository(db),
		signer, quoter, cfg, zap.NewNop())
	return &ledgerFixture{db: db, svc: svc, signer: signer, quoter: quoter}
}

func defaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		FeeRate:      decimal.Zero,
		OrderTTL:     15 * time.Minute,
		UsdtDecimals: 6,
		XplDecimals:  18,
	}
}

// seedAccount 建账户并直接写入初始余额。
func (f *ledgerFixture) seedAccount(t *testing.T, principal, profit string) *model.AccountBalance {
	t.Helper()
	bal, err := f.svc.AccountByWallet(context.Background(), testWallet)
	require.NoError(t, err)
	bal.Principal = decimal.RequireFromString(principal)
	bal.Profit = decimal.RequireFromString(profit)
	require.NoError(t, f.db.Save(bal).Error)
	return bal
}

func (f *ledgerFixture) balance(t *testing.T, userID uint64) *model.AccountBalance {
	t.Helper()
	bal, err := f.svc.Balance(context.Background(), userID)
	require.NoError(t, err)
	return bal
}

func decodeSig(t *testing.T, sigHex string) []byte {
	t.Helper()
	require.True(t, len(sigHex) > 2 && sigHex[:2] == "0x")
	return common.FromHex(sigHex)
}

func TestReserve_Principal(t *testing.T) {
	f := newLedgerFixture(t, defaultLedgerConfig())
	acct := f.seedAccount(t, "500", "0")
	ctx := context.Background()

	issued, err := f.svc.Reserve(ctx, acct.UserID, model.KindPrincipal, decimal.RequireFromString("200"))
	require.NoError(t, err)

	assert.Equal(t, model.KindPrincipal, issued.Kind)
	assert.Equal(t, model.AssetUsdt, issued.PayoutAsset)
	assert.True(t, issued.PayoutAmount.Equal(decimal.RequireFromString("200")))
	assert.True(t, issued.StablecoinValue.Equal(decimal.RequireFromString("200")))

	// 乐观扣减立即生效
	assert.True(t, f.balance(t, acct.UserID).Principal.Equal(decimal.RequireFromString("300")))

	// 签名必须能通过链上镜像的校验
	digest, err := authsig.PrincipalMessage{
		Recipient: common.HexToAddress(testWallet),
		Amount:    issued.PayoutAmount.Shift(6).BigInt(),
		OrderID:   issued.OrderID,
		Nonce:     issued.Nonce,
	}.Digest()
	require.NoError(t, err)
	assert.NoError(t, authsig.Verify(digest, decodeSig(t, issued.Signature), f.signer.Address()))

	order, err := f.svc.Order(ctx, issued.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.True(t, order.RequestedAmount.Equal(decimal.RequireFromString("200")))
}

func TestReserve_NonceMonotonic(t *testing.T) {
	f := newLedgerFixture(t, defaultLedgerConfig())
	acct := f.seedAccount(t, "500", "0")
	ctx := context.Background()

	first, err := f.svc.Reserve(ctx, acct.UserID, model.KindPrincipal, decimal.RequireFromString("10"))
	require.NoError(t, err)
	second, err := f.svc.Reserve(ctx, acct.UserID, model.KindPrincipal, decimal.RequireFromString("10"))
	require.NoError(t, err)

	assert.Equal(t, first.Nonce+1, second.Nonce)
	assert.NotEqual(t, first.OrderID, second.OrderID)
}

func TestReserve_Validation(t *testing.T) {
	f := newLedgerFixture(t, defaultLedgerConfig())
	acct := f.seedAccount(t, "100", "5")
	ctx := context.Background()

	t.Run("zero amount", func(t *testing.T) {
		_, err := f.svc.Reserve(ctx, acct.UserID, model.KindPrincipal, decimal.Zero)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
	t.Run("negative amount", func(t *testing.T) {
		_, err := f.svc.Reserve(ctx, acct.UserID, model.KindPrincipal, decimal.RequireFromString("-1"))
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
	t.Run("over-precise amount", func(t *testing.T) {
		// 第 7 位小数进不了 6 位精度的 base-unit 金额，扣了也提不出来
		_, err := f.svc.Reserve(ctx, acct.UserID, model.KindPrincipal, decimal.RequireFromString("10.0000001"))
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.True(t, f.balance(t, acct.UserID).Principal.Equal(decimal.RequireFromString("100")))
	})
	t.Run("unknown kind", func(t *testing.T) {
		_, err := f.svc.Reserve(ctx, acct.UserID, "bonus", decimal.RequireFromString("1"))
		assert.ErrorIs(t, err, ErrInvalidKind)
	})
	t.Run("unknown account", func(t *testing.T) {
		_, err := f.svc.Reserve(ctx, 9999, model.KindPrincipal, decimal.RequireFromString("1"))
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
	t.Run("insufficient principal", func(t *testing.T) {
		_, err := f.svc.Reserve(ctx, acct.UserID, model.KindPrincipal, decimal.RequireFromString("100.01"))
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.True(t, f.balance(t, acct.UserID).Principal.Equal(decimal.RequireFromString("100")))
	})
	t.Run("insufficient profit", func(t *testing.T) {
		_, err := f.svc.Reserve(ctx, acct.UserID, model.KindProfit, decimal.RequireFromString("6"))
		assert.ErrorIs(t, err, ErrInsufficientBalance)
	})
}

func TestReserve_PrincipalLocked(t *testing.T) {
	f := newLedgerFixture(t, defaultLedgerConfig())
	acct := f.seedAccount(t, "100", "50")
	acct.LockedUntil = time.Now().Add(24 * time.Hour)
	require.NoError(t, f.db.Save(acct).Error)
	ctx := context.Background()

	_, err := f.svc.Reserve(ctx, acct.UserID, model.KindPrincipal, decimal.RequireFromString("10"))
	assert.ErrorIs(t, err, ErrPrincipalLocked)

	// 锁定期只约束本金，收益不受影响
	_, err = f.svc.Reserve(ctx, acct.UserID, model.KindProfit, decimal.RequireFromString("10"))
	assert.NoError(t, err)
}

// 收益提现折算：10 USDT 等值、汇率 0.09、零手续费 → 111.111... XPL。
func TestReserve_ProfitConversion(t *testing.T) {
	f := newLedgerFixture(t, defaultLedgerConfig())
	acct := f.seedAccount(t, "0", "50")
	ctx := context.Background()

	issued, err := f.svc.Reserve(ctx, acct.UserID, model.KindProfit, decimal.RequireFromString("10"))
	require.NoError(t, err)

	assert.Equal(t, model.AssetXpl, issued.PayoutAsset)
	assert.True(t, issued.PayoutAmount.Equal(decimal.RequireFromString("111.111111111111111111")),
		"got %s", issued.PayoutAmount)
	assert.True(t, issued.StablecoinValue.Equal(decimal.RequireFromString("10")))
	assert.True(t, issued.Rate.Equal(decimal.RequireFromString("0.09")))

	// 签名绑定的是两个 base-unit 金额
	digest, err := authsig.ProfitMessage{
		Recipient:       common.HexToAddress(testWallet),
		NativeAmount:    issued.PayoutAmount.Shift(18).BigInt(),
		StablecoinValue: issued.StablecoinValue.Shift(6).BigInt(),
		OrderID:         issued.OrderID,
		Nonce:           issued.Nonce,
	}.Digest()
	require.NoError(t, err)
	assert.NoError(t, authsig.Verify(digest, decodeSig(t, issued.Signature), f.signer.Address()))

	assert.True(t, f.balance(t, acct.UserID).Profit.Equal(decimal.RequireFromString("40")))

	// 汇率快照留痕
	order, err := f.svc.Order(ctx, issued.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "test-oracle", order.RateSource)
	assert.False(t, order.RateObservedAt.IsZero())
}

func TestReserve_ProfitFeeDeductedBeforeConversion(t *testing.T) {
	cfg := defaultLedgerConfig()
	cfg.FeeRate = decimal.RequireFromString("0.05")
	f := newLedgerFixture(t, cfg)
	acct := f.seedAccount(t, "0", "50")

	issued, err := f.svc.Reserve(context.Background(), acct.UserID, model.KindProfit, decimal.RequireFromString("10"))
	require.NoError(t, err)

	// 10 - 5% = 9.5 USDT 等值，9.5 / 0.09 = 105.555...556 XPL
	assert.True(t, issued.StablecoinValue.Equal(decimal.RequireFromString("9.5")))
	assert.True(t, issued.PayoutAmount.Equal(decimal.RequireFromString("105.555555555555555556")),
		"got %s", issued.PayoutAmount)

	// 账户扣的是请求全额
	assert.True(t, f.balance(t, acct.UserID).Profit.Equal(decimal.RequireFromString("40")))
}

// 过期汇率必须在签名之前拒单：没有订单、没有签名、nonce 不前进。
func TestReserve_StaleRateRejectedBeforeSigning(t *testing.T) {
	f := newLedgerFixture(t, defaultLedgerConfig())
	acct := f.seedAccount(t, "0", "50")
	ctx := context.Background()

	f.quoter.err = fmt.Errorf("%w: oracle outage", ErrRateStale)
	_, err := f.svc.Reserve(ctx, acct.UserID, model.KindProfit, decimal.RequireFromString("10"))
	assert.ErrorIs(t, err, ErrRateStale)
	assert.True(t, IsRetryable(err))

	var orderCount int64
	f.db.Model(&model.WithdrawOrder{}).Count(&orderCount)
	assert.Zero(t, orderCount)
	assert.True(t, f.balance(t, acct.UserID).Profit.Equal(decimal.RequireFromString("50")))

	// 恢复后第一张订单仍然拿到 nonce 0
	f.quoter.err = nil
	issued, err := f.svc.Reserve(ctx, acct.UserID, model.KindProfit, decimal.RequireFromString("10"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), issued.Nonce)
}

// 签名失败回滚整个事务：nonce 不被烧掉，余额不动。
func TestReserve_SignerFailureDoesNotBurnNonce(t *testing.T) {
	f := newLedgerFixture(t, defaultLedgerConfig())
	acct := f.seedAccount(t, "500", "0")
	ctx := context.Background()

	good := f.svc.signer
	f.svc.signer = failingSigner{addr: good.Address()}

	_, err := f.svc.Reserve(ctx, acct.UserID, model.KindPrincipal, decimal.RequireFromString("100"))
	assert.ErrorIs(t, err, ErrSignerUnavailable)
	assert.True(t, f.balance(t, acct.UserID).Principal.Equal(decimal.RequireFromString("500")))

	f.svc.signer = good
	issued, err := f.svc.Reserve(ctx, acct.UserID, model.KindPrincipal, decimal.RequireFromString("100"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), issued.Nonce, "rolled-back allocation must not advance the counter")
}

// 两个并发请求加起来会透支余额时，只允许一单成交。
func TestReserve_ConcurrentOverdraw(t *testing.T) {
	f := newLedgerFixture(t, defaultLedgerConfig())
	acct := f.seedAccount(t, "0", "100")
	ctx := context.Background()

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := f.svc.Reserve(ctx, acct.UserID, model.KindProfit, decimal.RequireFromString("60"))
			results <- err
		}()
	}
	var failures int
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			assert.ErrorIs(t, err, ErrInsufficientBalance)
			failures++
		}
	}
	assert.Equal(t, 1, failures, "exactly one of the two reservations must fail")
	assert.True(t, f.balance(t, acct.UserID).Profit.Equal(decimal.RequireFromString("40")))
}

func TestMarkSubmitted(t *testing.T) {
	f := newLedgerFixture(t, defaultLedgerConfig())
	acct := f.seedAccount(t, "500", "0")
	ctx := context.Background()

	issued, err := f.svc.Reserve(ctx, acct.UserID, model.KindPrincipal, decimal.RequireFromString("100"))
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkSubmitted(ctx, issued.OrderID, "0xtx1"))
	order, err := f.svc.Order(ctx, issued.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusSubmitted, order.Status)
	require.NotNil(t, order.TxHash)
	assert.Equal(t, "0xtx1", *order.TxHash)

	// 幂等
	assert.NoError(t, f.svc.MarkSubmitted(ctx, issued.OrderID, "0xtx1"))

	assert.ErrorIs(t, f.svc.MarkSubmitted(ctx, "W-missing", "0xtx"), ErrOrderNotFound)
}

func TestReconcile_Idempotent(t *testing.T) {
	f := newLedgerFixture(t, defaultLedgerConfig())
	acct := f.seedAccount(t, "500", "0")
	ctx := context.Background()

	issued, err := f.svc.Reserve(ctx, acct.UserID, model.KindPrincipal, decimal.RequireFromString("100"))
	require.NoError(t, err)

	require.NoError(t, f.svc.Reconcile(ctx, issued.OrderID, "0xtx1", 42))
	order, err := f.svc.Order(ctx, issued.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusConfirmed, order.Status)
	require.NotNil(t, order.BlockNumber)
	assert.Equal(t, int64(42), *order.BlockNumber)
	assert.NotNil(t, order.ConfirmedAt)

	balAfter := f.balance(t, acct.UserID).Principal

	// 事件重复投递：状态和余额都不再变
	require.NoError(t, f.svc.Reconcile(ctx, issued.OrderID, "0xtx1", 42))
	assert.True(t, f.balance(t, acct.UserID).Principal.Equal(balAfter))

	assert.ErrorIs(t, f.svc.Reconcile(ctx, "W-missing", "0xtx", 1), ErrOrderNotFound)
}

func TestExpire_RestoresReservation(t *testing.T) {
	f := newLedgerFixture(t, defaultLedgerConfig())
	acct := f.seedAccount(t, "500", "0")
	ctx := context.Background()

	issued, err := f.svc.Reserve(ctx, acct.UserID, model.KindPrincipal, decimal.RequireFromString("100"))
	require.NoError(t, err)
	assert.True(t, f.balance(t, acct.UserID).Principal.Equal(decimal.RequireFromString("400")))

	// 把订单做旧到 TTL 之外
	require.NoError(t, f.db.Model(&model.WithdrawOrder{}).
		Where("order_id = ?", issued.OrderID).
		Update("created_at", time.Now().Add(-time.Hour)).Error)

	n, err := f.svc.Expire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	order, err := f.svc.Order(ctx, issued.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusExpired, order.Status)
	assert.True(t, f.balance(t, acct.UserID).Principal.Equal(decimal.RequireFromString("500")))

	// nonce 保持烧毁：下一张订单拿新 nonce
	next, err := f.svc.Reserve(ctx, acct.UserID, model.KindPrincipal, decimal.RequireFromString("10"))
	require.NoError(t, err)
	assert.Equal(t, issued.Nonce+1, next.Nonce)

	// 过期订单不能再上报提交
	assert.ErrorIs(t, f.svc.MarkSubmitted(ctx, issued.OrderID, "0xtx"), ErrOrderExpired)
}

func TestExpire_SkipsFreshAndConfirmed(t *testing.T) {
	f := newLedgerFixture(t, defaultLedgerConfig())
	acct := f.seedAccount(t, "500", "0")
	ctx := context.Background()

	fresh, err := f.svc.Reserve(ctx, acct.UserID, model.KindPrincipal, decimal.RequireFromString("10"))
	require.NoError(t, err)
	confirmed, err := f.svc.Reserve(ctx, acct.UserID, model.KindPrincipal, decimal.RequireFromString("20"))
	require.NoError(t, err)
	require.NoError(t, f.svc.Reconcile(ctx, confirmed.OrderID, "0xtx", 7))

	// 已确认的订单即便超龄也不会被扫到
	require.NoError(t, f.db.Model(&model.WithdrawOrder{}).
		Where("order_id = ?", confirmed.OrderID).
		Update("created_at", time.Now().Add(-time.Hour)).Error)

	n, err := f.svc.Expire(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	order, err := f.svc.Order(ctx, fresh.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, order.Status)
}

// 对账赢过过期：清扫器先恢复了余额，链上事件又到达时重新扣回。
func TestReconcile_WinsOverExpire(t *testing.T) {
	f := newLedgerFixture(t, defaultLedgerConfig())
	acct := f.seedAccount(t, "500", "0")
	ctx := context.Background()

	issued, err := f.svc.Reserve(ctx, acct.UserID, model.KindPrincipal, decimal.RequireFromString("100"))
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&model.WithdrawOrder{}).
		Where("order_id = ?", issued.OrderID).
		Update("created_at", time.Now().Add(-time.Hour)).Error)
	n, err := f.svc.Expire(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.True(t, f.balance(t, acct.UserID).Principal.Equal(decimal.RequireFromString("500")))

	// 迟到的链上确认
	require.NoError(t, f.svc.Reconcile(ctx, issued.OrderID, "0xlate", 99))

	order, err := f.svc.Order(ctx, issued.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusConfirmed, order.Status)
	assert.True(t, f.balance(t, acct.UserID).Principal.Equal(decimal.RequireFromString("400")),
		"reservation must be re-applied when a confirmed order was expired")
}

func TestCreditDeposit_Idempotent(t *testing.T) {
	f := newLedgerFixture(t, defaultLedgerConfig())
	ctx := context.Background()

	amount := decimal.RequireFromString("500")
	require.NoError(t, f.svc.CreditDeposit(ctx, testWallet, amount, "D-1", "0xdep1", 10))

	bal, err := f.svc.AccountByWallet(ctx, testWallet)
	require.NoError(t, err)
	assert.True(t, bal.Principal.Equal(amount))

	// 同一事件重复投递不重复记账
	require.NoError(t, f.svc.CreditDeposit(ctx, testWallet, amount, "D-1", "0xdep1", 10))
	bal = f.balance(t, bal.UserID)
	assert.True(t, bal.Principal.Equal(amount))

	// 同 orderId 不同 txHash 视为新事件（链上重试产生的新交易）
	require.NoError(t, f.svc.CreditDeposit(ctx, testWallet, amount, "D-1", "0xdep2", 11))
	bal = f.balance(t, bal.UserID)
	assert.True(t, bal.Principal.Equal(decimal.RequireFromString("1000")))

	list, total, err := f.svc.DepositHistory(bal.UserID, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, list, 2)
}

// 入账和签发共享同一临界区：签发在途时充值入账必须等待，
// 否则两边对同一行余额的读-改-写会互相覆盖。
func TestCreditDeposit_SerializedWithIssuance(t *testing.T) {
	f := newLedgerFixture(t, defaultLedgerConfig())
	f.seedAccount(t, "100", "0")
	ctx := context.Background()

	f.svc.mu.Lock()
	done := make(chan error, 1)
	go func() {
		done <- f.svc.CreditDeposit(ctx, testWallet, decimal.RequireFromString("50"), "D-9", "0xdep9", 3)
	}()

	select {
	case err := <-done:
		t.Fatalf("credit committed while the issuance critical section was held: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	f.svc.mu.Unlock()
	require.NoError(t, <-done)

	bal, err := f.svc.AccountByWallet(ctx, testWallet)
	require.NoError(t, err)
	assert.True(t, bal.Principal.Equal(decimal.RequireFromString("150")))
}

// 混合并发：充值和提现签发交错时余额守恒，入账不会被覆盖丢失。
func TestCreditDeposit_NoLostUpdateUnderConcurrency(t *testing.T) {
	f := newLedgerFixture(t, defaultLedgerConfig())
	acct := f.seedAccount(t, "100", "0")
	ctx := context.Background()

	const rounds = 5
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			err := f.svc.CreditDeposit(ctx, testWallet,
				decimal.RequireFromString("10"), fmt.Sprintf("D-%d", i), fmt.Sprintf("0xdep%d", i), int64(i))
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			_, err := f.svc.Reserve(ctx, acct.UserID, model.KindPrincipal, decimal.RequireFromString("10"))
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	// 100 + 5×10 充值 − 5×10 预留 = 100
	assert.True(t, f.balance(t, acct.UserID).Principal.Equal(decimal.RequireFromString("100")))
}

func TestSyncNonce_ForwardOnly(t *testing.T) {
	f := newLedgerFixture(t, defaultLedgerConfig())
	acct := f.seedAccount(t, "500", "0")
	ctx := context.Background()

	require.NoError(t, f.svc.SyncNonce(ctx, 10))
	issued, err := f.svc.Reserve(ctx, acct.UserID, model.KindPrincipal, decimal.RequireFromString("1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), issued.Nonce)

	// 回退被忽略
	require.NoError(t, f.svc.SyncNonce(ctx, 5))
	issued, err = f.svc.Reserve(ctx, acct.UserID, model.KindPrincipal, decimal.RequireFromString("1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(11), issued.Nonce)
}

func TestWithdrawHistory_Pagination(t *testing.T) {
	f := newLedgerFixture(t, defaultLedgerConfig())
	acct := f.seedAccount(t, "500", "0")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Reserve(ctx, acct.UserID, model.KindPrincipal, decimal.RequireFromString("1"))
		require.NoError(t, err)
	}

	list, total, err := f.svc.WithdrawHistory(acct.UserID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, list, 2)

	list, _, err = f.svc.WithdrawHistory(acct.UserID, 2, 2)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
