package contract

import (
	"encoding/binary"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/paychan_backend/authsig"
)

// PaymentChannel 是链上验证合约的进程内镜像：与部署版保持同一套
// 摘要方案、nonce 消耗规则和事件编码。集成测试直接驱动它，事件
// 处理器的解码路径也以它产出的日志为输入。
//
// 所有入口的检查都发生在任何状态变更之前，单次调用要么全部生效
// 要么毫无痕迹，对应链上交易的原子性。

var (
	ErrNotOwner              = errors.New("contract: caller is not the owner")
	ErrNonceUsed             = errors.New("contract: nonce already used")
	ErrInsufficientLiquidity = errors.New("contract: insufficient contract token balance")
	ErrInsufficientDeposit   = errors.New("contract: insufficient deposited balance")
	ErrLegacyDisabled        = errors.New("contract: legacy withdraw is disabled")
	ErrInvalidAmount         = errors.New("contract: amount must be positive")
)

// TokenLedger 最小化的 ERC20 余额账本。
type TokenLedger struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
}

func NewTokenLedger() *TokenLedger {
	return &TokenLedger{balances: make(map[common.Address]*big.Int)}
}

func (t *TokenLedger) Mint(to common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(to, amount)
}

func (t *TokenLedger) BalanceOf(addr common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (t *TokenLedger) transfer(from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.balances[from]
	if !ok || b.Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}
	b.Sub(b, amount)
	t.credit(to, amount)
	return nil
}

func (t *TokenLedger) credit(to common.Address, amount *big.Int) {
	if b, ok := t.balances[to]; ok {
		b.Add(b, amount)
		return
	}
	t.balances[to] = new(big.Int).Set(amount)
}

type PaymentChannel struct {
	mu            sync.Mutex
	addr          common.Address
	owner         common.Address
	authority     common.Address
	usdt          *TokenLedger
	xpl           *TokenLedger
	deposits      map[common.Address]*big.Int // 旧版 withdraw 依赖的按地址余额映射
	usedNonces    map[uint64]bool
	legacyEnabled bool
	block         uint64
	logs          []types.Log
}

func NewPaymentChannel(addr, owner, authority common.Address, usdt, xpl *TokenLedger) *PaymentChannel {
	return &PaymentChannel{
		addr:       addr,
		owner:      owner,
		authority:  authority,
		usdt:       usdt,
		xpl:        xpl,
		deposits:   make(map[common.Address]*big.Int),
		usedNonces: make(map[uint64]bool),
		block:      1,
	}
}

func (c *PaymentChannel) Address() common.Address   { return c.addr }
func (c *PaymentChannel) Authority() common.Address { return c.authority }

// Deposit 原生代币入金（payable 入口）。
func (c *PaymentChannel) Deposit(from common.Address, orderID string, value *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value == nil || value.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if orderID == "" {
		return authsig.ErrEmptyOrderID
	}
	if err := c.xpl.transfer(from, c.addr, value); err != nil {
		return err
	}
	c.emit(from, "Deposited", packEventData("Deposited", value, orderID), orderID)
	return nil
}

// DepositUsdt 稳定币入金，transferFrom 语义，同时计入旧版余额映射。
func (c *PaymentChannel) DepositUsdt(from common.Address, amount *big.Int, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if orderID == "" {
		return authsig.ErrEmptyOrderID
	}
	if err := c.usdt.transfer(from, c.addr, amount); err != nil {
		return err
	}
	if b, ok := c.deposits[from]; ok {
		b.Add(b, amount)
	} else {
		c.deposits[from] = new(big.Int).Set(amount)
	}
	c.emit(from, "Deposited", packEventData("Deposited", amount, orderID), orderID)
	return nil
}

// Withdraw 旧版无签名提现：只对余额映射做检查，没有防重放，
// 已废弃，默认禁用，仅为老客户端保留开关。
//
// Deprecated: 使用 WithdrawWithSignature。
func (c *PaymentChannel) Withdraw(from common.Address, amount *big.Int, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.legacyEnabled {
		return ErrLegacyDisabled
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b, ok := c.deposits[from]
	if !ok || b.Cmp(amount) < 0 {
		return ErrInsufficientDeposit
	}
	if err := c.usdt.transfer(c.addr, from, amount); err != nil {
		return err
	}
	b.Sub(b, amount)
	c.emit(from, "Withdrawn", packEventData("Withdrawn", amount, orderID), orderID)
	return nil
}

// WithdrawWithSignature 本金提现。重算规范摘要、恢复签名者、消耗
// nonce、转出稳定币，全部检查通过前不动任何状态。
func (c *PaymentChannel) WithdrawWithSignature(caller common.Address, amount *big.Int, orderID string, nonce uint64, sig []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	digest, err := authsig.PrincipalMessage{
		Recipient: caller,
		Amount:    amount,
		OrderID:   orderID,
		Nonce:     nonce,
	}.Digest()
	if err != nil {
		return err
	}
	if err := authsig.Verify(digest, sig, c.authority); err != nil {
		return err
	}
	if c.usedNonces[nonce] {
		return ErrNonceUsed
	}
	if c.usdt.BalanceOf(c.addr).Cmp(amount) < 0 {
		return ErrInsufficientLiquidity
	}

	c.usedNonces[nonce] = true
	if err := c.usdt.transfer(c.addr, caller, amount); err != nil {
		// 余额检查已通过，不可达
		return err
	}
	c.emit(caller, "Withdrawn", packEventData("Withdrawn", amount, orderID), orderID)
	return nil
}

// WithdrawXplWithSignature 收益提现。只有 nativeAmount 动账；
// stablecoinValue 是签名绑定的审计数据，合约不据此转账。
func (c *PaymentChannel) WithdrawXplWithSignature(caller common.Address, nativeAmount, stablecoinValue *big.Int, orderID string, nonce uint64, sig []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	digest, err := authsig.ProfitMessage{
		Recipient:       caller,
		NativeAmount:    nativeAmount,
		StablecoinValue: stablecoinValue,
		OrderID:         orderID,
		Nonce:           nonce,
	}.Digest()
	if err != nil {
		return err
	}
	if err := authsig.Verify(digest, sig, c.authority); err != nil {
		return err
	}
	if c.usedNonces[nonce] {
		return ErrNonceUsed
	}
	if c.xpl.BalanceOf(c.addr).Cmp(nativeAmount) < 0 {
		return ErrInsufficientLiquidity
	}

	c.usedNonces[nonce] = true
	if err := c.xpl.transfer(c.addr, caller, nativeAmount); err != nil {
		return err
	}
	c.emit(caller, "XplWithdrawn",
		packEventData("XplWithdrawn", nativeAmount, stablecoinValue, orderID), orderID)
	return nil
}

func (c *PaymentChannel) NonceUsed(nonce uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedNonces[nonce]
}

// ---- 管理入口（owner-only）----

func (c *PaymentChannel) SetAuthority(caller, authority common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.owner {
		return ErrNotOwner
	}
	c.authority = authority
	return nil
}

func (c *PaymentChannel) SetUsdtToken(caller common.Address, token *TokenLedger) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.owner {
		return ErrNotOwner
	}
	c.usdt = token
	return nil
}

func (c *PaymentChannel) SetXplToken(caller common.Address, token *TokenLedger) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.owner {
		return ErrNotOwner
	}
	c.xpl = token
	return nil
}

func (c *PaymentChannel) SetLegacyEnabled(caller common.Address, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.owner {
		return ErrNotOwner
	}
	c.legacyEnabled = enabled
	return nil
}

func (c *PaymentChannel) EmergencyWithdrawUsdt(caller common.Address, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.owner {
		return ErrNotOwner
	}
	return c.usdt.transfer(c.addr, c.owner, amount)
}

// ---- 日志 ----

// Logs 返回全部已产出日志的副本。
func (c *PaymentChannel) Logs() []types.Log {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Log, len(c.logs))
	copy(out, c.logs)
	return out
}

// BlockNumber 当前模拟块高。
func (c *PaymentChannel) BlockNumber() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}

func (c *PaymentChannel) emit(user common.Address, event string, data []byte, orderID string) {
	c.block++
	var blockBytes [8]byte
	binary.BigEndian.PutUint64(blockBytes[:], c.block)
	txHash := crypto.Keccak256Hash(blockBytes[:], []byte(orderID))
	c.logs = append(c.logs, types.Log{
		Address:     c.addr,
		Topics:      []common.Hash{pcABI.Events[event].ID, common.BytesToHash(user.Bytes())},
		Data:        data,
		BlockNumber: c.block,
		BlockHash:   crypto.Keccak256Hash(blockBytes[:]),
		TxHash:      txHash,
		Index:       0,
	})
}
