package authsig

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// 提现消息的规范编码。字节布局必须与链上 PaymentChannel 合约的
// abi.encodePacked 逐字节一致：
//
//	本金提现: recipient(20) || amount(uint256) || orderId(utf-8) || nonce(uint256)
//	收益提现: recipient(20) || nativeAmount(uint256) || stablecoinValue(uint256) || orderId(utf-8) || nonce(uint256)
//
// digest = keccak256(message)，签名对象是 digest 的 EIP-191 personal 前缀哈希。

var (
	ErrZeroRecipient = errors.New("authsig: zero recipient address")
	ErrEmptyOrderID  = errors.New("authsig: empty order id")
	ErrInvalidAmount = errors.New("authsig: amount must be a positive uint256")
)

// PrincipalMessage 本金提现（USDT）签名消息。
type PrincipalMessage struct {
	Recipient common.Address
	Amount    *big.Int
	OrderID   string
	Nonce     uint64
}

// Digest 计算规范摘要。
func (m PrincipalMessage) Digest() ([32]byte, error) {
	var digest [32]byte
	if m.Recipient == (common.Address{}) {
		return digest, ErrZeroRecipient
	}
	if m.OrderID == "" {
		return digest, ErrEmptyOrderID
	}
	amt, err := packUint256(m.Amount)
	if err != nil {
		return digest, err
	}
	buf := make([]byte, 0, 20+32+len(m.OrderID)+32)
	buf = append(buf, m.Recipient.Bytes()...)
	buf = append(buf, amt...)
	buf = append(buf, []byte(m.OrderID)...)
	buf = append(buf, packUint64(m.Nonce)...)
	copy(digest[:], crypto.Keccak256(buf))
	return digest, nil
}

// ProfitMessage 收益提现（XPL 原生代币）签名消息。StablecoinValue 是
// 后端按汇率快照折算出的稳定币价值，链上不动账，只随签名绑定留痕。
type ProfitMessage struct {
	Recipient       common.Address
	NativeAmount    *big.Int
	StablecoinValue *big.Int
	OrderID         string
	Nonce           uint64
}

func (m ProfitMessage) Digest() ([32]byte, error) {
	var digest [32]byte
	if m.Recipient == (common.Address{}) {
		return digest, ErrZeroRecipient
	}
	if m.OrderID == "" {
		return digest, ErrEmptyOrderID
	}
	native, err := packUint256(m.NativeAmount)
	if err != nil {
		return digest, err
	}
	value, err := packUint256(m.StablecoinValue)
	if err != nil {
		return digest, err
	}
	buf := make([]byte, 0, 20+32+32+len(m.OrderID)+32)
	buf = append(buf, m.Recipient.Bytes()...)
	buf = append(buf, native...)
	buf = append(buf, value...)
	buf = append(buf, []byte(m.OrderID)...)
	buf = append(buf, packUint64(m.Nonce)...)
	copy(digest[:], crypto.Keccak256(buf))
	return digest, nil
}

// SignHash 对规范摘要加 EIP-191 personal 前缀，签名和恢复都针对这个哈希，
// 使授权签名不可能被重新解释为一笔原始交易。
func SignHash(digest [32]byte) [32]byte {
	var out [32]byte
	prefixed := crypto.Keccak256([]byte("\x19Ethereum Signed Message:\n32"), digest[:])
	copy(out[:], prefixed)
	return out
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func packUint256(v *big.Int) ([]byte, error) {
	if v == nil || v.Sign() <= 0 || v.Cmp(maxUint256) > 0 {
		return nil, ErrInvalidAmount
	}
	out := make([]byte, 32)
	v.FillBytes(out)
	return out, nil
}

func packUint64(v uint64) []byte {
	out := make([]byte, 32)
	new(big.Int).SetUint64(v).FillBytes(out)
	return out
}
