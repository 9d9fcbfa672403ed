package contract

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// PaymentChannel 合约事件 ABI。扫块器和事件处理器都以它为准，
// 模拟器也用它编码日志，保证解码路径吃到的是真实编码。
const paymentChannelABIJSON = `[
  {"anonymous":false,"inputs":[
    {"indexed":true,"internalType":"address","name":"user","type":"address"},
    {"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},
    {"indexed":false,"internalType":"string","name":"orderId","type":"string"}],
   "name":"Deposited","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":true,"internalType":"address","name":"user","type":"address"},
    {"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},
    {"indexed":false,"internalType":"string","name":"orderId","type":"string"}],
   "name":"Withdrawn","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":true,"internalType":"address","name":"user","type":"address"},
    {"indexed":false,"internalType":"uint256","name":"nativeAmount","type":"uint256"},
    {"indexed":false,"internalType":"uint256","name":"stablecoinValue","type":"uint256"},
    {"indexed":false,"internalType":"string","name":"orderId","type":"string"}],
   "name":"XplWithdrawn","type":"event"}
]`

var (
	pcABI abi.ABI

	// 事件 topic0
	DepositedTopic    common.Hash
	WithdrawnTopic    common.Hash
	XplWithdrawnTopic common.Hash
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(paymentChannelABIJSON))
	if err != nil {
		panic(fmt.Sprintf("contract: parse PaymentChannel ABI: %v", err))
	}
	pcABI = parsed
	DepositedTopic = pcABI.Events["Deposited"].ID
	WithdrawnTopic = pcABI.Events["Withdrawn"].ID
	XplWithdrawnTopic = pcABI.Events["XplWithdrawn"].ID
}

type DepositedEvent struct {
	User    common.Address
	Amount  *big.Int
	OrderID string
}

type WithdrawnEvent struct {
	User    common.Address
	Amount  *big.Int
	OrderID string
}

type XplWithdrawnEvent struct {
	User            common.Address
	NativeAmount    *big.Int
	StablecoinValue *big.Int
	OrderID         string
}

func userFromTopics(l types.Log) (common.Address, error) {
	if len(l.Topics) < 2 {
		return common.Address{}, fmt.Errorf("contract: log has %d topics, want 2", len(l.Topics))
	}
	return common.BytesToAddress(l.Topics[1].Bytes()[12:]), nil
}

// ParseDeposited 解析 Deposited 日志，topic 不匹配时返回错误。
func ParseDeposited(l types.Log) (*DepositedEvent, error) {
	if len(l.Topics) == 0 || l.Topics[0] != DepositedTopic {
		return nil, fmt.Errorf("contract: not a Deposited log")
	}
	user, err := userFromTopics(l)
	if err != nil {
		return nil, err
	}
	var out struct {
		Amount  *big.Int
		OrderId string
	}
	if err := pcABI.UnpackIntoInterface(&out, "Deposited", l.Data); err != nil {
		return nil, fmt.Errorf("contract: unpack Deposited: %w", err)
	}
	return &DepositedEvent{User: user, Amount: out.Amount, OrderID: out.OrderId}, nil
}

func ParseWithdrawn(l types.Log) (*WithdrawnEvent, error) {
	if len(l.Topics) == 0 || l.Topics[0] != WithdrawnTopic {
		return nil, fmt.Errorf("contract: not a Withdrawn log")
	}
	user, err := userFromTopics(l)
	if err != nil {
		return nil, err
	}
	var out struct {
		Amount  *big.Int
		OrderId string
	}
	if err := pcABI.UnpackIntoInterface(&out, "Withdrawn", l.Data); err != nil {
		return nil, fmt.Errorf("contract: unpack Withdrawn: %w", err)
	}
	return &WithdrawnEvent{User: user, Amount: out.Amount, OrderID: out.OrderId}, nil
}

func ParseXplWithdrawn(l types.Log) (*XplWithdrawnEvent, error) {
	if len(l.Topics) == 0 || l.Topics[0] != XplWithdrawnTopic {
		return nil, fmt.Errorf("contract: not an XplWithdrawn log")
	}
	user, err := userFromTopics(l)
	if err != nil {
		return nil, err
	}
	var out struct {
		NativeAmount    *big.Int
		StablecoinValue *big.Int
		OrderId         string
	}
	if err := pcABI.UnpackIntoInterface(&out, "XplWithdrawn", l.Data); err != nil {
		return nil, fmt.Errorf("contract: unpack XplWithdrawn: %w", err)
	}
	return &XplWithdrawnEvent{
		User:            user,
		NativeAmount:    out.NativeAmount,
		StablecoinValue: out.StablecoinValue,
		OrderID:         out.OrderId,
	}, nil
}

func packEventData(name string, args ...interface{}) []byte {
	data, err := pcABI.Events[name].Inputs.NonIndexed().Pack(args...)
	if err != nil {
		panic(fmt.Sprintf("contract: pack %s event data: %v", name, err))
	}
	return data
}
