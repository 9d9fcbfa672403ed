package authsig

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// Signer 持有唯一的提现授权私钥（或指向持有它的远程服务）。
// 对 digest 的签名是纯函数，任何失败都必须让订单签发中止。
type Signer interface {
	// Sign 返回 65 字节 (r,s,v) 签名，v 为 27/28。
	// 远程后端会带着 ctx 发请求，调用方取消即中止签发。
	Sign(ctx context.Context, digest [32]byte) ([]byte, error)
	// Address 授权地址，链上以它为校验基准。
	Address() common.Address
}

var ErrNoSigner = errors.New("authsig: no signer configured")

// LocalSigner 本地私钥签名（开发/测试环境）。
type LocalSigner struct {
	key *ecdsa.PrivateKey
}

func NewLocalSigner(privHex string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &LocalSigner{key: key}, nil
}

// NewLocalSignerFromMnemonic 从运维助记词派生授权私钥（BIP44 m/44'/60'/0'/0/index）。
func NewLocalSignerFromMnemonic(mnemonic string, index uint32) (*LocalSigner, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("authsig: invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}
	path := []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 60,
		hdkeychain.HardenedKeyStart + 0,
		0,
		index,
	}
	key := master
	for _, step := range path {
		key, err = key.Derive(step)
		if err != nil {
			return nil, fmt.Errorf("derive path step %d: %w", step, err)
		}
	}
	ecPriv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("extract private key: %w", err)
	}
	return &LocalSigner{key: ecPriv.ToECDSA()}, nil
}

func (s *LocalSigner) Sign(_ context.Context, digest [32]byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, ErrNoSigner
	}
	hash := SignHash(digest)
	sig, err := crypto.Sign(hash[:], s.key)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	// crypto.Sign 返回 v=0/1，链上 ecrecover 约定 27/28
	sig[64] += 27
	return sig, nil
}

func (s *LocalSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// RemoteSigner 生产环境签名：私钥在独立签名服务（HSM/KMS 前置）里，
// 本进程只见 digest 与签名结果。
type RemoteSigner struct {
	url       string
	authority common.Address
	client    *http.Client
	timeout   time.Duration
}

func NewRemoteSigner(url string, authority common.Address) *RemoteSigner {
	return &RemoteSigner{
		url:       strings.TrimRight(url, "/"),
		authority: authority,
		client:    http.DefaultClient,
		timeout:   10 * time.Second,
	}
}

func (s *RemoteSigner) Sign(ctx context.Context, digest [32]byte) ([]byte, error) {
	if s.url == "" {
		return nil, ErrNoSigner
	}
	reqBody, _ := json.Marshal(map[string]string{
		"digest": "0x" + hex.EncodeToString(digest[:]),
	})
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/sign", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote signer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote signer returned %d", resp.StatusCode)
	}
	var respObj struct {
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respObj); err != nil {
		return nil, fmt.Errorf("decode remote signer response: %w", err)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(respObj.Signature, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode signature hex: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("remote signer returned %d-byte signature", len(sig))
	}
	return sig, nil
}

func (s *RemoteSigner) Address() common.Address {
	return s.authority
}
