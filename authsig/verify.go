package authsig

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrBadSignature   = errors.New("authsig: malformed signature")
	ErrSignerMismatch = errors.New("authsig: signer is not the configured authority")
)

// RecoverAuthority 从签名恢复签名者地址，链上 ecrecover 的镜像实现。
func RecoverAuthority(digest [32]byte, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrBadSignature, len(sig))
	}
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	hash := SignHash(digest)
	pub, err := crypto.SigToPub(hash[:], normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify 校验签名出自指定授权地址。
func Verify(digest [32]byte, sig []byte, authority common.Address) error {
	recovered, err := RecoverAuthority(digest, sig)
	if err != nil {
		return err
	}
	if recovered != authority {
		return ErrSignerMismatch
	}
	return nil
}
