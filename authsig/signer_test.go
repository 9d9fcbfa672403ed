package authsig

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hardhat 默认测试账户 #0
const (
	testPrivHex  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddrHex  = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	testMnemonic = "test test test test test test test test test test test junk"
)

func TestLocalSigner_SignRecoverRoundtrip(t *testing.T) {
	signer, err := NewLocalSigner(testPrivHex)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddrHex), signer.Address())

	digest, err := PrincipalMessage{
		Recipient: testRecipient,
		Amount:    big.NewInt(500_000000),
		OrderID:   "W-1",
		Nonce:     1,
	}.Digest()
	require.NoError(t, err)

	sig, err := signer.Sign(context.Background(), digest)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.True(t, sig[64] == 27 || sig[64] == 28, "v must be 27/28, got %d", sig[64])

	recovered, err := RecoverAuthority(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)
	assert.NoError(t, Verify(digest, sig, signer.Address()))
}

func TestVerify_RejectsWrongAuthority(t *testing.T) {
	signer, err := NewLocalSigner(testPrivHex)
	require.NoError(t, err)

	digest, err := PrincipalMessage{Recipient: testRecipient, Amount: big.NewInt(1), OrderID: "W-1", Nonce: 1}.Digest()
	require.NoError(t, err)
	sig, err := signer.Sign(context.Background(), digest)
	require.NoError(t, err)

	other := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	assert.ErrorIs(t, Verify(digest, sig, other), ErrSignerMismatch)
}

func TestVerify_RejectsTamperedDigest(t *testing.T) {
	signer, err := NewLocalSigner(testPrivHex)
	require.NoError(t, err)

	digest, err := PrincipalMessage{Recipient: testRecipient, Amount: big.NewInt(100), OrderID: "W-1", Nonce: 5}.Digest()
	require.NoError(t, err)
	sig, err := signer.Sign(context.Background(), digest)
	require.NoError(t, err)

	tampered, err := PrincipalMessage{Recipient: testRecipient, Amount: big.NewInt(100), OrderID: "W-1", Nonce: 6}.Digest()
	require.NoError(t, err)
	assert.Error(t, Verify(tampered, sig, signer.Address()))
}

func TestRecoverAuthority_BadSignature(t *testing.T) {
	digest, err := PrincipalMessage{Recipient: testRecipient, Amount: big.NewInt(1), OrderID: "W-1"}.Digest()
	require.NoError(t, err)

	_, err = RecoverAuthority(digest, make([]byte, 10))
	assert.ErrorIs(t, err, ErrBadSignature)

	_, err = RecoverAuthority(digest, make([]byte, 65))
	assert.Error(t, err)
}

func TestNewLocalSignerFromMnemonic(t *testing.T) {
	signer, err := NewLocalSignerFromMnemonic(testMnemonic, 0)
	require.NoError(t, err)
	// hardhat 同一助记词 index 0 对应账户 #0
	assert.Equal(t, common.HexToAddress(testAddrHex), signer.Address())

	signer1, err := NewLocalSignerFromMnemonic(testMnemonic, 1)
	require.NoError(t, err)
	assert.NotEqual(t, signer.Address(), signer1.Address())

	_, err = NewLocalSignerFromMnemonic("not a mnemonic", 0)
	assert.Error(t, err)
}

func TestRemoteSigner(t *testing.T) {
	key, err := crypto.HexToECDSA(testPrivHex)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sign", r.URL.Path)
		var req struct {
			Digest string `json:"digest"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		raw, err := hex.DecodeString(req.Digest[2:])
		require.NoError(t, err)
		var digest [32]byte
		copy(digest[:], raw)
		hash := SignHash(digest)
		sig, err := crypto.Sign(hash[:], key)
		require.NoError(t, err)
		sig[64] += 27
		json.NewEncoder(w).Encode(map[string]string{"signature": "0x" + hex.EncodeToString(sig)})
	}))
	defer srv.Close()

	signer := NewRemoteSigner(srv.URL, crypto.PubkeyToAddress(key.PublicKey))

	digest, err := PrincipalMessage{Recipient: testRecipient, Amount: big.NewInt(42), OrderID: "W-7", Nonce: 7}.Digest()
	require.NoError(t, err)
	sig, err := signer.Sign(context.Background(), digest)
	require.NoError(t, err)
	assert.NoError(t, Verify(digest, sig, signer.Address()))
}

func TestRemoteSigner_Errors(t *testing.T) {
	t.Run("non-200", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()
		signer := NewRemoteSigner(srv.URL, common.Address{})
		_, err := signer.Sign(context.Background(), [32]byte{1})
		assert.Error(t, err)
	})
	t.Run("short signature", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"signature": "0x1234"})
		}))
		defer srv.Close()
		signer := NewRemoteSigner(srv.URL, common.Address{})
		_, err := signer.Sign(context.Background(), [32]byte{1})
		assert.Error(t, err)
	})
	t.Run("cancelled context", func(t *testing.T) {
		// 调用方取消后不能再等远端响应
		blocked := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-blocked
		}))
		defer srv.Close()
		defer close(blocked)

		signer := NewRemoteSigner(srv.URL, common.Address{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := signer.Sign(ctx, [32]byte{1})
		require.ErrorIs(t, err, context.Canceled)
	})
}
