package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrBadSignature = errors.New("invalid signature")
	ErrWrongSigner  = errors.New("signature does not match wallet")
)

// HashMessage is the personal_sign digest of msg.
func HashMessage(msg []byte) []byte {
	return accounts.TextHash(msg)
}

// Recover returns the address that personal_signed msg. V may be 0/1 or 27/28.
func Recover(msg, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrBadSignature, len(sig))
	}
	norm := make([]byte, crypto.SignatureLength)
	copy(norm, sig)
	if norm[crypto.RecoveryIDOffset] >= 27 {
		norm[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(HashMessage(msg), norm)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyWallet checks that sigHex over msg was produced by wallet.
func VerifyWallet(msg []byte, sigHex, wallet string) error {
	if !common.IsHexAddress(wallet) {
		return fmt.Errorf("%w: bad wallet address", ErrWrongSigner)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return fmt.Errorf("%w: not hex", ErrBadSignature)
	}
	signer, err := Recover(msg, sig)
	if err != nil {
		return err
	}
	if signer != common.HexToAddress(wallet) {
		return ErrWrongSigner
	}
	return nil
}
