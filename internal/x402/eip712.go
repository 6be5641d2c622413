package x402

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	transferWithAuthorizationTypeHash = crypto.Keccak256Hash([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)",
	))
)

// Domain is the EIP-712 signing domain of the token contract.
type Domain struct {
	Name              string         `json:"name"`
	Version           string         `json:"version"`
	ChainID           *big.Int       `json:"chainId"`
	VerifyingContract common.Address `json:"verifyingContract"`
}

// USDCDomain builds the Circle USDC signing domain ("USD Coin", version "2").
// An empty usdc address selects the token from the chain table.
func USDCDomain(chainID int64, usdc string) (Domain, error) {
	addr := common.HexToAddress(usdc)
	if usdc == "" {
		c, err := ChainByID(chainID)
		if err != nil {
			return Domain{}, err
		}
		addr = c.USDC
	}
	return Domain{
		Name:              "USD Coin",
		Version:           "2",
		ChainID:           big.NewInt(chainID),
		VerifyingContract: addr,
	}, nil
}

// Separator computes the EIP-712 domain separator.
func (d Domain) Separator() [32]byte {
	nameHash := crypto.Keccak256Hash([]byte(d.Name))
	versionHash := crypto.Keccak256Hash([]byte(d.Version))

	// abi.encode(bytes32, bytes32, bytes32, uint256, address)
	encoded := make([]byte, 5*32)
	copy(encoded[0:32], domainTypeHash[:])
	copy(encoded[32:64], nameHash[:])
	copy(encoded[64:96], versionHash[:])
	d.ChainID.FillBytes(encoded[96:128])
	copy(encoded[140:160], d.VerifyingContract.Bytes())

	return crypto.Keccak256Hash(encoded)
}

// ParsedAuthorization is an Authorization with its numeric fields decoded.
type ParsedAuthorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

// Parse decodes the string fields of the authorization.
func (a Authorization) Parse() (*ParsedAuthorization, error) {
	if !common.IsHexAddress(a.From) || !common.IsHexAddress(a.To) {
		return nil, fmt.Errorf("invalid authorization address")
	}
	value, err := parseUint256("value", a.Value)
	if err != nil {
		return nil, err
	}
	after, err := parseUint256("validAfter", a.ValidAfter)
	if err != nil {
		return nil, err
	}
	before, err := parseUint256("validBefore", a.ValidBefore)
	if err != nil {
		return nil, err
	}
	nonceBytes, err := hexutil.Decode(a.Nonce)
	if err != nil || len(nonceBytes) != 32 {
		return nil, fmt.Errorf("invalid nonce %q", a.Nonce)
	}
	p := &ParsedAuthorization{
		From:        common.HexToAddress(a.From),
		To:          common.HexToAddress(a.To),
		Value:       value,
		ValidAfter:  after,
		ValidBefore: before,
	}
	copy(p.Nonce[:], nonceBytes)
	return p, nil
}

// HashAuthorization returns the EIP-712 digest the payer signs.
func HashAuthorization(a Authorization, d Domain) ([32]byte, error) {
	p, err := a.Parse()
	if err != nil {
		return [32]byte{}, err
	}

	encoded := make([]byte, 7*32)
	copy(encoded[0:32], transferWithAuthorizationTypeHash[:])
	copy(encoded[44:64], p.From.Bytes())
	copy(encoded[76:96], p.To.Bytes())
	p.Value.FillBytes(encoded[96:128])
	p.ValidAfter.FillBytes(encoded[128:160])
	p.ValidBefore.FillBytes(encoded[160:192])
	copy(encoded[192:224], p.Nonce[:])
	structHash := crypto.Keccak256Hash(encoded)

	sep := d.Separator()
	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], structHash[:])
	return crypto.Keccak256Hash(msg), nil
}

// SignAuthorization signs the authorization and returns a 0x-prefixed
// 65-byte signature with V in {27,28}.
func SignAuthorization(a Authorization, key *ecdsa.PrivateKey, d Domain) (string, error) {
	digest, err := HashAuthorization(a, d)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// RecoverAuthorizationSigner returns the address that produced sigHex.
func RecoverAuthorizationSigner(a Authorization, sigHex string, d Domain) (common.Address, error) {
	digest, err := HashAuthorization(a, d)
	if err != nil {
		return common.Address{}, err
	}
	v, r, s, err := SplitSignature(sigHex)
	if err != nil {
		return common.Address{}, err
	}
	sig := make([]byte, 65)
	copy(sig[0:32], r[:])
	copy(sig[32:64], s[:])
	sig[64] = v - 27
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("ecrecover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SplitSignature decodes a 65-byte ECDSA signature (R || S || V) into the
// components expected by transferWithAuthorization. V is normalized to 27/28.
func SplitSignature(sigHex string) (v uint8, r, s [32]byte, err error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return 0, r, s, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return 0, r, s, fmt.Errorf("invalid signature length: %d", len(sig))
	}
	copy(r[:], sig[0:32])
	copy(s[:], sig[32:64])
	v = sig[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return 0, r, s, fmt.Errorf("invalid signature v: %d", v)
	}
	return v, r, s, nil
}

// NewNonce returns a random bytes32 authorization nonce as 0x-hex.
func NewNonce() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hexutil.Encode(b[:]), nil
}
