package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// usdcABI covers the subset of the FiatToken (USDC) interface used for
// EIP-3009 settlement and balance checks.
const usdcABI = `[
  {"type":"function","name":"transferWithAuthorization","stateMutability":"nonpayable","inputs":[
    {"name":"from","type":"address"},
    {"name":"to","type":"address"},
    {"name":"value","type":"uint256"},
    {"name":"validAfter","type":"uint256"},
    {"name":"validBefore","type":"uint256"},
    {"name":"nonce","type":"bytes32"},
    {"name":"v","type":"uint8"},
    {"name":"r","type":"bytes32"},
    {"name":"s","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
    {"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"authorizationState","stateMutability":"view","inputs":[
    {"name":"authorizer","type":"address"},
    {"name":"nonce","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]}
]`

var parsedUSDC = func() abi.ABI {
	a, err := abi.JSON(strings.NewReader(usdcABI))
	if err != nil {
		panic(fmt.Sprintf("parse usdc abi: %v", err))
	}
	return a
}()

// ErrReverted is returned when a settlement transaction is mined but failed.
var ErrReverted = errors.New("transaction reverted")

// Backend is what the client needs from an RPC connection. *ethclient.Client
// and the simulated backend's client both satisfy it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// TransferAuthorization is an EIP-3009 authorization plus its split signature.
type TransferAuthorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
	V           uint8
	R           [32]byte
	S           [32]byte
}

// Client talks to a USDC token contract. The signing key is optional; a
// client without one can only read.
type Client struct {
	backend  Backend
	usdc     *bind.BoundContract
	usdcAddr common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey
}

// Dial connects to rpcURL and binds the USDC contract at usdcAddr.
// privateKeyHex may be empty for a read-only client.
func Dial(rpcURL string, chainID int64, usdcAddr common.Address, privateKeyHex string) (*Client, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	var key *ecdsa.PrivateKey
	if privateKeyHex != "" {
		key, err = crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
	}
	return NewClient(eth, chainID, usdcAddr, key), nil
}

func NewClient(backend Backend, chainID int64, usdcAddr common.Address, key *ecdsa.PrivateKey) *Client {
	return &Client{
		backend:  backend,
		usdc:     bind.NewBoundContract(usdcAddr, parsedUSDC, backend, backend, backend),
		usdcAddr: usdcAddr,
		chainID:  big.NewInt(chainID),
		key:      key,
	}
}

// ChainID returns the configured chain ID.
func (c *Client) ChainID() *big.Int { return c.chainID }

// TokenAddress returns the bound USDC contract address.
func (c *Client) TokenAddress() common.Address { return c.usdcAddr }

// CanSign reports whether a signing key is loaded.
func (c *Client) CanSign() bool { return c.key != nil }

// Address returns the gas-paying account, or the zero address for a
// read-only client.
func (c *Client) Address() common.Address {
	if c.key == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(c.key.PublicKey)
}

func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if c.key == nil {
		return nil, errors.New("no signing key loaded")
	}
	auth, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, err
	}
	auth.Context = ctx
	return auth, nil
}

// TransferWithAuthorization submits the payer's signed authorization, pays
// gas from the client's key and waits for the receipt.
func (c *Client) TransferWithAuthorization(ctx context.Context, a TransferAuthorization) (common.Hash, error) {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("build tx opts: %w", err)
	}

	tx, err := c.usdc.Transact(opts, "transferWithAuthorization",
		a.From, a.To, a.Value, a.ValidAfter, a.ValidBefore, a.Nonce, a.V, a.R, a.S)
	if err != nil {
		return common.Hash{}, fmt.Errorf("transferWithAuthorization tx: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("wait mined: %w", err)
	}
	if receipt.Status == 0 {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}
	return tx.Hash(), nil
}

// BalanceOf returns the USDC balance of who in base units.
func (c *Client) BalanceOf(ctx context.Context, who common.Address) (*big.Int, error) {
	var out []interface{}
	if err := c.usdc.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", who); err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// AuthorizationUsed reports whether (authorizer, nonce) was already consumed.
func (c *Client) AuthorizationUsed(ctx context.Context, authorizer common.Address, nonce [32]byte) (bool, error) {
	var out []interface{}
	if err := c.usdc.Call(&bind.CallOpts{Context: ctx}, &out, "authorizationState", authorizer, nonce); err != nil {
		return false, fmt.Errorf("authorizationState: %w", err)
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// GasBalance returns the native balance of the gas-paying account.
func (c *Client) GasBalance(ctx context.Context) (*big.Int, error) {
	if c.key == nil {
		return nil, errors.New("no signing key loaded")
	}
	return c.NativeBalance(ctx, c.Address())
}

// NativeBalance returns who's balance in the chain's gas token.
func (c *Client) NativeBalance(ctx context.Context, who common.Address) (*big.Int, error) {
	bal, err := c.backend.BalanceAt(ctx, who, nil)
	if err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	return bal, nil
}

// IsNoCode reports whether err means the bound address has no contract.
func IsNoCode(err error) bool {
	return errors.Is(err, bind.ErrNoCode)
}
