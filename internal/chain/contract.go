package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrTokenNotFound signals that the contract reverted because the token was never minted.
	ErrTokenNotFound = errors.New("token does not exist")
	// ErrUnsupported signals that the contract does not expose an optional method.
	ErrUnsupported = errors.New("method not supported by contract")
)

// revertCode is the JSON-RPC error code geth-compatible nodes use for execution reverts.
const revertCode = 3

var revertMarkers = []string{
	"execution reverted",
	"nonexistent token",
	"invalid token id",
	"erc721nonexistenttoken",
	"vm execution error",
}

// RPCClient is a thin wrapper over ethclient.Client.
type RPCClient struct {
	*ethclient.Client
}

// NewRPCClient builds an RPC client to an EVM node.
func NewRPCClient(rpcURL string) (*RPCClient, error) {
	c, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	return &RPCClient{Client: c}, nil
}

// Contract reads and writes the certificate NFT contract.
type Contract struct {
	address     common.Address
	abi         abi.ABI
	bound       *bind.BoundContract
	callTimeout time.Duration
}

// NewContract binds the certificate ABI at address. transactor may be nil for read-only use.
func NewContract(address common.Address, parsed abi.ABI, caller bind.ContractCaller, transactor bind.ContractTransactor, callTimeout time.Duration) *Contract {
	return &Contract{
		address:     address,
		abi:         parsed,
		bound:       bind.NewBoundContract(address, parsed, caller, transactor, nil),
		callTimeout: callTimeout,
	}
}

// Address returns the bound contract address.
func (c *Contract) Address() common.Address {
	return c.address
}

// ABI returns the bound contract ABI.
func (c *Contract) ABI() abi.ABI {
	return c.abi
}

// OwnerOf returns the current owner of tokenID, or ErrTokenNotFound when the call reverts.
func (c *Contract) OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	out, err := c.call(ctx, "ownerOf", tokenID)
	if err != nil {
		return common.Address{}, classify("ownerOf", err)
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("ownerOf: unexpected result type %T", out[0])
	}
	if owner == (common.Address{}) {
		return common.Address{}, ErrTokenNotFound
	}
	return owner, nil
}

// TokenURI returns the metadata URI stored for tokenID.
func (c *Contract) TokenURI(ctx context.Context, tokenID *big.Int) (string, error) {
	out, err := c.call(ctx, "tokenURI", tokenID)
	if err != nil {
		return "", classify("tokenURI", err)
	}
	uri, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("tokenURI: unexpected result type %T", out[0])
	}
	return uri, nil
}

// BaseTokenURI returns the optional base URI; ErrUnsupported when the contract lacks it.
func (c *Contract) BaseTokenURI(ctx context.Context) (string, error) {
	if _, ok := c.abi.Methods["baseTokenURI"]; !ok {
		return "", ErrUnsupported
	}
	out, err := c.call(ctx, "baseTokenURI")
	if err != nil {
		if IsRevert(err) {
			return "", ErrUnsupported
		}
		return "", fmt.Errorf("baseTokenURI: %w", err)
	}
	base, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("baseTokenURI: unexpected result type %T", out[0])
	}
	return base, nil
}

// Transact submits a state-changing call to method; used by the mint path.
func (c *Contract) Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error) {
	if _, ok := c.abi.Methods[method]; !ok {
		return nil, fmt.Errorf("method %s not in abi", method)
	}
	tx, err := c.bound.Transact(opts, method, params...)
	if err != nil {
		return nil, fmt.Errorf("transact %s: %w", method, err)
	}
	return tx, nil
}

func (c *Contract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out, nil
}

func classify(method string, err error) error {
	if IsRevert(err) {
		if reason := RevertReason(err); reason != "" {
			return fmt.Errorf("%w: %s", ErrTokenNotFound, reason)
		}
		return ErrTokenNotFound
	}
	return fmt.Errorf("%s: %w", method, err)
}

// IsRevert reports whether err is a contract execution revert rather than a transport failure.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertCode {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range revertMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// RevertReason decodes an Error(string) payload attached to a revert, if any.
func RevertReason(err error) string {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	raw, ok := dataErr.ErrorData().(string)
	if !ok {
		return ""
	}
	data, decErr := hexutil.Decode(raw)
	if decErr != nil {
		return ""
	}
	reason, unpackErr := abi.UnpackRevert(data)
	if unpackErr != nil {
		return ""
	}
	return reason
}
