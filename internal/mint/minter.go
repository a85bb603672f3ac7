package mint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/devblac/certiblock/internal/chain"
	"github.com/devblac/certiblock/internal/logging"
	"github.com/devblac/certiblock/internal/metrics"
	"github.com/devblac/certiblock/internal/sink"
	"github.com/devblac/certiblock/internal/storage"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrMintInProgress is returned while an earlier mint for the same minter and course is pending.
	ErrMintInProgress = errors.New("mint already in progress")
	// ErrMintReverted is returned when the mint transaction was mined with a failed status.
	ErrMintReverted = errors.New("mint transaction reverted")
)

// Transactor submits contract writes. *chain.Contract satisfies it.
type Transactor interface {
	Address() common.Address
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error)
}

// WaitFunc blocks until tx is mined and returns its receipt.
type WaitFunc func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

// WaitMined waits on backend using bind.WaitMined.
func WaitMined(backend bind.DeployBackend) WaitFunc {
	return func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
		return bind.WaitMined(ctx, backend, tx)
	}
}

// Ledger records confirmed mints and guards against concurrent submissions.
type Ledger interface {
	AcquireMintLock(ctx context.Context, key string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseMintLock(ctx context.Context, key string) error
	InsertMint(ctx context.Context, m storage.Mint) error
}

// Options are the optional collaborators of a Minter.
type Options struct {
	Method      string
	LockTTL     time.Duration
	Ledger      Ledger
	Sinks       map[string]sink.Sender
	ExplorerURL string
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Result describes a confirmed mint. TokenID is nil when the receipt carried no Transfer event
// from the contract; the mint itself still succeeded.
type Result struct {
	TxHash      common.Hash
	TokenID     *big.Int
	BlockNumber uint64
	Contract    common.Address
	Minter      common.Address
}

// Minter submits the certificate mint, waits for confirmation, and extracts the new token id.
type Minter struct {
	contract  Transactor
	extractor *Extractor
	signer    *bind.TransactOpts
	wait      WaitFunc
	method    string
	lockTTL   time.Duration
	ledger    Ledger
	sinks     map[string]sink.Sender
	explorer  string
	log       *slog.Logger
	metrics   *metrics.Metrics
	nowFunc   func() time.Time
}

// NewMinter builds a minter for contract, signing with signer.
func NewMinter(contract Transactor, extractor *Extractor, signer *bind.TransactOpts, wait WaitFunc, opts Options) (*Minter, error) {
	if contract == nil || extractor == nil || signer == nil || wait == nil {
		return nil, errors.New("contract, extractor, signer and wait are required")
	}
	if opts.Method == "" {
		opts.Method = "mintSertifikat"
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Minter{
		contract:  contract,
		extractor: extractor,
		signer:    signer,
		wait:      wait,
		method:    opts.Method,
		lockTTL:   opts.LockTTL,
		ledger:    opts.Ledger,
		sinks:     opts.Sinks,
		explorer:  opts.ExplorerURL,
		log:       log,
		metrics:   opts.Metrics,
		nowFunc:   time.Now,
	}, nil
}

// NewSigner builds transaction options from a hex private key for chainID.
func NewSigner(hexKey string, chainID *big.Int) (*bind.TransactOpts, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("build signer: %w", err)
	}
	return opts, nil
}

// Mint submits one mint for course and blocks until it is mined. A pending mint for the same
// minter and course yields ErrMintInProgress without touching the chain. Once the receipt is
// successful the mint is final: ledger and sink failures are logged and counted, not returned.
func (m *Minter) Mint(ctx context.Context, course string) (Result, error) {
	key := lockKey(m.signer.From, course)
	if m.ledger != nil {
		ok, err := m.ledger.AcquireMintLock(ctx, key, m.nowFunc(), m.lockTTL)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{}, ErrMintInProgress
		}
		defer func() {
			if err := m.ledger.ReleaseMintLock(context.WithoutCancel(ctx), key); err != nil {
				m.log.Warn("release mint lock", "lock", key, "err", err)
			}
		}()
	}

	opts := *m.signer
	opts.Context = ctx
	tx, err := m.contract.Transact(&opts, m.method)
	if err != nil {
		m.metrics.Errors()
		return Result{}, fmt.Errorf("submit %s: %w", m.method, err)
	}
	m.log.Info("mint submitted", "tx", tx.Hash().Hex(), "course", course)

	receipt, err := m.wait(ctx, tx)
	if err != nil {
		m.metrics.Errors()
		return Result{}, fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Result{}, fmt.Errorf("%w: %s", ErrMintReverted, tx.Hash().Hex())
	}

	res := Result{
		TxHash:   tx.Hash(),
		TokenID:  m.extractor.ExtractMintedTokenID(receipt),
		Contract: m.contract.Address(),
		Minter:   m.signer.From,
	}
	if receipt.BlockNumber != nil {
		res.BlockNumber = receipt.BlockNumber.Uint64()
	}
	m.metrics.Minted()
	if res.TokenID == nil {
		m.log.Warn("mint confirmed without a transfer event", "tx", res.TxHash.Hex())
	} else {
		m.log.Info("mint confirmed", "tx", res.TxHash.Hex(), "token_id", res.TokenID.String())
	}

	if err := m.record(ctx, res, course); err != nil {
		m.metrics.Errors()
		m.log.Warn("ledger write failed", "tx", res.TxHash.Hex(), "err", err)
	}
	m.notify(ctx, res, course)
	return res, nil
}

func (m *Minter) record(ctx context.Context, res Result, course string) error {
	if m.ledger == nil {
		return nil
	}
	return m.ledger.InsertMint(ctx, storage.Mint{
		TxHash:      res.TxHash.Hex(),
		Contract:    res.Contract.Hex(),
		TokenID:     tokenString(res.TokenID),
		Minter:      res.Minter.Hex(),
		Course:      course,
		BlockNumber: res.BlockNumber,
		CreatedAt:   m.nowFunc(),
	})
}

// notify fans out to sinks. A sink failure is logged; the mint is already final.
func (m *Minter) notify(ctx context.Context, res Result, course string) {
	if len(m.sinks) == 0 {
		return
	}
	id := tokenString(res.TokenID)
	payload := sink.MintPayload{
		TokenID:  id,
		TxHash:   res.TxHash.Hex(),
		Contract: res.Contract.Hex(),
		Owner:    res.Minter.Hex(),
		Course:   course,
		Explorer: chain.ExplorerTokenURL(m.explorer, res.Contract, id),
	}
	for sinkID, s := range m.sinks {
		if err := s.Send(ctx, payload); err != nil {
			m.metrics.Errors()
			m.log.Warn("sink delivery failed", "sink", sinkID, "err", err)
		}
	}
}

func lockKey(minter common.Address, course string) string {
	return strings.ToLower(minter.Hex()) + "|" + strings.TrimSpace(course)
}

func tokenString(id *big.Int) string {
	if id == nil {
		return ""
	}
	return id.String()
}
