package mint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/devblac/certiblock/internal/logging"
	"github.com/devblac/certiblock/internal/storage"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrReorgDetected signals that the chain rewound; the cursor was moved back and the caller may retry.
var ErrReorgDetected = errors.New("reorg detected")

// DefaultBatch is the block span of one log query.
const DefaultBatch = 2000

// BlockClient captures the subset of ethclient used by the scanner.
type BlockClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// CursorLedger persists scan progress and scanned mints. *storage.Store satisfies it.
type CursorLedger interface {
	GetCursor(ctx context.Context, sourceID string) (height uint64, hash string, ok bool, err error)
	UpsertCursor(ctx context.Context, sourceID string, height uint64, hash string) error
	RecordMint(ctx context.Context, m storage.Mint) (bool, error)
}

// ScanOptions tune a Scanner.
type ScanOptions struct {
	StartBlock    uint64
	Confirmations uint64
	Batch         uint64
	Logger        *slog.Logger
}

// Scanner backfills the mint ledger from Transfer logs whose sender is the zero address, so mints
// submitted outside this process (for example from a browser wallet) are known too.
type Scanner struct {
	client        BlockClient
	ledger        CursorLedger
	extractor     *Extractor
	cursorID      string
	start         uint64
	confirmations uint64
	batch         uint64
	log           *slog.Logger
}

// SyncResult describes one processed block range.
type SyncResult struct {
	From     uint64
	To       uint64
	Recorded int
}

// NewScanner builds a scanner over the extractor's contract.
func NewScanner(client BlockClient, ledger CursorLedger, extractor *Extractor, opts ScanOptions) *Scanner {
	if opts.Batch == 0 {
		opts.Batch = DefaultBatch
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Scanner{
		client:        client,
		ledger:        ledger,
		extractor:     extractor,
		cursorID:      "mints:" + strings.ToLower(extractor.Address().Hex()),
		start:         opts.StartBlock,
		confirmations: opts.Confirmations,
		batch:         opts.Batch,
		log:           log,
	}
}

// SyncNext processes the next eligible block range, respecting confirmations, and advances the
// cursor. done is true when the scanner has caught up with the safe head.
func (s *Scanner) SyncNext(ctx context.Context) (res SyncResult, done bool, err error) {
	curHeight, curHash, hasCursor, err := s.ledger.GetCursor(ctx, s.cursorID)
	if err != nil {
		return res, false, err
	}

	latest, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return res, false, fmt.Errorf("latest header: %w", err)
	}
	safeHeight := latest.Number.Uint64()
	if s.confirmations > 0 {
		if s.confirmations > safeHeight {
			return res, true, nil
		}
		safeHeight -= s.confirmations
	}

	target := s.start
	if hasCursor {
		target = curHeight + 1
		cur, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(curHeight))
		if err != nil {
			return res, false, fmt.Errorf("header %d: %w", curHeight, err)
		}
		if cur.Hash().Hex() != curHash {
			rewindTo := uint64(0)
			if curHeight > 0 {
				rewindTo = curHeight - 1
			}
			if err := s.ledger.UpsertCursor(ctx, s.cursorID, rewindTo, cur.ParentHash.Hex()); err != nil {
				return res, false, fmt.Errorf("rewind cursor: %w", err)
			}
			return res, false, ErrReorgDetected
		}
	}
	if target > safeHeight {
		return res, true, nil
	}

	end := target + s.batch - 1
	if end > safeHeight {
		end = safeHeight
	}
	res.From, res.To = target, end

	logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(target),
		ToBlock:   new(big.Int).SetUint64(end),
		Addresses: []common.Address{s.extractor.Address()},
		Topics:    [][]common.Hash{{s.extractor.EventID()}, {{}}},
	})
	if err != nil {
		return res, false, fmt.Errorf("filter logs: %w", err)
	}

	for i := range logs {
		ev, ok, err := s.extractor.Decode(&logs[i])
		if err != nil {
			s.log.Debug("skip undecodable transfer", "tx", logs[i].TxHash.Hex(), "err", err)
			continue
		}
		if !ok || ev.From != (common.Address{}) {
			continue
		}
		added, err := s.ledger.RecordMint(ctx, storage.Mint{
			TxHash:      ev.TxHash.Hex(),
			Contract:    s.extractor.Address().Hex(),
			TokenID:     ev.TokenID.String(),
			Minter:      ev.To.Hex(),
			BlockNumber: logs[i].BlockNumber,
		})
		if err != nil {
			return res, false, err
		}
		if added {
			res.Recorded++
			s.log.Info("mint discovered", "token_id", ev.TokenID.String(), "tx", ev.TxHash.Hex(), "block", logs[i].BlockNumber)
		}
	}

	header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(end))
	if err != nil {
		return res, false, fmt.Errorf("header %d: %w", end, err)
	}
	if err := s.ledger.UpsertCursor(ctx, s.cursorID, end, header.Hash().Hex()); err != nil {
		return res, false, err
	}
	return res, end >= safeHeight, nil
}

// Sync runs SyncNext until caught up and returns the number of newly recorded mints. A detected
// reorg is retried from the rewound cursor.
func (s *Scanner) Sync(ctx context.Context) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, done, err := s.SyncNext(ctx)
		if errors.Is(err, ErrReorgDetected) {
			s.log.Warn("reorg detected, rewinding mint cursor")
			continue
		}
		if err != nil {
			return total, err
		}
		total += res.Recorded
		if done {
			return total, nil
		}
	}
}
