package mint

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TransferEvent is a decoded ERC-721 Transfer log.
type TransferEvent struct {
	From     common.Address
	To       common.Address
	TokenID  *big.Int
	TxHash   common.Hash
	LogIndex uint
}

// Extractor decodes Transfer events emitted by one contract.
type Extractor struct {
	address common.Address
	event   abi.Event
	indexed abi.Arguments
}

// NewExtractor builds an extractor for the Transfer event of parsed, emitted at address.
func NewExtractor(address common.Address, parsed abi.ABI) (*Extractor, error) {
	ev, ok := parsed.Events["Transfer"]
	if !ok {
		return nil, fmt.Errorf("abi has no Transfer event")
	}
	return &Extractor{
		address: address,
		event:   ev,
		indexed: indexedArgs(ev.Inputs),
	}, nil
}

// Address returns the contract whose logs are decoded.
func (e *Extractor) Address() common.Address { return e.address }

// EventID returns the Transfer topic hash.
func (e *Extractor) EventID() common.Hash { return e.event.ID }

// Decode turns one log into a TransferEvent. Logs from other contracts or with another
// signature are reported as a non-match, not an error.
func (e *Extractor) Decode(lg *types.Log) (*TransferEvent, bool, error) {
	if lg == nil || lg.Address != e.address {
		return nil, false, nil
	}
	if len(lg.Topics) == 0 || lg.Topics[0] != e.event.ID {
		return nil, false, nil
	}

	args := map[string]interface{}{}
	if err := abi.ParseTopicsIntoMap(args, e.indexed, lg.Topics[1:]); err != nil {
		return nil, false, fmt.Errorf("parse topics: %w", err)
	}
	if len(lg.Data) > 0 {
		nonIndexed := e.event.Inputs.NonIndexed()
		if len(nonIndexed) > 0 {
			if err := nonIndexed.UnpackIntoMap(args, lg.Data); err != nil {
				return nil, false, fmt.Errorf("unpack data: %w", err)
			}
		}
	}

	from, okFrom := args["from"].(common.Address)
	to, okTo := args["to"].(common.Address)
	id, okID := args["tokenId"].(*big.Int)
	if !okFrom || !okTo || !okID {
		return nil, false, fmt.Errorf("transfer log %s#%d missing from/to/tokenId", lg.TxHash.Hex(), lg.Index)
	}

	return &TransferEvent{
		From:     from,
		To:       to,
		TokenID:  new(big.Int).Set(id),
		TxHash:   lg.TxHash,
		LogIndex: lg.Index,
	}, true, nil
}

// MintedTokenID walks logs in order and returns the token id of the first Transfer emitted by
// the tracked contract. Undecodable entries are skipped. A nil result means no Transfer was found.
func (e *Extractor) MintedTokenID(logs []*types.Log) *big.Int {
	for _, lg := range logs {
		ev, ok, err := e.Decode(lg)
		if err != nil || !ok {
			continue
		}
		return ev.TokenID
	}
	return nil
}

// ExtractMintedTokenID is the receipt-level entry point of MintedTokenID.
func (e *Extractor) ExtractMintedTokenID(receipt *types.Receipt) *big.Int {
	if receipt == nil {
		return nil
	}
	return e.MintedTokenID(receipt.Logs)
}

func indexedArgs(args abi.Arguments) abi.Arguments {
	var out abi.Arguments
	for _, a := range args {
		if a.Indexed {
			out = append(out, a)
		}
	}
	return out
}
