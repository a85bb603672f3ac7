package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/devblac/certiblock/internal/chain"
	"github.com/devblac/certiblock/internal/logging"
	"github.com/devblac/certiblock/internal/metrics"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrMissingTokenID is returned when no token id was supplied.
	ErrMissingTokenID = errors.New("missing tokenId param")
	// ErrInvalidTokenID is returned when the token id is not a non-negative integer.
	ErrInvalidTokenID = errors.New("tokenId must be a non-negative integer")
)

// InputError marks a caller mistake. It is reported as-is and never retried.
type InputError struct {
	Err error
}

func (e *InputError) Error() string { return e.Err.Error() }

func (e *InputError) Unwrap() error { return e.Err }

// IsInputError reports whether err is (or wraps) an InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// ParseTokenID validates the external form of a token id.
func ParseTokenID(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, &InputError{Err: ErrMissingTokenID}
	}
	id, err := chain.ParseTokenID(raw)
	if err != nil {
		return nil, &InputError{Err: ErrInvalidTokenID}
	}
	return id, nil
}

// OwnerReader reads the current owner of a token. *chain.Contract satisfies it.
type OwnerReader interface {
	OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error)
}

// Result is the outcome of a verification. OnChainOwner is nil when the token does not exist.
// Verified is nil when no claim was made or the token does not exist.
type Result struct {
	TokenID      string  `json:"tokenId"`
	OnChainOwner *string `json:"onChainOwner"`
	Verified     *bool   `json:"verified,omitempty"`
}

// Exists reports whether the token was found on chain.
func (r Result) Exists() bool { return r.OnChainOwner != nil }

// Verifier answers whether an address currently owns a token. Every call reads the chain.
type Verifier struct {
	owners  OwnerReader
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewVerifier builds a verifier. log and m may be nil.
func NewVerifier(owners OwnerReader, log *slog.Logger, m *metrics.Metrics) *Verifier {
	if log == nil {
		log = logging.Discard()
	}
	return &Verifier{owners: owners, log: log, metrics: m}
}

// Verify checks tokenID against claimedOwner. An empty claimedOwner only reports the chain owner.
// Input errors are returned before any chain call; a reverted ownerOf is a nonexistent token,
// not an error.
func (v *Verifier) Verify(ctx context.Context, tokenID, claimedOwner string) (Result, error) {
	id, err := ParseTokenID(tokenID)
	if err != nil {
		return Result{}, err
	}
	res := Result{TokenID: id.String()}

	owner, err := v.owners.OwnerOf(ctx, id)
	switch {
	case errors.Is(err, chain.ErrTokenNotFound):
		v.metrics.TokenNotFound()
		v.metrics.Verification("not_found")
		v.log.Debug("token not minted", "token_id", res.TokenID, "reason", err)
		return res, nil
	case err != nil:
		v.metrics.Errors()
		return Result{}, fmt.Errorf("verify token %s: %w", res.TokenID, err)
	}

	hex := owner.Hex()
	res.OnChainOwner = &hex

	claimedOwner = strings.TrimSpace(claimedOwner)
	if claimedOwner == "" {
		v.metrics.Verification("info")
		return res, nil
	}
	ok := strings.EqualFold(claimedOwner, hex)
	res.Verified = &ok
	if ok {
		v.metrics.Verification("verified")
	} else {
		v.metrics.Verification("mismatch")
	}
	return res, nil
}
