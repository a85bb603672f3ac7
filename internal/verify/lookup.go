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
	"github.com/devblac/certiblock/internal/metadata"
	"github.com/devblac/certiblock/internal/metrics"
	"github.com/ethereum/go-ethereum/common"
)

// TokenReader is the read side of the certificate contract. *chain.Contract satisfies it.
type TokenReader interface {
	OwnerReader
	Address() common.Address
	TokenURI(ctx context.Context, tokenID *big.Int) (string, error)
}

// MetadataResolver turns a token URI into metadata and an image. *metadata.Fetcher satisfies it.
type MetadataResolver interface {
	Resolve(ctx context.Context, tokenURI string, tokenID *big.Int) metadata.Resolution
}

// MintLedger reports which contract a token was minted on, when this deployment minted it.
type MintLedger interface {
	MintContractFor(ctx context.Context, tokenID string) (string, bool, error)
}

// Certificate is the full view of one token: owner, metadata and a displayable image.
type Certificate struct {
	TokenID      string             `json:"tokenId"`
	Contract     string             `json:"contract"`
	OnChainOwner *string            `json:"onChainOwner"`
	TokenURI     string             `json:"tokenUri,omitempty"`
	Metadata     *metadata.Metadata `json:"metadata"`
	ImageURL     string             `json:"imageUrl,omitempty"`
	ExplorerURL  string             `json:"explorerUrl,omitempty"`
	Warnings     []string           `json:"warnings,omitempty"`
}

// Lookup assembles certificates from the chain and the storage network.
type Lookup struct {
	tokens   TokenReader
	resolver MetadataResolver
	ledger   MintLedger
	explorer string
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// LookupOption configures a Lookup.
type LookupOption func(*Lookup)

// WithLedger enables contract mismatch warnings against recorded mints.
func WithLedger(l MintLedger) LookupOption {
	return func(lk *Lookup) { lk.ledger = l }
}

// WithExplorer sets the block explorer base URL used for token links.
func WithExplorer(explorer string) LookupOption {
	return func(lk *Lookup) { lk.explorer = explorer }
}

// WithLogger sets the lookup logger.
func WithLogger(log *slog.Logger) LookupOption {
	return func(lk *Lookup) {
		if log != nil {
			lk.log = log
		}
	}
}

// WithMetrics records not-found tokens and errors.
func WithMetrics(m *metrics.Metrics) LookupOption {
	return func(lk *Lookup) { lk.metrics = m }
}

// NewLookup builds a certificate lookup.
func NewLookup(tokens TokenReader, resolver MetadataResolver, opts ...LookupOption) *Lookup {
	lk := &Lookup{tokens: tokens, resolver: resolver, log: logging.Discard()}
	for _, o := range opts {
		o(lk)
	}
	return lk
}

// Certificate loads tokenID. A token that was never minted yields a Certificate with a nil owner
// and no metadata. An unresolved image leaves ImageURL empty without an error.
func (lk *Lookup) Certificate(ctx context.Context, tokenID string) (Certificate, error) {
	id, err := ParseTokenID(tokenID)
	if err != nil {
		return Certificate{}, err
	}
	contract := lk.tokens.Address()
	cert := Certificate{TokenID: id.String(), Contract: contract.Hex()}
	cert.Warnings = lk.contractWarnings(ctx, cert.TokenID, contract)

	owner, err := lk.tokens.OwnerOf(ctx, id)
	switch {
	case errors.Is(err, chain.ErrTokenNotFound):
		lk.metrics.TokenNotFound()
		return cert, nil
	case err != nil:
		lk.metrics.Errors()
		return Certificate{}, fmt.Errorf("lookup token %s: %w", cert.TokenID, err)
	}
	hex := owner.Hex()
	cert.OnChainOwner = &hex
	cert.ExplorerURL = chain.ExplorerTokenURL(lk.explorer, contract, cert.TokenID)

	uri, err := lk.tokens.TokenURI(ctx, id)
	switch {
	case errors.Is(err, chain.ErrTokenNotFound):
		lk.log.Warn("token has an owner but tokenURI reverted", "token_id", cert.TokenID)
		return cert, nil
	case err != nil:
		lk.metrics.Errors()
		return Certificate{}, fmt.Errorf("lookup token %s uri: %w", cert.TokenID, err)
	}
	cert.TokenURI = uri

	if lk.resolver != nil {
		res := lk.resolver.Resolve(ctx, uri, id)
		cert.Metadata = res.Metadata
		cert.ImageURL = res.ImageURL
	}
	return cert, nil
}

// contractWarnings flags a token recorded as minted on a different contract than the one
// being queried.
func (lk *Lookup) contractWarnings(ctx context.Context, tokenID string, contract common.Address) []string {
	if lk.ledger == nil {
		return nil
	}
	minted, ok, err := lk.ledger.MintContractFor(ctx, tokenID)
	if err != nil {
		lk.log.Warn("mint ledger lookup failed", "token_id", tokenID, "err", err)
		return nil
	}
	if !ok || strings.EqualFold(minted, contract.Hex()) {
		return nil
	}
	lk.log.Warn("token minted on a different contract", "token_id", tokenID, "minted_on", minted, "queried", contract.Hex())
	return []string{fmt.Sprintf("token %s was minted on %s but is being read from %s", tokenID, minted, contract.Hex())}
}
