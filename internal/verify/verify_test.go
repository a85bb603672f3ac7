package verify

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/devblac/certiblock/internal/chain"
	"github.com/devblac/certiblock/internal/metadata"
	"github.com/ethereum/go-ethereum/common"
)

var (
	contractAddr = common.HexToAddress("0x2445C0C2Cd556AAf622f6f1b7AE2Bad7Af0923D8")
	ownerAddr    = common.HexToAddress("0xAbCdEf0123456789aBcDeF0123456789AbCdEf01")
)

// fakeChain serves owners and URIs from maps and counts calls.
type fakeChain struct {
	owners    map[string]common.Address
	uris      map[string]string
	err       error
	ownerCall int
	uriCall   int
}

func (f *fakeChain) Address() common.Address { return contractAddr }

func (f *fakeChain) OwnerOf(_ context.Context, id *big.Int) (common.Address, error) {
	f.ownerCall++
	if f.err != nil {
		return common.Address{}, f.err
	}
	owner, ok := f.owners[id.String()]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: ERC721: invalid token ID", chain.ErrTokenNotFound)
	}
	return owner, nil
}

func (f *fakeChain) TokenURI(_ context.Context, id *big.Int) (string, error) {
	f.uriCall++
	uri, ok := f.uris[id.String()]
	if !ok {
		return "", chain.ErrTokenNotFound
	}
	return uri, nil
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		owners: map[string]common.Address{"1": ownerAddr},
		uris:   map[string]string{"1": "ipfs://bafy123/meta.json"},
	}
}

func TestVerifyOutcomes(t *testing.T) {
	lower := strings.ToLower(ownerAddr.Hex())
	upper := "0x" + strings.ToUpper(ownerAddr.Hex()[2:])

	tests := []struct {
		name       string
		tokenID    string
		claim      string
		wantOwner  bool
		wantVerify *bool
	}{
		{"no_claim", "1", "", true, nil},
		{"claim_lowercase", "1", lower, true, boolPtr(true)},
		{"claim_uppercase", "1", upper, true, boolPtr(true)},
		{"claim_other", "1", "0x0000000000000000000000000000000000000001", true, boolPtr(false)},
		{"missing_no_claim", "99", "", false, nil},
		{"missing_with_claim", "99", lower, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(newFakeChain(), nil, nil)
			res, err := v.Verify(context.Background(), tt.tokenID, tt.claim)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if res.TokenID != tt.tokenID {
				t.Fatalf("token id = %q", res.TokenID)
			}
			if (res.OnChainOwner != nil) != tt.wantOwner {
				t.Fatalf("owner = %v, want present=%v", res.OnChainOwner, tt.wantOwner)
			}
			if tt.wantOwner && *res.OnChainOwner != ownerAddr.Hex() {
				t.Fatalf("owner = %s", *res.OnChainOwner)
			}
			switch {
			case tt.wantVerify == nil && res.Verified != nil:
				t.Fatalf("verified = %v, want undefined", *res.Verified)
			case tt.wantVerify != nil && (res.Verified == nil || *res.Verified != *tt.wantVerify):
				t.Fatalf("verified = %v, want %v", res.Verified, *tt.wantVerify)
			}
		})
	}
}

func TestVerifyInputErrorsSkipChain(t *testing.T) {
	for _, raw := range []string{"", "12a", "-1", "0x10", "1e3", "1.0", " "} {
		t.Run(fmt.Sprintf("%q", raw), func(t *testing.T) {
			fc := newFakeChain()
			v := NewVerifier(fc, nil, nil)
			_, err := v.Verify(context.Background(), raw, "")
			if !IsInputError(err) {
				t.Fatalf("expected input error, got %v", err)
			}
			if fc.ownerCall != 0 {
				t.Fatalf("chain was called %d times", fc.ownerCall)
			}
		})
	}
}

func TestVerifyInputErrorKinds(t *testing.T) {
	v := NewVerifier(newFakeChain(), nil, nil)
	if _, err := v.Verify(context.Background(), "", ""); !errors.Is(err, ErrMissingTokenID) {
		t.Fatalf("empty id: %v", err)
	}
	if _, err := v.Verify(context.Background(), "12a", ""); !errors.Is(err, ErrInvalidTokenID) {
		t.Fatalf("12a: %v", err)
	}
}

func TestVerifySystemFailure(t *testing.T) {
	fc := newFakeChain()
	fc.err = errors.New("dial tcp: connection refused")
	v := NewVerifier(fc, nil, nil)

	_, err := v.Verify(context.Background(), "1", "")
	if err == nil || IsInputError(err) {
		t.Fatalf("expected system error, got %v", err)
	}
}

func TestVerifyReadsChainEveryCall(t *testing.T) {
	fc := newFakeChain()
	v := NewVerifier(fc, nil, nil)
	for i := 0; i < 3; i++ {
		if _, err := v.Verify(context.Background(), "1", ""); err != nil {
			t.Fatalf("verify: %v", err)
		}
	}
	if fc.ownerCall != 3 {
		t.Fatalf("owner calls = %d, want 3", fc.ownerCall)
	}
}

func TestVerifyCanonicalTokenID(t *testing.T) {
	v := NewVerifier(newFakeChain(), nil, nil)
	res, err := v.Verify(context.Background(), "0001", "")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.TokenID != "1" || !res.Exists() {
		t.Fatalf("result = %+v", res)
	}
}

type fakeResolver struct {
	calls int
	res   metadata.Resolution
}

func (f *fakeResolver) Resolve(context.Context, string, *big.Int) metadata.Resolution {
	f.calls++
	return f.res
}

type fakeLedger map[string]string

func (f fakeLedger) MintContractFor(_ context.Context, id string) (string, bool, error) {
	c, ok := f[id]
	return c, ok, nil
}

func TestLookupCertificate(t *testing.T) {
	fr := &fakeResolver{res: metadata.Resolution{
		Metadata: &metadata.Metadata{Name: "Blockchain Foundation"},
		ImageURL: "https://ipfs.io/ipfs/bafy456/img.png",
	}}
	lk := NewLookup(newFakeChain(), fr, WithExplorer("https://sepolia.etherscan.io"))

	cert, err := lk.Certificate(context.Background(), "1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if cert.OnChainOwner == nil || cert.TokenURI != "ipfs://bafy123/meta.json" {
		t.Fatalf("certificate = %+v", cert)
	}
	if cert.ImageURL != fr.res.ImageURL || cert.Metadata.Name != "Blockchain Foundation" {
		t.Fatalf("resolution not carried: %+v", cert)
	}
	want := "https://sepolia.etherscan.io/token/" + contractAddr.Hex() + "?a=1"
	if cert.ExplorerURL != want {
		t.Fatalf("explorer = %q", cert.ExplorerURL)
	}
	if len(cert.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", cert.Warnings)
	}
}

func TestLookupNotMinted(t *testing.T) {
	fc := newFakeChain()
	fr := &fakeResolver{}
	lk := NewLookup(fc, fr)

	cert, err := lk.Certificate(context.Background(), "99")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if cert.OnChainOwner != nil || cert.Metadata != nil {
		t.Fatalf("certificate = %+v", cert)
	}
	if fc.uriCall != 0 || fr.calls != 0 {
		t.Fatalf("nonexistent token should not read uri or metadata")
	}
}

func TestLookupFlagsContractMismatch(t *testing.T) {
	ledger := fakeLedger{"1": "0x6a276e3D4948421B01cCdf4c85C209A6FEaD3AE0"}
	lk := NewLookup(newFakeChain(), &fakeResolver{}, WithLedger(ledger))

	cert, err := lk.Certificate(context.Background(), "1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(cert.Warnings) != 1 || !strings.Contains(cert.Warnings[0], "0x6a276e3D4948421B01cCdf4c85C209A6FEaD3AE0") {
		t.Fatalf("warnings = %v", cert.Warnings)
	}

	same := fakeLedger{"1": strings.ToLower(contractAddr.Hex())}
	lk = NewLookup(newFakeChain(), &fakeResolver{}, WithLedger(same))
	cert, _ = lk.Certificate(context.Background(), "1")
	if len(cert.Warnings) != 0 {
		t.Fatalf("same contract flagged: %v", cert.Warnings)
	}
}

func TestLookupInputError(t *testing.T) {
	fc := newFakeChain()
	lk := NewLookup(fc, &fakeResolver{})
	if _, err := lk.Certificate(context.Background(), "abc"); !IsInputError(err) {
		t.Fatalf("expected input error, got %v", err)
	}
	if fc.ownerCall != 0 {
		t.Fatalf("chain called on invalid input")
	}
}

func boolPtr(b bool) *bool { return &b }
