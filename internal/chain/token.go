package chain

import (
	"errors"
	"math/big"
)

// ErrNotNumeric reports a token id that is not a plain run of decimal digits.
var ErrNotNumeric = errors.New("token id must be a non-negative integer")

// maxUint256 bounds token ids to what the contract can address.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ParseTokenID parses the external string form of a token id. Only ASCII digits are accepted,
// so signs, whitespace, hex prefixes and exponents are all rejected.
func ParseTokenID(s string) (*big.Int, error) {
	if s == "" {
		return nil, ErrNotNumeric
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return nil, ErrNotNumeric
		}
	}
	id, ok := new(big.Int).SetString(s, 10)
	if !ok || id.Cmp(maxUint256) > 0 {
		return nil, ErrNotNumeric
	}
	return id, nil
}
