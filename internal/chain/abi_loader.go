package chain

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed certificate.abi.json
var certificateABI []byte

// TransferEvent is the ERC-721 event emitted on mint and on every ownership change.
const TransferEvent = "Transfer"

// DefaultABI returns the built-in certificate contract ABI.
func DefaultABI() abi.ABI {
	a, err := abi.JSON(bytes.NewReader(certificateABI))
	if err != nil {
		panic(fmt.Sprintf("embedded abi: %v", err))
	}
	return a
}

// LoadABI reads a contract ABI from path, or returns the built-in ABI when path is empty.
// A loaded ABI must still declare ownerOf, tokenURI and the Transfer event.
func LoadABI(path string) (abi.ABI, error) {
	if path == "" {
		return DefaultABI(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read abi %s: %w", path, err)
	}
	a, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi %s: %w", path, err)
	}
	for _, m := range []string{"ownerOf", "tokenURI"} {
		if _, ok := a.Methods[m]; !ok {
			return abi.ABI{}, fmt.Errorf("abi %s: missing method %s", path, m)
		}
	}
	if _, ok := a.Events[TransferEvent]; !ok {
		return abi.ABI{}, fmt.Errorf("abi %s: missing event %s", path, TransferEvent)
	}
	return a, nil
}
