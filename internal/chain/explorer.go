package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ExplorerTokenURL links a token on a block explorer. It returns "" when explorer or tokenID is empty.
func ExplorerTokenURL(explorer string, contract common.Address, tokenID string) string {
	explorer = strings.TrimRight(strings.TrimSpace(explorer), "/")
	if explorer == "" || tokenID == "" {
		return ""
	}
	return fmt.Sprintf("%s/token/%s?a=%s", explorer, contract.Hex(), tokenID)
}

// ExplorerTxURL links a transaction on a block explorer. It returns "" when explorer is empty.
func ExplorerTxURL(explorer string, txHash common.Hash) string {
	explorer = strings.TrimRight(strings.TrimSpace(explorer), "/")
	if explorer == "" {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", explorer, txHash.Hex())
}
