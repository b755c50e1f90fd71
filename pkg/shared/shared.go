package shared

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type Chain int

const (
	Source Chain = iota
	Bridge
)

func (c Chain) String() string {
	switch c {
	case Source:
		return "Source"
	case Bridge:
		return "Bridge"
	default:
		return "unknown"
	}
}

// TxURL returns an explorer link for hash, or the bare hash when no explorer is configured.
func TxURL(explorerURL string, hash common.Hash) string {
	if explorerURL == "" {
		return hash.Hex()
	}
	return strings.TrimSuffix(explorerURL, "/") + "/tx/" + hash.Hex()
}
