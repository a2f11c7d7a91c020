package wallet

import (
	"fmt"

	x402 "github.com/coinbase/x402/go"
	"github.com/ethereum/go-ethereum/common"
	mx402 "github.com/mark3labs/x402-go"
)

type NativeCurrency struct {
	Name     string
	Symbol   string
	Decimals uint8
}

type Chain struct {
	Name         string
	DisplayName  string
	ID           int64
	Network      x402.Network
	Currency     NativeCurrency
	RPCURLs      []string
	ExplorerURLs []string
	Token        common.Address
	TokenSymbol  string
}

var (
	Polygon = Chain{
		Name:         "polygon",
		DisplayName:  "Polygon Mainnet",
		ID:           137,
		Network:      x402.Network("eip155:137"),
		Currency:     NativeCurrency{Name: "MATIC", Symbol: "MATIC", Decimals: 18},
		RPCURLs:      []string{"https://polygon-rpc.com/"},
		ExplorerURLs: []string{"https://polygonscan.com/"},
		Token:        common.HexToAddress("0xc2132D05D31c914a87C6611C10748AEb04B58e8F"),
		TokenSymbol:  "USDT",
	}

	PolygonMumbai = Chain{
		Name:         "polygon-mumbai",
		DisplayName:  "Polygon Mumbai",
		ID:           80001,
		Network:      x402.Network("eip155:80001"),
		Currency:     NativeCurrency{Name: "MATIC", Symbol: "MATIC", Decimals: 18},
		RPCURLs:      []string{"https://rpc-mumbai.maticvigil.com/"},
		ExplorerURLs: []string{"https://mumbai.polygonscan.com/"},
		Token:        common.HexToAddress("0x3813e82e6f7098b9583FC0F33a962D02018B6803"),
		TokenSymbol:  "USDT",
	}

	chains = []Chain{Polygon, PolygonMumbai}
)

// ChainByName resolves a configured network name.
func ChainByName(name string) (Chain, error) {
	// Names the x402 helpers know must be EVM networks.
	if kind, err := mx402.ValidateNetwork(name); err == nil && kind != mx402.NetworkTypeEVM {
		return Chain{}, fmt.Errorf("network %q is not an EVM network", name)
	}
	for _, c := range chains {
		if c.Name == name {
			return c, nil
		}
	}
	return Chain{}, fmt.Errorf("unsupported payment network %q", name)
}

// TokenAddress returns the USDT contract for a chain id, falling back to
// the mainnet token for unknown chains.
func TokenAddress(chainID int64) common.Address {
	for _, c := range chains {
		if c.ID == chainID {
			return c.Token
		}
	}
	return Polygon.Token
}
