// Package wallet tracks the connected wallet's chain and balance in the background.
package wallet

import "fmt"

// Currency is a chain's native currency.
type Currency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// Network describes an EVM chain the wallet can be on.
type Network struct {
	ChainID     int64    `json:"chainId"`
	Name        string   `json:"name"`
	Currency    Currency `json:"nativeCurrency"`
	RPCURLs     []string `json:"rpcUrls"`
	ExplorerURL string   `json:"blockExplorerUrl"`
}

var matic = Currency{Name: "MATIC", Symbol: "MATIC", Decimals: 18}

var (
	PolygonAmoy = Network{
		ChainID:     80002,
		Name:        "Polygon Amoy Testnet",
		Currency:    matic,
		RPCURLs:     []string{"https://rpc-amoy.polygon.technology/"},
		ExplorerURL: "https://amoy.polygonscan.com/",
	}
	PolygonMainnet = Network{
		ChainID:     137,
		Name:        "Polygon Mainnet",
		Currency:    matic,
		RPCURLs:     []string{"https://polygon-rpc.com/"},
		ExplorerURL: "https://polygonscan.com/",
	}
)

var catalogue = map[int64]Network{
	PolygonAmoy.ChainID:    PolygonAmoy,
	PolygonMainnet.ChainID: PolygonMainnet,
}

// Lookup returns the known network for chainID. Unknown chains get a generic entry
// with an ETH currency.
func Lookup(chainID int64) (Network, bool) {
	n, ok := catalogue[chainID]
	if !ok {
		return Network{
			ChainID:  chainID,
			Name:     fmt.Sprintf("Chain %d", chainID),
			Currency: Currency{Name: "Ether", Symbol: "ETH", Decimals: 18},
		}, false
	}
	return n, true
}

// Networks lists the known networks.
func Networks() []Network {
	return []Network{PolygonAmoy, PolygonMainnet}
}
