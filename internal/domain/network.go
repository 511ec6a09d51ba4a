package domain

// NetworkConfig describes one deployment target chain.
type NetworkConfig struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ChainID       int64  `json:"chain_id"`
	RPCURL        string `json:"rpc_url"`
	BlockExplorer string `json:"block_explorer"`
	Currency      string `json:"currency"`
	Testnet       bool   `json:"testnet"`
	Enabled       bool   `json:"enabled"`
}

// SupportedNetworks is the static catalog of chains the pipeline can deploy
// to. Disabled entries stay in the table so old job records still resolve a
// display name.
var SupportedNetworks = map[string]NetworkConfig{
	"avalanche-fuji": {
		ID: "avalanche-fuji", Name: "Avalanche Fuji Testnet", ChainID: 43113,
		RPCURL: "https://api.avax-test.network/ext/bc/C/rpc", BlockExplorer: "https://testnet.snowtrace.io",
		Currency: "AVAX", Testnet: true, Enabled: true,
	},
	"basecamp": {
		ID: "basecamp", Name: "Basecamp", ChainID: 123420001114,
		RPCURL: "https://rpc.basecamp.t.raas.gelato.cloud", BlockExplorer: "https://basecamp.cloud.blockscout.com",
		Currency: "ETH", Testnet: true, Enabled: true,
	},
	"basecamp-testnet": {
		ID: "basecamp-testnet", Name: "Basecamp Testnet", ChainID: 123420001114,
		RPCURL: "https://rpc.basecamp.t.raas.gelato.cloud", BlockExplorer: "https://basecamp.cloud.blockscout.com",
		Currency: "ETH", Testnet: true, Enabled: true,
	},
	"camp-testnet-v2": {
		ID: "camp-testnet-v2", Name: "Camp Network Testnet V2", ChainID: 325000,
		RPCURL: "https://rpc-campnetwork.xyz", BlockExplorer: "https://camp-network-testnet.blockscout.com",
		Currency: "ETH", Testnet: true, Enabled: true,
	},
	"sepolia": {
		ID: "sepolia", Name: "Sepolia Testnet", ChainID: 11155111,
		RPCURL: "https://rpc.sepolia.org", BlockExplorer: "https://sepolia.etherscan.io",
		Currency: "ETH", Testnet: true, Enabled: true,
	},
	// Mumbai is deprecated; kept for display-name resolution only.
	"polygon-mumbai": {
		ID: "polygon-mumbai", Name: "Polygon Mumbai", ChainID: 80001,
		RPCURL: "https://rpc-mumbai.maticvigil.com", BlockExplorer: "https://mumbai.polygonscan.com",
		Currency: "MATIC", Testnet: true, Enabled: false,
	},
	"polygon-amoy": {
		ID: "polygon-amoy", Name: "Polygon Amoy Testnet", ChainID: 80002,
		RPCURL: "https://rpc-amoy.polygon.technology", BlockExplorer: "https://amoy.polygonscan.com",
		Currency: "MATIC", Testnet: true, Enabled: true,
	},
	"base-sepolia": {
		ID: "base-sepolia", Name: "Base Sepolia Testnet", ChainID: 84532,
		RPCURL: "https://sepolia.base.org", BlockExplorer: "https://sepolia.basescan.org",
		Currency: "ETH", Testnet: true, Enabled: true,
	},
	"arbitrum-sepolia": {
		ID: "arbitrum-sepolia", Name: "Arbitrum Sepolia Testnet", ChainID: 421614,
		RPCURL: "https://sepolia-rollup.arbitrum.io/rpc", BlockExplorer: "https://sepolia.arbiscan.io",
		Currency: "ETH", Testnet: true, Enabled: true,
	},
}

func IsNetworkSupported(id string) bool {
	n, ok := SupportedNetworks[id]
	return ok && n.Enabled
}

func EnabledNetworkIDs() []string {
	var out []string
	for id, n := range SupportedNetworks {
		if n.Enabled {
			out = append(out, id)
		}
	}
	return out
}

// NetworkDisplayName resolves a human-readable chain name, falling back to
// the raw id.
func NetworkDisplayName(id string) string {
	if n, ok := SupportedNetworks[id]; ok {
		return n.Name
	}
	return id
}
