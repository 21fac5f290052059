package chain

import "fmt"

// NativeToken is the conventional marker address for the chain's gas-native
// token in balance queries and pool token listings.
const NativeToken = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// Network describes one deployed contract/endpoint set the agent can target.
type Network struct {
	Name       string
	ChainID    int64
	DefaultRPC string
	Router     string
}

var networks = map[string]Network{
	"mainnet": {
		Name:       "mainnet",
		ChainID:    56,
		DefaultRPC: "https://bsc-dataseed.binance.org",
		Router:     "0x7a3D735ee6873f17Dbdcab1d51B604928dc10d92",
	},
	"testnet": {
		Name:       "testnet",
		ChainID:    97,
		DefaultRPC: "https://data-seed-prebsc-1-s1.binance.org:8545",
		Router:     "0x4F7b254d9A41B6a72Ee0E312Fd6bb79A5e9a8Cc1",
	},
}

// LookupNetwork resolves a network selector to its deployment constants.
func LookupNetwork(name string) (Network, error) {
	net, ok := networks[name]
	if !ok {
		return Network{}, fmt.Errorf("unknown network %q", name)
	}
	return net, nil
}
