package config

import (
	"encoding/json"
	"os"
)

// GenesisConfig describes the marketplace's initial state.
type GenesisConfig struct {
	ChainID       string            `json:"chain_id"`
	RegistryOwner string            `json:"registry_owner"` // pubkey hex allowed to mint
	Alloc         map[string]uint64 `json:"alloc"`          // pubkey hex → initial balance
}

// TLSConfig holds PEM paths for serving the RPC endpoint over TLS.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`
	NodeCert string `json:"node_cert"`
	NodeKey  string `json:"node_key"`
}

// Config holds all service configuration. The anti-scalping policy
// constants are compile-time fixed in the policy package and are
// deliberately absent here.
type Config struct {
	NodeID    string        `json:"node_id"`
	DataDir   string        `json:"data_dir"`
	RPCPort   int           `json:"rpc_port"`
	AuthToken string        `json:"auth_token"` // empty → no RPC auth
	TLS       *TLSConfig    `json:"tls,omitempty"`
	Genesis   GenesisConfig `json:"genesis"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:  "tixtrust0",
		DataDir: "./data",
		RPCPort: 8560,
		Genesis: GenesisConfig{
			ChainID: "tixtrust-dev",
			Alloc:   map[string]uint64{},
		},
	}
}

// Load reads a JSON config file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
