package config

import (
	"errors"

	"github.com/Tell-dev/TixTrust/core"
)

// InitGenesis seeds a fresh state from the config: the registry owner
// record and the initial account balances, then commits. It must only
// be called on an empty data directory.
func InitGenesis(cfg *Config, state core.State) error {
	if cfg.Genesis.RegistryOwner == "" {
		return errors.New("genesis: registry_owner is required")
	}
	if err := state.SetRegistryOwner(cfg.Genesis.RegistryOwner); err != nil {
		return err
	}
	for pubkeyHex, balance := range cfg.Genesis.Alloc {
		acc := &core.Account{
			Address: pubkeyHex,
			Balance: balance,
			Nonce:   0,
		}
		if err := state.SetAccount(acc); err != nil {
			return err
		}
	}
	return state.Commit()
}
