package ens

import (
	"errors"
	"fmt"
	"time"

	"github.com/ava-labs/libevm/common"
	"github.com/caarlos0/env/v11"
)

// DefaultRegistryAddress is the ENS registry deployment on Ethereum mainnet.
const DefaultRegistryAddress = "0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e"

// Config holds ENS resolver settings. An empty RPCURL disables ENS resolution.
type Config struct {
	RPCURL          string        `env:"ENS_RPC_URL"`
	RegistryAddress string        `env:"ENS_REGISTRY_ADDRESS" envDefault:"0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e"`
	RPS             float64       `env:"ENS_RPS"              envDefault:"20"`
	Burst           int           `env:"ENS_BURST"            envDefault:"10"`
	MaxInFlight     int64         `env:"ENS_MAX_IN_FLIGHT"    envDefault:"8"`
	DialTimeout     time.Duration `env:"ENS_DIAL_TIMEOUT"     envDefault:"10s"`
}

// Load parses Config from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse ens config: %w", err)
	}
	return cfg, nil
}

// Enabled reports whether an RPC endpoint is configured.
func (c Config) Enabled() bool {
	return c.RPCURL != ""
}

// Registry returns the parsed registry address.
func (c Config) Registry() (common.Address, error) {
	if !common.IsHexAddress(c.RegistryAddress) {
		return common.Address{}, fmt.Errorf("invalid ens registry address %q", c.RegistryAddress)
	}
	return common.HexToAddress(c.RegistryAddress), nil
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if _, err := c.Registry(); err != nil {
		return err
	}
	if c.RPS <= 0 {
		return errors.New("ens rps must be greater than 0")
	}
	if c.Burst < 1 {
		return errors.New("ens burst must be at least 1")
	}
	if c.MaxInFlight < 1 {
		return errors.New("ens max in flight must be at least 1")
	}
	return nil
}
