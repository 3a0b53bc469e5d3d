package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Defaults mirror the protocol's launch parameters: 1x senior leverage, a 70%
// underwriter fee on gross interest, a 10% performance fee on realized gains,
// and a 10% reserve floor, with daily conversion cycles over a one-year
// schedule.
const (
	DefaultListenAddress          = "127.0.0.1:8645"
	DefaultDataDir                = "./valchi-data"
	DefaultLeverage               = 1
	DefaultUnderwriterFeeBps      = 7_000
	DefaultPerformanceFeeBps      = 1_000
	DefaultReserveRatioBps        = 1_000
	DefaultGraceDays              = 7
	DefaultCycleLengthDays        = 1
	DefaultCycleTotalDurationDays = 365
	DefaultIdentityLabel          = "ValchiWhitelisted"
)

const maxBps = 10_000

// Protocol carries the economic parameters snapshotted into deals and the
// liquidity pool at construction.
type Protocol struct {
	Leverage          uint64 `toml:"Leverage"`
	UnderwriterFeeBps uint64 `toml:"UnderwriterFeeBps"`
	PerformanceFeeBps uint64 `toml:"PerformanceFeeBps"`
	ReserveRatioBps   uint64 `toml:"ReserveRatioBps"`
	GraceDays         uint64 `toml:"GraceDays"`
}

// Conversion configures the conversion pool's cycle schedule.
type Conversion struct {
	CycleLengthDays   uint64 `toml:"CycleLengthDays"`
	TotalDurationDays uint64 `toml:"TotalDurationDays"`
}

// Identity configures the participant whitelist.
type Identity struct {
	// Issuer is the bech32 address allowed to approve and revoke identities.
	Issuer string `toml:"Issuer"`
	Label  string `toml:"Label"`
}

// Config is the daemon's full configuration.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	Admin         string `toml:"Admin"`
	// Paused lists modules whose state-changing operations the operator has
	// halted. Valid names: identity, deal, investorsRouter, liquidityPool,
	// conversionPool.
	Paused     []string   `toml:"Paused"`
	Protocol   Protocol   `toml:"protocol"`
	Conversion Conversion `toml:"conversion"`
	Identity   Identity   `toml:"identity"`
}

var pausableModules = map[string]bool{
	"identity":        true,
	"deal":            true,
	"investorsRouter": true,
	"liquidityPool":   true,
	"conversionPool":  true,
}

// Default returns the configuration with every field at its launch value.
// The admin and issuer addresses have no sensible default and stay empty.
func Default() Config {
	return Config{
		ListenAddress: DefaultListenAddress,
		DataDir:       DefaultDataDir,
		Protocol: Protocol{
			Leverage:          DefaultLeverage,
			UnderwriterFeeBps: DefaultUnderwriterFeeBps,
			PerformanceFeeBps: DefaultPerformanceFeeBps,
			ReserveRatioBps:   DefaultReserveRatioBps,
			GraceDays:         DefaultGraceDays,
		},
		Conversion: Conversion{
			CycleLengthDays:   DefaultCycleLengthDays,
			TotalDurationDays: DefaultCycleTotalDurationDays,
		},
		Identity: Identity{
			Label: DefaultIdentityLabel,
		},
	}
}

// Load reads the TOML file at path over the defaults. A missing file is not
// an error; the defaults are returned as-is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return cfg, err
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the engines would refuse.
func (c Config) Validate() error {
	if c.ListenAddress == "" {
		return errors.New("config: ListenAddress must not be empty")
	}
	if c.DataDir == "" {
		return errors.New("config: DataDir must not be empty")
	}
	if c.Protocol.Leverage == 0 {
		return errors.New("config: protocol.Leverage must be positive")
	}
	if c.Protocol.UnderwriterFeeBps > maxBps {
		return fmt.Errorf("config: protocol.UnderwriterFeeBps %d exceeds %d", c.Protocol.UnderwriterFeeBps, maxBps)
	}
	if c.Protocol.PerformanceFeeBps > maxBps {
		return fmt.Errorf("config: protocol.PerformanceFeeBps %d exceeds %d", c.Protocol.PerformanceFeeBps, maxBps)
	}
	if c.Protocol.ReserveRatioBps > maxBps {
		return fmt.Errorf("config: protocol.ReserveRatioBps %d exceeds %d", c.Protocol.ReserveRatioBps, maxBps)
	}
	if c.Conversion.CycleLengthDays == 0 {
		return errors.New("config: conversion.CycleLengthDays must be positive")
	}
	if c.Conversion.TotalDurationDays < c.Conversion.CycleLengthDays {
		return errors.New("config: conversion.TotalDurationDays must cover at least one cycle")
	}
	if c.Identity.Label == "" {
		return errors.New("config: identity.Label must not be empty")
	}
	for _, module := range c.Paused {
		if !pausableModules[module] {
			return fmt.Errorf("config: unknown module %q in Paused", module)
		}
	}
	return nil
}
