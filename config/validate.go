package config

import (
	"fmt"
	"strings"

	"fporacle/core/types"
)

// Validate checks accounts, amounts and limits.
func (c *Config) Validate() error {
	accounts := map[string]string{
		"accounts.Oracle":       c.Accounts.Oracle,
		"accounts.Requester":    c.Accounts.Requester,
		"accounts.Peer":         c.Accounts.Peer,
		"accounts.PaymentToken": c.Accounts.PaymentToken,
		"accounts.StakeToken":   c.Accounts.StakeToken,
	}
	seen := map[string]string{}
	for field, value := range accounts {
		if _, err := types.ParseAccountID(value); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		if other, dup := seen[value]; dup {
			return fmt.Errorf("%s and %s name the same account %q", field, other, value)
		}
		seen[value] = field
	}
	for i, w := range c.Accounts.Whitelist {
		if _, err := types.ParseAccountID(w); err != nil {
			return fmt.Errorf("accounts.Whitelist[%d]: %w", i, err)
		}
	}
	params, err := c.StorageParams()
	if err != nil {
		return err
	}
	if params.ByteCost.Sign() == 0 {
		return fmt.Errorf("storage.ByteCost must be positive")
	}
	if _, err := c.GenesisBalances(); err != nil {
		return err
	}
	if c.RPC.RatePerSecond < 0 || c.RPC.Burst < 0 {
		return fmt.Errorf("rpc: rate limits must not be negative")
	}
	if c.RPC.MaxRequestBytes < 0 {
		return fmt.Errorf("rpc.MaxRequestBytes must not be negative")
	}
	if c.Programs.CallBudget < 0 || c.Programs.EffectTimeout < 0 {
		return fmt.Errorf("programs: budgets must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.SampleRatio must be within [0,1]")
	}
	if c.Audit.Enabled {
		switch strings.ToLower(strings.TrimSpace(c.Audit.Driver)) {
		case "", "sqlite", "postgres":
		default:
			return fmt.Errorf("audit.Driver %q unsupported", c.Audit.Driver)
		}
		if strings.TrimSpace(c.Audit.DSN) == "" {
			return fmt.Errorf("audit.DSN required when audit is enabled")
		}
	}
	return nil
}
