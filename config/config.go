package config

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"fporacle/core/types"
	"fporacle/native/storagefee"
)

// Config is the daemon configuration.
type Config struct {
	Node      Node             `toml:"node" yaml:"node"`
	RPC       RPC              `toml:"rpc" yaml:"rpc"`
	GRPC      GRPC             `toml:"grpc" yaml:"grpc"`
	Accounts  Accounts         `toml:"accounts" yaml:"accounts"`
	Storage   Storage          `toml:"storage" yaml:"storage"`
	Programs  Programs         `toml:"programs" yaml:"programs"`
	Genesis   []GenesisBalance `toml:"genesis" yaml:"genesis"`
	Logging   Logging          `toml:"logging" yaml:"logging"`
	Telemetry Telemetry        `toml:"telemetry" yaml:"telemetry"`
	Audit     Audit            `toml:"audit" yaml:"audit"`
}

// Load reads the configuration at path, decoding YAML for .yaml/.yml files and
// TOML otherwise. A missing file is created with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if isYAML(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config %s: unknown key %s", path, undecoded[0])
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the devnet configuration written on first start.
func Default() *Config {
	cfg := &Config{
		Node: Node{DataDir: "./fporacle-data", Env: "devnet", NodeID: "oracled-0"},
		RPC: RPC{
			ListenAddress:   "127.0.0.1:8545",
			JWTSecretEnv:    "FPORACLE_JWT_SECRET",
			Issuer:          "fporacle",
			RatePerSecond:   20,
			Burst:           40,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			MaxRequestBytes: 1 << 20,
		},
		GRPC: GRPC{HealthAddress: "127.0.0.1:9090"},
		Accounts: Accounts{
			Oracle:       "oracle.devnet",
			Requester:    "requester.devnet",
			Peer:         "peer.devnet",
			PaymentToken: "usdc.devnet",
			StakeToken:   "stake.devnet",
			Whitelist:    []string{},
		},
		Storage: Storage{
			MinDeposit: storagefee.DefaultParams().MinDeposit.String(),
			ByteCost:   storagefee.DefaultParams().ByteCost.String(),
		},
		Programs: Programs{CallBudget: 2 * time.Second, EffectTimeout: 5 * time.Second},
		Genesis:  []GenesisBalance{},
		Logging:  Logging{Level: "info"},
		Telemetry: Telemetry{
			Endpoint: "localhost:4318",
			Insecure: true,
		},
		Audit: Audit{Enabled: true, Driver: "sqlite", DSN: "fporacle-data/audit.db"},
	}
	return cfg
}

func (c *Config) applyDefaults() {
	def := Default()
	if strings.TrimSpace(c.Node.DataDir) == "" {
		c.Node.DataDir = def.Node.DataDir
	}
	if strings.TrimSpace(c.RPC.ListenAddress) == "" {
		c.RPC.ListenAddress = def.RPC.ListenAddress
	}
	if c.RPC.RatePerSecond == 0 {
		c.RPC.RatePerSecond = def.RPC.RatePerSecond
	}
	if c.RPC.Burst == 0 {
		c.RPC.Burst = def.RPC.Burst
	}
	if c.RPC.ReadTimeout == 0 {
		c.RPC.ReadTimeout = def.RPC.ReadTimeout
	}
	if c.RPC.WriteTimeout == 0 {
		c.RPC.WriteTimeout = def.RPC.WriteTimeout
	}
	if c.RPC.MaxRequestBytes == 0 {
		c.RPC.MaxRequestBytes = def.RPC.MaxRequestBytes
	}
	if strings.TrimSpace(c.Storage.MinDeposit) == "" {
		c.Storage.MinDeposit = def.Storage.MinDeposit
	}
	if strings.TrimSpace(c.Storage.ByteCost) == "" {
		c.Storage.ByteCost = def.Storage.ByteCost
	}
	if c.Programs.CallBudget == 0 {
		c.Programs.CallBudget = def.Programs.CallBudget
	}
	if c.Programs.EffectTimeout == 0 {
		c.Programs.EffectTimeout = def.Programs.EffectTimeout
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Accounts.Whitelist == nil {
		c.Accounts.Whitelist = []string{}
	}
}

// StorageParams parses the storage pricing.
func (c *Config) StorageParams() (storagefee.Params, error) {
	minDeposit, err := types.ParseAmount(c.Storage.MinDeposit)
	if err != nil {
		return storagefee.Params{}, fmt.Errorf("storage.MinDeposit: %w", err)
	}
	byteCost, err := types.ParseAmount(c.Storage.ByteCost)
	if err != nil {
		return storagefee.Params{}, fmt.Errorf("storage.ByteCost: %w", err)
	}
	return storagefee.Params{MinDeposit: minDeposit, ByteCost: byteCost}, nil
}

// GenesisBalances groups the parsed genesis balances by ledger.
func (c *Config) GenesisBalances() (map[types.AccountID]map[types.AccountID]*big.Int, error) {
	out := make(map[types.AccountID]map[types.AccountID]*big.Int)
	for i, g := range c.Genesis {
		ledger, err := types.ParseAccountID(g.Ledger)
		if err != nil {
			return nil, fmt.Errorf("genesis[%d].Ledger: %w", i, err)
		}
		account, err := types.ParseAccountID(g.Account)
		if err != nil {
			return nil, fmt.Errorf("genesis[%d].Account: %w", i, err)
		}
		amount, err := types.ParseAmount(g.Amount)
		if err != nil {
			return nil, fmt.Errorf("genesis[%d].Amount: %w", i, err)
		}
		if out[ledger] == nil {
			out[ledger] = make(map[types.AccountID]*big.Int)
		}
		if prev, ok := out[ledger][account]; ok {
			amount, err = types.AddU128(prev, amount)
			if err != nil {
				return nil, fmt.Errorf("genesis[%d].Amount: %w", i, err)
			}
		}
		out[ledger][account] = amount
	}
	return out, nil
}

// JWTSecret resolves the RPC signing secret from file, environment or the
// inline value, in that order.
func (c *Config) JWTSecret() (string, error) {
	if path := strings.TrimSpace(c.RPC.JWTSecretFile); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("rpc.JWTSecretFile: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	if env := strings.TrimSpace(c.RPC.JWTSecretEnv); env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v, nil
		}
	}
	return strings.TrimSpace(c.RPC.JWTSecret), nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
