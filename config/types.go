package config

import "time"

// Node identifies the daemon instance.
type Node struct {
	DataDir string `toml:"DataDir" yaml:"dataDir"`
	Env     string `toml:"Env" yaml:"env"`
	NodeID  string `toml:"NodeID" yaml:"nodeId"`
}

// RPC configures the JSON-RPC listener.
type RPC struct {
	ListenAddress string `toml:"ListenAddress" yaml:"listen"`
	// JWTSecret signs caller tokens. JWTSecretEnv or JWTSecretFile take
	// precedence when set.
	JWTSecret       string        `toml:"JWTSecret" yaml:"jwtSecret"`
	JWTSecretEnv    string        `toml:"JWTSecretEnv" yaml:"jwtSecretEnv"`
	JWTSecretFile   string        `toml:"JWTSecretFile" yaml:"jwtSecretFile"`
	Issuer          string        `toml:"Issuer" yaml:"issuer"`
	RatePerSecond   float64       `toml:"RatePerSecond" yaml:"ratePerSecond"`
	Burst           int           `toml:"Burst" yaml:"burst"`
	ReadTimeout     time.Duration `toml:"ReadTimeout" yaml:"readTimeout"`
	WriteTimeout    time.Duration `toml:"WriteTimeout" yaml:"writeTimeout"`
	MaxRequestBytes int64         `toml:"MaxRequestBytes" yaml:"maxRequestBytes"`
	AllowedOrigins  []string      `toml:"AllowedOrigins" yaml:"allowedOrigins"`
}

// GRPC configures the health service listener.
type GRPC struct {
	HealthAddress string `toml:"HealthAddress" yaml:"healthAddress"`
}

// Accounts names the participants of the deployment.
type Accounts struct {
	Oracle       string   `toml:"Oracle" yaml:"oracle"`
	Requester    string   `toml:"Requester" yaml:"requester"`
	Peer         string   `toml:"Peer" yaml:"peer"`
	PaymentToken string   `toml:"PaymentToken" yaml:"paymentToken"`
	StakeToken   string   `toml:"StakeToken" yaml:"stakeToken"`
	Whitelist    []string `toml:"Whitelist" yaml:"whitelist"`
}

// Storage prices persistent state. Amounts are decimal strings.
type Storage struct {
	MinDeposit string `toml:"MinDeposit" yaml:"minDeposit"`
	ByteCost   string `toml:"ByteCost" yaml:"byteCost"`
}

// Programs tunes program execution.
type Programs struct {
	AllowPairOverwrite bool          `toml:"AllowPairOverwrite" yaml:"allowPairOverwrite"`
	CallBudget         time.Duration `toml:"CallBudget" yaml:"callBudget"`
	EffectTimeout      time.Duration `toml:"EffectTimeout" yaml:"effectTimeout"`
}

// GenesisBalance seeds one balance on one ledger at start-up.
type GenesisBalance struct {
	Ledger  string `toml:"Ledger" yaml:"ledger"`
	Account string `toml:"Account" yaml:"account"`
	Amount  string `toml:"Amount" yaml:"amount"`
}

// Logging configures structured logging.
type Logging struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `toml:"MaxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"maxAgeDays"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"Insecure" yaml:"insecure"`
	Headers     string  `toml:"Headers" yaml:"headers"`
	Metrics     bool    `toml:"Metrics" yaml:"metrics"`
	Traces      bool    `toml:"Traces" yaml:"traces"`
	SampleRatio float64 `toml:"SampleRatio" yaml:"sampleRatio"`
}

// Audit configures the event audit store.
type Audit struct {
	Enabled bool   `toml:"Enabled" yaml:"enabled"`
	Driver  string `toml:"Driver" yaml:"driver"`
	DSN     string `toml:"DSN" yaml:"dsn"`
}
