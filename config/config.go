// Package config enables config file parsing.
package config

import (
	"fmt"
	"strings"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"

	"github.com/vrflottery/lottery/log"
)

// LocalBlockchainEnvironments are the networks on which mocks are deployed
// and pre-funded accounts are available.
var LocalBlockchainEnvironments = []string{"development", "ganache-local"}

// IsLocalNetwork reports whether name is one of LocalBlockchainEnvironments.
func IsLocalNetwork(name string) bool {
	for _, n := range LocalBlockchainEnvironments {
		if n == name {
			return true
		}
	}
	return false
}

// NetworkDevelopment is the in-process development chain.
const NetworkDevelopment = "development"

// Development network defaults, used when the network has no entry.
const (
	DevelopmentFee     = 100000000000000000
	DevelopmentKeyHash = "0x2ed0feb3e7fd2022120aa84fab1945545a9f2ffc9076fd6156fa96eaff4c1311"
)

// Config contains the CLI configuration.
type Config struct {
	// Network is the name of the active network.
	Network  string                    `koanf:"network"`
	Networks map[string]*NetworkConfig `koanf:"networks"`
	Wallets  WalletsConfig             `koanf:"wallets"`
	Lottery  LotteryConfig             `koanf:"lottery"`
	Build    BuildConfig               `koanf:"build"`

	Server  *ServerConfig  `koanf:"server"`
	Log     *LogConfig     `koanf:"log"`
	Metrics *MetricsConfig `koanf:"metrics"`
}

// Validate performs config validation.
func (cfg *Config) Validate() error {
	if cfg.Network == "" {
		return fmt.Errorf("no active network configured")
	}
	if _, err := cfg.ActiveNetwork(); err != nil {
		return err
	}
	for name, ncfg := range cfg.Networks {
		if err := ncfg.Validate(name); err != nil {
			return fmt.Errorf("networks.%s: %w", name, err)
		}
	}
	if err := cfg.Lottery.Validate(); err != nil {
		return fmt.Errorf("lottery: %w", err)
	}
	if cfg.Server != nil {
		if err := cfg.Server.Validate(); err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	if cfg.Log != nil {
		if err := cfg.Log.Validate(); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}
	if cfg.Metrics != nil {
		if err := cfg.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}

// ActiveNetwork returns the configuration of the active network. The
// development network needs no explicit entry.
func (cfg *Config) ActiveNetwork() (*NetworkConfig, error) {
	if ncfg, ok := cfg.Networks[cfg.Network]; ok {
		return ncfg, nil
	}
	if cfg.Network == NetworkDevelopment {
		return &NetworkConfig{
			Fee:     DevelopmentFee,
			KeyHash: DevelopmentKeyHash,
		}, nil
	}
	return nil, fmt.Errorf("network '%s' is not configured", cfg.Network)
}

// NetworkConfig is the per-network section, the equivalent of a
// brownie-config.yaml network entry.
type NetworkConfig struct {
	// RPC is the JSON-RPC endpoint. Unused for the development network.
	RPC string `koanf:"rpc"`

	// Accounts are hex private keys of pre-funded accounts on local
	// RPC networks (e.g. ganache's deterministic accounts).
	Accounts []string `koanf:"accounts"`

	// Addresses of the live oracle contracts. Ignored on local networks,
	// where mocks are deployed instead.
	EthUsdPriceFeed string `koanf:"eth_usd_price_feed"`
	VRFCoordinator  string `koanf:"vrf_coordinator"`
	LinkToken       string `koanf:"link_token"`

	// Fee is the LINK fee (in juels) paid per randomness request.
	Fee uint64 `koanf:"fee"`
	// KeyHash identifies the VRF oracle key.
	KeyHash string `koanf:"keyhash"`
	// Verify requests block explorer source verification after deployment.
	Verify bool `koanf:"verify"`

	// ConfirmationTimeout bounds how long to wait for a transaction receipt.
	ConfirmationTimeout time.Duration `koanf:"confirmation_timeout"`
}

// Validate validates the network configuration.
func (cfg *NetworkConfig) Validate(name string) error {
	if name != NetworkDevelopment && cfg.RPC == "" {
		return fmt.Errorf("no rpc endpoint provided")
	}
	if cfg.KeyHash != "" && len(ethCommon.FromHex(cfg.KeyHash)) != ethCommon.HashLength {
		return fmt.Errorf("malformed keyhash '%s'", cfg.KeyHash)
	}
	if !IsLocalNetwork(name) {
		for field, addr := range map[string]string{
			"eth_usd_price_feed": cfg.EthUsdPriceFeed,
			"vrf_coordinator":    cfg.VRFCoordinator,
			"link_token":         cfg.LinkToken,
		} {
			if !ethCommon.IsHexAddress(addr) {
				return fmt.Errorf("malformed %s address '%s'", field, addr)
			}
		}
	}
	return nil
}

// ContractAddress returns the configured address of a named oracle contract.
func (cfg *NetworkConfig) ContractAddress(name string) (ethCommon.Address, error) {
	var addr string
	switch name {
	case "eth_usd_price_feed":
		addr = cfg.EthUsdPriceFeed
	case "vrf_coordinator":
		addr = cfg.VRFCoordinator
	case "link_token":
		addr = cfg.LinkToken
	default:
		return ethCommon.Address{}, fmt.Errorf("unknown contract '%s'", name)
	}
	if !ethCommon.IsHexAddress(addr) {
		return ethCommon.Address{}, fmt.Errorf("no address configured for '%s'", name)
	}
	return ethCommon.HexToAddress(addr), nil
}

// KeyHashBytes returns the configured key hash.
func (cfg *NetworkConfig) KeyHashBytes() ethCommon.Hash {
	return ethCommon.HexToHash(cfg.KeyHash)
}

// WalletsConfig holds the signing key used on remote networks.
type WalletsConfig struct {
	// FromKey is a hex private key. Usually supplied as WALLETS__FROM_KEY.
	FromKey string `koanf:"from_key"`
}

// LotteryConfig holds deployment parameters of the lottery itself.
type LotteryConfig struct {
	// EntryFeeUSD is the price of one entry in whole US dollars.
	EntryFeeUSD uint64 `koanf:"entry_fee_usd"`
	// LinkToFund is the amount of LINK, in decimal units, sent by `fund`.
	LinkToFund string `koanf:"link_to_fund"`
	// FromBlock is where the recorder starts scanning a lottery whose
	// deployment block was not recorded by this tool.
	FromBlock uint64 `koanf:"from_block"`
}

// Validate validates the lottery configuration.
func (cfg *LotteryConfig) Validate() error {
	if cfg.EntryFeeUSD == 0 {
		return fmt.Errorf("entry_fee_usd must be positive")
	}
	return nil
}

// BuildConfig locates brownie-style build output.
type BuildConfig struct {
	// Contracts is the directory holding <Name>.json artifacts with bytecode.
	Contracts string `koanf:"contracts"`
	// Deployments is the directory holding map.json.
	Deployments string `koanf:"deployments"`
}

// ServerConfig contains the API server configuration.
type ServerConfig struct {
	// Endpoint is the service endpoint from which to serve the API.
	Endpoint string `koanf:"endpoint"`

	// PollInterval is how often the round recorder looks for new rounds.
	PollInterval time.Duration `koanf:"poll_interval"`

	Storage *StorageConfig `koanf:"storage"`
}

// Validate validates the server configuration.
func (cfg *ServerConfig) Validate() error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("malformed server endpoint '%s'", cfg.Endpoint)
	}
	if cfg.PollInterval < 0 {
		return fmt.Errorf("negative poll_interval")
	}
	if cfg.Storage == nil {
		return fmt.Errorf("no storage config provided")
	}

	return cfg.Storage.Validate()
}

// StorageBackend is a storage backend.
type StorageBackend uint

const (
	// BackendPostgres is the PostgreSQL storage backend.
	BackendPostgres StorageBackend = iota
	// BackendInMemory is the in-memory storage backend.
	BackendInMemory
)

// String returns the string representation of a StorageBackend.
func (sb *StorageBackend) String() string {
	switch *sb {
	case BackendPostgres:
		return "postgres"
	case BackendInMemory:
		return "inmemory"
	default:
		panic("config: unsupported storage backend")
	}
}

// Set sets the StorageBackend to the value specified by the provided string.
func (sb *StorageBackend) Set(s string) error {
	switch strings.ToLower(s) {
	case "postgres":
		*sb = BackendPostgres
	case "inmemory":
		*sb = BackendInMemory
	default:
		return fmt.Errorf("config: invalid storage backend: '%s'", s)
	}

	return nil
}

// Type returns the list of supported StorageBackends.
func (sb *StorageBackend) Type() string {
	return "[postgres,inmemory]"
}

// StorageConfig contains the storage layer configuration.
type StorageConfig struct {
	// Endpoint is the storage endpoint from which to read/write round data.
	Endpoint string `koanf:"endpoint"`

	// Backend is the storage backend to select.
	Backend string `koanf:"backend"`

	// Migrations is the directory containing schema migrations.
	Migrations string `koanf:"migrations"`

	// WipeStorage drops all round data before migrating.
	WipeStorage bool `koanf:"wipe_storage"`
}

// Validate validates the storage configuration.
func (cfg *StorageConfig) Validate() error {
	var sb StorageBackend
	if err := sb.Set(cfg.Backend); err != nil {
		return err
	}
	if sb == BackendInMemory {
		return nil
	}
	if cfg.Endpoint == "" {
		return fmt.Errorf("malformed storage endpoint '%s'", cfg.Endpoint)
	}
	if cfg.Migrations == "" {
		return fmt.Errorf("invalid path to migrations '%s'", cfg.Migrations)
	}
	return nil
}

// LogConfig contains the logging configuration.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
	File   string `koanf:"file"`
}

// Validate validates the logging configuration.
func (cfg *LogConfig) Validate() error {
	if _, err := log.ParseFormat(cfg.Format); err != nil {
		return err
	}
	_, err := log.ParseLevel(cfg.Level)
	return err
}

// MetricsConfig contains the metrics configuration.
type MetricsConfig struct {
	PullEndpoint string `koanf:"pull_endpoint"`

	// PprofEndpoint, if set, serves runtime profiles.
	PprofEndpoint string `koanf:"pprof_endpoint"`
}

// Validate validates the metrics configuration.
func (cfg *MetricsConfig) Validate() error {
	if cfg.PullEndpoint == "" {
		return fmt.Errorf("malformed Prometheus pull endpoint '%s'", cfg.PullEndpoint)
	}
	return nil
}

var defaults = map[string]interface{}{
	"network":               NetworkDevelopment,
	"lottery.entry_fee_usd": 50,
	"lottery.link_to_fund":  "1",
	"build.contracts":       "build/contracts",
	"build.deployments":     "build/deployments",
}

// InitConfig initializes configuration from file. Overrides, keyed like the
// yaml (e.g. "network"), take precedence over both the file and the
// environment.
func InitConfig(f string, overrides map[string]interface{}) (*Config, error) {
	return initConfig(file.Provider(f), overrides)
}

func initConfig(p koanf.Provider, overrides map[string]interface{}) (*Config, error) {
	var config Config
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, err
	}

	// Load configuration from the yaml config.
	if err := k.Load(p, yaml.Parser()); err != nil {
		return nil, err
	}

	// Load environment variables and merge into the loaded config.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		// `__` is used as a hierarchy delimiter.
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, err
		}
	}

	// Unmarshal into config.
	if err := k.Unmarshal("", &config); err != nil {
		return nil, err
	}

	// Validate config.
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
