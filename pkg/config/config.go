package config

// Package config provides a reusable loader for indexer configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/Granola-Team/mina-indexer-sub000/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for an indexer process. It
// mirrors the structure of the YAML files under cmd/config.
type Config struct {
	Network struct {
		Name             string `mapstructure:"name" json:"name" yaml:"name"`
		GenesisStateHash string `mapstructure:"genesis_state_hash" json:"genesis_state_hash" yaml:"genesis_state_hash"`
		GenesisLedger    string `mapstructure:"genesis_ledger" json:"genesis_ledger" yaml:"genesis_ledger"`
	} `mapstructure:"network" json:"network" yaml:"network"`

	Indexer struct {
		CanonicalThreshold       uint32 `mapstructure:"canonical_threshold" json:"canonical_threshold" yaml:"canonical_threshold"`
		CanonicalUpdateThreshold uint32 `mapstructure:"canonical_update_threshold" json:"canonical_update_threshold" yaml:"canonical_update_threshold"`
		TransitionFrontierLength uint32 `mapstructure:"transition_frontier_length" json:"transition_frontier_length" yaml:"transition_frontier_length"`
		PruneInterval            uint32 `mapstructure:"prune_interval" json:"prune_interval" yaml:"prune_interval"`
		LedgerCadence            uint32 `mapstructure:"ledger_cadence" json:"ledger_cadence" yaml:"ledger_cadence"`
		ReportingFreq            uint32 `mapstructure:"reporting_freq" json:"reporting_freq" yaml:"reporting_freq"`
		DoNotIngestOrphanBlocks  bool   `mapstructure:"do_not_ingest_orphan_blocks" json:"do_not_ingest_orphan_blocks" yaml:"do_not_ingest_orphan_blocks"`
		BlocksDir                string `mapstructure:"blocks_dir" json:"blocks_dir" yaml:"blocks_dir"`
		StakingLedgersDir        string `mapstructure:"staking_ledgers_dir" json:"staking_ledgers_dir" yaml:"staking_ledgers_dir"`
	} `mapstructure:"indexer" json:"indexer" yaml:"indexer"`

	Storage struct {
		DBPath string `mapstructure:"db_path" json:"db_path" yaml:"db_path"`
	} `mapstructure:"storage" json:"storage" yaml:"storage"`

	Server struct {
		SocketPath string `mapstructure:"socket_path" json:"socket_path" yaml:"socket_path"`
		HTTPAddr   string `mapstructure:"http_addr" json:"http_addr" yaml:"http_addr"`
	} `mapstructure:"server" json:"server" yaml:"server"`

	Logging struct {
		Level string `mapstructure:"level" json:"level" yaml:"level"`
		File  string `mapstructure:"file" json:"file" yaml:"file"`
	} `mapstructure:"logging" json:"logging" yaml:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up from .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the MINA_INDEXER_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("MINA_INDEXER_ENV", ""))
}
