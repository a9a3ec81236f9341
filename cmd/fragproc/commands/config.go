// Package commands implements the cobra command-per-operation surface
// named in the design specification's domain stack section: enqueue,
// cancel, recover, serve. Configuration loading lives here rather than
// in internal/, since reading the environment and an optional YAML
// file is explicitly out of scope for the processing core.
//
// Grounded on teranos-QNTX's am.initViper (env-var binding with a
// prefix and a "." -> "_" replacer, defaults set before the config
// file is read, AutomaticEnv layered on top), simplified from that
// package's multi-file precedence merge to a single optional file.
package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gurre/ddb-pitr/config"
)

// wiringConfig extends the processing core's config.Config with the
// cmd-layer concerns named in the domain stack: which registry backend
// to use and how to reach it, and where the reference-data snapshot
// lives.
type wiringConfig struct {
	config.Config

	RegistryBackend string // "memory" | "dynamodb" | "postgres"

	DynamoTableName       string
	DynamoStatusIndexName string
	AWSRegion             string

	PostgresConnectionString string
	PostgresMigrationsPath   string

	ReferenceDataS3URI string

	// ReportArchiveS3URI, if set, is an "s3://bucket/prefix" location
	// under which every job's terminal throughput report is archived as
	// one JSON object per job.
	ReportArchiveS3URI string

	ListenAddr string // serve subcommand's own health-check listener
}

// setDefaults mirrors config.Default(), expressed as viper defaults so
// an unset environment variable or YAML key falls back to the section 6
// default. The validator fields default to 0; Validate rejects a zero
// min_column_count, so that one must be set explicitly.
func setDefaults(v *viper.Viper) {
	v.SetDefault("max_concurrent_jobs", 1)
	v.SetDefault("num_workers", 2)
	v.SetDefault("fragment_max_bytes", 32*1024*1024)
	v.SetDefault("heartbeat_interval", 15*time.Second)
	v.SetDefault("heartbeat_timeout", 60*time.Second)
	v.SetDefault("metrics_log_interval", 10*time.Second)
	v.SetDefault("fail_fast_threshold", 50000)
	v.SetDefault("memory_threshold_percent", 75)
	v.SetDefault("container_memory_mb", 2048)
	v.SetDefault("instance_index", "0")

	v.SetDefault("min_column_count", 0)
	v.SetDefault("currency_offset", 0)
	v.SetDefault("province_offset", 0)
	v.SetDefault("product_offset", 0)

	v.SetDefault("registry_backend", "memory")
	v.SetDefault("dynamo_status_index_name", "status-createdAt-index")
	v.SetDefault("postgres_migrations_path", "file://registry/sqlstore/migrations")
	v.SetDefault("listen_addr", ":8080")
}

// loadConfig builds a wiringConfig from (in ascending precedence) built-
// in defaults, an optional YAML file, and FRAGPROC_-prefixed
// environment variables, the same precedence order am.initViper uses
// for QNTX_-prefixed variables.
func loadConfig(configFile string) (*wiringConfig, error) {
	v := viper.New()

	v.SetEnvPrefix("FRAGPROC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("fragproc")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fragproc")
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	cfg := &wiringConfig{
		Config: config.Config{
			MaxConcurrentJobs:  v.GetInt("max_concurrent_jobs"),
			NumWorkers:         v.GetInt("num_workers"),
			FragmentMaxBytes:   v.GetInt64("fragment_max_bytes"),
			HeartbeatInterval:  v.GetDuration("heartbeat_interval"),
			HeartbeatTimeout:   v.GetDuration("heartbeat_timeout"),
			MetricsLogInterval: v.GetDuration("metrics_log_interval"),
			FailFastThreshold:  int64(v.GetInt("fail_fast_threshold")),
			MemoryThresholdPct: v.GetInt("memory_threshold_percent"),
			ContainerMemoryMB:  v.GetInt64("container_memory_mb"),
			InstanceIndex:      v.GetString("instance_index"),
			MinColumnCount:     v.GetInt("min_column_count"),
			CurrencyOffset:     v.GetInt("currency_offset"),
			ProvinceOffset:     v.GetInt("province_offset"),
			ProductOffset:      v.GetInt("product_offset"),
		},
		RegistryBackend:          v.GetString("registry_backend"),
		DynamoTableName:          v.GetString("dynamo_table_name"),
		DynamoStatusIndexName:    v.GetString("dynamo_status_index_name"),
		AWSRegion:                v.GetString("aws_region"),
		PostgresConnectionString: v.GetString("postgres_connection_string"),
		PostgresMigrationsPath:   v.GetString("postgres_migrations_path"),
		ReferenceDataS3URI:       v.GetString("reference_data_s3_uri"),
		ReportArchiveS3URI:       v.GetString("report_archive_s3_uri"),
		ListenAddr:               v.GetString("listen_addr"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
