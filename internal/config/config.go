// Package config centralizes the tunables that the teacher kept as a flat
// const block (see the original fish-game config.go): race caps, tick rates,
// network buffer sizes, plus everything this domain adds on top (object
// storage buckets, retry policy, database path). The Config fields are
// environment- and file-overridable via viper; the constants below are
// fixed at compile time (DefaultIngestConcurrency is also the default for
// the ingest_concurrency field).
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// RaceMaxPlayers bounds membership per race (spec §3).
	RaceMaxPlayers = 10

	// RaceCountdownSeconds is the fixed countdown duration before Running.
	RaceCountdownSeconds = 3

	// PathSampleInterval gates path_history sampling while Running.
	PathSampleInterval = 100 * time.Millisecond

	// RaceTimeSyncInterval and RaceLeaderboardInterval are the periodic
	// broadcast cadences owned by the Race State Store.
	RaceTimeSyncInterval    = 1 * time.Second
	RaceLeaderboardInterval = 2 * time.Second

	// RaceSweepInterval and RaceEmptyTTL govern the expiry sweeper.
	RaceSweepInterval = 1 * time.Second
	RaceEmptyTTL      = 1 * time.Minute

	// EarthRadiusNM is used by the leaderboard's haversine distance.
	EarthRadiusNM = 3440.065

	// Network
	OutboundQueueWarnDepth = 10000 // not read anywhere; the outbound queue's capacity is set in race.NewOutboundQueue
	PingInterval           = 30 * time.Second
	ReadDeadline           = 60 * time.Second
	MaxPlayerNameLen       = 40

	// Ingestion defaults (spec §4.E)
	DefaultIngestConcurrency = 2
	IngestMaxAttempts        = 4
	IngestBaseDelay          = 2 * time.Second
	IngestJitterFactor       = 0.25
	ArchiveReadTimeout       = 10 * time.Minute

	// Object storage multipart tuning (spec §4.A / original s3_multipart.rs)
	MultipartMinPartSize = 5 * 1024 * 1024
	MultipartBufferCap   = 10 * 1024 * 1024
)

// NCARHours are the four synoptic hours the archive publishes per day.
var NCARHours = [4]int{0, 6, 12, 18}

// Config is the process configuration, loaded from env vars (prefix
// SAILRACE_) and an optional config file by Load.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	LogLevel   string `mapstructure:"log_level"`
	LogPretty  bool   `mapstructure:"log_pretty"`

	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3Region    string `mapstructure:"s3_region"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`

	GribBucket   string `mapstructure:"grib_bucket"`
	RasterBucket string `mapstructure:"raster_bucket"`
	PathsBucket  string `mapstructure:"paths_bucket"`

	WindIndexPath   string `mapstructure:"wind_index_path"`
	ResultsIndexPath string `mapstructure:"results_index_path"`

	ArchiveBaseURL string `mapstructure:"archive_base_url"`

	IngestConcurrency int `mapstructure:"ingest_concurrency"`
}

// Load populates a Config with defaults, then overlays a config file (if
// present) and SAILRACE_-prefixed environment variables, matching the
// teacher's preference for plain defaults that a deployment can override
// without recompiling.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("sailrace")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/sailrace")

	v.SetEnvPrefix("sailrace")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)

	// Unmarshal only sees keys viper knows about, so keys without a real
	// default get an empty one to make their env vars take effect.
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("s3_access_key", "")
	v.SetDefault("s3_secret_key", "")
	v.SetDefault("s3_region", "us-east-1")
	v.SetDefault("grib_bucket", "sailrace-grib")
	v.SetDefault("raster_bucket", "sailrace-raster")
	v.SetDefault("paths_bucket", "sailrace-paths")

	v.SetDefault("wind_index_path", "wind_index.sqlite")
	v.SetDefault("results_index_path", "race_results.sqlite")

	v.SetDefault("archive_base_url", "https://thredds.rda.ucar.edu/thredds/fileServer/files/g/d084001")
	v.SetDefault("ingest_concurrency", DefaultIngestConcurrency)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
