package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vocdoni/davinci-ticketvote/db"
)

const (
	defaultAPIHost         = "0.0.0.0"
	defaultAPIPort         = 9090
	defaultDBType          = db.TypePebble
	defaultLogLevel        = "info"
	defaultLogOutput       = "stdout"
	defaultDatadir         = ".ticketvote" // Will be prefixed with user's home directory
	defaultElections       = "elections.yaml"
	defaultMonitorInterval = 10 * time.Second
)

// Version is the build version, set at build time with -ldflags
var Version = "dev"

// Config holds the application configuration
type Config struct {
	API       APIConfig
	DB        DBConfig
	Log       LogConfig
	Publish   PublishConfig
	Admin     AdminConfig
	Datadir   string
	Elections string
	Workers   int
	Monitor   time.Duration
}

// APIConfig holds the API-specific configuration
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DBConfig selects the storage backend
type DBConfig struct {
	Type string `mapstructure:"type"`
}

// AdminConfig holds the admin endpoints configuration
type AdminConfig struct {
	Token string `mapstructure:"token"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
}

// PublishConfig holds the results publishers configuration
type PublishConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

// S3Config holds the S3 results publisher configuration
type S3Config struct {
	Enabled    bool   `mapstructure:"enabled"`
	Endpoint   string `mapstructure:"endpoint"`
	Region     string `mapstructure:"region"`
	AccessKey  string `mapstructure:"accesskey"`
	SecretKey  string `mapstructure:"secretkey"`
	Bucket     string `mapstructure:"bucket"`
	Prefix     string `mapstructure:"prefix"`
	PublicRead bool   `mapstructure:"publicread"`
}

// loadConfig loads configuration from flags, environment variables, and defaults
func loadConfig() (*Config, error) {
	v := viper.New()

	// Get user's home directory for default datadir
	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
	}
	defaultDatadirPath := filepath.Join(userHomeDir, defaultDatadir)

	v.SetDefault("api.host", defaultAPIHost)
	v.SetDefault("api.port", defaultAPIPort)
	v.SetDefault("db.type", defaultDBType)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.output", defaultLogOutput)
	v.SetDefault("datadir", defaultDatadirPath)
	v.SetDefault("elections", defaultElections)
	v.SetDefault("workers", 0)
	v.SetDefault("monitor", defaultMonitorInterval)
	v.SetDefault("publish.s3.region", "us-east-1")
	v.SetDefault("publish.s3.prefix", "results")

	// Configure flags
	flag.StringP("api.host", "a", defaultAPIHost, "API host")
	flag.IntP("api.port", "p", defaultAPIPort, "API port")
	flag.StringP("datadir", "d", defaultDatadirPath, "data directory for database and storage files")
	flag.String("db.type", defaultDBType, fmt.Sprintf("database backend (%s, %s, %s or %s)",
		db.TypePebble, db.TypeLevelDB, db.TypeBolt, db.TypeInMem))
	flag.StringP("elections", "e", defaultElections, "elections definition file (yaml, json or toml)")
	flag.String("admin.token", "", "bearer token of the close endpoint (disabled if empty)")
	flag.IntP("workers", "w", 0, "concurrent credential verifications (0 uses one per CPU)")
	flag.Duration("monitor", defaultMonitorInterval, "interval to look for ended elections (0 disables it)")
	flag.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error)")
	flag.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath, add ,json for JSON)")
	flag.Bool("publish.s3.enabled", false, "upload results to an S3 bucket")
	flag.String("publish.s3.endpoint", "", "S3 compatible endpoint URL (empty uses AWS)")
	flag.String("publish.s3.region", "us-east-1", "S3 region")
	flag.String("publish.s3.accesskey", "", "S3 access key")
	flag.String("publish.s3.secretkey", "", "S3 secret key")
	flag.String("publish.s3.bucket", "", "S3 bucket")
	flag.String("publish.s3.prefix", "results", "S3 object key prefix")
	flag.Bool("publish.s3.publicread", false, "make the uploaded results public")

	// Configure usage information
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "ticketvote-node %s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: ticketvote-node [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available with the same name as flags,\n")
		fmt.Fprintf(os.Stderr, "  except for dots (.) which are replaced by underscores (_).\n")
		fmt.Fprintf(os.Stderr, "  For example, TICKETVOTE_API_PORT or TICKETVOTE_ADMIN_TOKEN\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Serve the elections of a file with the close endpoint enabled\n")
		fmt.Fprintf(os.Stderr, "  ticketvote-node --elections=devcon.yaml --admin.token=s3cret\n\n")
		fmt.Fprintf(os.Stderr, "  # Publish results to a DigitalOcean space\n")
		fmt.Fprintf(os.Stderr, "  ticketvote-node --publish.s3.enabled --publish.s3.endpoint=https://ams3.digitaloceanspaces.com ...\n")
	}

	// Parse flags
	flag.CommandLine.SortFlags = false
	flag.Parse()

	// Configure Viper to use environment variables
	v.SetEnvPrefix("TICKETVOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind flags to Viper
	if err := v.BindPFlags(flag.CommandLine); err != nil {
		return nil, fmt.Errorf("error binding flags: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}

// validateConfig validates the loaded configuration
func validateConfig(cfg *Config) error {
	if cfg.Elections == "" {
		return fmt.Errorf("an elections file is required (use --elections flag or TICKETVOTE_ELECTIONS environment variable)")
	}
	switch cfg.DB.Type {
	case db.TypePebble, db.TypeLevelDB, db.TypeBolt, db.TypeInMem:
	default:
		return fmt.Errorf("invalid db type %q", cfg.DB.Type)
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if cfg.Publish.S3.Enabled && cfg.Publish.S3.Bucket == "" {
		return fmt.Errorf("publish.s3.bucket is required when S3 publishing is enabled")
	}
	return nil
}
