package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/arukereso-extractor/internal/pkg/logger"
)

// ErrMissingParameter is returned by Validate when a required key is absent.
var ErrMissingParameter = errors.New("missing required parameter")

const (
	SourceSFTP = "sftp"
	SourceS3   = "s3"
)

// Output and staging layout relative to the data directory.
const (
	InTablesDir          = "in/tables"
	OutTablesDir         = "out/tables"
	DownloadSubdir       = "downloaded_csvs"
	ResultsFile          = "results.csv"
	WatermarkOutputFile  = "arukereso_last_timestamp.csv"
	defaultRemoteFolder  = "/upload/"
	defaultRetailer      = "mall.hu"
	defaultConnectSecs   = 30
	defaultLockTTLSecs   = 3600
	defaultArchivePrefix = "arukereso"
)

// Config holds the job configuration read from the data directory's config.json.
type Config struct {
	DataDir    string
	Parameters Parameters
	raw        map[string]interface{}
}

// Parameters mirrors the "parameters" object of config.json.
type Parameters struct {
	PreviousTimestampFilename string            `yaml:"previous_timestamp_filename"`
	FilenamePattern           string            `yaml:"filename_pattern"`
	WantedColumns             []string          `yaml:"wanted_columns"`
	Source                    string            `yaml:"source"`
	RemoteFolder              string            `yaml:"remote_folder"`
	Server                    string            `yaml:"server"`
	Port                      Port              `yaml:"port"`
	Username                  string            `yaml:"username"`
	Password                  string            `yaml:"#password"`
	Passphrase                string            `yaml:"#passphrase"`
	Key                       string            `yaml:"#key"`
	ConnectTimeoutSeconds     int               `yaml:"connect_timeout_seconds"`
	S3Bucket                  string            `yaml:"s3_bucket"`
	S3Region                  string            `yaml:"s3_region"`
	S3Prefix                  string            `yaml:"s3_prefix"`
	AWSProfile                string            `yaml:"aws_profile"`
	AWSAccessKeyID            string            `yaml:"aws_access_key_id"`
	AWSSecretAccessKey        string            `yaml:"#aws_secret_access_key"`
	FileEncoding              string            `yaml:"file_encoding"`
	Retailer                  string            `yaml:"retailer"`
	ConstantFields            map[string]string `yaml:"constant_fields"`
	PushgatewayURL            string            `yaml:"pushgateway_url"`
	Archive                   ArchiveConfig     `yaml:"archive"`
	Ledger                    LedgerConfig      `yaml:"ledger"`
	Lock                      LockConfig        `yaml:"lock"`
	Warehouse                 WarehouseConfig   `yaml:"warehouse"`
}

// ArchiveConfig enables copying the output tables to S3.
type ArchiveConfig struct {
	S3Bucket string `yaml:"s3_bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
}

// Enabled reports whether an archive bucket is configured.
func (c ArchiveConfig) Enabled() bool { return c.S3Bucket != "" }

// LedgerConfig enables the Postgres per-file run ledger.
type LedgerConfig struct {
	DatabaseURL string `yaml:"#database_url"`
}

// Enabled reports whether a ledger database is configured.
func (c LedgerConfig) Enabled() bool { return c.DatabaseURL != "" }

// LockConfig holds run-lock settings.
type LockConfig struct {
	RedisURL   string `yaml:"redis_url"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// WarehouseConfig holds Snowflake sink settings.
type WarehouseConfig struct {
	Account   string `yaml:"account"`
	User      string `yaml:"user"`
	Password  string `yaml:"#password"`
	Database  string `yaml:"database"`
	Schema    string `yaml:"schema"`
	Warehouse string `yaml:"warehouse"`
	Table     string `yaml:"table"`
}

// Enabled reports whether the Snowflake sink has enough settings to connect.
func (c WarehouseConfig) Enabled() bool { return c.Account != "" && c.Table != "" }

// Port accepts both a JSON number and a quoted string.
type Port int

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Port) UnmarshalYAML(node *yaml.Node) error {
	v := strings.TrimSpace(node.Value)
	if v == "" {
		*p = 0
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("port %q: %w", node.Value, err)
	}
	*p = Port(n)
	return nil
}

type file struct {
	Parameters Parameters `yaml:"parameters"`
}

type rawFile struct {
	Parameters map[string]interface{} `yaml:"parameters"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg := &Config{
		DataDir:    filepath.Dir(path),
		Parameters: f.Parameters,
		raw:        raw.Parameters,
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	p := &c.Parameters
	if p.Source == "" {
		p.Source = SourceSFTP
	}
	if p.RemoteFolder == "" {
		p.RemoteFolder = defaultRemoteFolder
	}
	if p.Port == 0 {
		p.Port = 22
	}
	if p.ConnectTimeoutSeconds == 0 {
		p.ConnectTimeoutSeconds = defaultConnectSecs
	}
	if p.Retailer == "" {
		p.Retailer = defaultRetailer
	}
	if p.Lock.TTLSeconds == 0 {
		p.Lock.TTLSeconds = defaultLockTTLSecs
	}
	if p.Archive.Prefix == "" {
		p.Archive.Prefix = defaultArchivePrefix
	}
	if p.Archive.Region == "" {
		p.Archive.Region = p.S3Region
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file next to the process, if present, is loaded first.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	p := &cfg.Parameters
	if v := os.Getenv("SFTP_PASSWORD"); v != "" {
		p.Password = v
	}
	if v := os.Getenv("SFTP_PASSPHRASE"); v != "" {
		p.Passphrase = v
	}
	if v := os.Getenv("SFTP_KEY"); v != "" {
		p.Key = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" && p.AWSAccessKeyID != "" {
		p.AWSSecretAccessKey = v
	}
	if v := os.Getenv("SNOWFLAKE_PASSWORD"); v != "" {
		p.Warehouse.Password = v
	}
	if v := os.Getenv("LEDGER_DATABASE_URL"); v != "" {
		p.Ledger.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		p.Lock.RedisURL = v
	}
	return cfg, nil
}

// Validate checks the keys the job cannot run without.
func (c *Config) Validate() error {
	p := c.Parameters
	var missing []string
	require := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	require("previous_timestamp_filename", p.PreviousTimestampFilename)
	require("filename_pattern", p.FilenamePattern)
	if len(p.WantedColumns) == 0 {
		missing = append(missing, "wanted_columns")
	}

	switch p.Source {
	case SourceSFTP:
		require("server", p.Server)
		require("username", p.Username)
		require("#key", p.Key)
	case SourceS3:
		require("s3_bucket", p.S3Bucket)
	default:
		return fmt.Errorf("unknown source %q", p.Source)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingParameter, strings.Join(missing, ", "))
	}
	return nil
}

// SafeParameters returns the raw parameters without any secret keys.
func (c *Config) SafeParameters() map[string]interface{} {
	return dropSecrets(c.raw)
}

func dropSecrets(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if strings.Contains(k, "#") {
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = dropSecrets(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// ConstantFields returns the per-run constant output fields with overrides applied.
func (c *Config) ConstantFields() map[string]string {
	out := map[string]string{
		"COUNTRY":   "HU",
		"DISTRCHAN": "MA",
		"SOURCE":    "arukereso",
		"FREQ":      "d",
	}
	for k, v := range c.Parameters.ConstantFields {
		out[k] = v
	}
	return out
}

// WatermarkInputPath is the table holding the previous run's watermark.
func (c *Config) WatermarkInputPath() string {
	return filepath.Join(c.DataDir, InTablesDir, c.Parameters.PreviousTimestampFilename)
}

// DownloadDir is where remote files are staged.
func (c *Config) DownloadDir() string {
	return filepath.Join(c.DataDir, InTablesDir, DownloadSubdir)
}

// ResultsPath is the normalized output table.
func (c *Config) ResultsPath() string {
	return filepath.Join(c.DataDir, OutTablesDir, ResultsFile)
}

// WatermarkOutputPath is the table the new watermark is written to.
func (c *Config) WatermarkOutputPath() string {
	return filepath.Join(c.DataDir, OutTablesDir, WatermarkOutputFile)
}

// LogFields returns the safe parameters as logger fields.
func (c *Config) LogFields() []interface{} {
	return []interface{}{"parameters", logger.RedactMap(c.SafeParameters())}
}
