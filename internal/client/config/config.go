package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/denisbrodbeck/machineid"
	"github.com/openmined/syncbox/internal/blob"
	"github.com/openmined/syncbox/internal/metastore"
	"github.com/openmined/syncbox/internal/utils"
	"gopkg.in/yaml.v3"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".syncbox", "config.yaml")
	DefaultSyncRoot   = filepath.Join(home, "SyncBox")
	DefaultDataDir    = filepath.Join(home, ".syncbox")
)

const (
	DefaultRetries   = 3
	DefaultCacheSize = 4096
	DefaultPrefix    = "syncbox"

	journalFileName  = "journal.db"
	remoteDBFileName = "remote.db"
	remoteDirName    = "remote"
	logFileName      = "syncbox.log"

	hostIDLen = 12
)

var (
	ErrNoSyncRoot   = errors.New("sync root is required")
	ErrNoHostID     = errors.New("host id could not be determined")
	ErrDataInRoot   = errors.New("data dir must not be inside the sync root")
	ErrInvalidHost  = errors.New("host id must not contain path separators")
	ErrBadRetries   = errors.New("retries must not be negative")
	ErrNoS3Buckets  = errors.New("s3 content store requires filename_bucket and content_bucket")
	ErrSameS3Bucket = errors.New("s3 filename_bucket and content_bucket must differ")
)

type MetadataConfig struct {
	Driver          string `mapstructure:"driver" yaml:"driver"`
	DSN             string `mapstructure:"dsn" yaml:"dsn"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix,omitempty"`
	FilesDomain     string `mapstructure:"files_domain" yaml:"files_domain"`
	VersionsDomain  string `mapstructure:"versions_domain" yaml:"versions_domain"`
	SyncDatesDomain string `mapstructure:"sync_dates_domain" yaml:"sync_dates_domain"`
}

type ContentConfig struct {
	Driver    string        `mapstructure:"driver" yaml:"driver"`
	Dir       string        `mapstructure:"dir" yaml:"dir,omitempty"`
	S3        blob.S3Config `mapstructure:"s3" yaml:"s3,omitempty"`
	CacheSize int           `mapstructure:"cache_size" yaml:"cache_size"`
}

type Config struct {
	SyncRoot      string         `mapstructure:"sync_root" yaml:"sync_root"`
	DataDir       string         `mapstructure:"data_dir" yaml:"data_dir"`
	HostID        string         `mapstructure:"host_id" yaml:"host_id"`
	EncryptionKey string         `mapstructure:"encryption_key" yaml:"encryption_key,omitempty"`
	Retries       int            `mapstructure:"retries" yaml:"retries"`
	LogFile       string         `mapstructure:"log_file" yaml:"log_file,omitempty"`
	Metadata      MetadataConfig `mapstructure:"metadata" yaml:"metadata"`
	Content       ContentConfig  `mapstructure:"content" yaml:"content"`
	Path          string         `mapstructure:"-" yaml:"-"`
}

// Default is a single-machine setup: sqlite metadata and a directory content store under the data dir.
func Default() *Config {
	domains := metastore.DefaultDomains()
	return &Config{
		SyncRoot: DefaultSyncRoot,
		DataDir:  DefaultDataDir,
		Retries:  DefaultRetries,
		Metadata: MetadataConfig{
			Driver:          metastore.DriverSqlite,
			Prefix:          DefaultPrefix,
			FilesDomain:     domains.Files,
			VersionsDomain:  domains.Versions,
			SyncDatesDomain: domains.SyncDates,
		},
		Content: ContentConfig{
			Driver:    blob.DriverDir,
			CacheSize: DefaultCacheSize,
		},
		Path: DefaultConfigPath,
	}
}

// Validate resolves paths, fills derived defaults and rejects unusable settings.
func (c *Config) Validate() error {
	var err error

	if c.SyncRoot == "" {
		return ErrNoSyncRoot
	}
	if c.SyncRoot, err = utils.ResolvePath(c.SyncRoot); err != nil {
		return fmt.Errorf("sync root: %w", err)
	}

	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.DataDir, err = utils.ResolvePath(c.DataDir); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	if isWithin(c.SyncRoot, c.DataDir) {
		return ErrDataInRoot
	}

	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("config path: %w", err)
		}
	}

	if c.HostID == "" {
		c.HostID = DefaultHostID()
	}
	if c.HostID == "" {
		return ErrNoHostID
	}
	if strings.ContainsAny(c.HostID, `/\`) {
		return ErrInvalidHost
	}

	if c.Retries < 0 {
		return ErrBadRetries
	}

	if err := c.validateMetadata(); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	if err := c.validateContent(); err != nil {
		return fmt.Errorf("content: %w", err)
	}

	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.DataDir, logFileName)
	}
	return nil
}

func (c *Config) validateMetadata() error {
	m := &c.Metadata
	defaults := metastore.DefaultDomains()
	if m.FilesDomain == "" {
		m.FilesDomain = defaults.Files
	}
	if m.VersionsDomain == "" {
		m.VersionsDomain = defaults.Versions
	}
	if m.SyncDatesDomain == "" {
		m.SyncDatesDomain = defaults.SyncDates
	}
	if err := c.Domains().Validate(); err != nil {
		return err
	}

	switch m.Driver {
	case "", metastore.DriverSqlite:
		m.Driver = metastore.DriverSqlite
		if m.DSN == "" {
			m.DSN = filepath.Join(c.DataDir, remoteDBFileName)
		}
	case metastore.DriverPostgres, metastore.DriverRedis:
		if m.DSN == "" {
			return fmt.Errorf("%s driver requires a dsn", m.Driver)
		}
	default:
		return fmt.Errorf("unknown driver %q", m.Driver)
	}

	if m.Prefix == "" {
		m.Prefix = DefaultPrefix
	}
	return nil
}

func (c *Config) validateContent() error {
	ct := &c.Content
	switch ct.Driver {
	case "", blob.DriverDir:
		ct.Driver = blob.DriverDir
		if ct.Dir == "" {
			ct.Dir = filepath.Join(c.DataDir, remoteDirName)
		}
		dir, err := utils.ResolvePath(ct.Dir)
		if err != nil {
			return fmt.Errorf("dir: %w", err)
		}
		ct.Dir = dir
		if isWithin(c.SyncRoot, ct.Dir) {
			return fmt.Errorf("dir %s: %w", ct.Dir, ErrDataInRoot)
		}
	case blob.DriverS3:
		if ct.S3.FilenameBucket == "" || ct.S3.ContentBucket == "" {
			return ErrNoS3Buckets
		}
		if ct.S3.FilenameBucket == ct.S3.ContentBucket {
			return ErrSameS3Bucket
		}
	default:
		return fmt.Errorf("unknown driver %q", ct.Driver)
	}

	if ct.CacheSize < 0 {
		ct.CacheSize = 0
	}
	return nil
}

func (c *Config) Domains() metastore.Domains {
	return metastore.Domains{
		Files:     c.Metadata.FilesDomain,
		Versions:  c.Metadata.VersionsDomain,
		SyncDates: c.Metadata.SyncDatesDomain,
	}
}

// JournalPath is the local metadata table of this host.
func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, journalFileName)
}

func (c *Config) MetastoreOptions() metastore.Options {
	return metastore.Options{
		Driver:  c.Metadata.Driver,
		DSN:     c.Metadata.DSN,
		Domains: c.Domains(),
		Prefix:  c.Metadata.Prefix,
	}
}

func (c *Config) BlobOptions() blob.Options {
	opts := blob.Options{
		Driver:     c.Content.Driver,
		Dir:        c.Content.Dir,
		Passphrase: c.EncryptionKey,
		CacheSize:  c.Content.CacheSize,
	}
	if c.Content.Driver == blob.DriverS3 {
		s3 := c.Content.S3
		opts.S3 = &s3
	}
	return opts
}

// Masked returns a copy that is safe to print.
func (c *Config) Masked() *Config {
	masked := *c
	if masked.EncryptionKey != "" {
		masked.EncryptionKey = utils.MaskSecret(masked.EncryptionKey)
	}
	if masked.Content.S3.SecretKey != "" {
		masked.Content.S3.SecretKey = utils.MaskSecret(masked.Content.S3.SecretKey)
	}
	if masked.Content.S3.AccessKey != "" {
		masked.Content.S3.AccessKey = utils.MaskSecret(masked.Content.S3.AccessKey)
	}
	if masked.Metadata.Driver != metastore.DriverSqlite && masked.Metadata.DSN != "" {
		masked.Metadata.DSN = utils.MaskSecret(masked.Metadata.DSN)
	}
	return &masked
}

// Save writes the config as YAML to c.Path.
func (c *Config) Save() error {
	if c.Path == "" {
		return errors.New("config path is not set")
	}
	if err := utils.EnsureParent(c.Path); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	// may hold credentials
	return os.WriteFile(c.Path, data, 0o600)
}

// LoadFromFile reads a YAML config over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config parse '%s': %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// DefaultHostID is derived from the machine id, or the hostname when the machine id is unavailable.
func DefaultHostID() string {
	if id, err := machineid.ProtectedID("syncbox"); err == nil && len(id) >= hostIDLen {
		return id[:hostIDLen]
	}
	if name, err := os.Hostname(); err == nil {
		return name
	}
	return ""
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
