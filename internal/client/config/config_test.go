package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openmined/syncbox/internal/blob"
	"github.com/openmined/syncbox/internal/metastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	tmp := t.TempDir()
	cfg := Default()
	cfg.SyncRoot = filepath.Join(tmp, "SyncBox")
	cfg.DataDir = filepath.Join(tmp, ".syncbox")
	cfg.HostID = "alpha"
	cfg.Path = filepath.Join(tmp, ".syncbox", "config.yaml")
	return cfg
}

func TestConfig_Validate_NormalizesAndDefaults(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metadata.DSN = ""
	cfg.Content.Dir = ""
	cfg.LogFile = ""

	require.NoError(t, cfg.Validate())
	assert.True(t, filepath.IsAbs(cfg.SyncRoot))
	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.True(t, filepath.IsAbs(cfg.Path))
	assert.Equal(t, filepath.Join(cfg.DataDir, "remote.db"), cfg.Metadata.DSN)
	assert.Equal(t, filepath.Join(cfg.DataDir, "remote"), cfg.Content.Dir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "syncbox.log"), cfg.LogFile)
	assert.Equal(t, filepath.Join(cfg.DataDir, "journal.db"), cfg.JournalPath())
	assert.Equal(t, metastore.DefaultDomains(), cfg.Domains())
	assert.Equal(t, DefaultRetries, cfg.Retries)
}

func TestConfig_Validate_DefaultHostID(t *testing.T) {
	cfg := testConfig(t)
	cfg.HostID = ""

	if DefaultHostID() == "" {
		t.Skip("no machine id or hostname on this machine")
	}
	require.NoError(t, cfg.Validate())
	assert.NotEmpty(t, cfg.HostID)
}

func TestConfig_Validate_ErrorsOnInvalidInputs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		expect error
		msg    string
	}{
		{name: "missing sync root", mutate: func(c *Config) { c.SyncRoot = "" }, expect: ErrNoSyncRoot},
		{name: "data dir inside sync root", mutate: func(c *Config) { c.DataDir = filepath.Join(c.SyncRoot, ".data") }, expect: ErrDataInRoot},
		{name: "content dir inside sync root", mutate: func(c *Config) { c.Content.Dir = filepath.Join(c.SyncRoot, "remote") }, expect: ErrDataInRoot},
		{name: "host id with separator", mutate: func(c *Config) { c.HostID = "a/b" }, expect: ErrInvalidHost},
		{name: "negative retries", mutate: func(c *Config) { c.Retries = -1 }, expect: ErrBadRetries},
		{name: "bad domain", mutate: func(c *Config) { c.Metadata.FilesDomain = "bad domain" }, expect: metastore.ErrInvalidDomain},
		{name: "unknown metadata driver", mutate: func(c *Config) { c.Metadata.Driver = "mongo" }, msg: "unknown driver"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Metadata.Driver = metastore.DriverPostgres; c.Metadata.DSN = "" }, msg: "requires a dsn"},
		{name: "unknown content driver", mutate: func(c *Config) { c.Content.Driver = "ftp" }, msg: "unknown driver"},
		{name: "s3 without buckets", mutate: func(c *Config) { c.Content.Driver = blob.DriverS3 }, expect: ErrNoS3Buckets},
		{
			name: "s3 with one bucket",
			mutate: func(c *Config) {
				c.Content.Driver = blob.DriverS3
				c.Content.S3.FilenameBucket = "same"
				c.Content.S3.ContentBucket = "same"
			},
			expect: ErrSameS3Bucket,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			tc.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			if tc.expect != nil {
				assert.ErrorIs(t, err, tc.expect)
			}
			if tc.msg != "" {
				assert.Contains(t, err.Error(), tc.msg)
			}
		})
	}
}

func TestConfig_SaveAndLoad_Roundtrip(t *testing.T) {
	cfg := testConfig(t)
	cfg.EncryptionKey = "correct horse battery staple"
	cfg.Retries = 5
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.Save())

	info, err := os.Stat(cfg.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadFromFile(cfg.Path)
	require.NoError(t, err)
	assert.Equal(t, cfg.SyncRoot, loaded.SyncRoot)
	assert.Equal(t, cfg.DataDir, loaded.DataDir)
	assert.Equal(t, cfg.HostID, loaded.HostID)
	assert.Equal(t, cfg.EncryptionKey, loaded.EncryptionKey)
	assert.Equal(t, 5, loaded.Retries)
	assert.Equal(t, cfg.Metadata, loaded.Metadata)
	assert.Equal(t, cfg.Content, loaded.Content)
	assert.Equal(t, cfg.Path, loaded.Path)
}

func TestConfig_Options(t *testing.T) {
	cfg := testConfig(t)
	cfg.EncryptionKey = "secret"
	require.NoError(t, cfg.Validate())

	mo := cfg.MetastoreOptions()
	assert.Equal(t, metastore.DriverSqlite, mo.Driver)
	assert.Equal(t, cfg.Metadata.DSN, mo.DSN)
	assert.Equal(t, DefaultPrefix, mo.Prefix)

	bo := cfg.BlobOptions()
	assert.Equal(t, blob.DriverDir, bo.Driver)
	assert.Equal(t, "secret", bo.Passphrase)
	assert.Nil(t, bo.S3)

	cfg.Content.Driver = blob.DriverS3
	cfg.Content.S3 = blob.S3Config{FilenameBucket: "names", ContentBucket: "blobs", Region: "us-east-1"}
	bo = cfg.BlobOptions()
	require.NotNil(t, bo.S3)
	assert.Equal(t, "names", bo.S3.FilenameBucket)
}

func TestConfig_Masked(t *testing.T) {
	cfg := testConfig(t)
	cfg.EncryptionKey = "correct horse battery staple"
	cfg.Content.S3.AccessKey = "AKIAEXAMPLE"
	cfg.Content.S3.SecretKey = "verysecretkey"
	cfg.Metadata.Driver = metastore.DriverPostgres
	cfg.Metadata.DSN = "postgres://user:pass@db/syncbox"

	masked := cfg.Masked()
	assert.Equal(t, "corr*****", masked.EncryptionKey)
	assert.Equal(t, "AKIA*****", masked.Content.S3.AccessKey)
	assert.Equal(t, "very*****", masked.Content.S3.SecretKey)
	assert.Equal(t, "post*****", masked.Metadata.DSN)

	// original untouched
	assert.Equal(t, "correct horse battery staple", cfg.EncryptionKey)
}
