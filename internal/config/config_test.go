package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Fatalf("unexpected log defaults %+v", cfg.Log)
	}
	if cfg.Blob.Driver != "fs" || cfg.Blob.FS.Root != "./blobdata" || cfg.Blob.S3.Region != "us-east-1" {
		t.Fatalf("unexpected blob defaults %+v", cfg.Blob)
	}
	if cfg.Store.Driver != "memory" || cfg.HTTP.Addr != ":8080" || cfg.Worker.QueueSize != 32 || cfg.Worker.Retention != 1024 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cellfit.yaml")
	content := `
log:
  level: debug
blob:
  driver: s3
  s3:
    bucket: fits
    endpoint: http://localhost:9000
    path_style: true
store:
  driver: sqlite
  sqlite:
    path: /tmp/fits.db
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CELLFIT_HTTP_ADDR", "127.0.0.1:9090")
	t.Setenv("CELLFIT_LOG_FORMAT", "json")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected log %+v", cfg.Log)
	}
	if cfg.Blob.Driver != "s3" || cfg.Blob.S3.Bucket != "fits" || !cfg.Blob.S3.PathStyle {
		t.Fatalf("unexpected blob %+v", cfg.Blob)
	}
	if cfg.Store.SQLite.Path != "/tmp/fits.db" || cfg.HTTP.Addr != "127.0.0.1:9090" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"log level":    {func(c *Config) { c.Log.Level = "trace" }, "Level"},
		"blob driver":  {func(c *Config) { c.Blob.Driver = "gcs" }, "Driver"},
		"s3 bucket":    {func(c *Config) { c.Blob.Driver = "s3" }, "blob.s3.bucket"},
		"s3 endpoint":  {func(c *Config) { c.Blob.S3.Endpoint = "not a url" }, "Endpoint"},
		"store driver": {func(c *Config) { c.Store.Driver = "mysql" }, "Driver"},
		"sqlite path":  {func(c *Config) { c.Store.Driver = "sqlite"; c.Store.SQLite.Path = "" }, "store.sqlite.path"},
		"postgres dsn": {func(c *Config) { c.Store.Driver = "postgres" }, "store.postgres.dsn"},
		"http addr":    {func(c *Config) { c.HTTP.Addr = "" }, "Addr"},
		"worker queue": {func(c *Config) { c.Worker.QueueSize = 0 }, "QueueSize"},
		"retention":    {func(c *Config) { c.Worker.Retention = -1 }, "Retention"},
	}
	for name, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: expected error mentioning %q, got %v", name, tc.want, err)
		}
	}
}

func TestEnvRejectsInvalidDriver(t *testing.T) {
	t.Setenv("CELLFIT_STORE_DRIVER", "mysql")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected validation error from env override")
	}
}
