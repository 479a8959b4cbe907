package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := &Config{
		Branches: []BranchConfig{
			{Path: "/srv/rw", Writable: true},
			{Path: "/srv/ro"},
		},
		COW: true,
	}
	ApplyDefaults(cfg)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "TRACE" },
			wantErr: "Config.Logging.Level",
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "'oneof' tag",
		},
		{
			name:    "empty branch path",
			mutate:  func(c *Config) { c.Branches[1].Path = "" },
			wantErr: "Config.Branches[1].Path",
		},
		{
			name:    "small copy buffer",
			mutate:  func(c *Config) { c.CopyBufferSize = 512 },
			wantErr: "CopyBufferSize",
		},
		{
			name:    "no branches",
			mutate:  func(c *Config) { c.Branches = nil },
			wantErr: "at least one branch",
		},
		{
			name:    "duplicate branch",
			mutate:  func(c *Config) { c.Branches[1].Path = "/srv/rw/" },
			wantErr: "duplicate branch",
		},
		{
			name:    "cow without writable branch",
			mutate:  func(c *Config) { c.Branches[0].Writable = false },
			wantErr: "writable branch",
		},
		{
			name: "read-only union without cow",
			mutate: func(c *Config) {
				c.Branches[0].Writable = false
				c.COW = false
			},
		},
		{
			name: "bad metrics address",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Listen = "no-port"
			},
			wantErr: "hostname_port",
		},
		{
			name: "metrics address without host",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Listen = ":9102"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Expected valid config, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging:        LoggingConfig{Level: "warn", Format: "logfmt", Output: "/var/log/branchfs.log"},
		CopyBufferSize: 1 << 20,
		Mount:          MountConfig{FSName: "union"},
		Metrics:        MetricsConfig{Enabled: true},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected WARN, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "logfmt" || cfg.Logging.Output != "/var/log/branchfs.log" {
		t.Errorf("Explicit logging values overwritten: %+v", cfg.Logging)
	}
	if cfg.CopyBufferSize != 1<<20 {
		t.Errorf("Explicit copy buffer overwritten: %d", cfg.CopyBufferSize)
	}
	if cfg.Mount.FSName != "union" {
		t.Errorf("Explicit fsname overwritten: %q", cfg.Mount.FSName)
	}
	if cfg.Metrics.Listen != defaultMetricsListen {
		t.Errorf("Expected default metrics address, got %q", cfg.Metrics.Listen)
	}
}
