package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "empty config",
			cfg:     Config{},
			wantErr: false,
		},
		{
			name: "unknown replication backend",
			cfg: Config{
				Replication: ReplicationConfig{Backend: "ftp"},
			},
			wantErr: true,
		},
		{
			name: "local replication without dir",
			cfg: Config{
				Replication: ReplicationConfig{Backend: "local"},
			},
			wantErr: true,
		},
		{
			name: "s3 replication without bucket",
			cfg: Config{
				Replication: ReplicationConfig{Backend: "s3"},
			},
			wantErr: true,
		},
		{
			name: "valid s3 replication",
			cfg: Config{
				Replication: ReplicationConfig{Backend: "s3", Bucket: "archive"},
			},
			wantErr: false,
		},
		{
			name: "schedule without cron",
			cfg: Config{
				Schedules: []BackupSchedule{{Server: "github"}},
			},
			wantErr: true,
		},
		{
			name: "schedule with bad type",
			cfg: Config{
				Schedules: []BackupSchedule{{Server: "github", Cron: "@daily", Type: "partial"}},
			},
			wantErr: true,
		},
		{
			name: "valid schedule",
			cfg: Config{
				Schedules: []BackupSchedule{{Server: "github", Cron: "0 3 * * *", Type: "full"}},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "config.yml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RuntimeBinary != "docker" {
		t.Errorf("RuntimeBinary = %q, want docker", cfg.RuntimeBinary)
	}
	if cfg.InstallRoot != filepath.Join(dir, "servers") {
		t.Errorf("InstallRoot = %q, want under config dir", cfg.InstallRoot)
	}
	if cfg.BackupRoot != filepath.Join(dir, "backups") {
		t.Errorf("BackupRoot = %q, want under config dir", cfg.BackupRoot)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")

	in := &Config{
		LogLevel:      "debug",
		RuntimeBinary: "podman",
		Schedules: []BackupSchedule{
			{Server: "github", Cron: "@hourly", Type: "config"},
		},
	}
	if err := in.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
	}

	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if out.RuntimeBinary != "podman" {
		t.Errorf("RuntimeBinary = %q, want podman", out.RuntimeBinary)
	}
	if len(out.Schedules) != 1 || out.Schedules[0].Cron != "@hourly" {
		t.Errorf("Schedules = %+v", out.Schedules)
	}
}

func TestLoad_RejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte("log_level: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected parse error")
	}
}

func TestDefaultClientConfigPath(t *testing.T) {
	tests := []struct {
		goos string
		want []string
	}{
		{"darwin", []string{"Library", "Application Support", "Claude"}},
		{"linux", []string{".config", "claude"}},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			path, err := DefaultClientConfigPath(tt.goos)
			if err != nil {
				t.Fatalf("DefaultClientConfigPath(%s) error = %v", tt.goos, err)
			}
			for _, part := range tt.want {
				if !strings.Contains(path, part) {
					t.Errorf("path %q missing %q", path, part)
				}
			}
			if filepath.Base(path) != "claude_desktop_config.json" {
				t.Errorf("basename = %q", filepath.Base(path))
			}
		})
	}
}

func TestResolveClientConfigPath_Override(t *testing.T) {
	cfg := &Config{ClientConfigPath: "/tmp/custom.json"}
	got, err := cfg.ResolveClientConfigPath()
	if err != nil {
		t.Fatalf("ResolveClientConfigPath() error = %v", err)
	}
	if got != "/tmp/custom.json" {
		t.Errorf("path = %q, want override", got)
	}
}
