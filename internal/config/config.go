// Package config loads the install profile: built-in defaults, then an
// optional YAML profile file, then NEON_* environment overrides.
// Command-line flags are applied on top by the caller.
package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/tkirkland/NeonInstall/internal/zfs"
)

type User struct {
	Name          string `yaml:"name"`
	Shell         string `yaml:"shell"`
	AuthorizedKey string `yaml:"authorizedKey"`
}

type Maintenance struct {
	Snapshot string `yaml:"snapshot"`
	Trim     string `yaml:"trim"`
}

type Logging struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Profile is the complete install profile. Zero values fall back to
// the defaults; a partial YAML file only overrides what it names.
type Profile struct {
	PoolName string   `yaml:"pool"`
	Topology string   `yaml:"topology"`
	Devices  []string `yaml:"devices"`
	Image    string   `yaml:"image"`

	Hostname string `yaml:"hostname"`
	Timezone string `yaml:"timezone"`
	Locale   string `yaml:"locale"`

	User        User              `yaml:"user"`
	Maintenance Maintenance       `yaml:"maintenance"`
	Datasets    []zfs.DatasetSpec `yaml:"datasets"`
	Logging     Logging           `yaml:"logging"`

	LogLevel zerolog.Level `yaml:"-"`
}

func Defaults() Profile {
	return Profile{
		PoolName: "neonpool",
		Topology: "single",
		Image:    "/cdrom/casper/filesystem.squashfs",
		Hostname: "neon",
		Timezone: "UTC",
		Locale:   "en_US.UTF-8",
		User: User{
			Name:  "me",
			Shell: "/bin/bash",
		},
		Maintenance: Maintenance{
			Snapshot: "@daily",
			Trim:     "@weekly",
		},
		Logging: Logging{
			Level: "info",
			File:  "/var/log/neon-install.log",
		},
		LogLevel: zerolog.InfoLevel,
	}
}

// Load builds the profile: defaults, YAML file (when path is non-empty),
// then environment. A missing or malformed profile file is an error; a
// missing env var is not.
func Load(path string) (Profile, error) {
	p := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Profile{}, fmt.Errorf("read profile: %w", err)
		}
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Profile{}, fmt.Errorf("parse profile %s: %w", path, err)
		}
	}
	p.applyEnv()

	level, err := zerolog.ParseLevel(p.Logging.Level)
	if err != nil {
		return Profile{}, fmt.Errorf("log level %q: %w", p.Logging.Level, err)
	}
	p.LogLevel = level
	return p, nil
}

func (p *Profile) applyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&p.PoolName, "NEON_POOL")
	set(&p.Topology, "NEON_TOPOLOGY")
	set(&p.Image, "NEON_IMAGE")
	set(&p.Hostname, "NEON_HOSTNAME")
	set(&p.Timezone, "NEON_TIMEZONE")
	set(&p.Locale, "NEON_LOCALE")
	set(&p.User.Name, "NEON_USER")
	set(&p.User.Shell, "NEON_USER_SHELL")
	set(&p.Maintenance.Snapshot, "NEON_SNAPSHOT_SCHEDULE")
	set(&p.Maintenance.Trim, "NEON_TRIM_SCHEDULE")
	set(&p.Logging.Level, "NEON_LOG")
	set(&p.Logging.File, "NEON_LOG_FILE")
}

// DatasetTree returns the profile's dataset layout, falling back to the
// standard tree when the profile does not define one.
func (p Profile) DatasetTree() []zfs.DatasetSpec {
	if len(p.Datasets) > 0 {
		return p.Datasets
	}
	return zfs.DefaultTree()
}
