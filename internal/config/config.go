// Package config loads foodledger settings from a YAML file and FOODLEDGER_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"foodledger/internal/model"
)

const EnvPrefix = "FOODLEDGER_"

// Sink and source names shared by changelog and manifest.
const (
	TargetFile  = "file"
	TargetKafka = "kafka"
	TargetBoth  = "both"
	TargetNone  = "none"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendPebble = "pebble"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

type Config struct {
	Listen   string `yaml:"listen"`
	Deployer string `yaml:"deployer"`

	Store     StoreConfig     `yaml:"store"`
	Changelog ChangelogConfig `yaml:"changelog"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Manifest  ManifestConfig  `yaml:"manifest"`
	Intake    IntakeConfig    `yaml:"intake"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Log       LogConfig       `yaml:"log"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"` // memory|pebble|badger|sqlite
	Dir     string `yaml:"dir"`
}

type ChangelogConfig struct {
	Sink   string `yaml:"sink"`   // file|kafka|both|none
	Source string `yaml:"source"` // file|kafka, used by recover
	Dir    string `yaml:"dir"`
	File   string `yaml:"file"`
	Topic  string `yaml:"topic"`
}

type KafkaConfig struct {
	Bootstrap string `yaml:"bootstrap"`
}

type SnapshotConfig struct {
	Dir         string `yaml:"dir"`
	IntervalSec int    `yaml:"intervalSec"` // 0 disables periodic snapshots
}

type ManifestConfig struct {
	Sink   string `yaml:"sink"`   // file|kafka|both
	Source string `yaml:"source"` // file|kafka
	Topic  string `yaml:"topic"`
	Key    string `yaml:"key"`
}

type IntakeConfig struct {
	Enabled bool   `yaml:"enabled"`
	GroupID string `yaml:"groupId"`
	Topic   string `yaml:"topic"`
	PollMs  int    `yaml:"pollMs"`

	// ResultsTopic receives one result record per command; empty disables it.
	ResultsTopic string `yaml:"resultsTopic"`
}

type TracingConfig struct {
	Endpoint string `yaml:"endpoint"`
	URLPath  string `yaml:"urlPath"`
	Insecure bool   `yaml:"insecure"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a single-node configuration: pebble state, file changelog and manifest.
func Default() Config {
	return Config{
		Listen:   ":8080",
		Deployer: "",
		Store:    StoreConfig{Backend: BackendPebble, Dir: "./data/state"},
		Changelog: ChangelogConfig{
			Sink:   TargetFile,
			Source: TargetFile,
			Dir:    "./data",
			File:   "changelog.jsonl",
			Topic:  "foodledger.changelog",
		},
		Snapshot: SnapshotConfig{Dir: "./snapshots", IntervalSec: 60},
		Manifest: ManifestConfig{
			Sink:   TargetFile,
			Source: TargetFile,
			Topic:  "foodledger.snapshots",
			Key:    "foodledger-manifest-latest",
		},
		Intake: IntakeConfig{GroupID: "foodledger", Topic: "foodledger.commands", PollMs: 200},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads path (if not empty) over the defaults, applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(p *string) func(string) error {
		return func(v string) error { *p = v; return nil }
	}
	num := func(p *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*p = n
			return nil
		}
	}
	flag := func(p *bool) func(string) error {
		return func(v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			*p = b
			return nil
		}
	}
	overrides := []struct {
		name string
		set  func(string) error
	}{
		{"LISTEN", str(&c.Listen)},
		{"DEPLOYER", str(&c.Deployer)},
		{"STORE_BACKEND", str(&c.Store.Backend)},
		{"STORE_DIR", str(&c.Store.Dir)},
		{"CHANGELOG_SINK", str(&c.Changelog.Sink)},
		{"CHANGELOG_SOURCE", str(&c.Changelog.Source)},
		{"CHANGELOG_DIR", str(&c.Changelog.Dir)},
		{"CHANGELOG_TOPIC", str(&c.Changelog.Topic)},
		{"KAFKA_BOOTSTRAP", str(&c.Kafka.Bootstrap)},
		{"SNAPSHOT_DIR", str(&c.Snapshot.Dir)},
		{"SNAPSHOT_INTERVAL_SEC", num(&c.Snapshot.IntervalSec)},
		{"MANIFEST_SINK", str(&c.Manifest.Sink)},
		{"MANIFEST_SOURCE", str(&c.Manifest.Source)},
		{"MANIFEST_TOPIC", str(&c.Manifest.Topic)},
		{"INTAKE_ENABLED", flag(&c.Intake.Enabled)},
		{"INTAKE_GROUP_ID", str(&c.Intake.GroupID)},
		{"INTAKE_TOPIC", str(&c.Intake.Topic)},
		{"INTAKE_RESULTS_TOPIC", str(&c.Intake.ResultsTopic)},
		{"TRACING_ENDPOINT", str(&c.Tracing.Endpoint)},
		{"LOG_LEVEL", str(&c.Log.Level)},
		{"LOG_DEVELOPMENT", flag(&c.Log.Development)},
	}
	for _, o := range overrides {
		v, ok := lookup(EnvPrefix + o.name)
		if !ok {
			continue
		}
		if err := o.set(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, o.name, err)
		}
	}
	return nil
}

// Validate checks the combination of settings, not reachability of brokers or directories.
func (c Config) Validate() error {
	var errs []error
	// an empty deployer is fine for a store that already has an owner
	if c.Deployer != "" {
		if _, err := model.ParseIdentity(c.Deployer); err != nil {
			errs = append(errs, fmt.Errorf("deployer: %w", err))
		}
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPebble, BackendBadger, BackendSQLite:
		if c.Store.Dir == "" {
			errs = append(errs, fmt.Errorf("store.dir is required for %s", c.Store.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q: want memory|pebble|badger|sqlite", c.Store.Backend))
	}
	if !oneOf(c.Changelog.Sink, TargetFile, TargetKafka, TargetBoth, TargetNone) {
		errs = append(errs, fmt.Errorf("changelog.sink %q: want file|kafka|both|none", c.Changelog.Sink))
	}
	if !oneOf(c.Changelog.Source, TargetFile, TargetKafka) {
		errs = append(errs, fmt.Errorf("changelog.source %q: want file|kafka", c.Changelog.Source))
	}
	if !oneOf(c.Manifest.Sink, TargetFile, TargetKafka, TargetBoth) {
		errs = append(errs, fmt.Errorf("manifest.sink %q: want file|kafka|both", c.Manifest.Sink))
	}
	if !oneOf(c.Manifest.Source, TargetFile, TargetKafka) {
		errs = append(errs, fmt.Errorf("manifest.source %q: want file|kafka", c.Manifest.Source))
	}
	if c.Snapshot.IntervalSec < 0 {
		errs = append(errs, errors.New("snapshot.intervalSec must not be negative"))
	}
	if c.UsesKafka() && c.Kafka.Bootstrap == "" {
		errs = append(errs, errors.New("kafka.bootstrap is required when a kafka sink, source or intake is configured"))
	}
	if c.Intake.Enabled && (c.Intake.Topic == "" || c.Intake.GroupID == "") {
		errs = append(errs, errors.New("intake.topic and intake.groupId are required when intake is enabled"))
	}
	return errors.Join(errs...)
}

// UsesKafka reports whether any component needs a broker connection.
func (c Config) UsesKafka() bool {
	return c.Intake.Enabled ||
		oneOf(c.Changelog.Sink, TargetKafka, TargetBoth) ||
		oneOf(c.Manifest.Sink, TargetKafka, TargetBoth) ||
		c.Changelog.Source == TargetKafka ||
		c.Manifest.Source == TargetKafka
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
