// Package config loads voxelscan.yaml. Defaults target a local GDMC server
// and a 100 block cube at y=10; the file, then the environment, then
// command-line flags override them.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"voxelscan/internal/frame"
	"voxelscan/internal/gdmc"
	"voxelscan/internal/paste"
	"voxelscan/internal/scan"
	"voxelscan/internal/voxel"
)

const DefaultPath = "voxelscan.yaml"

//go:embed config.schema.json
var schemaJSON string

type Config struct {
	API     API    `yaml:"api"`
	Scan    Scan   `yaml:"scan"`
	Paste   Paste  `yaml:"paste"`
	Frame   Frame  `yaml:"frame"`
	DataDir string `yaml:"data_dir"`
	IndexDB string `yaml:"index_db"`
	Profile string `yaml:"profile"`
	Log     Log    `yaml:"log"`
	Mirror  Mirror `yaml:"mirror"`
}

type API struct {
	BaseURL      string        `yaml:"base_url"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type Scan struct {
	Region   string `yaml:"region"`
	CubeSize int    `yaml:"cube_size"`
	Workers  int    `yaml:"workers"`
}

type Paste struct {
	BatchSize int    `yaml:"batch_size"`
	Clear     string `yaml:"clear"`
	ClearY    [2]int `yaml:"clear_y"`
	BaseY     *int   `yaml:"base_y"`
	KeepAir   bool   `yaml:"keep_air"`
}

type Frame struct {
	Block string `yaml:"block"`
}

type Log struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type Mirror struct {
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	Workers         int    `yaml:"workers"`
}

// Enabled reports whether enough is configured to upload artifacts.
func (m Mirror) Enabled() bool {
	return m.Endpoint != "" && m.Bucket != "" && m.AccessKeyID != "" && m.SecretAccessKey != ""
}

func Defaults() Config {
	return Config{
		API: API{
			BaseURL:      gdmc.DefaultBaseURL,
			ReadTimeout:  gdmc.DefaultReadTimeout,
			WriteTimeout: gdmc.DefaultWriteTimeout,
		},
		Scan: Scan{
			Region:   "0,10,0:100,110,100",
			CubeSize: scan.DefaultCubeSize,
			Workers:  1,
		},
		Paste: Paste{
			BatchSize: paste.DefaultBatchSize,
			Clear:     string(paste.ClearColumn),
			ClearY:    [2]int{paste.ColumnMinY, paste.ColumnMaxY},
		},
		Frame:   Frame{Block: frame.DefaultBlock},
		DataDir: "data",
		Profile: "natural",
		Log:     Log{MaxSizeMB: 50, MaxBackups: 3},
		Mirror:  Mirror{Region: "auto", Prefix: "voxelscan", Workers: 2},
	}
}

// IndexPath is the run index location, defaulting to <data_dir>/index.sqlite.
func (c Config) IndexPath() string {
	if c.IndexDB != "" {
		return c.IndexDB
	}
	return filepath.Join(c.DataDir, "index.sqlite")
}

// JournalDir holds failed-batch journals.
func (c Config) JournalDir() string { return filepath.Join(c.DataDir, "journal") }

func (c Config) ScanRegion() (voxel.Box, error) { return voxel.ParseBox(c.Scan.Region) }

// Load reads path over Defaults, then applies the environment.
func Load(path string) (Config, error) {
	cfg := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.merge(raw); err != nil {
		return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, cfg.Validate()
}

// LoadOptional is Load that treats a missing file as empty.
func LoadOptional(path string) (Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Defaults()
		cfg.ApplyEnv(os.LookupEnv)
		return cfg, cfg.Validate()
	}
	return cfg, err
}

func (c *Config) merge(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	if err := validate(doc); err != nil {
		return err
	}
	return yaml.Unmarshal(raw, c)
}

// ApplyEnv overrides the API URL and mirror credentials from
// VOXELSCAN_API_URL and VOXELSCAN_R2_*.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set("VOXELSCAN_API_URL", &c.API.BaseURL)
	set("VOXELSCAN_DATA_DIR", &c.DataDir)
	set("VOXELSCAN_R2_ENDPOINT", &c.Mirror.Endpoint)
	set("VOXELSCAN_R2_BUCKET", &c.Mirror.Bucket)
	set("VOXELSCAN_R2_ACCESS_KEY_ID", &c.Mirror.AccessKeyID)
	set("VOXELSCAN_R2_SECRET_ACCESS_KEY", &c.Mirror.SecretAccessKey)
	set("VOXELSCAN_R2_PREFIX", &c.Mirror.Prefix)
	if v, ok := lookup("VOXELSCAN_SCAN_WORKERS"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			c.Scan.Workers = n
		}
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is empty"))
	}
	if c.API.ReadTimeout <= 0 || c.API.WriteTimeout <= 0 {
		errs = append(errs, errors.New("api timeouts must be positive"))
	}
	if _, err := c.ScanRegion(); err != nil {
		errs = append(errs, fmt.Errorf("scan.region: %w", err))
	}
	if c.Scan.CubeSize <= 0 {
		errs = append(errs, errors.New("scan.cube_size must be positive"))
	}
	if c.Paste.BatchSize <= 0 {
		errs = append(errs, errors.New("paste.batch_size must be positive"))
	}
	if _, err := paste.ParseClearMode(c.Paste.Clear); err != nil {
		errs = append(errs, fmt.Errorf("paste.clear: %w", err))
	}
	if c.Paste.ClearY[0] >= c.Paste.ClearY[1] {
		errs = append(errs, fmt.Errorf("paste.clear_y %v is empty", c.Paste.ClearY))
	}
	return errors.Join(errs...)
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func validate(doc any) error {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("config.schema.json", schemaJSON)
	})
	if schemaErr != nil {
		return fmt.Errorf("compile config schema: %w", schemaErr)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return schema.Validate(v)
}
