// Package config loads the tabexport configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/bjaus/tabexport"
)

// ErrInvalidConfig is returned for configuration values that fail validation.
var ErrInvalidConfig = errors.New("invalid config")

// PDF renderer names.
const (
	RendererRich = "rich"
	RendererHTML = "html"
)

// Metrics exporter names.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Config is the complete configuration file.
type Config struct {
	Export  tabexport.Settings `yaml:"export"`
	PDF     PDFConfig          `yaml:"pdf"`
	Server  ServerConfig       `yaml:"server"`
	Storage StorageConfig      `yaml:"storage"`
	Memory  MemoryConfig       `yaml:"memory"`
	Log     LogConfig          `yaml:"log"`
	Metrics MetricsConfig      `yaml:"metrics"`
}

type PDFConfig struct {
	// Renderer selects the PDF strategy: "rich" or "html".
	Renderer string `yaml:"renderer"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// APIKey is the bearer key that grants export capability. Empty allows
	// every caller.
	APIKey string `yaml:"api_key"`
	// Secret signs nonces and download tokens. Empty generates a key per
	// process.
	Secret      string        `yaml:"secret"`
	DownloadTTL time.Duration `yaml:"download_ttl"`
	NonceTTL    time.Duration `yaml:"nonce_ttl"`
}

type StorageConfig struct {
	TempDir       string        `yaml:"temp_dir"`
	TempTTL       time.Duration `yaml:"temp_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	HistoryDB     string        `yaml:"history_db"`
	// DataFile is the YAML file of forms and entries served by the file host.
	DataFile string `yaml:"data_file"`
}

type MemoryConfig struct {
	// LimitMB caps the heap watched while streaming. Zero uses the runtime
	// memory limit.
	LimitMB   uint64  `yaml:"limit_mb"`
	Threshold float64 `yaml:"threshold"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type MetricsConfig struct {
	Exporter string        `yaml:"exporter"`
	Interval time.Duration `yaml:"interval"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	c.Export = c.Export.WithDefaults()
	if c.Export.DefaultFormat == "" {
		c.Export.DefaultFormat = tabexport.CSV
	}
	setString(&c.PDF.Renderer, RendererRich)
	setString(&c.Server.Addr, ":8080")
	setDuration(&c.Server.DownloadTTL, 15*time.Minute)
	setDuration(&c.Server.NonceTTL, 12*time.Hour)
	setString(&c.Storage.TempDir, "data/tmp")
	setDuration(&c.Storage.TempTTL, time.Hour)
	setDuration(&c.Storage.SweepInterval, 10*time.Minute)
	setString(&c.Storage.HistoryDB, "data/history.db")
	if c.Memory.Threshold == 0 {
		c.Memory.Threshold = tabexport.DefaultMemoryThreshold
	}
	setString(&c.Log.Level, "info")
	setString(&c.Log.Format, "text")
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 50
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 28
	}
	setString(&c.Metrics.Exporter, ExporterNone)
	setDuration(&c.Metrics.Interval, time.Minute)
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setDuration(dst *time.Duration, def time.Duration) {
	if *dst == 0 {
		*dst = def
	}
}

// Load reads the file at path, fills unset keys with defaults, applies
// TABEXPORT_* environment overrides and validates the result. An empty path
// loads defaults only.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	c, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse decodes YAML data, fills unset keys with defaults and validates the
// result.
func Parse(data []byte) (*Config, error) {
	c, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func parse(data []byte) (*Config, error) {
	c := &Config{}
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	c.applyDefaults()
	return c, nil
}

// Validate checks enumerated values and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	known := tabexport.Formats()
	for _, f := range c.Export.EnabledFormats {
		if !slices.Contains(known, f) {
			bad("export.enabled_formats: unknown format %q", f)
		}
	}
	if !c.Export.Enabled(c.Export.DefaultFormat) || !slices.Contains(known, c.Export.DefaultFormat) {
		bad("export.default_format %q is not an enabled format", c.Export.DefaultFormat)
	}
	oneOf := func(field, v string, allowed ...string) {
		if !slices.Contains(allowed, v) {
			bad("%s %q must be one of %s", field, v, strings.Join(allowed, ", "))
		}
	}
	oneOf("export.csv_delimiter", c.Export.CSVDelimiter, ",", ";", "\t", "|")
	oneOf("export.csv_enclosure", c.Export.CSVEnclosure, `"`, "'")
	oneOf("export.pdf_orientation", c.Export.PDFOrientation, "portrait", "landscape")
	oneOf("export.pdf_paper_size", c.Export.PDFPaperSize, "A4", "A3", "Letter", "Legal")
	oneOf("export.html_theme", c.Export.HTMLTheme, tabexport.ThemeLight, tabexport.ThemeDark, tabexport.ThemeMinimal, tabexport.ThemeBordered)
	if tabexport.XMLName(c.Export.XMLRoot) != c.Export.XMLRoot {
		bad("export.xml_root %q is not a valid element name", c.Export.XMLRoot)
	}
	if tabexport.XMLName(c.Export.XMLRow) != c.Export.XMLRow {
		bad("export.xml_row %q is not a valid element name", c.Export.XMLRow)
	}
	oneOf("pdf.renderer", c.PDF.Renderer, RendererRich, RendererHTML)
	oneOf("log.format", c.Log.Format, "text", "json")
	oneOf("metrics.exporter", c.Metrics.Exporter, ExporterNone, ExporterStdout)
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		bad("log.level: %v", err)
	}
	if c.Server.Secret != "" && len(c.Server.Secret) < 16 {
		bad("server.secret must be at least 16 bytes")
	}
	if c.Memory.Threshold <= 0 || c.Memory.Threshold > 1 {
		bad("memory.threshold %v must be in (0, 1]", c.Memory.Threshold)
	}
	for field, d := range map[string]time.Duration{
		"server.download_ttl":    c.Server.DownloadTTL,
		"server.nonce_ttl":       c.Server.NonceTTL,
		"storage.temp_ttl":       c.Storage.TempTTL,
		"storage.sweep_interval": c.Storage.SweepInterval,
		"metrics.interval":       c.Metrics.Interval,
	} {
		if d < 0 {
			bad("%s must not be negative", field)
		}
	}
	return errors.Join(errs...)
}

// MemoryGuard returns the streaming memory guard for c.
func (c *Config) MemoryGuard() *tabexport.MemoryGuard {
	return &tabexport.MemoryGuard{Limit: c.Memory.LimitMB << 20, Threshold: c.Memory.Threshold}
}

// Write encodes c as YAML.
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}
