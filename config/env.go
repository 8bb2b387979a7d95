package config

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TABEXPORT_"

type envVar struct {
	key string
	get func(*Config) string
	set func(*Config, string) error
}

func stringVar(key string, field func(*Config) *string) envVar {
	return envVar{
		key: key,
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func durationVar(key string, field func(*Config) *time.Duration) envVar {
	return envVar{
		key: key,
		get: func(c *Config) string { return field(c).String() },
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			*field(c) = d
			return nil
		},
	}
}

var envVars = []envVar{
	stringVar("EXPORT_DEFAULT_FORMAT", func(c *Config) *string { return &c.Export.DefaultFormat }),
	{
		key: "EXPORT_ENABLED_FORMATS",
		get: func(c *Config) string { return strings.Join(c.Export.EnabledFormats, ",") },
		set: func(c *Config, v string) error {
			var ids []string
			for _, id := range strings.Split(v, ",") {
				if id = strings.TrimSpace(id); id != "" {
					ids = append(ids, id)
				}
			}
			c.Export.EnabledFormats = ids
			return nil
		},
	},
	stringVar("EXPORT_FILENAME_PREFIX", func(c *Config) *string { return &c.Export.FilenamePrefix }),
	stringVar("EXPORT_SITE_NAME", func(c *Config) *string { return &c.Export.SiteName }),
	stringVar("PDF_RENDERER", func(c *Config) *string { return &c.PDF.Renderer }),
	stringVar("SERVER_ADDR", func(c *Config) *string { return &c.Server.Addr }),
	stringVar("SERVER_API_KEY", func(c *Config) *string { return &c.Server.APIKey }),
	stringVar("SERVER_SECRET", func(c *Config) *string { return &c.Server.Secret }),
	durationVar("SERVER_DOWNLOAD_TTL", func(c *Config) *time.Duration { return &c.Server.DownloadTTL }),
	stringVar("STORAGE_TEMP_DIR", func(c *Config) *string { return &c.Storage.TempDir }),
	durationVar("STORAGE_TEMP_TTL", func(c *Config) *time.Duration { return &c.Storage.TempTTL }),
	stringVar("STORAGE_HISTORY_DB", func(c *Config) *string { return &c.Storage.HistoryDB }),
	stringVar("STORAGE_DATA_FILE", func(c *Config) *string { return &c.Storage.DataFile }),
	{
		key: "MEMORY_LIMIT_MB",
		get: func(c *Config) string { return strconv.FormatUint(c.Memory.LimitMB, 10) },
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return err
			}
			c.Memory.LimitMB = n
			return nil
		},
	},
	stringVar("LOG_LEVEL", func(c *Config) *string { return &c.Log.Level }),
	stringVar("LOG_FORMAT", func(c *Config) *string { return &c.Log.Format }),
	stringVar("LOG_FILE", func(c *Config) *string { return &c.Log.File }),
	stringVar("METRICS_EXPORTER", func(c *Config) *string { return &c.Metrics.Exporter }),
}

// ApplyEnv overrides c with the TABEXPORT_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, v := range envVars {
		val, ok := lookup(EnvPrefix + v.key)
		if !ok {
			continue
		}
		if err := v.set(c, strings.TrimSpace(val)); err != nil {
			return fmt.Errorf("%w: %s%s: %w", ErrInvalidConfig, EnvPrefix, v.key, err)
		}
	}
	return nil
}

// WriteEnv writes c as TABEXPORT_* assignments, one per line. With export
// set each line starts with "export "; secrets are left out unless
// withSecrets is set.
func (c *Config) WriteEnv(w io.Writer, export, withSecrets bool) error {
	prefix := ""
	if export {
		prefix = "export "
	}
	for _, v := range envVars {
		if !withSecrets && (v.key == "SERVER_SECRET" || v.key == "SERVER_API_KEY") {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s%s%s=%q\n", prefix, EnvPrefix, v.key, v.get(c)); err != nil {
			return err
		}
	}
	return nil
}
