// Package pipeline drives the end-to-end ETL run: configuration, state,
// folder processing, and watch mode.
package pipeline

import (
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fresco-hpc/fresco-etl/common"
)

// Config is the declarative pipeline configuration.
type Config struct {
	Dataset struct {
		Name    string `yaml:"name" validate:"required"`
		Type    string `yaml:"type" validate:"required"`
		Version string `yaml:"version" validate:"required"`
	} `yaml:"dataset" validate:"required"`

	Source SourceSpec `yaml:"source" validate:"required"`

	// Sources lists named alternatives to Source; --source selects one.
	Sources []SourceSpec `yaml:"sources" validate:"dive"`

	Processing struct {
		MaxWorkers    int     `yaml:"max_workers" validate:"min=0"`
		BatchSize     int     `yaml:"batch_size" validate:"min=0"`
		MemoryLimitGB float64 `yaml:"memory_limit_gb" validate:"min=0"`
		TempDirectory string  `yaml:"temp_directory"`
	} `yaml:"processing"`

	Output struct {
		Format      string `yaml:"format" validate:"omitempty,oneof=parquet csv"`
		Compression string `yaml:"compression"`
		Directory   string `yaml:"directory"`
		Chunking    struct {
			Enabled         bool    `yaml:"enabled"`
			MaxSizeGB       float64 `yaml:"max_size_gb"`
			MinRowsPerChunk int     `yaml:"min_rows_per_chunk"`
		} `yaml:"chunking"`
		PathTemplate string `yaml:"path_template"`
	} `yaml:"output"`

	Transformations []Transformation `yaml:"transformations" validate:"dive"`

	Validation struct {
		MinRows       int     `yaml:"min_rows"`
		MaxFileSizeGB float64 `yaml:"max_file_size_gb"`
	} `yaml:"validation"`

	Signals struct {
		Directory string `yaml:"directory"`
	} `yaml:"signals"`

	Accounting struct {
		Directory string `yaml:"directory"`
	} `yaml:"accounting"`
}

// SourceSpec describes where raw telemetry folders come from.
type SourceSpec struct {
	Name          string   `yaml:"name"`
	Type          string   `yaml:"type" validate:"required,oneof=remote_http local_fs globus"`
	BaseURL       string   `yaml:"base_url"`
	BasePath      string   `yaml:"base_path"`
	EndpointID    string   `yaml:"endpoint_id"`
	FolderPattern string   `yaml:"folder_pattern"`
	FilePatterns  []string `yaml:"file_patterns"`
}

// Transformation is one entry of the generic transformation list applied
// to transformer output before it is written.
type Transformation struct {
	Type   string            `yaml:"type" validate:"required,oneof=suffix_transform job_id_normalization standardize_columns add_unit_column normalize_timestamps"`
	Params map[string]string `yaml:"params"`
}

var validate = validator.New()

// LoadConfig reads, default-fills, and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.WrapError(common.EErrorKind.Configuration(), err, "config file")
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, common.WrapError(common.EErrorKind.Configuration(), err, "config parse")
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, common.WrapError(common.EErrorKind.Configuration(), err, "config invalid")
	}
	return cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Processing.MaxWorkers = 4
	cfg.Processing.BatchSize = 500_000
	cfg.Processing.MemoryLimitGB = 80
	cfg.Processing.TempDirectory = "./temp"
	cfg.Output.Format = "parquet"
	cfg.Output.Compression = "snappy"
	cfg.Output.Chunking.Enabled = true
	cfg.Output.Chunking.MaxSizeGB = 2.0
	cfg.Output.Chunking.MinRowsPerChunk = 500_000
	cfg.Output.PathTemplate = "{dataset_name}_{folder_name}_{file_name}_{version}.{format}"
	cfg.Validation.MinRows = 1
	cfg.Validation.MaxFileSizeGB = 10
	cfg.Source.FolderPattern = `^\d{4}-\d{2}/?$`
	return cfg
}

// SelectSource swaps the active source for the named entry of Sources.
// Entries match on their name, or on their type when unnamed. An empty
// name keeps the configured default source.
func (c *Config) SelectSource(name string) error {
	if name == "" {
		return nil
	}
	if c.Source.Name == name || (c.Source.Name == "" && c.Source.Type == name) {
		return nil
	}
	for i := range c.Sources {
		s := c.Sources[i]
		if s.Name != name && !(s.Name == "" && s.Type == name) {
			continue
		}
		if s.FolderPattern == "" {
			s.FolderPattern = c.Source.FolderPattern
		}
		c.Source = s
		return nil
	}
	return common.NewErrorf(common.EErrorKind.Configuration(), "no configured source named %q", name)
}

// SourceRoot resolves where folders come from for filesystem-backed
// sources. A globus source is its locally mounted endpoint path.
func (c *Config) SourceRoot() string {
	if c.Source.BasePath != "" {
		return c.Source.BasePath
	}
	return c.Source.EndpointID
}
