package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	yaml "gopkg.in/yaml.v3"

	"github.com/rupor-github/gencfg"
)

//go:embed config.yaml.tmpl
var ConfigTmpl []byte

// DefaultUserAgent is used for sources which do not specify their own. Font
// services pick font format by user agent, desktop browser gets woff2.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// OriginalSuffix replaces extension of output name to form name of the file
// holding verbatim source text.
const OriginalSuffix = ".original.css"

type (
	SourceConfig struct {
		From      string                  `yaml:"from" validate:"required"`
		Into      string                  `yaml:"into" validate:"required"`
		UserAgent string                  `yaml:"user_agent,omitempty"`
		BaseURL   string                  `yaml:"base_url,omitempty" validate:"omitempty,http_url"`
		Headers   map[string]SecretString `yaml:"headers,omitempty" validate:"dive,keys,required,endkeys"`
	}

	RateConfig struct {
		Requests int           `yaml:"requests" validate:"gte=0"`
		Window   time.Duration `yaml:"window" validate:"gte=0"`
	}

	DownloadConfig struct {
		Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`
		MaxBodyBytes int64         `yaml:"max_body_bytes" validate:"gt=0"`
		Rate         RateConfig    `yaml:"rate"`
	}

	Config struct {
		Version     int            `yaml:"version" validate:"eq=1"`
		OutDir      string         `yaml:"out_dir" sanitize:"path_clean" validate:"required"`
		Concurrency int            `yaml:"concurrency" validate:"min=1"`
		Sources     []SourceConfig `yaml:"sources" validate:"dive"`
		Download    DownloadConfig `yaml:"download"`
		Logging     LoggingConfig  `yaml:"logging"`
		Reporting   ReporterConfig `yaml:"reporting"`

		// BaseDir is directory relative paths in configuration are resolved
		// against: directory of configuration file or working directory.
		BaseDir string `yaml:"-"`
	}
)

// IsRemote reports whether source is to be fetched over HTTP.
func (s *SourceConfig) IsRemote() bool {
	u, err := url.Parse(s.From)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && len(u.Host) > 0
}

// Agent returns user agent to use for requests made on behalf of source.
func (s *SourceConfig) Agent() string {
	if len(s.UserAgent) > 0 {
		return s.UserAgent
	}
	return DefaultUserAgent
}

// OriginalName returns name of the file verbatim source text is stored under.
func OriginalName(into string) string {
	return strings.TrimSuffix(into, filepath.Ext(into)) + OriginalSuffix
}

// ResolvePath returns path relative to configuration base directory unless it
// is already absolute.
func (conf *Config) ResolvePath(path string) string {
	if filepath.IsAbs(path) || len(conf.BaseDir) == 0 {
		return path
	}
	return filepath.Join(conf.BaseDir, path)
}

// checkSources makes sure every output stays inside output directory and no
// two outputs (including verbatim copies) land in the same file.
func checkSources(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)

	seen := make(map[string]int, 2*len(cfg.Sources))
	for i, src := range cfg.Sources {
		if len(src.Into) == 0 {
			continue
		}
		field := fmt.Sprintf("Sources[%d].Into", i)
		name := filepath.ToSlash(filepath.Clean(src.Into))
		if filepath.IsAbs(src.Into) || name == "." || name == ".." || strings.HasPrefix(name, "../") {
			sl.ReportError(src.Into, field, "Into", "inside_out_dir", "")
			continue
		}
		for _, n := range []string{name, filepath.ToSlash(OriginalName(name))} {
			if _, exists := seen[n]; exists {
				sl.ReportError(src.Into, field, "Into", "unique_output", n)
				break
			}
			seen[n] = i
		}
	}
}

func unmarshalConfig(data []byte, cfg *Config, process bool) (*Config, error) {
	// We want to use only fields we defined so we cannot use yaml.Unmarshal
	// directly here
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	if process {
		if err := gencfg.Sanitize(cfg); err != nil {
			return nil, fmt.Errorf("configuration sanitizing failed: %w", err)
		}
		if err := gencfg.Validate(cfg, gencfg.WithAdditionalChecks(checkSources)); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return cfg, nil
}

// LoadConfiguration reads the configuration from the file at the given path,
// superimposes its values on top of expanded configuration template to provide
// sane defaults and performs validation. Relative paths are later resolved
// against the directory of the file, or the working directory when there is
// no file.
func LoadConfiguration(path string, options ...func(*gencfg.ProcessingOptions)) (*Config, error) {
	haveFile := len(path) > 0

	data, err := gencfg.Process(ConfigTmpl, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	cfg, err := unmarshalConfig(data, &Config{}, !haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}

	if !haveFile {
		if cfg.BaseDir, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("unable to get working directory: %w", err)
		}
		return cfg, nil
	}

	// overwrite cfg values with values from the file
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err = unmarshalConfig(data, cfg, haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration file: %w", err)
	}
	if abs, err := filepath.Abs(path); err == nil {
		cfg.BaseDir = filepath.Dir(abs)
	} else {
		cfg.BaseDir = filepath.Dir(path)
	}
	return cfg, nil
}

// Prepare generates configuration file from template and returns it as a byte
// slice.
func Prepare() ([]byte, error) {
	return gencfg.Process(ConfigTmpl)
}

func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %v", err)
	}
	return data, nil
}
