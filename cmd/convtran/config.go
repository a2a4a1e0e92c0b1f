package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/convtran/internal/model"
)

// Config represents the convtran configuration file (~/.config/convtran/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	ModelsDir string `yaml:"models_dir"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
	StoreSize     *int   `yaml:"store_size"`

	// Seed used by init when --seed is not given.
	Seed *int64 `yaml:"seed"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "convtran", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	return loadConfigFile(configPath())
}

func loadConfigFile(path string) Config {
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

// applyLoggingConfig applies config file defaults to the logging flags
// when they were not explicitly set.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyModelsConfig applies the configured models directory when neither
// --model nor --models-path was given.
func applyModelsConfig(c *cli.Command, cfg Config) {
	if cfg.ModelsDir != "" && !c.IsSet("models-path") && !c.IsSet("model") {
		modelsPath = cfg.ModelsDir
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, storeSize *int64) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.StoreSize != nil && !c.IsSet("store-size") {
		*storeSize = int64(*cfg.StoreSize)
	}
}

// apply overrides cfg with every architecture flag set on the command line.
func (a *architectureFlags) apply(c *cli.Command, cfg *model.Config, user Config) {
	if c.IsSet("c-in") {
		cfg.CIn = int(a.cIn)
	}
	if c.IsSet("c-out") {
		cfg.COut = int(a.cOut)
	}
	if c.IsSet("seq-len") {
		cfg.SeqLen = int(a.seqLen)
	}
	if c.IsSet("emb-size") {
		cfg.EmbSize = int(a.embSize)
	}
	if c.IsSet("num-heads") {
		cfg.NumHeads = int(a.heads)
	}
	if c.IsSet("dim-ff") {
		cfg.DimFF = int(a.dimFF)
	}
	if c.IsSet("abs-pos") {
		cfg.AbsPosEncode = model.AbsPosEncoding(a.absPos)
	}
	if c.IsSet("rel-pos") {
		cfg.RelPosEncode = model.RelPosEncoding(a.relPos)
	}
	switch {
	case c.IsSet("seed"):
		cfg.Seed = a.seed
	case user.Seed != nil && cfg.Seed == 0:
		cfg.Seed = *user.Seed
	}
}
