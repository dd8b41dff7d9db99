/*
Package config manages the TOML config of ctxserve: server limits, query
defaults, and the context mappings every segment is indexed with.
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bastiangx/ctxserve/internal/utils"
	"github.com/bastiangx/ctxserve/pkg/completion"
	"github.com/bastiangx/ctxserve/pkg/ctxmap"
	"github.com/bastiangx/ctxserve/pkg/errdefs"
	"github.com/bastiangx/ctxserve/pkg/suggest"
	"github.com/charmbracelet/log"
)

// Config holds the entire config structure
type Config struct {
	Server   ServerConfig    `toml:"server"`
	Suggest  SuggestConfig   `toml:"suggest"`
	Dict     DictConfig      `toml:"dict"`
	Contexts []ContextConfig `toml:"contexts"`
	CLI      CliConfig       `toml:"cli"`
}

// ServerConfig has server related options.
type ServerConfig struct {
	MaxLimit  int `toml:"max_limit"`
	MinPrefix int `toml:"min_prefix"`
	MaxPrefix int `toml:"max_prefix"`
}

// SuggestConfig holds query execution defaults.
type SuggestConfig struct {
	DefaultSize        int      `toml:"default_size"`
	OverCollect        int      `toml:"over_collect"`
	PartitionTimeoutMs int      `toml:"partition_timeout_ms"`
	Concurrency        int      `toml:"concurrency"`
	MaxExpansions      int      `toml:"max_expansions"`
	Modes              []string `toml:"modes"`
	Fuzziness          int      `toml:"fuzziness"`
	FuzzyPrefixLength  int      `toml:"fuzzy_prefix_length"`
	FuzzyMinLength     int      `toml:"fuzzy_min_length"`
	Transpositions     bool     `toml:"transpositions"`
	RegexMaxStates     int      `toml:"regex_max_states"`
}

// DictConfig holds segment loading options.
type DictConfig struct {
	MaxEntriesPerSegment int `toml:"max_entries_per_segment"`
}

// ContextConfig defines one context mapping. Order in the file is the
// key layout order and must not change for existing segments.
type ContextConfig struct {
	Name      string   `toml:"name"`
	Type      string   `toml:"type"`
	Precision int      `toml:"precision,omitempty"`
	Neighbors bool     `toml:"neighbors,omitempty"`
	Defaults  []string `toml:"defaults,omitempty"`
}

// CliConfig holds cli interface options.
type CliConfig struct {
	DefaultSize int  `toml:"default_size"`
	ShowScores   bool `toml:"show_scores"`
}

// GetConfigDir returns the config directory with fallback priority:
// 1. ~/.config/ctxserve
// 2. ~/Library/Application Support/ctxserve (macOS)
// 3. Current executable dir
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Errorf("Failed to get home directory: %v", err)
		return utils.GetExecutableDir()
	}
	for _, dir := range []string{
		filepath.Join(homeDir, ".config", "ctxserve"),
		filepath.Join(homeDir, "Library", "Application Support", "ctxserve"),
	} {
		if result := utils.CheckDirStatus(dir); result.Writable {
			return dir, nil
		}
	}
	execDir, err := utils.GetExecutableDir()
	if err != nil {
		log.Errorf("Failed to get executable directory: %v", err)
		return "", err
	}
	return execDir, nil
}

// GetDefaultConfigPath returns the default path for config.toml
func GetDefaultConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}

// LoadConfigWithPriority loads config with priority:
// 1. Custom path from -c flag
// 2. Default path: [UserConfigDir]/ctxserve/config.toml
// 3. Builtin defaults
func LoadConfigWithPriority(customConfigPath string) (*Config, string, error) {
	if customConfigPath != "" {
		if _, statErr := os.Stat(customConfigPath); statErr == nil {
			config, err := LoadConfig(customConfigPath)
			if err == nil {
				log.Debugf("Loaded config from custom path: %s", customConfigPath)
				return config, customConfigPath, nil
			}
			log.Warnf("Failed to load custom config from %s: %v. Trying default path...", customConfigPath, err)
		} else {
			log.Warnf("Custom config file not found at %s: %v. Trying default path...", customConfigPath, statErr)
		}
	}
	defaultPath, err := GetDefaultConfigPath()
	if err != nil {
		log.Warnf("Failed to determine default config path: %v. Using built-in defaults...", err)
		return DefaultConfig(), "", nil
	}
	config, err := InitConfig(defaultPath)
	if err != nil {
		log.Warnf("Failed to load/create config at default path %s: %v. Using builtin defaults...", defaultPath, err)
		return DefaultConfig(), "", nil
	}
	log.Debugf("Loaded config from default path: %s", defaultPath)
	return config, defaultPath, nil
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	fz := suggest.DefaultFuzzyOptions()
	return &Config{
		Server: ServerConfig{
			MaxLimit:  64,
			MinPrefix: 1,
			MaxPrefix: 60,
		},
		Suggest: SuggestConfig{
			DefaultSize:        10,
			OverCollect:        suggest.DefaultOverCollect,
			PartitionTimeoutMs: 100,
			Concurrency:        4,
			MaxExpansions:      completion.DefaultMaxExpansions,
			Modes:              []string{"prefix", "fuzzy", "regex"},
			Fuzziness:          fz.Fuzziness,
			FuzzyPrefixLength:  fz.PrefixLength,
			FuzzyMinLength:     fz.MinLength,
			Transpositions:     fz.Transpositions,
			RegexMaxStates:     10000,
		},
		Dict: DictConfig{
			MaxEntriesPerSegment: 1000000,
		},
		Contexts: []ContextConfig{
			{Name: "category", Type: "category"},
			{Name: "location", Type: "geo", Precision: 5, Neighbors: true},
		},
		CLI: CliConfig{
			DefaultSize:  10,
			ShowScores:   true,
		},
	}
}

// InitConfig loads config from file or creates default if missing
func InitConfig(configPath string) (*Config, error) {
	configDir := filepath.Dir(configPath)
	if err := utils.EnsureDir(configDir); err != nil {
		log.Warnf("Failed to create config directory %s: %v. Using built-in defaults...", configDir, err)
		return DefaultConfig(), nil
	}

	if !utils.FileExists(configPath) {
		config := DefaultConfig()
		if err := SaveConfig(config, configPath); err != nil {
			log.Warnf("Failed to create default config file at %s: %v. Using built-in defaults...", configPath, err)
			return DefaultConfig(), nil
		}
		log.Debugf("Created default config file at: %s", configPath)
		return config, nil
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		log.Warnf("Failed to load config from %s: %v. Using built-in defaults...", configPath, err)
		return DefaultConfig(), nil
	}
	return config, nil
}

// LoadConfig loads from a TOML file. A file that does not decode into
// Config is salvaged section by section.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()
	// contexts replace the defaults rather than merging into them
	config.Contexts = nil
	if err := utils.LoadTOMLFile(configPath, config); err != nil {
		return tryPartialParse(configPath)
	}
	if config.Contexts == nil {
		config.Contexts = DefaultConfig().Contexts
	}
	return config, nil
}

func tryPartialParse(configPath string) (*Config, error) {
	config := DefaultConfig()

	tempConfig, err := utils.ParseTOMLWithRecovery(configPath)
	if err != nil {
		log.Warnf("Could not parse any valid configuration from %s: %v. Using all defaults.", configPath, err)
		return config, nil
	}

	if section, ok := utils.ExtractSection(tempConfig, "server"); ok {
		extractServerConfig(section, &config.Server)
	}
	if section, ok := utils.ExtractSection(tempConfig, "suggest"); ok {
		extractSuggestConfig(section, &config.Suggest)
	}
	if section, ok := utils.ExtractSection(tempConfig, "dict"); ok {
		if val, ok := utils.ExtractInt64(section, "max_entries_per_segment"); ok {
			config.Dict.MaxEntriesPerSegment = val
		}
	}
	if tables, ok := utils.ExtractTables(tempConfig, "contexts"); ok {
		config.Contexts = extractContexts(tables)
	}
	if section, ok := utils.ExtractSection(tempConfig, "cli"); ok {
		if val, ok := utils.ExtractInt64(section, "default_size"); ok {
			config.CLI.DefaultSize = val
		}
		if val, ok := utils.ExtractBool(section, "show_scores"); ok {
			config.CLI.ShowScores = val
		}
	}
	return config, nil
}

func extractServerConfig(data map[string]any, server *ServerConfig) {
	if val, ok := utils.ExtractInt64(data, "max_limit"); ok {
		server.MaxLimit = val
	}
	if val, ok := utils.ExtractInt64(data, "min_prefix"); ok {
		server.MinPrefix = val
	}
	if val, ok := utils.ExtractInt64(data, "max_prefix"); ok {
		server.MaxPrefix = val
	}
}

func extractSuggestConfig(data map[string]any, s *SuggestConfig) {
	ints := map[string]*int{
		"default_size":         &s.DefaultSize,
		"over_collect":         &s.OverCollect,
		"partition_timeout_ms": &s.PartitionTimeoutMs,
		"concurrency":          &s.Concurrency,
		"max_expansions":       &s.MaxExpansions,
		"fuzziness":            &s.Fuzziness,
		"fuzzy_prefix_length":  &s.FuzzyPrefixLength,
		"fuzzy_min_length":     &s.FuzzyMinLength,
		"regex_max_states":     &s.RegexMaxStates,
	}
	for key, dst := range ints {
		if val, ok := utils.ExtractInt64(data, key); ok {
			*dst = val
		}
	}
	if val, ok := utils.ExtractBool(data, "transpositions"); ok {
		s.Transpositions = val
	}
	if val, ok := utils.ExtractStrings(data, "modes"); ok {
		s.Modes = val
	}
}

// extractContexts keeps every table that has at least a name and a type.
func extractContexts(tables []map[string]any) []ContextConfig {
	var out []ContextConfig
	for i, t := range tables {
		name, okName := utils.ExtractString(t, "name")
		typ, okType := utils.ExtractString(t, "type")
		if !okName || !okType {
			log.Warnf("Skipping context #%d: name and type are required", i)
			continue
		}
		c := ContextConfig{Name: name, Type: typ}
		if val, ok := utils.ExtractInt64(t, "precision"); ok {
			c.Precision = val
		}
		if val, ok := utils.ExtractBool(t, "neighbors"); ok {
			c.Neighbors = val
		}
		if val, ok := utils.ExtractStrings(t, "defaults"); ok {
			c.Defaults = val
		}
		out = append(out, c)
	}
	return out
}

// SaveConfig saves into a TOML file
func SaveConfig(config *Config, configPath string) error {
	return utils.SaveTOMLFile(config, configPath)
}

// GetActiveConfigPath returns the absolute path of loaded config file
func GetActiveConfigPath(configPath string) string {
	if configPath == "" {
		if defaultPath, err := GetDefaultConfigPath(); err == nil {
			return defaultPath
		}
		return "unknown"
	}
	return utils.GetAbsolutePath(configPath)
}

// MappingSet builds the context mappings in file order.
func (c *Config) MappingSet() (*ctxmap.Set, error) {
	mappings := make([]*ctxmap.Mapping, 0, len(c.Contexts))
	for _, cc := range c.Contexts {
		kind, err := ctxmap.ParseKind(cc.Type)
		if err != nil {
			return nil, errdefs.NewConfigError(cc.Name, "bad type", err)
		}
		var m *ctxmap.Mapping
		switch kind {
		case ctxmap.KindGeo:
			if len(cc.Defaults) > 0 {
				return nil, errdefs.NewConfigError(cc.Name, "geo contexts take no defaults", nil)
			}
			m, err = ctxmap.NewGeo(cc.Name, cc.Precision, cc.Neighbors)
		default:
			if cc.Precision != 0 || cc.Neighbors {
				return nil, errdefs.NewConfigError(cc.Name, "precision and neighbors only apply to geo contexts", nil)
			}
			m, err = ctxmap.NewCategory(cc.Name, cc.Defaults...)
		}
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return ctxmap.NewSet(mappings...)
}

// BuildOptions returns the index build options.
func (c *Config) BuildOptions() (completion.Options, error) {
	modes, ok := completion.ParseCapabilities(c.Suggest.Modes)
	if !ok {
		return completion.Options{}, fmt.Errorf("invalid modes %v: %w", c.Suggest.Modes, errdefs.ErrConfig)
	}
	return completion.Options{MaxExpansions: c.Suggest.MaxExpansions, Modes: modes}, nil
}

// SuggesterOptions returns the fan-out options.
func (c *Config) SuggesterOptions() suggest.Options {
	return suggest.Options{
		Concurrency:      c.Suggest.Concurrency,
		PartitionTimeout: time.Duration(c.Suggest.PartitionTimeoutMs) * time.Millisecond,
	}
}

// FuzzyOptions returns the default fuzzy options of requests.
func (c *Config) FuzzyOptions() suggest.FuzzyOptions {
	return suggest.FuzzyOptions{
		Fuzziness:      c.Suggest.Fuzziness,
		PrefixLength:   c.Suggest.FuzzyPrefixLength,
		MinLength:      c.Suggest.FuzzyMinLength,
		Transpositions: c.Suggest.Transpositions,
	}
}

// Validate checks everything that is fatal at startup.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.MappingSet(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.BuildOptions(); err != nil {
		errs = append(errs, err)
	}
	if c.Server.MaxLimit <= 0 {
		errs = append(errs, fmt.Errorf("server.max_limit must be positive: %w", errdefs.ErrConfig))
	}
	if c.Suggest.Fuzziness < 0 || c.Suggest.Fuzziness > 2 {
		errs = append(errs, fmt.Errorf("suggest.fuzziness must be 0, 1 or 2: %w", errdefs.ErrConfig))
	}
	return errors.Join(errs...)
}

// Update changes the server limits and saves to file
func (c *Config) Update(configPath string, maxLimit, minPrefix, maxPrefix *int) error {
	server := &c.Server
	if maxLimit != nil {
		server.MaxLimit = *maxLimit
	}
	if minPrefix != nil {
		server.MinPrefix = *minPrefix
	}
	if maxPrefix != nil {
		server.MaxPrefix = *maxPrefix
	}
	return SaveConfig(c, configPath)
}
