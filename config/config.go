// Package config holds the client configuration: application credentials,
// storage paths, logging and receive behaviour, and the raw parameter block
// passed to the backend when it asks for session parameters.
//
// A Config is assembled from Default, optionally overlaid with a file
// (LoadFile) and the environment (FromEnv), and checked with Validate. The
// client deep-copies it at construction and never mutates it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the default prefix of configuration environment variables.
const EnvPrefix = "TDL"

// Config is the client configuration.
type Config struct {
	// Application credentials issued by the chat service.
	APIID   int    `json:"apiId" yaml:"apiId" envconfig:"API_ID" validate:"gte=0"`
	APIHash string `json:"apiHash" yaml:"apiHash" envconfig:"API_HASH" validate:"required_with=APIID,omitempty,hexadecimal"`

	// Persisted state paths. Existence is checked by the backend, not here.
	DatabaseDirectory string `json:"databaseDirectory" yaml:"databaseDirectory" envconfig:"DATABASE_DIRECTORY" validate:"required"`
	FilesDirectory    string `json:"filesDirectory" yaml:"filesDirectory" envconfig:"FILES_DIRECTORY" validate:"required"`

	// DatabaseEncryptionKey encrypts the local database at rest.
	DatabaseEncryptionKey string `json:"databaseEncryptionKey" yaml:"databaseEncryptionKey" envconfig:"DATABASE_ENCRYPTION_KEY"`

	VerbosityLevel           int  `json:"verbosityLevel" yaml:"verbosityLevel" envconfig:"VERBOSITY_LEVEL" validate:"gte=0,lte=1024"`
	UseDefaultVerbosityLevel bool `json:"useDefaultVerbosityLevel" yaml:"useDefaultVerbosityLevel" envconfig:"USE_DEFAULT_VERBOSITY_LEVEL"`

	// ReceiveTimeout is passed to the backend on every receive call.
	ReceiveTimeout time.Duration `json:"receiveTimeout" yaml:"receiveTimeout" envconfig:"RECEIVE_TIMEOUT" validate:"gte=0"`

	SkipOldUpdates   bool `json:"skipOldUpdates" yaml:"skipOldUpdates" envconfig:"SKIP_OLD_UPDATES"`
	UseTestDC        bool `json:"useTestDc" yaml:"useTestDc" envconfig:"USE_TEST_DC"`
	UseMutableRename bool `json:"useMutableRename" yaml:"useMutableRename" envconfig:"USE_MUTABLE_RENAME"`
	DisableAuth      bool `json:"disableAuth" yaml:"disableAuth" envconfig:"DISABLE_AUTH"`

	// TdlibParameters overrides individual fields of the parameter block.
	TdlibParameters map[string]interface{} `json:"tdlibParameters" yaml:"tdlibParameters" ignored:"true"`
}

// DefaultTdlibParameters are sent unless overridden by TdlibParameters.
func DefaultTdlibParameters() map[string]interface{} {
	return map[string]interface{}{
		"use_message_database": true,
		"use_secret_chats":     false,
		"system_language_code": "en",
		"application_version":  "1.0",
		"device_model":         "Unknown device",
		"system_version":       "Unknown",
	}
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		DatabaseDirectory: "_td_database",
		FilesDirectory:    "_td_files",
		VerbosityLevel:    2,
		ReceiveTimeout:    10 * time.Second,
		TdlibParameters:   DefaultTdlibParameters(),
	}
}

// FromEnv overlays the environment variables named prefix_KEY onto base,
// e.g. TDL_API_ID or TDL_RECEIVE_TIMEOUT=5s. Unset variables keep the base
// value. An empty prefix means EnvPrefix.
func FromEnv(prefix string, base Config) (Config, error) {
	if prefix == "" {
		prefix = EnvPrefix
	}
	cfg := base.Clone()
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process environment variables: %w", err)
	}
	return cfg, nil
}

// LoadFile overlays a YAML, JSON or JSONC file onto base. Every key the file
// sets replaces the base value, even when it is zero; tdlibParameters are
// merged key by key. JSONC comments and trailing commas are stripped first. Durations are written as strings such
// as "10s". ${VAR} references in path fields are expanded.
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, filepath.Ext(path), base)
}

// Parse overlays encoded configuration onto base. format is a file
// extension: .yaml, .yml, .json or .jsonc.
func Parse(data []byte, format string, base Config) (Config, error) {
	cfg := base.Clone()
	switch strings.ToLower(format) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	case ".yaml", ".yml", "":
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", format)
	}
	// JSON is valid YAML, so one decoder serves every format and keeps
	// duration handling identical. Keys present in the file win, zero values
	// included; absent keys keep the base value.
	params := cfg.TdlibParameters
	cfg.TdlibParameters = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if params == nil {
		params = make(map[string]interface{}, len(cfg.TdlibParameters))
	}
	for k, v := range cfg.TdlibParameters {
		params[k] = v
	}
	cfg.TdlibParameters = params
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	c.DatabaseDirectory = os.ExpandEnv(c.DatabaseDirectory)
	c.FilesDirectory = os.ExpandEnv(c.FilesDirectory)
}

// Merge returns base with every non-zero field of override applied. Boolean
// flags can only be switched on; TdlibParameters are merged key by key. Use
// Parse or LoadFile when explicit zero values must win.
func Merge(base, override Config) Config {
	out := base.Clone()
	if override.APIID != 0 {
		out.APIID = override.APIID
	}
	if override.APIHash != "" {
		out.APIHash = override.APIHash
	}
	if override.DatabaseDirectory != "" {
		out.DatabaseDirectory = override.DatabaseDirectory
	}
	if override.FilesDirectory != "" {
		out.FilesDirectory = override.FilesDirectory
	}
	if override.DatabaseEncryptionKey != "" {
		out.DatabaseEncryptionKey = override.DatabaseEncryptionKey
	}
	if override.VerbosityLevel != 0 {
		out.VerbosityLevel = override.VerbosityLevel
	}
	if override.ReceiveTimeout != 0 {
		out.ReceiveTimeout = override.ReceiveTimeout
	}
	out.UseDefaultVerbosityLevel = out.UseDefaultVerbosityLevel || override.UseDefaultVerbosityLevel
	out.SkipOldUpdates = out.SkipOldUpdates || override.SkipOldUpdates
	out.UseTestDC = out.UseTestDC || override.UseTestDC
	out.UseMutableRename = out.UseMutableRename || override.UseMutableRename
	out.DisableAuth = out.DisableAuth || override.DisableAuth
	if len(override.TdlibParameters) > 0 {
		if out.TdlibParameters == nil {
			out.TdlibParameters = make(map[string]interface{}, len(override.TdlibParameters))
		}
		for k, v := range override.TdlibParameters {
			out.TdlibParameters[k] = deepCopy(v)
		}
	}
	return out
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	out := c
	if c.TdlibParameters != nil {
		out.TdlibParameters = deepCopy(c.TdlibParameters).(map[string]interface{})
	}
	return out
}

func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}

// Parameters builds the fields of the setTdlibParameters request: the
// parameter block with the credential, path and test-environment settings
// applied on top.
func (c Config) Parameters() map[string]interface{} {
	params := DefaultTdlibParameters()
	for k, v := range c.TdlibParameters {
		params[k] = deepCopy(v)
	}
	params["api_id"] = c.APIID
	params["api_hash"] = c.APIHash
	params["database_directory"] = c.DatabaseDirectory
	params["files_directory"] = c.FilesDirectory
	params["use_test_dc"] = c.UseTestDC
	if c.DatabaseEncryptionKey != "" {
		params["database_encryption_key"] = c.DatabaseEncryptionKey
	}
	return params
}
