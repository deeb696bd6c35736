package config

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/negohq/negochat/globals"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultHistorySize  = 50
	defaultAgentTimeout = 30 * time.Second
	defaultRequestTTL   = 15 * time.Minute
	defaultJanitorSpec  = "@every 1m"
)

// Config is the global configuration object which is filled via the configuration file.
type Config struct {
	ServerConfig      ServerConfig      `mapstructure:"server"`
	HistoryConfig     HistoryConfig     `mapstructure:"history"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	AgentConfig       AgentConfig       `mapstructure:"agent"`
	JanitorConfig     JanitorConfig     `mapstructure:"janitor"`
	LogLevel          string            `mapstructure:"log_level"`
}

type ServerConfig struct {
	Addr    string `mapstructure:"addr"`
	SSLCert string `mapstructure:"ssl_cert"`
	SSLKey  string `mapstructure:"ssl_key"`
}

// HistoryConfig configures how many persisted messages are replayed to a
// newly admitted connection.
type HistoryConfig struct {
	HistorySize int `mapstructure:"history_size"`
}

// PersistenceConfig selects the room store backend. Type is "sqlite",
// "postgres" (both via gorm) or "buntdb".
type PersistenceConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

// AgentConfig configures the automatic reply generator. Plugin is a shell
// command starting a go-plugin binary serving the "generator" plugin; if it
// is empty, auto-replies are disabled.
type AgentConfig struct {
	Plugin  string        `mapstructure:"plugin"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// JanitorConfig controls expiry of pending join requests that were never
// accepted or declined.
type JanitorConfig struct {
	CronSpec   string        `mapstructure:"cron_spec"`
	RequestTTL time.Duration `mapstructure:"request_ttl"`
}

func (c *Config) HistorySize() int {
	if c.HistoryConfig.HistorySize > 0 {
		return c.HistoryConfig.HistorySize
	}
	return defaultHistorySize
}

func (c *Config) AgentTimeout() time.Duration {
	if c.AgentConfig.Timeout > 0 {
		return c.AgentConfig.Timeout
	}
	return defaultAgentTimeout
}

func (c *Config) JanitorSpec() string {
	if c.JanitorConfig.CronSpec != "" {
		return c.JanitorConfig.CronSpec
	}
	return defaultJanitorSpec
}

func (c *Config) RequestTTL() time.Duration {
	if c.JanitorConfig.RequestTTL > 0 {
		return c.JanitorConfig.RequestTTL
	}
	return defaultRequestTTL
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("log-level", "", "log level (trace, debug, info, warn, error)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.Replace(name, "-", "_", -1))
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. It returns a Config
// object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	viper.SetDefault("server.addr", "localhost:8000")
	viper.SetDefault("log_level", "INFO")
	err := viper.BindPFlags(flagSet)
	if err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	viper.SetEnvPrefix("NEGOCHAT")
	viper.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := ioutil.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		viper.SetConfigType("toml")
		err = viper.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			globals.AppLogger.Error("could not read config:", "error", err)
		}
	}
	err = viper.Unmarshal(&cfg)
	if err != nil {
		globals.AppLogger.Error("could not unmarshal config:", "error", err)
	}
	return &cfg, nil
}
