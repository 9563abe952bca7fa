package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// NovaSqlConfig is the demo CLI's configuration surface: where the index
// file lives, how big its buffer pool is, whether keys are unique, and the
// log level.
type NovaSqlConfig struct {
	DataDir        string `mapstructure:"data_dir"`
	IndexName      string `mapstructure:"index_name"`
	BufferPoolSize int    `mapstructure:"buffer_pool_size"`
	Unique         bool   `mapstructure:"unique"`
	LogLevel       string `mapstructure:"log_level"`
}

// BindFlags registers the demo CLI's pflag set, mirroring the donor's
// server entry points (flag name matches the viper key so pflag.Lookup binds
// directly).
func BindFlags(fs *pflag.FlagSet) {
	fs.String("data_dir", "data/bptreedemo", "directory holding the index file")
	fs.String("index_name", "demo_idx", "base file name of the index's segment files")
	fs.Int("buffer_pool_size", 64, "number of frames in the buffer pool")
	fs.Bool("unique", true, "reject duplicate keys on insert")
	fs.String("log_level", "info", "slog level: debug, info, warn, error")
}

// LoadConfig reads path (if it exists) into v, binds fs's flags over it, and
// watches path for edits with viper.WatchConfig. An edit is re-read into v
// and logged; the returned *NovaSqlConfig is a snapshot taken at load time
// and does not change afterwards.
func LoadConfig(path string, fs *pflag.FlagSet) (*NovaSqlConfig, *viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.BindPFlags(fs); err != nil {
		return nil, nil, fmt.Errorf("bind flags: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if !isFileNotFound(err) {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
		slog.Debug("config: file not found, using flag defaults", "path", path)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		slog.Info("config: reloaded", "op", e.Op.String(), "file", e.Name)
	})
	v.WatchConfig()

	var cfg NovaSqlConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, v, nil
}

func isFileNotFound(err error) bool {
	_, ok := err.(viper.ConfigFileNotFoundError)
	return ok || errors.Is(err, os.ErrNotExist)
}
