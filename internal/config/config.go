// Package config 从环境变量与可选的 .env 文件加载运行配置。
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/favbox/chainflow/compose"
	"github.com/favbox/chainflow/ext/model/groq"
)

// 配置键，同时也是环境变量名的小写形式。
const (
	KeyAPIKey           = "groq_api_key"
	KeyModel            = "groq_model"
	KeyBaseURL          = "groq_base_url"
	KeyTemperature      = "groq_temperature"
	KeyMaxTokens        = "groq_max_tokens"
	KeyTimeout          = "groq_timeout"
	KeyRequestsPerSec   = "groq_rps"
	KeyBatchConcurrency = "chainflow_batch_concurrency"
	KeyLogLevel         = "chainflow_log_level"
	KeyLogJSON          = "chainflow_log_json"
)

// DefaultEnvFile 未指定配置文件时尝试读取的文件，不存在时忽略。
const DefaultEnvFile = ".env"

// ErrMissingAPIKey 未配置 GROQ_API_KEY。
var ErrMissingAPIKey = errors.New("GROQ_API_KEY not found in environment variables")

// Config 运行配置。
type Config struct {
	APIKey            string        `mapstructure:"groq_api_key"`
	Model             string        `mapstructure:"groq_model"`
	BaseURL           string        `mapstructure:"groq_base_url"`
	Temperature       float32       `mapstructure:"groq_temperature"`
	MaxTokens         int           `mapstructure:"groq_max_tokens"`
	Timeout           time.Duration `mapstructure:"groq_timeout"`
	RequestsPerSecond float64       `mapstructure:"groq_rps"`

	BatchConcurrency int    `mapstructure:"chainflow_batch_concurrency"`
	LogLevel         string `mapstructure:"chainflow_log_level"`
	LogJSON          bool   `mapstructure:"chainflow_log_json"`
}

// Options 加载选项。
type Options struct {
	// EnvFile 配置文件路径，支持 .env、yaml、toml 等 viper 支持的格式。
	// 为空时尝试读取当前目录下的 .env；显式指定的文件不存在时报错。
	EnvFile string
}

// SetDefaults 设置默认值。
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyModel, groq.DefaultModel)
	v.SetDefault(KeyBaseURL, groq.DefaultBaseURL)
	v.SetDefault(KeyTemperature, 0.7)
	v.SetDefault(KeyMaxTokens, 0)
	v.SetDefault(KeyTimeout, groq.DefaultTimeout)
	v.SetDefault(KeyRequestsPerSec, 0)
	v.SetDefault(KeyBatchConcurrency, compose.DefaultBatchConcurrency)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogJSON, false)
}

// New 创建读取环境变量的 viper 实例，环境变量优先于配置文件。
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.AutomaticEnv()
	// 没有默认值的键需要显式绑定，Unmarshal 才能看到环境变量
	_ = v.BindEnv(KeyAPIKey)

	return v
}

// Load 加载配置并校验。
func Load(opts Options) (*Config, error) {
	v := New()

	path, required := opts.EnvFile, true
	if path == "" {
		path, required = DefaultEnvFile, false
	}
	if err := readFile(v, path, required); err != nil {
		return nil, err
	}

	return LoadWithViper(v)
}

// LoadWithViper 从给定的 viper 实例解析配置并校验。
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

func readFile(v *viper.Viper, path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errors.Wrapf(err, "stat config file %s", path)
	}

	v.SetConfigFile(path)
	if ext := filepath.Ext(path); ext == "" || ext == ".env" || filepath.Base(path) == ".env" {
		v.SetConfigType("env")
	}

	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "read config file %s", path)
	}

	return nil
}

// Validate 校验配置。缺少 API Key 时返回带提示的 ErrMissingAPIKey。
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return errors.WithHint(ErrMissingAPIKey,
			"Please create a .env file with your API key, e.g. GROQ_API_KEY=gsk_...")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return errors.Newf("%s must be within [0, 2], got %v", KeyTemperature, c.Temperature)
	}
	if c.MaxTokens < 0 {
		return errors.Newf("%s must not be negative, got %d", KeyMaxTokens, c.MaxTokens)
	}
	if c.BatchConcurrency < 0 {
		return errors.Newf("%s must not be negative, got %d", KeyBatchConcurrency, c.BatchConcurrency)
	}

	return nil
}

// ChatModelConfig 转换为 Groq 聊天模型配置。
func (c *Config) ChatModelConfig(logger *zap.Logger) *groq.Config {
	temperature := c.Temperature

	conf := &groq.Config{
		APIKey:            c.APIKey,
		Model:             c.Model,
		BaseURL:           c.BaseURL,
		Temperature:       &temperature,
		Timeout:           c.Timeout,
		RequestsPerSecond: c.RequestsPerSecond,
		Logger:            logger,
	}
	if c.MaxTokens > 0 {
		maxTokens := c.MaxTokens
		conf.MaxTokens = &maxTokens
	}

	return conf
}
