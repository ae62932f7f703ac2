package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config 是应用配置的根结构体
type Config struct {
	Version  string         `mapstructure:"version" yaml:"version"`
	Host     HostConfig     `mapstructure:"host" yaml:"host"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Export   ExportConfig   `mapstructure:"export" yaml:"export"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// HostConfig 宿主（NapCat）连接配置
type HostConfig struct {
	URL         string `mapstructure:"url" yaml:"url"`
	AccessToken string `mapstructure:"access_token" yaml:"access_token,omitempty"`
	CallTimeout string `mapstructure:"call_timeout" yaml:"call_timeout"`
}

// GetCallTimeout 解析 CallTimeout 字段为 time.Duration，默认返回 30 秒
func (c *HostConfig) GetCallTimeout() time.Duration {
	if c.CallTimeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.CallTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// DownloadConfig 媒体下载配置
type DownloadConfig struct {
	MaxConcurrent    int         `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	Retry            RetryConfig `mapstructure:"retry" yaml:"retry"`
	BreakerThreshold int         `mapstructure:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerCooldown  string      `mapstructure:"breaker_cooldown" yaml:"breaker_cooldown"`
	HealthInterval   string      `mapstructure:"health_interval" yaml:"health_interval"`
	Images           bool        `mapstructure:"images" yaml:"images"`
	Videos           bool        `mapstructure:"videos" yaml:"videos"`
	Audios           bool        `mapstructure:"audios" yaml:"audios"`
	Files            bool        `mapstructure:"files" yaml:"files"`
}

// GetMaxConcurrent 返回并发上限，默认 4，上限 64
func (c *DownloadConfig) GetMaxConcurrent() int {
	if c.MaxConcurrent <= 0 {
		return 4
	}
	if c.MaxConcurrent > 64 {
		return 64
	}
	return c.MaxConcurrent
}

// GetBreakerCooldown 解析熔断恢复窗口，默认 30 秒
func (c *DownloadConfig) GetBreakerCooldown() time.Duration {
	if d, err := time.ParseDuration(c.BreakerCooldown); err == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}

// GetHealthInterval 解析健康探测间隔，默认 30 秒
func (c *DownloadConfig) GetHealthInterval() time.Duration {
	if d, err := time.ParseDuration(c.HealthInterval); err == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}

// RetryConfig 重试策略配置
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// ExportConfig 导出配置
type ExportConfig struct {
	OutputDir string   `mapstructure:"output_dir" yaml:"output_dir"`
	Formats   []string `mapstructure:"formats" yaml:"formats"`
	BatchSize int      `mapstructure:"batch_size" yaml:"batch_size"`
	Workers   int      `mapstructure:"workers" yaml:"workers"`
}

// GetBatchSize 返回单次历史拉取条数，默认 15，上限 100
func (c *ExportConfig) GetBatchSize() int {
	if c.BatchSize <= 0 {
		return 15
	}
	if c.BatchSize > 100 {
		return 100
	}
	return c.BatchSize
}

// StorageConfig 存储配置
type StorageConfig struct {
	DataDir      string `mapstructure:"data_dir" yaml:"data_dir"`
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	MediaDir     string `mapstructure:"media_dir" yaml:"media_dir"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // console | json
	File   string `mapstructure:"file" yaml:"file"`
}

var (
	globalConfig *Config
	configPath   string
	mu           sync.RWMutex
)

// Load 加载配置文件
// 优先级: ENV > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	SetDefaults()

	viper.SetEnvPrefix("QCE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		expandedPath, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expandedPath

		viper.SetConfigFile(expandedPath)
		if err := viper.ReadInConfig(); err != nil {
			// 文件不存在用默认值，解析错误要透出
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, err
			}
			if !os.IsNotExist(err) {
				var pathErr *os.PathError
				if !errors.As(err, &pathErr) {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// GetConfig 获取当前配置
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// Get 获取任意配置键值
func Get(key string) any {
	return viper.Get(key)
}

// Set 设置任意配置键值（不落盘，Save 时一并写入）
func Set(key string, value any) {
	viper.Set(key, value)
}

// Save 保存当前配置到加载时的路径
func Save() error {
	mu.Lock()
	defer mu.Unlock()
	return save()
}

// save 内部保存函数，调用者需要持有锁
func save() error {
	if configPath == "" {
		return errors.New("config path not set")
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return err
	}

	// 0600: access_token 在内
	return os.WriteFile(configPath, data, 0600)
}

// SaveTo 保存配置到指定路径
func SaveTo(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Reset 重置配置（主要用于测试）
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	configPath = ""
	viper.Reset()
}
