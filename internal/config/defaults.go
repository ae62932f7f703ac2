package config

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults 设置所有配置项的默认值
func SetDefaults() {
	// 宿主连接
	viper.SetDefault("host.url", "ws://127.0.0.1:3001")
	viper.SetDefault("host.access_token", "")
	viper.SetDefault("host.call_timeout", "30s")

	// 下载编排
	viper.SetDefault("download.max_concurrent", 4)
	viper.SetDefault("download.retry.max_attempts", 3)
	viper.SetDefault("download.retry.initial_delay", 500*time.Millisecond)
	viper.SetDefault("download.retry.max_delay", 30*time.Second)
	viper.SetDefault("download.breaker_threshold", 5)
	viper.SetDefault("download.breaker_cooldown", "30s")
	viper.SetDefault("download.health_interval", "30s")
	viper.SetDefault("download.images", true)
	viper.SetDefault("download.videos", true)
	viper.SetDefault("download.audios", true)
	viper.SetDefault("download.files", true)

	// 导出
	viper.SetDefault("export.output_dir", "~/.qce/exports")
	viper.SetDefault("export.formats", []string{"json"})
	viper.SetDefault("export.batch_size", 15)
	viper.SetDefault("export.workers", 0) // 0 = GOMAXPROCS

	// 存储
	viper.SetDefault("storage.data_dir", "~/.qce")
	viper.SetDefault("storage.database_path", "~/.qce/data.db")
	viper.SetDefault("storage.media_dir", "~/.qce/media")

	// 日志
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.file", "")
}
