package cli

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"qce/internal/client"
	"qce/internal/config"
	"qce/internal/storage"
)

// CLIContext 命令共享的运行环境。存储与宿主连接都是懒加载，
// 只读命令不会碰数据库，离线命令不会去拨 WebSocket。
type CLIContext struct {
	Config     *config.Config
	ConfigPath string
	Logger     zerolog.Logger
	Verbose    bool
	Quiet      bool

	storageOnce sync.Once
	storage     *storage.DB
	storageErr  error
	storagePath string

	clientOnce sync.Once
	client     *client.Client
	clientErr  error
}

// NewCLIContext 创建 CLI 上下文
func NewCLIContext(cfg *config.Config, configPath string, log zerolog.Logger, storagePath string, verbose, quiet bool) *CLIContext {
	return &CLIContext{
		Config:      cfg,
		ConfigPath:  configPath,
		Logger:      log,
		storagePath: storagePath,
		Verbose:     verbose,
		Quiet:       quiet,
	}
}

// GetStorage 获取存储连接（懒加载）
func (c *CLIContext) GetStorage() (*storage.DB, error) {
	c.storageOnce.Do(func() {
		c.storage, c.storageErr = storage.Open(c.storagePath)
	})
	return c.storage, c.storageErr
}

// GetClient 连接宿主（懒加载）
func (c *CLIContext) GetClient(ctx context.Context) (*client.Client, error) {
	c.clientOnce.Do(func() {
		c.client, c.clientErr = client.Dial(ctx, client.Options{
			URL:         c.Config.Host.URL,
			AccessToken: c.Config.Host.AccessToken,
			CallTimeout: c.Config.Host.GetCallTimeout(),
		}, c.Logger)
	})
	return c.client, c.clientErr
}

// Close 关闭资源
func (c *CLIContext) Close() error {
	var firstErr error
	if c.client != nil {
		firstErr = c.client.Close()
	}
	if c.storage != nil {
		if err := c.storage.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
