package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"qce/internal/config"
)

// InitOptions init 命令选项
type InitOptions struct {
	Force   bool
	HostURL string
}

// NewInitCmd 创建 init 命令
func NewInitCmd() *cobra.Command {
	opts := &InitOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize qce configuration",
		Long:  "Create the configuration directory, default config file, and data directories.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunInit(opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "overwrite existing configuration")
	cmd.Flags().StringVar(&opts.HostURL, "host", "", "NapCat WebSocket URL (default ws://127.0.0.1:3001)")

	return cmd
}

// RunInit 执行初始化
func RunInit(opts *InitOptions) error {
	configDir, err := config.DefaultConfigDir()
	if err != nil {
		return fmt.Errorf("get config dir: %w", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil && !opts.Force {
		return fmt.Errorf("configuration already exists at %s (use --force to overwrite)", configPath)
	}

	dirs := []string{
		configDir,
		filepath.Join(configDir, "exports"),
		filepath.Join(configDir, "media"),
		filepath.Join(configDir, "logs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	if opts.HostURL != "" {
		cfg.Host.URL = opts.HostURL
	}
	if err := config.SaveTo(cfg, configPath); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("Initialized configuration at %s\n", configPath)
	fmt.Println("Next steps:")
	fmt.Println("  1. Point host.url at your NapCat forward WebSocket (qce config set host.url ws://...)")
	fmt.Println("  2. Set host.access_token if the host requires one")
	fmt.Println("  3. Run: qce export group --group-id <number>")
	return nil
}
