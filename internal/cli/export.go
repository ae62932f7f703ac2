package cli

import (
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"qce/internal/client"
	"qce/internal/export"
	"qce/internal/storage"
)

// exportFlags 两个导出子命令共用的参数
type exportFlags struct {
	formats   []string
	outputDir string
	maxCount  int
	start     string
	end       string
}

func (f *exportFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.formats, "format", "f", nil, "export formats (json, txt, html)")
	cmd.Flags().StringVarP(&f.outputDir, "output", "o", "", "output directory")
	cmd.Flags().IntVarP(&f.maxCount, "max-count", "n", 0, "maximum messages to export (0 = unlimited)")
	cmd.Flags().StringVar(&f.start, "start", "", "only messages at or after this time (2006-01-02 or 2006-01-02 15:04:05)")
	cmd.Flags().StringVar(&f.end, "end", "", "only messages at or before this time")
}

// NewExportCmd 创建 export 命令组
func NewExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export chat history",
		Long:  "Export group or friend chat history to local archives.",
	}

	cmd.AddCommand(newExportGroupCmd())
	cmd.AddCommand(newExportFriendCmd())

	return cmd
}

func newExportGroupCmd() *cobra.Command {
	var groupID string
	flags := &exportFlags{}

	cmd := &cobra.Command{
		Use:   "group",
		Short: "Export a group chat",
		Example: `  qce export group --group-id 123456789 --format json,html
  qce export group -g 123456789 -f txt -n 1000
  qce export group -g 123456789 --start 2024-01-01 --end 2024-06-30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, storage.ChatTypeGroup, groupID, flags)
		},
	}

	cmd.Flags().StringVarP(&groupID, "group-id", "g", "", "group number (required)")
	flags.register(cmd)
	cmd.MarkFlagRequired("group-id")

	return cmd
}

func newExportFriendCmd() *cobra.Command {
	var userID string
	flags := &exportFlags{}

	cmd := &cobra.Command{
		Use:   "friend",
		Short: "Export a friend chat",
		Example: `  qce export friend --user-id 123456789 --format json
  qce export friend -u 123456789 -f txt,html`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, storage.ChatTypeFriend, userID, flags)
		},
	}

	cmd.Flags().StringVarP(&userID, "user-id", "u", "", "friend QQ number (required)")
	flags.register(cmd)
	cmd.MarkFlagRequired("user-id")

	return cmd
}

func runExport(cmd *cobra.Command, chatType, chatID string, flags *exportFlags) error {
	cliCtx := GetCLIContext(cmd)
	ctx := cmd.Context()

	startTime, err := parseTimeFlag(flags.start)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	endTime, err := parseTimeFlag(flags.end)
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}

	host, err := cliCtx.GetClient(ctx)
	if err != nil {
		return fmt.Errorf("connect host: %w", err)
	}
	if err := host.Probe(ctx); err != nil {
		return fmt.Errorf("host not responding: %w", err)
	}

	db, err := cliCtx.GetStorage()
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	fetcher := client.NewMediaFetcher(host, cliCtx.Logger)
	svc := export.NewService(host, fetcher, host.Probe, db, cliCtx.Config, cliCtx.Logger)

	bar := collectBar(flags.maxCount, cliCtx.Quiet)
	opts := export.Options{
		ChatType:  chatType,
		ChatID:    chatID,
		Formats:   flags.formats,
		OutputDir: flags.outputDir,
		StartTime: startTime,
		EndTime:   endTime,
		MaxCount:  flags.maxCount,
	}
	if bar != nil {
		opts.OnCollected = func(total int) { _ = bar.Set(total) }
	}

	res, err := svc.Run(ctx, opts)
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return err
	}

	fmt.Printf("导出完成: %d 条消息", res.Stats.Messages)
	if res.Stats.Resources > 0 {
		fmt.Printf(", 媒体 %d/%d", res.Stats.Resolved, res.Stats.Resources)
	}
	fmt.Println()
	for _, f := range res.Files {
		fmt.Printf("  %s\n", f)
	}
	return nil
}

// collectBar 采集进度条。MaxCount 未知时退化为计数 spinner。
func collectBar(maxCount int, quiet bool) *progressbar.ProgressBar {
	if quiet {
		return nil
	}
	total := -1
	if maxCount > 0 {
		total = maxCount
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("采集消息"),
		progressbar.OptionSetWidth(50),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func parseTimeFlag(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized time %q", s)
}
