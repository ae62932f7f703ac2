package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"qce/internal/client"
	"qce/internal/config"
	"qce/internal/download"
	"qce/internal/element"
	"qce/internal/message"
	"qce/internal/pipeline"
	"qce/internal/spool"
	"qce/internal/storage"
)

// Host 导出所需的宿主能力：历史来源加聊天信息查询。
type Host interface {
	Source
	GetGroupInfo(ctx context.Context, groupID string) (*client.GroupInfo, error)
	GetStrangerInfo(ctx context.Context, userID string) (*client.StrangerInfo, error)
}

// Options 一次导出的参数。
type Options struct {
	ChatType  string
	ChatID    string
	Formats   []string
	OutputDir string
	StartTime *time.Time
	EndTime   *time.Time
	MaxCount  int

	// OnCollected 每交付一批后回调累计采集数，进度展示用。
	OnCollected func(total int)
}

// Result 导出产出。
type Result struct {
	Task  *storage.ExportTask
	Stats *spool.Stats
	Files []string
}

// Service 导出服务：采集 → 装配 → 落媒体 → 回放写出，全程记录任务状态。
type Service struct {
	host    Host
	fetcher download.Fetcher
	probe   download.ProbeFunc
	db      *storage.DB
	cfg     *config.Config
	log     zerolog.Logger
}

// NewService wires an export service.
func NewService(host Host, fetcher download.Fetcher, probe download.ProbeFunc, db *storage.DB, cfg *config.Config, log zerolog.Logger) *Service {
	return &Service{host: host, fetcher: fetcher, probe: probe, db: db, cfg: cfg, log: log}
}

// Run 执行一次完整导出。
func (s *Service) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.ChatType != storage.ChatTypeGroup && opts.ChatType != storage.ChatTypeFriend {
		return nil, fmt.Errorf("invalid chat type %q", opts.ChatType)
	}
	if len(opts.Formats) == 0 {
		opts.Formats = s.cfg.Export.Formats
	}

	session, err := s.db.UpsertSession(opts.ChatType, opts.ChatID, s.chatName(ctx, opts))
	if err != nil {
		return nil, fmt.Errorf("upsert session: %w", err)
	}

	outputDir, err := config.ExpandPath(opts.OutputDir)
	if err != nil {
		return nil, err
	}
	if outputDir == "" {
		if outputDir, err = config.ExpandPath(s.cfg.Export.OutputDir); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var startTS, endTS *int64
	if opts.StartTime != nil {
		v := opts.StartTime.Unix()
		startTS = &v
	}
	if opts.EndTime != nil {
		v := opts.EndTime.Unix()
		endTS = &v
	}
	task, err := s.db.CreateTask(session.ID, opts.Formats, outputDir, startTS, endTS)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if err := s.db.MarkTaskRunning(task.ID); err != nil {
		return nil, err
	}

	result, err := s.run(ctx, session, task, opts, outputDir)
	if err != nil {
		if markErr := s.db.MarkTaskFailed(task.ID, err.Error()); markErr != nil {
			s.log.Warn().Err(markErr).Str("task", task.ID).Msg("task failure not recorded")
		}
		return nil, err
	}
	return result, nil
}

func (s *Service) run(ctx context.Context, session *storage.Session, task *storage.ExportTask, opts Options, outputDir string) (*Result, error) {
	sp, err := spool.Open(filepath.Join(os.TempDir(), "qce-"+task.ID+".spool"), s.log)
	if err != nil {
		return nil, err
	}
	defer sp.Close()

	assembler := message.NewAssembler(element.NewParser(nil, s.log), s.log)
	mapper := pipeline.NewMapper(assembler, s.cfg.Export.Workers, s.log)
	collector := NewCollector(s.host, s.log)

	// skeletons 只保留媒体消息的资源清单，供编排器全局去重取数；
	// 全量消息体进 spool，不常驻内存。
	var (
		skeletons []*message.CleanMessage
		lastSeq   string
		collected int
	)
	total, err := collector.Collect(ctx, CollectOptions{
		ChatType:  opts.ChatType,
		ChatID:    opts.ChatID,
		BatchSize: s.cfg.Export.GetBatchSize(),
		StartTime: opts.StartTime,
		EndTime:   opts.EndTime,
		MaxCount:  opts.MaxCount,
	}, func(batch []element.RawMessage) error {
		raws := make([]*element.RawMessage, len(batch))
		for i := range batch {
			raws[i] = &batch[i]
		}
		cleans := mapper.MapAll(ctx, raws)
		for _, msg := range cleans {
			if err := sp.Append(msg); err != nil {
				return err
			}
			if len(msg.Content.Resources) > 0 {
				skeletons = append(skeletons, &message.CleanMessage{
					ID:        msg.ID,
					Timestamp: msg.Timestamp,
					Content:   message.Content{Resources: msg.Content.Resources},
				})
			}
		}
		lastSeq = strconv.FormatInt(batch[0].MsgSeq.Int64(), 10)
		collected += len(batch)
		if opts.OnCollected != nil {
			opts.OnCollected(collected)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect messages: %w", err)
	}
	s.log.Info().Int("messages", total).Int("with_media", len(skeletons)).Msg("collection finished")

	resolved := s.materialize(ctx, skeletons)

	files, stats, err := s.replay(sp, resolved, opts, outputDir)
	if err != nil {
		return nil, err
	}

	if err := s.db.TouchSession(session.ID, lastSeq, stats.Messages); err != nil {
		s.log.Warn().Err(err).Str("session", session.ID).Msg("session progress not recorded")
	}
	if err := s.db.MarkTaskCompleted(task.ID, stats.Messages, stats.Resources, stats.Resolved); err != nil {
		return nil, err
	}
	task.Status = storage.TaskCompleted
	return &Result{Task: task, Stats: stats, Files: files}, nil
}

// materialize 把媒体资源落盘。无媒体时不起编排器。
func (s *Service) materialize(ctx context.Context, skeletons []*message.CleanMessage) map[int64][]*message.ResourceInfo {
	if len(skeletons) == 0 {
		return nil
	}

	mediaDir, err := config.ExpandPath(s.cfg.Storage.MediaDir)
	if err != nil || mediaDir == "" {
		mediaDir = "media"
	}
	d := s.cfg.Download
	orch := download.New(download.Config{
		MaxConcurrent:    d.GetMaxConcurrent(),
		Retry:            download.RetryPolicy{MaxRetries: d.Retry.MaxAttempts, InitialDelay: d.Retry.InitialDelay, MaxDelay: d.Retry.MaxDelay, Multiplier: 2.0},
		BreakerThreshold: d.BreakerThreshold,
		BreakerRecovery:  d.GetBreakerCooldown(),
		HealthInterval:   d.GetHealthInterval(),
		StorageRoot:      mediaDir,
		Include: map[element.Kind]bool{
			element.KindImage: d.Images,
			element.KindVideo: d.Videos,
			element.KindAudio: d.Audios,
			element.KindFile:  d.Files,
		},
	}, s.fetcher, s.probe, s.log)
	defer orch.Close()

	return orch.Materialize(ctx, skeletons)
}

// replay 按时间序回放 spool，改写媒体路径并送入各格式输出器。
func (s *Service) replay(sp *spool.Spool, resolved map[int64][]*message.ResourceInfo, opts Options, outputDir string) ([]string, *spool.Stats, error) {
	meta := Meta{
		ChatType:    opts.ChatType,
		ChatID:      opts.ChatID,
		ChatName:    "",
		GeneratedAt: time.Now(),
	}
	if session, err := s.db.GetSessionByChat(opts.ChatType, opts.ChatID); err == nil {
		meta.ChatName = session.ChatName
	}

	stamp := meta.GeneratedAt.Format("20060102_150405")
	var (
		writers []Writer
		files   []string
	)
	for _, format := range opts.Formats {
		path := filepath.Join(outputDir, fmt.Sprintf("%s_%s_%s%s", opts.ChatType, opts.ChatID, stamp, Ext(format)))
		w, err := NewWriter(format, path)
		if err != nil {
			return nil, nil, err
		}
		if err := w.Begin(meta); err != nil {
			return nil, nil, err
		}
		writers = append(writers, w)
		files = append(files, path)
	}

	var stats spool.Stats
	one := make([]*message.CleanMessage, 1)
	err := sp.Iterate(func(msg *message.CleanMessage) error {
		one[0] = msg
		message.RewritePaths(one, resolved, s.log)
		stats.Observe(msg)
		for _, w := range writers {
			if err := w.Write(msg); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("replay spool: %w", err)
	}

	for _, w := range writers {
		if err := w.End(&stats); err != nil {
			return nil, nil, err
		}
	}
	return files, &stats, nil
}

// chatName 尽力取聊天名，失败不阻断导出。
func (s *Service) chatName(ctx context.Context, opts Options) string {
	if opts.ChatType == storage.ChatTypeGroup {
		if info, err := s.host.GetGroupInfo(ctx, opts.ChatID); err == nil {
			return info.GroupName
		}
		return ""
	}
	if info, err := s.host.GetStrangerInfo(ctx, opts.ChatID); err == nil {
		if info.Remark != "" {
			return info.Remark
		}
		return info.Nickname
	}
	return ""
}
