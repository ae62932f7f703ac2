package export

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"qce/internal/message"
	"qce/internal/spool"
)

// textWriter 纯文本输出，一条消息一行。
type textWriter struct {
	f *os.File
	w *bufio.Writer
}

func newTextWriter(path string) (*textWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &textWriter{f: f, w: bufio.NewWriter(f)}, nil
}

func (t *textWriter) Begin(meta Meta) error {
	name := meta.ChatName
	if name == "" {
		name = meta.ChatID
	}
	_, err := fmt.Fprintf(t.w, "%s 聊天记录\n导出时间: %s\n\n",
		name, meta.GeneratedAt.Format("2006-01-02 15:04:05"))
	return err
}

func (t *textWriter) Write(msg *message.CleanMessage) error {
	ts := time.Unix(msg.Timestamp, 0).Format("2006-01-02 15:04:05")

	switch msg.Kind {
	case message.KindSystem:
		_, err := fmt.Fprintf(t.w, "[%s] %s\n", ts, msg.Content.Text)
		return err
	default:
		recalled := ""
		if msg.Recalled {
			recalled = " (已撤回)"
		}
		_, err := fmt.Fprintf(t.w, "[%s] %s%s: %s\n", ts, msg.Sender.Name, recalled, msg.Content.Text)
		return err
	}
}

func (t *textWriter) End(stats *spool.Stats) error {
	if stats.Messages > 0 {
		fmt.Fprintf(t.w, "\n共 %d 条消息，时间范围 %s ~ %s\n",
			stats.Messages,
			time.Unix(stats.MinTimestamp, 0).Format("2006-01-02 15:04:05"),
			time.Unix(stats.MaxTimestamp, 0).Format("2006-01-02 15:04:05"))
	}
	if err := t.w.Flush(); err != nil {
		return err
	}
	return t.f.Close()
}
