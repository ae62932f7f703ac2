package export

import (
	"bufio"
	"fmt"
	"html"
	"os"
	"time"

	"qce/internal/message"
	"qce/internal/spool"
)

// htmlWriter 自包含的单页 HTML 输出。消息正文使用装配阶段生成的
// HTML 投影（元素级已转义），外层结构字段在这里转义。
type htmlWriter struct {
	f *os.File
	w *bufio.Writer
}

func newHTMLWriter(path string) (*htmlWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &htmlWriter{f: f, w: bufio.NewWriter(f)}, nil
}

const htmlStyle = `<style>
body { font-family: sans-serif; margin: 0 auto; max-width: 48rem; padding: 1rem; background: #f5f5f5; }
.msg { background: #fff; border-radius: 6px; padding: .5rem .8rem; margin: .5rem 0; }
.msg.system { background: transparent; color: #888; text-align: center; font-size: .85em; }
.msg .head { color: #555; font-size: .85em; margin-bottom: .2rem; }
.msg .head .name { font-weight: 600; color: #1a73e8; }
.msg.recalled .body { opacity: .5; text-decoration: line-through; }
.msg img { max-width: 18rem; border-radius: 4px; display: block; margin-top: .3rem; }
footer { color: #888; font-size: .85em; margin: 1rem 0; text-align: center; }
</style>`

func (h *htmlWriter) Begin(meta Meta) error {
	name := meta.ChatName
	if name == "" {
		name = meta.ChatID
	}
	name = html.EscapeString(name)
	_, err := fmt.Fprintf(h.w,
		"<!DOCTYPE html>\n<html lang=\"zh-CN\">\n<head>\n<meta charset=\"utf-8\">\n<title>%s 聊天记录</title>\n%s\n</head>\n<body>\n<h2>%s 聊天记录</h2>\n<p>导出时间: %s</p>\n",
		name, htmlStyle, name, meta.GeneratedAt.Format("2006-01-02 15:04:05"))
	return err
}

func (h *htmlWriter) Write(msg *message.CleanMessage) error {
	ts := time.Unix(msg.Timestamp, 0).Format("2006-01-02 15:04:05")

	if msg.Kind == message.KindSystem {
		_, err := fmt.Fprintf(h.w, "<div class=\"msg system\">%s %s</div>\n",
			ts, msg.Content.HTML)
		return err
	}

	class := "msg"
	if msg.Recalled {
		class += " recalled"
	}
	_, err := fmt.Fprintf(h.w,
		"<div class=\"%s\"><div class=\"head\"><span class=\"name\">%s</span> %s</div><div class=\"body\">%s</div></div>\n",
		class, html.EscapeString(msg.Sender.Name), ts, msg.Content.HTML)
	return err
}

func (h *htmlWriter) End(stats *spool.Stats) error {
	if stats.Messages > 0 {
		fmt.Fprintf(h.w, "<footer>共 %d 条消息 | %s ~ %s</footer>\n",
			stats.Messages,
			time.Unix(stats.MinTimestamp, 0).Format("2006-01-02"),
			time.Unix(stats.MaxTimestamp, 0).Format("2006-01-02"))
	}
	if _, err := h.w.WriteString("</body>\n</html>\n"); err != nil {
		return err
	}
	if err := h.w.Flush(); err != nil {
		return err
	}
	return h.f.Close()
}
