package export

import (
	"fmt"
	"time"

	"qce/internal/message"
	"qce/internal/spool"
)

// Meta 导出落款信息。
type Meta struct {
	ChatType    string    `json:"chat_type"`
	ChatID      string    `json:"chat_id"`
	ChatName    string    `json:"chat_name"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Writer 单一格式的输出器。消息按时间戳升序逐条到达。
type Writer interface {
	Begin(meta Meta) error
	Write(msg *message.CleanMessage) error
	End(stats *spool.Stats) error
}

// NewWriter 按格式名构造输出器。
func NewWriter(format, path string) (Writer, error) {
	switch format {
	case "json":
		return newJSONWriter(path)
	case "txt":
		return newTextWriter(path)
	case "html":
		return newHTMLWriter(path)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// Ext 格式对应的文件扩展名。
func Ext(format string) string {
	return "." + format
}
