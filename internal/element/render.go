package element

import (
	"fmt"
	"html"
)

// 文本与 HTML 两套投影按 kind 独立计算，保持与既有导出产物一致。
// HTML 投影对所有插值字面量强制转义。

// PlainText 纯文本投影。媒体类元素自带方括号标记，装配器不再注入分隔符。
func (e ParsedElement) PlainText() string {
	switch d := e.Data.(type) {
	case *TextData:
		return d.Text
	case *MediaData:
		switch e.Kind {
		case KindImage:
			return "[图片]"
		case KindVideo:
			return "[视频]"
		case KindAudio:
			return "[语音]"
		default:
			return fmt.Sprintf("[文件:%s]", d.Filename)
		}
	case *FaceData:
		if d.Name != "" {
			return fmt.Sprintf("[%s]", d.Name)
		}
		return fmt.Sprintf("[表情%d]", d.ID)
	case *MarketFaceData:
		return fmt.Sprintf("[%s]", d.Name)
	case *ReplyData:
		if d.SenderName != "" {
			return fmt.Sprintf("[回复 %s: %s]", d.SenderName, d.Preview)
		}
		return fmt.Sprintf("[回复: %s]", d.Preview)
	case *ForwardData:
		return fmt.Sprintf("[合并转发:%s]", d.Preview)
	case *CardData:
		if d.Title != "" {
			return fmt.Sprintf("[卡片:%s]", d.Title)
		}
		return "[卡片消息]"
	case *LocationData:
		if d.Name != "" {
			return fmt.Sprintf("[位置:%s]", d.Name)
		}
		return "[位置分享]"
	case *CalendarData:
		if d.Title != "" {
			return fmt.Sprintf("[日历:%s]", d.Title)
		}
		return "[日历事件]"
	case *MarkdownData:
		return d.Content
	case *SystemData:
		return d.Text
	default:
		return "[未知元素]"
	}
}

// HTML HTML 投影。
func (e ParsedElement) HTML() string {
	switch d := e.Data.(type) {
	case *TextData:
		if d.AtUID != "" {
			return fmt.Sprintf(`<span class="at-mention">%s</span>`, html.EscapeString(d.Text))
		}
		return fmt.Sprintf(`<span class="text-content">%s</span>`, html.EscapeString(d.Text))
	case *MediaData:
		switch e.Kind {
		case KindImage:
			src := d.LocalPath
			if src == "" {
				src = d.URL
			}
			if src != "" {
				return fmt.Sprintf(`<div class="image-content"><img src="%s" alt="图片" loading="lazy"></div>`, html.EscapeString(src))
			}
			return fmt.Sprintf(`<span class="text-content">📷 %s</span>`, html.EscapeString(d.Filename))
		case KindVideo:
			if d.LocalPath != "" {
				return fmt.Sprintf(`<video class="video-content" src="%s" controls></video>`, html.EscapeString(d.LocalPath))
			}
			return `<span class="text-content">🎬 视频消息</span>`
		case KindAudio:
			if d.LocalPath != "" {
				return fmt.Sprintf(`<audio class="audio-content" src="%s" controls></audio>`, html.EscapeString(d.LocalPath))
			}
			return `<span class="text-content">🎤 语音消息</span>`
		default:
			if d.LocalPath != "" {
				return fmt.Sprintf(`<a class="file-content" href="%s">📎 %s</a>`, html.EscapeString(d.LocalPath), html.EscapeString(d.Filename))
			}
			return fmt.Sprintf(`<span class="text-content">📎 %s</span>`, html.EscapeString(d.Filename))
		}
	case *FaceData:
		if d.Name != "" {
			return fmt.Sprintf(`<span class="face-emoji">[%s]</span>`, html.EscapeString(d.Name))
		}
		return fmt.Sprintf(`<span class="face-emoji">[表情%d]</span>`, d.ID)
	case *MarketFaceData:
		if d.URL != "" {
			return fmt.Sprintf(`<img class="market-face" src="%s" alt="%s">`, html.EscapeString(d.URL), html.EscapeString(d.Name))
		}
		return fmt.Sprintf(`<span class="face-emoji">[%s]</span>`, html.EscapeString(d.Name))
	case *ReplyData:
		return fmt.Sprintf(`<div class="reply-content">%s</div>`, html.EscapeString(d.Preview))
	case *ForwardData:
		return fmt.Sprintf(`<div class="forward-content">📝 %s</div>`, html.EscapeString(d.Preview))
	case *CardData:
		title := d.Title
		if title == "" {
			title = "卡片消息"
		}
		return fmt.Sprintf(`<span class="text-content">📄 %s</span>`, html.EscapeString(title))
	case *LocationData:
		name := d.Name
		if name == "" {
			name = "位置分享"
		}
		return fmt.Sprintf(`<span class="text-content">📍 %s</span>`, html.EscapeString(name))
	case *CalendarData:
		title := d.Title
		if title == "" {
			title = "日历事件"
		}
		return fmt.Sprintf(`<span class="text-content">📅 %s</span>`, html.EscapeString(title))
	case *MarkdownData:
		return fmt.Sprintf(`<pre class="markdown-content">%s</pre>`, html.EscapeString(d.Content))
	case *SystemData:
		return fmt.Sprintf(`<span class="system-tip">%s</span>`, html.EscapeString(d.Text))
	default:
		return `<span class="text-content">[未知元素]</span>`
	}
}
