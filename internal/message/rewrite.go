package message

import (
	"strings"

	"github.com/rs/zerolog"

	"qce/internal/element"
)

// RewritePaths 把下载编排器的解析结果回写进消息：对每条消息命中
// resolved 映射的资源，同步 Content.Resources 与对应元素的
// localPath/url。匹配按文件名不区分大小写，覆盖解析器产出的两种
// 命名（声明文件名与 md5 落盘名）。
//
// 对从未解析成功的条目是安全的空操作；重复执行结果不变（路径
// 整体替换，不做前缀叠加）。同一消息内文件名重复时首个匹配生效，
// 与既有行为一致，此处仅以日志标记。
func RewritePaths(msgs []*CleanMessage, resolved map[int64][]*ResourceInfo, log zerolog.Logger) {
	for _, msg := range msgs {
		entries := resolved[msg.ID]
		if len(entries) == 0 {
			continue
		}
		warnDuplicateNames(msg, log)
		for _, entry := range entries {
			applyEntry(msg, entry)
		}
	}
}

func applyEntry(msg *CleanMessage, entry *ResourceInfo) {
	for _, res := range msg.Content.Resources {
		if !nameMatches(res, entry) {
			continue
		}
		res.Resolved = entry.Resolved
		res.FailReason = entry.FailReason
		if entry.Resolved {
			res.LocalPath = entry.LocalPath
			if entry.URL != "" {
				res.URL = entry.URL
			}
		}
		break
	}
	for i := range msg.Content.Elements {
		m := msg.Content.Elements[i].Media()
		if m == nil || !mediaNameMatches(msg.Content.Elements[i].Kind, m, entry) {
			continue
		}
		if entry.Resolved {
			m.LocalPath = entry.LocalPath
			if entry.URL != "" {
				m.URL = entry.URL
			}
		}
		break
	}
}

// nameMatches 比较资源与解析条目：声明文件名或 md5 落盘名，不区分大小写。
func nameMatches(res, entry *ResourceInfo) bool {
	return strings.EqualFold(res.Filename, entry.Filename) ||
		strings.EqualFold(res.StoredName(), entry.StoredName())
}

func mediaNameMatches(kind element.Kind, m *element.MediaData, entry *ResourceInfo) bool {
	if strings.EqualFold(m.Filename, entry.Filename) {
		return true
	}
	if m.MD5 == "" {
		return false
	}
	stored := m.MD5 + element.MediaExt(kind, m.Filename)
	return strings.EqualFold(stored, entry.StoredName())
}

func warnDuplicateNames(msg *CleanMessage, log zerolog.Logger) {
	if len(msg.Content.Resources) < 2 {
		return
	}
	seen := make(map[string]bool, len(msg.Content.Resources))
	for _, res := range msg.Content.Resources {
		key := strings.ToLower(res.Filename)
		if seen[key] {
			log.Warn().
				Int64("msg_id", msg.ID).
				Str("filename", res.Filename).
				Msg("duplicate filename in one message, rewrite takes first match")
		}
		seen[key] = true
	}
}
