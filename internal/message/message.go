// Package message 定义导出侧的规范消息模型，并提供消息装配、
// 资源提取与本地路径回写。
package message

import (
	"time"

	"qce/internal/element"
)

// 消息种类。
const (
	KindNormal = "normal" // 普通消息
	KindSystem = "system" // 纯系统提示
	KindError  = "error"  // 装配失败的合成占位，保留原 id/seq
)

// Sender 规范发送人。
type Sender struct {
	UID    string `json:"uid"`
	UIN    int64  `json:"uin"`
	Name   string `json:"name"`
	Remark string `json:"remark,omitempty"`
}

// ResourceInfo 媒体资源描述。Resolved 在下载编排器成功前恒为 false，
// LocalPath 只在成功取回后被写入。
type ResourceInfo struct {
	Kind      element.Kind `json:"kind"`
	Filename  string       `json:"filename"`
	Size      int64        `json:"size"`
	URL       string       `json:"url,omitempty"`
	LocalPath string       `json:"localPath,omitempty"`
	Width     int          `json:"width,omitempty"`
	Height    int          `json:"height,omitempty"`
	Duration  int          `json:"duration,omitempty"`
	MD5       string       `json:"md5,omitempty"`
	FileID    string       `json:"fileId,omitempty"` // 宿主侧取数句柄
	Resolved  bool         `json:"resolved"`
	// FailReason 记录未能取回的原因（重试耗尽/不可重试/熔断），诊断用。
	FailReason string `json:"failReason,omitempty"`
}

// StoredName 落盘文件名：优先 md5+扩展名，否则用声明文件名。
// 回写器按这两种命名之一做不区分大小写匹配。
func (r *ResourceInfo) StoredName() string {
	if r.MD5 != "" {
		return r.MD5 + element.MediaExt(r.Kind, r.Filename)
	}
	return r.Filename
}

// Content 消息内容：文本/HTML 两套投影、规范元素与资源清单。
// Resources 始终是 Elements 中媒体元素的按序子集。
type Content struct {
	Text      string                  `json:"text"`
	HTML      string                  `json:"html"`
	Elements  []element.ParsedElement `json:"elements"`
	Resources []*ResourceInfo         `json:"resources"`
}

// CleanMessage 规范消息。ID/Seq 创建后不可变；
// Content.Resources 与对应元素的 localPath/url 由回写器恰好原地改写一次。
type CleanMessage struct {
	ID        int64   `json:"id"`
	Seq       int64   `json:"seq"`
	Timestamp int64   `json:"timestamp"` // Unix 秒
	Sender    Sender  `json:"sender"`
	Kind      string  `json:"kind"`
	Content   Content `json:"content"`
	Recalled  bool    `json:"recalled"`
	System    bool    `json:"system"`
}

// Time returns the message timestamp.
func (m *CleanMessage) Time() time.Time {
	return time.Unix(m.Timestamp, 0)
}
