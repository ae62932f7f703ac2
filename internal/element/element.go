// Package element 定义消息元素模型与元素解析器。
// RawElement 是协议侧（QQNT/NapCat）的元素联合体，ParsedElement 是导出侧的规范表示。
package element

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Kind 规范元素类型，闭集。
type Kind string

const (
	KindText       Kind = "text"
	KindImage      Kind = "image"
	KindVideo      Kind = "video"
	KindAudio      Kind = "audio"
	KindFile       Kind = "file"
	KindFace       Kind = "face"
	KindMarketFace Kind = "marketface"
	KindReply      Kind = "reply"
	KindForward    Kind = "forward"
	KindCard       Kind = "card"
	KindLocation   Kind = "location"
	KindCalendar   Kind = "calendar"
	KindMarkdown   Kind = "markdown"
	KindSystem     Kind = "system"
)

// IsMedia reports whether the kind references a downloadable resource.
func (k Kind) IsMedia() bool {
	switch k {
	case KindImage, KindVideo, KindAudio, KindFile:
		return true
	}
	return false
}

// FlexInt64 接受数字或字符串编码的整数（协议两种形式都会出现）。
type FlexInt64 int64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt64) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		// 非法值退化为 0，解析器保证不因脏数据失败
		*f = 0
		return nil
	}
	*f = FlexInt64(n)
	return nil
}

// Int64 returns the underlying value.
func (f FlexInt64) Int64() int64 { return int64(f) }

// RawElement 协议元素联合体：恰好一个子负载被填充，全部为空视为未知元素。
type RawElement struct {
	Text       *TextElement       `json:"textElement,omitempty"`
	Image      *ImageElement      `json:"picElement,omitempty"`
	Video      *VideoElement      `json:"videoElement,omitempty"`
	Audio      *AudioElement      `json:"pttElement,omitempty"`
	File       *FileElement       `json:"fileElement,omitempty"`
	Face       *FaceElement       `json:"faceElement,omitempty"`
	MarketFace *MarketFaceElement `json:"marketFaceElement,omitempty"`
	Reply      *ReplyElement      `json:"replyElement,omitempty"`
	Forward    *ForwardElement    `json:"multiForwardMsgElement,omitempty"`
	Card       *ArkElement        `json:"arkElement,omitempty"`
	Location   *LocationElement   `json:"shareLocationElement,omitempty"`
	Calendar   *CalendarElement   `json:"calendarElement,omitempty"`
	Markdown   *MarkdownElement   `json:"markdownElement,omitempty"`
	GrayTip    *GrayTipElement    `json:"grayTipElement,omitempty"`
}

// TextElement 文本（含 at）。
type TextElement struct {
	Content string `json:"content"`
	AtType  int    `json:"atType,omitempty"`  // 0 普通文本, 1 at全体, 2 at某人
	AtUID   string `json:"atUid,omitempty"`   // 被 at 的 QQ 号
	AtShow  string `json:"atNtUid,omitempty"` // 被 at 的展示名
}

// ImageElement 图片。
type ImageElement struct {
	FileName string    `json:"fileName"`
	FileSize FlexInt64 `json:"fileSize"`
	MD5      string    `json:"md5HexStr,omitempty"`
	URL      string    `json:"originImageUrl,omitempty"`
	Width    int       `json:"picWidth,omitempty"`
	Height   int       `json:"picHeight,omitempty"`
	SubType  int       `json:"picSubType,omitempty"` // 0 普通图片, 1 表情图
}

// VideoElement 视频。
type VideoElement struct {
	FileName string    `json:"fileName"`
	FileSize FlexInt64 `json:"fileSize"`
	MD5      string    `json:"videoMd5,omitempty"`
	URL      string    `json:"fileUrl,omitempty"`
	Width    int       `json:"thumbWidth,omitempty"`
	Height   int       `json:"thumbHeight,omitempty"`
	Duration int       `json:"fileTime,omitempty"` // 秒
}

// AudioElement 语音。
type AudioElement struct {
	FileName string    `json:"fileName"`
	FileSize FlexInt64 `json:"fileSize"`
	MD5      string    `json:"md5HexStr,omitempty"`
	URL      string    `json:"fileUrl,omitempty"`
	Duration int       `json:"duration,omitempty"` // 秒
}

// FileElement 文件。
type FileElement struct {
	FileName string    `json:"fileName"`
	FileSize FlexInt64 `json:"fileSize"`
	MD5      string    `json:"fileMd5,omitempty"`
	URL      string    `json:"fileUrl,omitempty"`
	FileUUID string    `json:"fileUuid,omitempty"` // 宿主侧取数句柄
}

// FaceElement 经典小黄脸表情。
type FaceElement struct {
	FaceIndex int    `json:"faceIndex"`
	FaceText  string `json:"faceText,omitempty"`
}

// MarketFaceElement 商城表情。
type MarketFaceElement struct {
	EmojiID  string `json:"emojiId"`
	FaceName string `json:"faceName,omitempty"`
}

// ReplyElement 回复引用。源消息的元素用同一套解析递归生成预览。
type ReplyElement struct {
	SourceMsgSeq   FlexInt64    `json:"replayMsgSeq,omitempty"`
	SenderName     string       `json:"senderUidStr,omitempty"`
	SourceElements []RawElement `json:"sourceMsgElements,omitempty"`
}

// ForwardElement 合并转发。
type ForwardElement struct {
	ResID   string `json:"resId,omitempty"`
	Preview string `json:"xmlContent,omitempty"`
}

// ArkElement 卡片（JSON 小程序/分享卡）。
type ArkElement struct {
	BytesData string `json:"bytesData"` // 原始 JSON 字符串
}

// LocationElement 位置分享。
type LocationElement struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Lat     string `json:"lat,omitempty"`
	Lng     string `json:"lng,omitempty"`
}

// CalendarElement 日历分享。
type CalendarElement struct {
	Title   string `json:"title,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// MarkdownElement markdown 消息。
type MarkdownElement struct {
	Content string `json:"content"`
}

// GrayTip 子类型码。未匹配的子类型渲染为携带原始码的模板串，便于诊断。
const (
	GrayTipRevoke = 1  // 撤回提示
	GrayTipGroup  = 4  // 群设置变更
	GrayTipPoke   = 12 // 拍一拍
	GrayTipJSON   = 17 // 结构化 JSON 系统提示
)

// GrayTipElement 灰条系统提示，按 SubElementType 再分发。
type GrayTipElement struct {
	SubElementType int            `json:"subElementType"`
	Revoke         *RevokeTip     `json:"revokeElement,omitempty"`
	Group          *GroupTip      `json:"groupElement,omitempty"`
	XML            *XMLTip        `json:"xmlElement,omitempty"`
	JSON           *JSONGrayTip   `json:"jsonGrayTipElement,omitempty"`
	Extra          map[string]any `json:"-"`
}

// RevokeTip 撤回详情。
type RevokeTip struct {
	OperatorUID  string `json:"operatorUid,omitempty"`
	OperatorName string `json:"operatorNick,omitempty"`
	SenderUID    string `json:"origMsgSenderUid,omitempty"`
	SenderName   string `json:"origMsgSenderNick,omitempty"`
	SelfOperate  bool   `json:"isSelfOperate,omitempty"`
}

// GroupTip 群设置变更文案。
type GroupTip struct {
	Content string `json:"content"`
}

// XMLTip 拍一拍等互动提示。
type XMLTip struct {
	Content string `json:"content"`
}

// JSONGrayTip 结构化系统提示，Content 为 JSON，其中 prompt 字段是展示文案。
type JSONGrayTip struct {
	Content string `json:"jsonStr"`
}

// PromptText 提取结构化提示中的文案，失败时返回空串。
func (j *JSONGrayTip) PromptText() string {
	var payload struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal([]byte(j.Content), &payload); err != nil {
		return ""
	}
	return payload.Prompt
}

// ParsedElement 规范元素：{kind, data} 变体，Data 为该 kind 的具体结构。
type ParsedElement struct {
	Kind Kind `json:"kind"`
	Data any  `json:"data"`
}

// UnmarshalJSON 按 kind 把 data 还原为具体结构。kind 是闭集，
// 逐项分发后 Media() 等类型断言在 JSON 往返之后依然成立。
func (e *ParsedElement) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind Kind            `json:"kind"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Kind = raw.Kind
	e.Data = nil
	if len(raw.Data) == 0 || string(raw.Data) == "null" {
		return nil
	}

	target := dataValueFor(raw.Kind)
	if target == nil {
		// 未知 kind 保底解码，不丢内容
		var generic any
		if err := json.Unmarshal(raw.Data, &generic); err != nil {
			return err
		}
		e.Data = generic
		return nil
	}
	if err := json.Unmarshal(raw.Data, target); err != nil {
		return err
	}
	e.Data = target
	return nil
}

// dataValueFor 返回 kind 对应的空数据结构。
func dataValueFor(k Kind) any {
	switch k {
	case KindText:
		return &TextData{}
	case KindImage, KindVideo, KindAudio, KindFile:
		return &MediaData{}
	case KindFace:
		return &FaceData{}
	case KindMarketFace:
		return &MarketFaceData{}
	case KindReply:
		return &ReplyData{}
	case KindForward:
		return &ForwardData{}
	case KindCard:
		return &CardData{}
	case KindLocation:
		return &LocationData{}
	case KindCalendar:
		return &CalendarData{}
	case KindMarkdown:
		return &MarkdownData{}
	case KindSystem:
		return &SystemData{}
	}
	return nil
}

// TextData 文本内容。
type TextData struct {
	Text  string `json:"text"`
	AtUID string `json:"atUid,omitempty"`
}

// MediaData 媒体内容，image/video/audio/file 共用。
// LocalPath 与 URL 由路径回写器在下载成功后原地写入一次。
type MediaData struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	URL       string `json:"url,omitempty"`
	LocalPath string `json:"localPath,omitempty"`
	MD5       string `json:"md5,omitempty"`
	FileID    string `json:"fileId,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Duration  int    `json:"duration,omitempty"`
}

// FaceData 表情。
type FaceData struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// MarketFaceData 商城表情，URL 由 emoji id 确定性推导。
type MarketFaceData struct {
	EmojiID string `json:"emojiId"`
	Name    string `json:"name"`
	URL     string `json:"url"`
}

// ReplyData 回复引用的字面预览。
type ReplyData struct {
	SourceSeq  int64  `json:"sourceSeq,omitempty"`
	SenderName string `json:"senderName,omitempty"`
	Preview    string `json:"preview"`
}

// ForwardData 合并转发摘要。
type ForwardData struct {
	ResID   string `json:"resId,omitempty"`
	Preview string `json:"preview"`
}

// CardData 卡片摘要。
type CardData struct {
	Title string `json:"title,omitempty"`
	Desc  string `json:"desc,omitempty"`
	Raw   string `json:"raw,omitempty"`
}

// LocationData 位置。
type LocationData struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Lat     string `json:"lat,omitempty"`
	Lng     string `json:"lng,omitempty"`
}

// CalendarData 日历。
type CalendarData struct {
	Title   string `json:"title,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// MarkdownData markdown 原文。
type MarkdownData struct {
	Content string `json:"content"`
}

// SystemData 系统提示与诊断占位。SubType<0 表示解析侧诊断而非协议灰条。
type SystemData struct {
	SubType int    `json:"subType"`
	Text    string `json:"text"`
}

// Media returns the element's media payload, or nil for non-media kinds.
func (e *ParsedElement) Media() *MediaData {
	if !e.Kind.IsMedia() {
		return nil
	}
	m, _ := e.Data.(*MediaData)
	return m
}
