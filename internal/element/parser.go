package element

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"
)

// marketFaceURLFormat 商城表情资源地址：emoji id 前两位做路径分片。
const marketFaceURLFormat = "https://gxh.vip.qq.com/club/item/parcel/item/%s/%s/raw300.gif"

// placeholder 字面量，缺失字段一律落到占位串，下游不会见到空洞。
const (
	placeholderFilename = "未命名文件"
	placeholderReply    = "原消息"
)

// Parser 将协议元素翻译为规范元素。全函数：任何输入都产出一个 ParsedElement。
type Parser struct {
	faces FaceTable
	log   zerolog.Logger
}

// NewParser creates a parser with the given face lookup table.
// faces 为 nil 时使用内置表。
func NewParser(faces FaceTable, log zerolog.Logger) *Parser {
	if faces == nil {
		faces = DefaultFaceTable()
	}
	return &Parser{faces: faces, log: log}
}

// Parse 翻译一个协议元素。按互斥子负载分发，绝不探测任意字段；
// 任何内部恐慌都被降级为 kind=system 的诊断元素。
func (p *Parser) Parse(raw RawElement) (out ParsedElement) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Warn().Interface("panic", r).Msg("element parse panicked, degraded to diagnostic")
			out = diagnostic(fmt.Sprintf("[元素解析失败: %v]", r))
		}
	}()

	switch {
	case raw.Text != nil:
		return p.parseText(raw.Text)
	case raw.Image != nil:
		return p.parseImage(raw.Image)
	case raw.Video != nil:
		return p.parseVideo(raw.Video)
	case raw.Audio != nil:
		return p.parseAudio(raw.Audio)
	case raw.File != nil:
		return p.parseFile(raw.File)
	case raw.Face != nil:
		return p.parseFace(raw.Face)
	case raw.MarketFace != nil:
		return p.parseMarketFace(raw.MarketFace)
	case raw.Reply != nil:
		return p.parseReply(raw.Reply)
	case raw.Forward != nil:
		return p.parseForward(raw.Forward)
	case raw.Card != nil:
		return p.parseCard(raw.Card)
	case raw.Location != nil:
		return p.parseLocation(raw.Location)
	case raw.Calendar != nil:
		return p.parseCalendar(raw.Calendar)
	case raw.Markdown != nil:
		return ParsedElement{Kind: KindMarkdown, Data: &MarkdownData{Content: raw.Markdown.Content}}
	case raw.GrayTip != nil:
		return p.parseGrayTip(raw.GrayTip)
	default:
		return diagnostic("[未知元素]")
	}
}

func (p *Parser) parseText(t *TextElement) ParsedElement {
	d := &TextData{Text: t.Content}
	if t.AtType != 0 {
		d.AtUID = t.AtUID
		if d.Text == "" {
			if t.AtType == 1 {
				d.Text = "@全体成员"
			} else if t.AtShow != "" {
				d.Text = "@" + t.AtShow
			} else {
				d.Text = "@" + t.AtUID
			}
		}
	}
	return ParsedElement{Kind: KindText, Data: d}
}

func (p *Parser) parseImage(e *ImageElement) ParsedElement {
	return ParsedElement{Kind: KindImage, Data: &MediaData{
		Filename: orPlaceholder(e.FileName),
		Size:     e.FileSize.Int64(),
		URL:      e.URL,
		MD5:      strings.ToLower(e.MD5),
		Width:    e.Width,
		Height:   e.Height,
	}}
}

func (p *Parser) parseVideo(e *VideoElement) ParsedElement {
	return ParsedElement{Kind: KindVideo, Data: &MediaData{
		Filename: orPlaceholder(e.FileName),
		Size:     e.FileSize.Int64(),
		URL:      e.URL,
		MD5:      strings.ToLower(e.MD5),
		Width:    e.Width,
		Height:   e.Height,
		Duration: e.Duration,
	}}
}

func (p *Parser) parseAudio(e *AudioElement) ParsedElement {
	return ParsedElement{Kind: KindAudio, Data: &MediaData{
		Filename: orPlaceholder(e.FileName),
		Size:     e.FileSize.Int64(),
		URL:      e.URL,
		MD5:      strings.ToLower(e.MD5),
		Duration: e.Duration,
	}}
}

func (p *Parser) parseFile(e *FileElement) ParsedElement {
	return ParsedElement{Kind: KindFile, Data: &MediaData{
		Filename: orPlaceholder(e.FileName),
		Size:     e.FileSize.Int64(),
		URL:      e.URL,
		MD5:      strings.ToLower(e.MD5),
		FileID:   e.FileUUID,
	}}
}

func (p *Parser) parseFace(e *FaceElement) ParsedElement {
	name := e.FaceText
	if name == "" {
		name = p.faces.Name(e.FaceIndex)
	}
	return ParsedElement{Kind: KindFace, Data: &FaceData{ID: e.FaceIndex, Name: name}}
}

func (p *Parser) parseMarketFace(e *MarketFaceElement) ParsedElement {
	d := &MarketFaceData{EmojiID: e.EmojiID, Name: e.FaceName}
	if d.Name == "" {
		d.Name = "商城表情"
	}
	if len(e.EmojiID) >= 2 {
		d.URL = fmt.Sprintf(marketFaceURLFormat, e.EmojiID[:2], e.EmojiID)
	}
	return ParsedElement{Kind: KindMarketFace, Data: d}
}

// parseReply 用同一套分发递归解析被引用消息的元素，拼出字面预览。
// 源不可用或预览为空时退回字面量“原消息”。
func (p *Parser) parseReply(e *ReplyElement) ParsedElement {
	d := &ReplyData{
		SourceSeq:  e.SourceMsgSeq.Int64(),
		SenderName: e.SenderName,
		Preview:    placeholderReply,
	}
	if len(e.SourceElements) > 0 {
		var sb strings.Builder
		for _, src := range e.SourceElements {
			sb.WriteString(p.Parse(src).PlainText())
		}
		if s := strings.TrimSpace(sb.String()); s != "" {
			d.Preview = s
		}
	}
	return ParsedElement{Kind: KindReply, Data: d}
}

func (p *Parser) parseForward(e *ForwardElement) ParsedElement {
	preview := strings.TrimSpace(e.Preview)
	if preview == "" {
		preview = "聊天记录"
	}
	return ParsedElement{Kind: KindForward, Data: &ForwardData{ResID: e.ResID, Preview: preview}}
}

func (p *Parser) parseCard(e *ArkElement) ParsedElement {
	d := &CardData{Raw: e.BytesData}
	d.Title, d.Desc = arkSummary(e.BytesData)
	return ParsedElement{Kind: KindCard, Data: d}
}

func (p *Parser) parseLocation(e *LocationElement) ParsedElement {
	return ParsedElement{Kind: KindLocation, Data: &LocationData{
		Name:    e.Name,
		Address: e.Address,
		Lat:     e.Lat,
		Lng:     e.Lng,
	}}
}

func (p *Parser) parseCalendar(e *CalendarElement) ParsedElement {
	return ParsedElement{Kind: KindCalendar, Data: &CalendarData{Title: e.Title, Summary: e.Summary}}
}

// parseGrayTip 灰条按子类型码再分发。未匹配的子类型不丢弃，
// 渲染为带原始码的模板串。
func (p *Parser) parseGrayTip(e *GrayTipElement) ParsedElement {
	d := &SystemData{SubType: e.SubElementType}

	switch e.SubElementType {
	case GrayTipRevoke:
		d.Text = revokeText(e.Revoke)
	case GrayTipGroup:
		if e.Group != nil && e.Group.Content != "" {
			d.Text = e.Group.Content
		} else {
			d.Text = "群设置已变更"
		}
	case GrayTipPoke:
		if e.XML != nil && e.XML.Content != "" {
			d.Text = stripXMLTags(e.XML.Content)
		} else {
			d.Text = "拍了拍对方"
		}
	case GrayTipJSON:
		if e.JSON != nil {
			if s := e.JSON.PromptText(); s != "" {
				d.Text = s
			}
		}
		if d.Text == "" {
			d.Text = "[系统提示]"
		}
	default:
		d.Text = fmt.Sprintf("[系统消息:%d]", e.SubElementType)
	}
	return ParsedElement{Kind: KindSystem, Data: d}
}

func revokeText(r *RevokeTip) string {
	if r == nil {
		return "撤回了一条消息"
	}
	name := r.OperatorName
	if name == "" {
		name = r.OperatorUID
	}
	if r.SelfOperate || r.OperatorUID == r.SenderUID {
		return fmt.Sprintf("%s 撤回了一条消息", orUnknown(name))
	}
	sender := r.SenderName
	if sender == "" {
		sender = r.SenderUID
	}
	return fmt.Sprintf("%s 撤回了 %s 的一条消息", orUnknown(name), orUnknown(sender))
}

// diagnostic 生成解析侧诊断占位元素。
func diagnostic(text string) ParsedElement {
	return ParsedElement{Kind: KindSystem, Data: &SystemData{SubType: -1, Text: text}}
}

func orPlaceholder(name string) string {
	if name == "" {
		return placeholderFilename
	}
	return name
}

func orUnknown(s string) string {
	if s == "" {
		return "未知用户"
	}
	return s
}

// arkSummary 尽力从卡片 JSON 中取标题/描述，失败时返回空。
func arkSummary(raw string) (title, desc string) {
	type meta struct {
		Prompt string `json:"prompt"`
		Meta   map[string]struct {
			Title string `json:"title"`
			Desc  string `json:"desc"`
		} `json:"meta"`
	}
	var m meta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return "", ""
	}
	for _, v := range m.Meta {
		if v.Title != "" {
			return v.Title, v.Desc
		}
	}
	return m.Prompt, ""
}

// stripXMLTags 去掉互动灰条 XML 里的标签，只留文案。
func stripXMLTags(s string) string {
	var sb strings.Builder
	depth := 0
	for _, r := range s {
		switch r {
		case '<':
			depth++
		case '>':
			if depth > 0 {
				depth--
			}
		default:
			if depth == 0 {
				sb.WriteRune(r)
			}
		}
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "拍了拍对方"
	}
	return out
}

// MediaExt 推导媒体扩展名：优先取文件名后缀，缺失时按 kind 给默认值。
func MediaExt(kind Kind, filename string) string {
	if ext := path.Ext(filename); ext != "" {
		return strings.ToLower(ext)
	}
	switch kind {
	case KindImage:
		return ".jpg"
	case KindVideo:
		return ".mp4"
	case KindAudio:
		return ".amr"
	default:
		return ".dat"
	}
}
